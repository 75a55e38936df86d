package nav

import (
	"strings"

	"github.com/clmc/procurement/internal/model"
)

// Route is one entry of the route table. Tab is empty for public routes.
type Route struct {
	Path   string
	Public bool
	Tab    model.Tab
}

// Well-known paths.
const (
	PathHome          = "/"
	PathLogin         = "/login"
	PathRegister      = "/register"
	PathPending       = "/pending"
	PathDashboard     = "/dashboard"
	PathMRFForm       = "/mrf-form"
	PathProcurement   = "/procurement"
	PathFinance       = "/finance"
	PathProjects      = "/projects"
	PathProjectDetail = "/project-detail"
	PathClients       = "/clients"
	PathAdmin         = "/admin"
)

// Routes is the route table keyed by path.
var Routes = map[string]Route{
	PathHome:          {Path: PathHome, Public: true},
	PathLogin:         {Path: PathLogin, Public: true},
	PathRegister:      {Path: PathRegister, Public: true},
	PathPending:       {Path: PathPending, Public: true},
	PathDashboard:     {Path: PathDashboard, Tab: model.TabDashboard},
	PathMRFForm:       {Path: PathMRFForm, Tab: model.TabMRFForm},
	PathProcurement:   {Path: PathProcurement, Tab: model.TabProcurement},
	PathFinance:       {Path: PathFinance, Tab: model.TabFinance},
	PathProjects:      {Path: PathProjects, Tab: model.TabProjects},
	PathProjectDetail: {Path: PathProjectDetail, Tab: model.TabProjects},
	PathClients:       {Path: PathClients, Tab: model.TabClients},
	PathAdmin:         {Path: PathAdmin, Tab: model.TabAdmin},
}

// ParseHash splits a location hash of the form #/<route>/<tab>/<param>.
// #/projects/detail/<code> is the project detail route with code as param.
func ParseHash(hash string) (path, tab, param string) {
	h := strings.TrimPrefix(hash, "#")
	h = strings.Trim(h, "/")
	if h == "" {
		return PathHome, "", ""
	}
	parts := strings.SplitN(h, "/", 3)
	path = "/" + parts[0]
	if len(parts) > 1 {
		tab = parts[1]
	}
	if len(parts) > 2 {
		param = parts[2]
	}
	if path == PathProjects && tab == "detail" {
		return PathProjectDetail, "", param
	}
	return path, tab, param
}

// FormatHash is the inverse of ParseHash.
func FormatHash(path, tab, param string) string {
	if path == PathProjectDetail {
		return "#" + PathProjects + "/detail/" + param
	}
	var b strings.Builder
	b.WriteString("#")
	b.WriteString(path)
	if tab != "" || param != "" {
		b.WriteString("/" + tab)
	}
	if param != "" {
		b.WriteString("/" + param)
	}
	return b.String()
}
