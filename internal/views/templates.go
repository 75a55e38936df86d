package views

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"
)

var funcs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return "₱" + d.StringFixed(2) },
	"join":  strings.Join,
	"active": func(cur, tab string) string {
		if cur == tab {
			return "tab active"
		}
		return "tab"
	},
}

var pages = template.Must(template.New("pages").Funcs(funcs).Parse(`
{{define "home"}}<section class="home"><h1>CLMC Procurement</h1>
<p><a href="#/login">Sign in</a> or <a href="#/register">register with an invitation code</a>.</p></section>{{end}}

{{define "login"}}<section class="auth"><h2>Sign in</h2>
<form data-action="login"><input name="email" type="email" required><input name="password" type="password" required>
<button type="submit">Sign in</button></form></section>{{end}}

{{define "register"}}<section class="auth"><h2>Create account</h2>
<form data-action="register"><input name="full_name" required><input name="email" type="email" required>
<input name="password" type="password" minlength="8" required><input name="invitation_code" required>
<button type="submit">Register</button></form></section>{{end}}

{{define "pending"}}<section class="empty-state"><h2>Account awaiting approval</h2>
<p>An administrator will review your registration. You can sign in again once it is approved.</p></section>{{end}}

{{define "dashboard"}}<section class="dashboard"><h2>Welcome, {{.Name}}</h2>
<ul class="stats"><li>Projects <strong>{{.Projects}}</strong></li><li>Active <strong>{{.Active}}</strong></li>
<li>Purchase orders <strong>{{.PurchaseOrders}}</strong></li><li>Transport pending <strong>{{.PendingTransport}}</strong></li></ul></section>{{end}}

{{define "mrf"}}<section class="mrf-form"><h2>Material request</h2>
<form data-action="mrf"><select name="project_name" required>{{range .}}<option value="{{.ProjectName}}">{{.ProjectCode}} {{.ProjectName}}</option>{{end}}</select>
<textarea name="items"></textarea><button type="submit">Submit</button></form></section>{{end}}

{{define "procurement"}}<section class="procurement"><nav>
<a class="{{active .Tab "pos"}}" href="#/procurement/pos">Purchase orders</a>
<a class="{{active .Tab "transport"}}" href="#/procurement/transport">Transport</a></nav>
{{if eq .Tab "transport"}}<table>{{range .Transport}}<tr><td>{{.TRNumber}}</td><td>{{.ProjectName}}</td><td>{{money .TotalAmount}}</td><td>{{.FinanceStatus}}</td></tr>{{else}}<tr><td>No transport requests</td></tr>{{end}}</table>
{{else}}<table>{{range .Orders}}<tr><td>{{.PONumber}}</td><td>{{.ProjectName}}</td><td>{{.SupplierName}}</td><td>{{money .TotalAmount}}</td><td>{{.ProcurementStatus}}</td></tr>{{else}}<tr><td>No purchase orders</td></tr>{{end}}</table>{{end}}
</section>{{end}}

{{define "finance"}}<section class="finance"><h2>Transport approvals</h2><table>
{{range .}}<tr data-id="{{.ID}}"><td>{{.TRNumber}}</td><td>{{.ProjectName}}</td><td>{{money .TotalAmount}}</td><td>{{.FinanceStatus}}</td></tr>{{else}}<tr><td>Nothing pending</td></tr>{{end}}
</table></section>{{end}}

{{define "projects"}}<section class="projects"><h2>Projects</h2><table>
{{range .}}<tr class="{{if not .Project.Active}}inactive{{end}}"><td><a href="#/projects/detail/{{.Project.ProjectCode}}">{{.Project.ProjectCode}}</a></td>
<td>{{.Project.ProjectName}}</td><td>{{.Project.ClientCode}}</td><td>{{.Project.ProjectStatus}}</td><td>{{join .Names ", "}}</td></tr>
{{else}}<tr><td>No projects</td></tr>{{end}}</table></section>{{end}}

{{define "project-detail"}}<section class="project-detail"><h2>{{.Project.ProjectCode}} {{.Project.ProjectName}}</h2>
<dl><dt>Client</dt><dd>{{.Project.ClientCode}}</dd><dt>Internal status</dt><dd>{{.Project.InternalStatus}}</dd>
<dt>Project status</dt><dd>{{.Project.ProjectStatus}}</dd><dt>Budget</dt><dd>{{money .Project.Budget}}</dd></dl>
<div class="pills">{{range .Members}}<span class="pill" data-user="{{.UserID}}">{{.Name}}</span>{{end}}</div>
{{with .Summary}}<table class="expenses"><tr><td>Materials</td><td>{{money .MaterialsDisplay}}</td></tr>
<tr><td>Transport</td><td>{{money .TransportDisplay}}</td></tr><tr><td>Subcon</td><td>{{money .SubconTotal}}</td></tr>
<tr><td>Total</td><td>{{money .TotalCost}}</td></tr><tr><td>Remaining</td><td>{{money .Remaining}}</td></tr></table>{{end}}
<ol class="history">{{range .History}}<li>{{.Timestamp.Format "2006-01-02 15:04"}} {{.UserName}} {{.Action}}{{range .Changes}} {{.Field}}{{end}}</li>{{end}}</ol>
</section>{{end}}

{{define "clients"}}<section class="clients"><h2>Clients</h2><table>
{{range .}}<tr><td>{{.ClientCode}}</td><td>{{.CompanyName}}</td><td>{{.ContactPerson}}</td><td>{{.ContactDetails}}</td></tr>{{else}}<tr><td>No clients</td></tr>{{end}}
</table></section>{{end}}

{{define "admin"}}<section class="admin"><nav>
<a class="{{active .Tab "users"}}" href="#/admin/users">Users</a>
<a class="{{active .Tab "roles"}}" href="#/admin/roles">Roles</a>
<a class="{{active .Tab "invitations"}}" href="#/admin/invitations">Invitations</a></nav>
{{if eq .Tab "roles"}}<table>{{range .Templates}}<tr><th>{{.Role}}</th>{{range $tab, $g := .Permissions.Tabs}}<td>{{$tab}} {{if $g.Access}}view{{end}}{{if $g.Edit}}/edit{{end}}</td>{{end}}</tr>{{end}}</table>
{{else if eq .Tab "invitations"}}<ul>{{range .Invitations}}<li>{{.Code}}{{if .UsedBy}} used{{end}}</li>{{end}}</ul>
{{else}}<table>{{range .Users}}<tr data-id="{{.ID}}"><td>{{.FullName}}</td><td>{{.Email}}</td><td>{{.Role}}</td><td>{{.Status}}</td></tr>{{end}}</table>{{end}}
</section>{{end}}
`))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
