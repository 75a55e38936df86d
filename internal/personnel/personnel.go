// Package personnel reads the personnel field of a project in any of its
// historical shapes and returns one uniform, index-aligned representation.
package personnel

import "github.com/clmc/procurement/internal/model"

// Personnel is an ordered list of (user id, name) pairs stored as two
// parallel slices. A user id may be empty for free-text legacy entries.
type Personnel struct {
	UserIDs []string `json:"user_ids"`
	Names   []string `json:"names"`
}

// Member is one personnel pill.
type Member struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// Normalize returns the personnel of p. The first matching shape wins:
//  1. personnel_user_ids (non-empty) with personnel_names
//  2. personnel_user_id with personnel_name
//  3. personnel free text, with no resolvable id
//  4. nothing
//
// The returned slices are always the same length and never alias p's fields.
func Normalize(p *model.Project) Personnel {
	if p == nil {
		return Personnel{UserIDs: []string{}, Names: []string{}}
	}

	if len(p.PersonnelUserIDs) > 0 {
		ids := append([]string(nil), p.PersonnelUserIDs...)
		names := make([]string, len(ids))
		copy(names, p.PersonnelNames)
		return Personnel{UserIDs: ids, Names: names}
	}

	if p.PersonnelUserID != nil && *p.PersonnelUserID != "" {
		name := ""
		if p.PersonnelName != nil {
			name = *p.PersonnelName
		}
		return Personnel{UserIDs: []string{*p.PersonnelUserID}, Names: []string{name}}
	}

	if p.Personnel != nil && *p.Personnel != "" {
		// Free text has no user id; keep the arrays aligned with an empty id.
		return Personnel{UserIDs: []string{""}, Names: []string{*p.Personnel}}
	}

	return Personnel{UserIDs: []string{}, Names: []string{}}
}

// Len returns the number of members.
func (p Personnel) Len() int { return len(p.UserIDs) }

// Members returns the pairs in order.
func (p Personnel) Members() []Member {
	out := make([]Member, len(p.UserIDs))
	for i := range p.UserIDs {
		out[i] = Member{UserID: p.UserIDs[i], Name: p.Names[i]}
	}
	return out
}

// ResolvedIDs returns the non-empty user ids, in order. These are the ids the
// assignment synchronizer diffs.
func (p Personnel) ResolvedIDs() []string {
	out := make([]string, 0, len(p.UserIDs))
	for _, id := range p.UserIDs {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Contains reports whether userID is a member. An empty id never matches.
func (p Personnel) Contains(userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range p.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// With returns a copy of p with the member appended. Adding an id that is
// already present returns an unchanged copy.
func (p Personnel) With(userID, name string) Personnel {
	out := p.clone()
	if p.Contains(userID) {
		return out
	}
	out.UserIDs = append(out.UserIDs, userID)
	out.Names = append(out.Names, name)
	return out
}

// Without returns a copy of p without the member. Members with an id match on
// the id; free-text members (empty id) match on the name. Removing a member
// that is not present returns an unchanged copy.
func (p Personnel) Without(userID, name string) Personnel {
	out := Personnel{UserIDs: []string{}, Names: []string{}}
	for i := range p.UserIDs {
		match := (userID != "" && p.UserIDs[i] == userID) ||
			(userID == "" && p.UserIDs[i] == "" && p.Names[i] == name)
		if match {
			continue
		}
		out.UserIDs = append(out.UserIDs, p.UserIDs[i])
		out.Names = append(out.Names, p.Names[i])
	}
	return out
}

// Apply writes p onto project in the array shape and clears the legacy fields.
func (p Personnel) Apply(project *model.Project) {
	project.PersonnelUserIDs = model.StringSlice(append([]string{}, p.UserIDs...))
	project.PersonnelNames = model.StringSlice(append([]string{}, p.Names...))
	project.PersonnelUserID = nil
	project.PersonnelName = nil
	project.Personnel = nil
}

func (p Personnel) clone() Personnel {
	return Personnel{
		UserIDs: append([]string{}, p.UserIDs...),
		Names:   append([]string{}, p.Names...),
	}
}

// FromMembers builds a Personnel from pairs.
func FromMembers(members []Member) Personnel {
	out := Personnel{UserIDs: make([]string, 0, len(members)), Names: make([]string, 0, len(members))}
	for _, m := range members {
		out = out.With(m.UserID, m.Name)
	}
	return out
}
