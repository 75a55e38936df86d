package personnel_test

import (
	"testing"

	"github.com/clmc/procurement/internal/model"
	"github.com/clmc/procurement/internal/personnel"
	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestNormalize_Shapes(t *testing.T) {
	tests := []struct {
		name    string
		project *model.Project
		ids     []string
		names   []string
	}{
		{
			name: "array shape",
			project: &model.Project{
				PersonnelUserIDs: model.StringSlice{"u1", "u2"},
				PersonnelNames:   model.StringSlice{"Alice", "Bob"},
			},
			ids:   []string{"u1", "u2"},
			names: []string{"Alice", "Bob"},
		},
		{
			name:    "array shape without names",
			project: &model.Project{PersonnelUserIDs: model.StringSlice{"u1"}},
			ids:     []string{"u1"},
			names:   []string{""},
		},
		{
			name:    "singular legacy shape",
			project: &model.Project{PersonnelUserID: strPtr("u9"), PersonnelName: strPtr("Ivy")},
			ids:     []string{"u9"},
			names:   []string{"Ivy"},
		},
		{
			name:    "singular legacy shape without name",
			project: &model.Project{PersonnelUserID: strPtr("u9")},
			ids:     []string{"u9"},
			names:   []string{""},
		},
		{
			name:    "free text legacy shape",
			project: &model.Project{Personnel: strPtr("Site Engineer Team")},
			ids:     []string{""},
			names:   []string{"Site Engineer Team"},
		},
		{
			name:    "empty",
			project: &model.Project{},
			ids:     []string{},
			names:   []string{},
		},
		{
			name: "array shape wins over legacy fields",
			project: &model.Project{
				PersonnelUserIDs: model.StringSlice{"u1"},
				PersonnelNames:   model.StringSlice{"Alice"},
				PersonnelUserID:  strPtr("u9"),
				Personnel:        strPtr("ignored"),
			},
			ids:   []string{"u1"},
			names: []string{"Alice"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := personnel.Normalize(tt.project)
			assert.Equal(t, tt.ids, got.UserIDs)
			assert.Equal(t, tt.names, got.Names)
			assert.Equal(t, len(got.UserIDs), len(got.Names))
		})
	}
}

func TestNormalize_DoesNotMutateSource(t *testing.T) {
	p := &model.Project{
		PersonnelUserIDs: model.StringSlice{"u1"},
		PersonnelNames:   model.StringSlice{"Alice"},
	}
	got := personnel.Normalize(p)
	got.UserIDs[0] = "changed"
	got = got.With("u2", "Bob")

	assert.Equal(t, model.StringSlice{"u1"}, p.PersonnelUserIDs)
	assert.Equal(t, model.StringSlice{"Alice"}, p.PersonnelNames)
}

func TestWithWithout(t *testing.T) {
	p := personnel.FromMembers([]personnel.Member{
		{UserID: "u1", Name: "Alice"},
		{UserID: "", Name: "Legacy Crew"},
	})

	same := p.With("u1", "Alice again")
	assert.Equal(t, p, same)

	added := p.With("u2", "Bob")
	assert.Equal(t, []string{"u1", "", "u2"}, added.UserIDs)
	assert.Equal(t, []string{"Alice", "Legacy Crew", "Bob"}, added.Names)

	removed := added.Without("u1", "")
	assert.Equal(t, []string{"", "u2"}, removed.UserIDs)

	freeTextRemoved := removed.Without("", "Legacy Crew")
	assert.Equal(t, []string{"u2"}, freeTextRemoved.UserIDs)
	assert.Equal(t, []string{"Bob"}, freeTextRemoved.Names)

	assert.Equal(t, freeTextRemoved, freeTextRemoved.Without("missing", ""))
	assert.Equal(t, []string{"u2"}, added.Without("u1", "").Without("", "Legacy Crew").ResolvedIDs())
}

func TestApply_WritesArrayShapeAndClearsLegacy(t *testing.T) {
	project := &model.Project{PersonnelUserID: strPtr("u9"), PersonnelName: strPtr("Ivy"), Personnel: strPtr("x")}
	personnel.Normalize(project).With("u1", "Alice").Apply(project)

	assert.Equal(t, model.StringSlice{"u9", "u1"}, project.PersonnelUserIDs)
	assert.Equal(t, model.StringSlice{"Ivy", "Alice"}, project.PersonnelNames)
	assert.Nil(t, project.PersonnelUserID)
	assert.Nil(t, project.PersonnelName)
	assert.Nil(t, project.Personnel)
}
