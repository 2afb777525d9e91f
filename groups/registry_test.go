package groups

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	r := NewRegistry(db)
	require.NoError(t, r.CreateSchema())
	require.NoError(t, r.Load())
	return r
}

func TestCreateDerivesDisplayNameFromCommonPrefix(t *testing.T) {
	r := newTestRegistry(t)
	g, err := r.Create(EntityGroup{
		Name: "abbott family", EntityType: EntityTypeManufacturer,
		Members: []string{"Abbott Labs", "Abbott Vascular"}, IsActive: true,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "Abbott", g.DisplayName)
}

// Property 8: at most one active group per entity_type per member.
func TestActivationConflictsOnSharedMember(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Create(EntityGroup{
		Name: "g1", EntityType: EntityTypeManufacturer, Members: []string{"Acme"}, IsActive: true,
	}, nil)
	require.NoError(t, err)

	_, err = r.Create(EntityGroup{
		Name: "g2", EntityType: EntityTypeManufacturer, Members: []string{"Acme", "Other"}, IsActive: true,
	}, nil)
	require.Error(t, err)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
}

func TestBuiltInCannotBeUpdatedOrDeleted(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.SeedBuiltIn("Built In", EntityTypeManufacturer, []string{"Acme"}, "Acme"))
	var target EntityGroup
	for _, g := range r.List(EntityTypeManufacturer, true, false) {
		if g.IsBuiltIn {
			target = g
		}
	}
	require.NotEmpty(t, target.ID)

	_, err := r.Update(target.ID, func(g *EntityGroup) { g.Name = "renamed" })
	require.Error(t, err)

	err = r.Delete(target.ID)
	require.Error(t, err)
}

func TestSuggestNameFallsBackToAlphabeticalFirst(t *testing.T) {
	name := SuggestName([]string{"Zeta Corp", "Acme Inc"}, nil)
	require.Equal(t, "Acme Inc", name)
}

func TestDuplicateMembersAreDeduped(t *testing.T) {
	r := newTestRegistry(t)
	g, err := r.Create(EntityGroup{
		Name: "dupes", EntityType: EntityTypeBrand, Members: []string{"Widget", "widget", " Widget "},
	}, nil)
	require.NoError(t, err)
	require.Len(t, g.Members, 1)
}
