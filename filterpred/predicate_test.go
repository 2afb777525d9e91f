package filterpred

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeTranslatesInjuryCode(t *testing.T) {
	pred, _, _, err := Build(FilterSpec{EventTypes: []string{"I"}}, nil, LevelManufacturer)
	require.NoError(t, err)
	require.Len(t, pred.Clauses, 1)
	assert.Equal(t, []any{"IN"}, pred.Clauses[0].Args)
}

func TestUnknownEventTypeIsBadFilter(t *testing.T) {
	_, _, _, err := Build(FilterSpec{EventTypes: []string{"X"}}, nil, LevelManufacturer)
	require.Error(t, err)
	var bf *BadFilterError
	assert.ErrorAs(t, err, &bf)
}

func TestDeviceFiltersBecomeExistencePredicate(t *testing.T) {
	pred, _, _, err := Build(FilterSpec{BrandNames: []string{"Widget"}}, nil, LevelManufacturer)
	require.NoError(t, err)
	require.NotNil(t, pred.DeviceExists)
	assert.Equal(t, "brand_name", pred.DeviceExists.Clauses[0].Column)
}

// S5 Group rewrite: identity with no groups (Property 2), then rewrite
// with an active group.
func TestEntityExpressionRewrite(t *testing.T) {
	_, expr, _, err := Build(FilterSpec{}, nil, LevelManufacturer)
	require.NoError(t, err)
	assert.Equal(t, "Abbott", expr.Rewrite("Abbott"))

	groups := []Group{{ID: "g1", EntityType: "manufacturer", DisplayName: "Abbott-family", Members: []string{"Abbott", "St Jude Medical"}}}
	_, expr2, _, err := Build(FilterSpec{}, groups, LevelManufacturer)
	require.NoError(t, err)
	assert.Equal(t, "Abbott-family", expr2.Rewrite("St Jude Medical"))
	assert.Equal(t, "Pfizer", expr2.Rewrite("Pfizer"))
}

func TestOverlappingGroupsFirstWinsWithWarning(t *testing.T) {
	groups := []Group{
		{ID: "g1", DisplayName: "GroupOne", Members: []string{"Acme"}},
		{ID: "g2", DisplayName: "GroupTwo", Members: []string{"Acme"}},
	}
	_, expr, warnings, err := Build(FilterSpec{}, groups, LevelManufacturer)
	require.NoError(t, err)
	assert.Equal(t, "GroupOne", expr.Rewrite("Acme"))
	assert.NotEmpty(t, warnings)
}

func TestBadDateRange(t *testing.T) {
	from := mustParseDate(t, "2026-06-01")
	to := mustParseDate(t, "2026-01-01")
	_, _, _, err := Build(FilterSpec{DateFrom: &from, DateTo: &to}, nil, LevelManufacturer)
	require.Error(t, err)
}
