// Package filterpred implements the Query Builder (C1): it turns a filter
// specification plus the active entity groups for the current level into
// a store-agnostic Predicate tree and an EntityExpression, which the
// eventstore package lowers to DuckDB SQL. Keeping the predicate as data
// (rather than as hand-built SQL strings) is what lets C1 stay decoupled
// from the store dialect, per spec §9.
package filterpred

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EntityLevel is the drill-down granularity signals are requested at.
type EntityLevel string

const (
	LevelManufacturer EntityLevel = "manufacturer"
	LevelBrand        EntityLevel = "brand"
	LevelGeneric      EntityLevel = "generic"
	LevelModel        EntityLevel = "model"
)

// Column returns the raw event/device column a level reads from.
func (l EntityLevel) Column() string {
	switch l {
	case LevelManufacturer:
		return "manufacturer_clean"
	case LevelBrand:
		return "brand_name"
	case LevelGeneric:
		return "generic_name"
	case LevelModel:
		return "model_number"
	}
	return ""
}

// EntityTypeForGroups maps a drill level to the EntityGroup.entity_type
// it is grouped by; model has no grouping concept.
func (l EntityLevel) EntityTypeForGroups() string {
	switch l {
	case LevelManufacturer:
		return "manufacturer"
	case LevelBrand:
		return "brand"
	case LevelGeneric:
		return "generic_name"
	}
	return ""
}

// Parent returns the drill level one step up from l (manufacturer -> brand
// -> generic -> model), or "" for manufacturer, which has no parent. Used
// to scope a drill-down's parent_value to the column it actually lives on
// (spec §4.6's drill-down semantics), rather than l's own column.
func (l EntityLevel) Parent() EntityLevel {
	switch l {
	case LevelBrand:
		return LevelManufacturer
	case LevelGeneric:
		return LevelBrand
	case LevelModel:
		return LevelGeneric
	}
	return ""
}

// Op is a predicate clause operator.
type Op string

const (
	OpEq       Op = "eq"
	OpIn       Op = "in"
	OpGTE      Op = "gte"
	OpLTE      Op = "lte"
	OpContains Op = "contains" // case-insensitive substring, used for free-text search
)

// Clause is a single leaf condition.
type Clause struct {
	Column string
	Op     Op
	Args   []any
}

// Predicate is the condition tree: a conjunction of clauses and nested
// device-existence sub-predicates. DeviceExists wraps a predicate that
// must be satisfied by at least one joined Device row.
type Predicate struct {
	Clauses      []Clause
	DeviceExists *Predicate
}

// Group is the minimal shape filterpred needs from groups.EntityGroup to
// build a rewrite; it avoids importing the groups package to prevent an
// import cycle (groups depends on nothing here, but aggregate wires both).
type Group struct {
	ID          string
	EntityType  string
	Members     []string
	DisplayName string
}

// EntityExpression describes how to rewrite a raw entity value into its
// group display name, for the store adapter to compile into a CASE WHEN.
type EntityExpression struct {
	Column string
	Cases  []EntityCase // evaluated in order, first match wins
}

type EntityCase struct {
	DisplayName string
	Members     map[string]struct{} // lower-cased member set
}

// FilterSpec is the set of fields the builder recognizes, per spec §4.1.
type FilterSpec struct {
	Manufacturers      []string
	ProductCodes       []string
	EventTypes         []string // external codes: D, I, M, O, *
	DateFrom, DateTo   *time.Time
	FreeText           string
	BrandNames         []string
	GenericNames       []string
	DeviceManufacturers []string
	ModelNumbers       []string
	ImplantFlag        *bool
	DeviceProductCodes []string
}

// BadFilterError is returned for invalid date ranges or unknown fields.
type BadFilterError struct{ Msg string }

func (e *BadFilterError) Error() string { return "bad filter: " + e.Msg }

// storeEventType translates external filter codes to store codes (I -> IN).
func storeEventType(code string) (string, error) {
	switch code {
	case "D":
		return "D", nil
	case "I":
		return "IN", nil
	case "M":
		return "M", nil
	case "O":
		return "O", nil
	case "*":
		return "*", nil
	default:
		return "", &BadFilterError{Msg: fmt.Sprintf("unknown event type code %q", code)}
	}
}

// Build produces the Predicate and EntityExpression for a given level.
// groups must already be filtered to entity_type == level's grouping
// type and ordered by insertion order (first-wins on overlap, per §4.1).
func Build(spec FilterSpec, groups []Group, level EntityLevel) (Predicate, EntityExpression, []string, error) {
	var warnings []string
	var pred Predicate

	if spec.DateFrom != nil && spec.DateTo != nil && spec.DateTo.Before(*spec.DateFrom) {
		return pred, EntityExpression{}, nil, &BadFilterError{Msg: "date_to precedes date_from"}
	}

	if len(spec.Manufacturers) > 0 {
		pred.Clauses = append(pred.Clauses, Clause{Column: "manufacturer_clean", Op: OpIn, Args: toAny(spec.Manufacturers)})
	}
	if len(spec.ProductCodes) > 0 {
		pred.Clauses = append(pred.Clauses, Clause{Column: "product_code", Op: OpIn, Args: toAny(spec.ProductCodes)})
	}
	if len(spec.EventTypes) > 0 {
		codes := make([]any, 0, len(spec.EventTypes))
		for _, et := range spec.EventTypes {
			sc, err := storeEventType(et)
			if err != nil {
				return pred, EntityExpression{}, nil, err
			}
			codes = append(codes, sc)
		}
		pred.Clauses = append(pred.Clauses, Clause{Column: "event_type", Op: OpIn, Args: codes})
	}
	if spec.DateFrom != nil {
		pred.Clauses = append(pred.Clauses, Clause{Column: "date_received", Op: OpGTE, Args: []any{*spec.DateFrom}})
	}
	if spec.DateTo != nil {
		pred.Clauses = append(pred.Clauses, Clause{Column: "date_received", Op: OpLTE, Args: []any{*spec.DateTo}})
	}
	if spec.FreeText != "" {
		pred.Clauses = append(pred.Clauses, Clause{Column: "narrative", Op: OpContains, Args: []any{spec.FreeText}})
	}

	var deviceClauses []Clause
	if len(spec.BrandNames) > 0 {
		deviceClauses = append(deviceClauses, Clause{Column: "brand_name", Op: OpIn, Args: toAny(spec.BrandNames)})
	}
	if len(spec.GenericNames) > 0 {
		deviceClauses = append(deviceClauses, Clause{Column: "generic_name", Op: OpIn, Args: toAny(spec.GenericNames)})
	}
	if len(spec.DeviceManufacturers) > 0 {
		deviceClauses = append(deviceClauses, Clause{Column: "manufacturer_d_clean", Op: OpIn, Args: toAny(spec.DeviceManufacturers)})
	}
	if len(spec.ModelNumbers) > 0 {
		deviceClauses = append(deviceClauses, Clause{Column: "model_number", Op: OpIn, Args: toAny(spec.ModelNumbers)})
	}
	if len(spec.DeviceProductCodes) > 0 {
		deviceClauses = append(deviceClauses, Clause{Column: "device_report_product_code", Op: OpIn, Args: toAny(spec.DeviceProductCodes)})
	}
	if spec.ImplantFlag != nil {
		deviceClauses = append(deviceClauses, Clause{Column: "implant_flag", Op: OpEq, Args: []any{*spec.ImplantFlag}})
	}
	if len(deviceClauses) > 0 {
		pred.DeviceExists = &Predicate{Clauses: deviceClauses}
	}

	expr := EntityExpression{Column: level.Column()}
	seenMembers := map[string]string{} // lower member -> group id, to detect overlap
	for _, g := range groups {
		members := map[string]struct{}{}
		overlap := false
		for _, m := range g.Members {
			lm := strings.ToLower(strings.TrimSpace(m))
			if owner, ok := seenMembers[lm]; ok && owner != g.ID {
				overlap = true
				continue
			}
			seenMembers[lm] = g.ID
			members[lm] = struct{}{}
		}
		if overlap {
			warnings = append(warnings, fmt.Sprintf("group %q overlaps another active group; first group wins", g.DisplayName))
		}
		if len(members) == 0 {
			continue
		}
		expr.Cases = append(expr.Cases, EntityCase{DisplayName: g.DisplayName, Members: members})
	}

	return pred, expr, warnings, nil
}

// ScopeToParent restricts pred to rows whose parentLevel column is one of
// values — the drill-down parent scoping spec §4.6 requires. manufacturer
// is an event-table column so it is added as a top-level clause; brand/
// generic/model live on the joined devices relation, so they are folded
// into (or merged with) the existing device-existence sub-predicate,
// matching how device-level filters are already compiled.
func ScopeToParent(pred Predicate, parentLevel EntityLevel, values []string) Predicate {
	clause := Clause{Column: parentLevel.Column(), Op: OpIn, Args: toAny(values)}

	scoped := pred
	if parentLevel == LevelManufacturer {
		scoped.Clauses = append(append([]Clause{}, pred.Clauses...), clause)
		return scoped
	}

	var device Predicate
	if pred.DeviceExists != nil {
		device = *pred.DeviceExists
	}
	device.Clauses = append(append([]Clause{}, device.Clauses...), clause)
	scoped.DeviceExists = &device
	return scoped
}

// Rewrite applies the entity expression to a single raw value, as the
// store would per-row. Exposed so tests and the aggregator's in-process
// merge paths can share the rewrite rule with the SQL CASE WHEN the
// adapter generates.
func (e EntityExpression) Rewrite(raw string) string {
	lr := strings.ToLower(strings.TrimSpace(raw))
	for _, c := range e.Cases {
		if _, ok := c.Members[lr]; ok {
			return c.DisplayName
		}
	}
	return raw
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// SortedGroupIDs is a small helper used by callers that need a stable
// iteration order over a map of groups keyed by ID (insertion order is
// tracked separately by the registry; this just keeps tests deterministic
// when constructing ad-hoc Group slices).
func SortedGroupIDs(groups map[string]Group) []string {
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
