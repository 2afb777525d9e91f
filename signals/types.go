// Package signals implements the Signal Orchestrator (C6): the public
// detect(SignalRequest) -> SignalResponse operation that sequences the
// time window resolver, group registry, query builder, aggregator,
// statistical methods, and classifier into one request/response cycle,
// per the ordered contract in spec §4.6. Orchestration skeleton (the
// per-entity, per-method compute loop with skip-on-insufficient-data)
// is grounded on the signal-builder pattern in
// other_examples/.../signals-builder.go.go; the cache-key/async-job
// additions are grounded on the teacher's analysis/analyzer.go.
package signals

import (
	"time"

	"github.com/lgd-analytics/maude-signals/classify"
	"github.com/lgd-analytics/maude-signals/filterpred"
	"github.com/lgd-analytics/maude-signals/stats"
	"github.com/lgd-analytics/maude-signals/timewindow"
)

// ComparisonPopulation names the "rest" disproportionality methods
// compare an entity against. Detect does not read it (nor
// ComparisonFilter): the PRR/ROR/EBGM baseline is always every event
// matching the request's filter and parent scope.
type ComparisonPopulation string

const (
	ComparisonAll             ComparisonPopulation = "all"
	ComparisonSameProductCode ComparisonPopulation = "same_product_code"
	ComparisonCustom          ComparisonPopulation = "custom"
)

// SignalRequest is the POST /api/analytics/signals/advanced body.
type SignalRequest struct {
	Methods              []stats.Method              `json:"methods" validate:"required,min=1"`
	TimeConfig           timewindow.Config            `json:"time_config" validate:"required"`
	Level                filterpred.EntityLevel       `json:"level" validate:"required"`
	ParentValue          string                       `json:"parent_value,omitempty"`
	Filter               filterpred.FilterSpec        `json:"filter"`
	ComparisonPopulation ComparisonPopulation          `json:"comparison_population"`
	ComparisonFilter     *filterpred.FilterSpec       `json:"comparison_filter,omitempty"`
	ActiveGroupIDs       []string                     `json:"active_groups,omitempty"`
	MinEvents            int                          `json:"min_events"`
	Limit                int                          `json:"limit"`
	Thresholds           *classify.Thresholds         `json:"thresholds,omitempty"`
	DeadlineSeconds      int                           `json:"deadline_seconds,omitempty"`
}

// MethodResult mirrors stats.Result plus its classification, the shape
// exposed over the wire.
type MethodResult struct {
	Method         stats.Method   `json:"method"`
	Value          *float64       `json:"value,omitempty"`
	LowerCI        *float64       `json:"lower_ci,omitempty"`
	UpperCI        *float64       `json:"upper_ci,omitempty"`
	IsSignal       bool           `json:"is_signal"`
	SignalStrength classify.Strength `json:"signal_strength"`
	Details        map[string]any `json:"details,omitempty"`
}

// SignalResult is one entity's row in the response body.
type SignalResult struct {
	Entity                 string         `json:"entity"`
	EntityLevel            filterpred.EntityLevel `json:"entity_level"`
	TotalEvents            int            `json:"total_events"`
	Deaths                 int            `json:"deaths"`
	Injuries               int            `json:"injuries"`
	Malfunctions           int            `json:"malfunctions"`
	CurrentPeriodEvents    *int           `json:"current_period_events,omitempty"`
	ComparisonPeriodEvents *int           `json:"comparison_period_events,omitempty"`
	ChangePct              *float64       `json:"change_pct,omitempty"`
	Methods                []MethodResult `json:"methods"`
	SignalType             classify.Strength `json:"signal_type"`
	HasChildren            bool           `json:"has_children"`
}

// DataCompleteness is the completeness block of the response header.
type DataCompleteness struct {
	EstimatedLagMonths int      `json:"estimated_lag_months"`
	LastCompleteMonth  string   `json:"last_complete_month"`
	IncompleteMonths   []string `json:"incomplete_months,omitempty"`
}

// SignalResponse is the full POST /api/analytics/signals/advanced body.
type SignalResponse struct {
	Level                 filterpred.EntityLevel `json:"level"`
	ParentValue            string              `json:"parent_value,omitempty"`
	MethodsApplied         []stats.Method      `json:"methods_applied"`
	TimeInfo               timewindow.Windows  `json:"time_info"`
	DataCompleteness       DataCompleteness    `json:"data_completeness"`
	DataNote               string              `json:"data_note,omitempty"`
	HighCount              int                 `json:"high"`
	ElevatedCount          int                 `json:"elevated"`
	NormalCount            int                 `json:"normal"`
	TotalEntitiesAnalyzed  int                 `json:"total_entities_analyzed"`
	Results                []SignalResult      `json:"results"`
	GeneratedAt            time.Time           `json:"generated_at"`
}
