package signals

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lgd-analytics/maude-signals/aggregate"
	"github.com/lgd-analytics/maude-signals/classify"
	"github.com/lgd-analytics/maude-signals/eventstore"
	"github.com/lgd-analytics/maude-signals/filterpred"
	"github.com/lgd-analytics/maude-signals/groups"
	"github.com/lgd-analytics/maude-signals/stats"
	"github.com/lgd-analytics/maude-signals/timewindow"
)

// Engine is the orchestrator. It holds no per-request state; Detect is
// safe for concurrent use, consistent with spec §5 ("each detect is a
// single logical task... no race between methods").
type Engine struct {
	Store    *eventstore.Store
	Registry *groups.Registry
	LagMonths int
}

// NewEngine constructs an Engine.
func NewEngine(store *eventstore.Store, registry *groups.Registry, lagMonths int) *Engine {
	return &Engine{Store: store, Registry: registry, LagMonths: lagMonths}
}

// Clock is overridable in tests; defaults to time.Now.
var Clock = time.Now

// Detect runs the full ten-step contract from spec §4.6.
func (e *Engine) Detect(ctx context.Context, req SignalRequest) (SignalResponse, error) {
	// Step 1: validate.
	if err := validate(req); err != nil {
		return SignalResponse{}, err
	}

	if req.DeadlineSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.DeadlineSeconds)*time.Second)
		defer cancel()
	}

	minEvents := req.MinEvents
	if minEvents <= 0 {
		minEvents = 10
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	thresholds := classify.NewDefaultThresholds()
	if req.Thresholds != nil {
		thresholds = *req.Thresholds
	}
	thresholds.MinEvents = minEvents

	// Step 2: resolve windows.
	windows, err := timewindow.Resolve(req.TimeConfig, Clock(), e.LagMonths)
	if err != nil {
		return SignalResponse{}, badRequest("%v", err)
	}

	resp := SignalResponse{
		Level:          req.Level,
		ParentValue:    req.ParentValue,
		MethodsApplied: req.Methods,
		TimeInfo:       windows,
		DataCompleteness: DataCompleteness{
			EstimatedLagMonths: windows.EstimatedLagMonths,
			LastCompleteMonth:  windows.LastCompleteMonth,
			IncompleteMonths:   windows.IncompleteMonths,
		},
		GeneratedAt: Clock(),
	}
	var notes []string
	if windows.DataNote != "" {
		notes = append(notes, windows.DataNote)
	}
	if len(windows.IncompleteMonths) > 0 {
		notes = append(notes, "analysis window overlaps incomplete months")
	}

	// Step 3: fetch active groups for this level's entity type, merge
	// with request-supplied group IDs (request wins on conflict: request
	// groups are listed before the registry's, so filterpred's first-wins
	// rule gives them priority).
	activeGroups := e.mergeGroups(req)

	fgroups := make([]filterpred.Group, 0, len(activeGroups))
	for _, g := range activeGroups {
		fgroups = append(fgroups, filterpred.Group{ID: g.ID, EntityType: string(g.EntityType), Members: g.Members, DisplayName: g.DisplayName})
	}

	// Step 4: build predicate + entity expression.
	pred, expr, warnings, err := filterpred.Build(req.Filter, fgroups, req.Level)
	if err != nil {
		return SignalResponse{}, &Error{Kind: KindBadFilter, Message: "invalid filter", Cause: err}
	}
	notes = append(notes, warnings...)
	if req.ParentValue != "" {
		if parentLevel := req.Level.Parent(); parentLevel != "" {
			parentGroups := e.Registry.ActiveForType(groups.EntityType(parentLevel.EntityTypeForGroups()))
			values := expandGroupValue(parentGroups, req.ParentValue)
			pred = filterpred.ScopeToParent(pred, parentLevel, values)
		}
	}

	db, err := e.Store.Events()
	if err != nil {
		return SignalResponse{}, wrapStoreUnavailable(err)
	}

	horizonStart := monthlyHorizonStart(req.Methods, windows)

	// Step 5: aggregate.
	aggResult, err := aggregate.Aggregate(ctx, db, req.Level, pred, expr, windows.AnalysisStart, windows.AnalysisEnd, horizonStart, windows.ComparisonStart, windows.ComparisonEnd, minEvents)
	if err != nil {
		if ctx.Err() != nil {
			return SignalResponse{}, wrapTimeout(ctx.Err())
		}
		return SignalResponse{}, wrapStoreUnavailable(err)
	}
	if len(aggResult.Totals) == 0 {
		resp.DataNote = joinNotes(append(notes, "no events matched filters"))
		return resp, nil
	}

	// Steps 6-7: compute methods per entity, then classify.
	results := make([]SignalResult, 0, len(aggResult.Totals))
	anyInsufficient := false
	comparisonEmpty := false
	for _, totals := range aggResult.Totals {
		select {
		case <-ctx.Done():
			return SignalResponse{}, wrapTimeout(ctx.Err())
		default:
		}

		classifiedMethods, insufficientAll := e.computeEntity(req, totals, aggResult, windows)
		if insufficientAll {
			anyInsufficient = true
			continue
		}
		for _, c := range classifiedMethods {
			if empty, _ := c.Result.Details["comparison_period_empty"].(bool); empty {
				comparisonEmpty = true
			}
		}

		overall := classify.Overall(classifiedMethods)
		wireMethods := make([]MethodResult, 0, len(classifiedMethods))
		for _, c := range classifiedMethods {
			wireMethods = append(wireMethods, toWireMethod(c))
		}

		hasChildren := false
		if req.Level != filterpred.LevelModel {
			childLevel := nextLevel(req.Level)
			values := expandGroupValue(activeGroups, totals.Entity)
			scopedPred := filterpred.ScopeToParent(pred, req.Level, values)
			hc, err := aggregate.HasChildren(ctx, db, childLevel, scopedPred)
			if err == nil {
				hasChildren = hc
			}
		}

		currentPeriod, comparisonPeriod, changePct := periodFields(aggResult, windows, totals)

		results = append(results, SignalResult{
			Entity:                 totals.Entity,
			EntityLevel:            req.Level,
			TotalEvents:            totals.Total,
			Deaths:                 totals.Deaths,
			Injuries:               totals.Injuries,
			Malfunctions:           totals.Malfunctions,
			CurrentPeriodEvents:    currentPeriod,
			ComparisonPeriodEvents: comparisonPeriod,
			ChangePct:              changePct,
			Methods:                wireMethods,
			SignalType:             overall,
			HasChildren:            hasChildren,
		})
	}
	if anyInsufficient {
		notes = append(notes, "one or more entities had insufficient history for all requested methods")
	}
	if comparisonEmpty {
		notes = append(notes, "comparison period empty for one or more entities")
	}

	// Step 8: sort (signal_type desc, total_events desc, entity asc), truncate.
	sort.Slice(results, func(i, j int) bool {
		ri, rj := results[i], results[j]
		if ri.SignalType != rj.SignalType {
			return rankStrength(ri.SignalType) > rankStrength(rj.SignalType)
		}
		if ri.TotalEvents != rj.TotalEvents {
			return ri.TotalEvents > rj.TotalEvents
		}
		return ri.Entity < rj.Entity
	})
	if len(results) > limit {
		results = results[:limit]
	}

	// Step 10: counts + notes.
	for _, r := range results {
		switch r.SignalType {
		case classify.StrengthHigh:
			resp.HighCount++
		case classify.StrengthElevated:
			resp.ElevatedCount++
		default:
			resp.NormalCount++
		}
	}
	resp.TotalEntitiesAnalyzed = len(aggResult.Totals)
	resp.Results = results
	resp.DataNote = joinNotes(notes)

	log.Info().Str("component", "signals").Str("level", string(req.Level)).
		Int("entities", len(results)).Msg("detect completed")

	return resp, nil
}

// computeEntity runs every requested method for one entity, skipping
// methods with insufficient history (spec §4.6 step 6). Returns
// insufficientAll=true when every method was skipped.
func (e *Engine) computeEntity(req SignalRequest, totals aggregate.EntityTotals, agg aggregate.Result, windows timewindow.Windows) ([]classify.Classified, bool) {
	thresholds := classify.NewDefaultThresholds()
	if req.Thresholds != nil {
		thresholds = *req.Thresholds
	}
	if req.MinEvents > 0 {
		thresholds.MinEvents = req.MinEvents
	}

	monthly := agg.Monthly[totals.Entity]
	seriesIn := stats.SeriesInput{
		Monthly:                toStatsMonthly(monthly),
		ComparisonMonth:        windows.ComparisonMonth,
		Window:                 windows.RollingWindowMonths,
		CurrentPeriodEvents:    totals.Total,
		ComparisonPeriodEvents: agg.Comparison[totals.Entity],
	}
	a, b, c, d := aggregate.ContingencyFor(totals, agg.Global)
	table := stats.Contingency{A: a, B: b, C: c, D: d}

	var classified []classify.Classified
	computed := 0
	for _, m := range req.Methods {
		var res stats.Result
		switch {
		case stats.IsSeriesMethod(m):
			res = stats.SeriesTable[m](seriesIn)
		case stats.IsContingencyMethod(m):
			res = stats.ContingencyTable[m](table)
		default:
			continue
		}
		if !res.Sufficient {
			continue
		}
		computed++
		classified = append(classified, classify.Method(res, thresholds, totals.Total))
	}
	return classified, computed == 0
}

func toStatsMonthly(m []aggregate.MonthlyCount) []stats.MonthlyPoint {
	out := make([]stats.MonthlyPoint, len(m))
	for i, p := range m {
		out[i] = stats.MonthlyPoint{Month: p.Month, Count: p.Count}
	}
	return out
}

// periodFields reports the current/comparison period totals and percent
// change for one entity's SignalResult row, when the resolved time window
// has a comparison window (custom/yoy). current_period_events is the
// entity's analysis-window total (already computed over exactly the
// analysis span); comparison_period_events comes from aggregate's real
// comparison-window query (aggregate.Result.Comparison), not a stand-in.
// change_pct mirrors stats.YoYPoP's null rule: absent when the comparison
// period is empty and the current period is not.
func periodFields(agg aggregate.Result, windows timewindow.Windows, totals aggregate.EntityTotals) (*int, *int, *float64) {
	if windows.ComparisonStart == nil || windows.ComparisonEnd == nil {
		return nil, nil, nil
	}
	current := totals.Total
	comparison := agg.Comparison[totals.Entity]

	var change *float64
	if !(comparison == 0 && current > 0) {
		v := 100 * float64(current-comparison) / math.Max(float64(comparison), 1)
		change = &v
	}
	return &current, &comparison, change
}

// expandGroupValue resolves value against activeGroups (groups matching
// the level the value lives at): if value is an active group's display
// name, it expands to members ∪ {display_name} so drill-down and
// has_children scope to every raw name the group collapses, per spec
// §4.6 ("entity_expression IN (group.members) ∪ {display_name}").
// Otherwise value passes through unchanged.
func expandGroupValue(activeGroups []groups.EntityGroup, value string) []string {
	for _, g := range activeGroups {
		if g.DisplayName == value {
			values := append([]string{}, g.Members...)
			return append(values, g.DisplayName)
		}
	}
	return []string{value}
}

func monthlyHorizonStart(methods []stats.Method, windows timewindow.Windows) time.Time {
	start := windows.AnalysisStart
	for _, m := range methods {
		if m == stats.MethodRolling && windows.RollingWindowMonths > 0 {
			candidate := start.AddDate(0, -windows.RollingWindowMonths-1, 0)
			if candidate.Before(start) {
				start = candidate
			}
		}
	}
	return start
}

func (e *Engine) mergeGroups(req SignalRequest) []groups.EntityGroup {
	entityType := groups.EntityType(req.Level.EntityTypeForGroups())
	if entityType == "" {
		return nil
	}
	active := e.Registry.ActiveForType(entityType)
	if len(req.ActiveGroupIDs) == 0 {
		return active
	}
	requested := make([]groups.EntityGroup, 0, len(req.ActiveGroupIDs))
	for _, id := range req.ActiveGroupIDs {
		if g, ok := e.Registry.Get(id); ok {
			requested = append(requested, g)
		}
	}
	// Request wins on conflict: list request groups first so filterpred's
	// first-insertion-wins overlap rule favors them.
	return append(requested, active...)
}

func nextLevel(level filterpred.EntityLevel) filterpred.EntityLevel {
	switch level {
	case filterpred.LevelManufacturer:
		return filterpred.LevelBrand
	case filterpred.LevelBrand:
		return filterpred.LevelGeneric
	default:
		return filterpred.LevelModel
	}
}

func rankStrength(s classify.Strength) int {
	switch s {
	case classify.StrengthHigh:
		return 2
	case classify.StrengthElevated:
		return 1
	default:
		return 0
	}
}

func toWireMethod(c classify.Classified) MethodResult {
	return MethodResult{
		Method:         c.Result.Method,
		Value:          c.Result.Value,
		LowerCI:        c.Result.LowerCI,
		UpperCI:        c.Result.UpperCI,
		IsSignal:       c.IsSignal,
		SignalStrength: c.Strength,
		Details:        c.Result.Details,
	}
}

func joinNotes(notes []string) string {
	if len(notes) == 0 {
		return ""
	}
	out := notes[0]
	for _, n := range notes[1:] {
		out += "; " + n
	}
	return out
}

func validate(req SignalRequest) error {
	if len(req.Methods) == 0 {
		return badRequest("methods must be non-empty")
	}
	if req.Level == "" {
		return badRequest("level is required")
	}
	if req.MinEvents < 0 {
		return badRequest("min_events must be >= 0")
	}
	if req.TimeConfig.Mode == "" {
		return badRequest("time_config.mode is required")
	}
	return nil
}
