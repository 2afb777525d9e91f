package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/lgd-analytics/maude-signals/classify"
	"github.com/lgd-analytics/maude-signals/config"
	"github.com/lgd-analytics/maude-signals/etl"
	"github.com/lgd-analytics/maude-signals/eventstore"
	"github.com/lgd-analytics/maude-signals/filterpred"
	"github.com/lgd-analytics/maude-signals/groups"
	"github.com/lgd-analytics/maude-signals/jobs"
	"github.com/lgd-analytics/maude-signals/mart"
	"github.com/lgd-analytics/maude-signals/signals"
	"github.com/lgd-analytics/maude-signals/stats"
	"github.com/lgd-analytics/maude-signals/timewindow"
)

var validate = validator.New()

// Handler holds dependencies for HTTP handlers, the same grab-bag
// Handler struct the teacher wires its routes against.
type Handler struct {
	store       *eventstore.Store
	cfg         *config.Config
	registry    *groups.Registry
	engine      *signals.Engine
	cache       *signals.Cache
	martBuilder *mart.MartBuilder
	ingestor    *etl.DataIngestor
	pool        *jobs.WorkerPool
	metrics     *MetricsRegistry
}

// NewHandler creates a new API handler.
func NewHandler(store *eventstore.Store, cfg *config.Config, registry *groups.Registry, engine *signals.Engine, cache *signals.Cache, martBuilder *mart.MartBuilder, ingestor *etl.DataIngestor, pool *jobs.WorkerPool, metrics *MetricsRegistry) *Handler {
	return &Handler{
		store:       store,
		cfg:         cfg,
		registry:    registry,
		engine:      engine,
		cache:       cache,
		martBuilder: martBuilder,
		ingestor:    ingestor,
		pool:        pool,
		metrics:     metrics,
	}
}

// HealthCheck checks API health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.App.Ping(); err != nil {
		respondError(w, http.StatusServiceUnavailable, "app db unhealthy")
		return
	}
	db, err := h.store.Events()
	if err != nil || db.Ping() != nil {
		respondError(w, http.StatusServiceUnavailable, "event store unhealthy")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"mode":   "production",
	})
}

// DetectAdvanced handles POST /api/analytics/signals/advanced: the full
// Signal Orchestrator request, with every method and time mode the
// request can name.
func (h *Handler) DetectAdvanced(w http.ResponseWriter, r *http.Request) {
	var req signals.SignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}

	h.runDetect(w, r, req)
}

// DetectSimple handles GET /api/analytics/signals: a convenience
// endpoint over the same engine, fixed to a z-score lookback comparison
// so dashboard callers don't need to build the full request body.
func (h *Handler) DetectSimple(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	level := filterpred.EntityLevel(q.Get("level"))
	if level == "" {
		level = filterpred.LevelManufacturer
	}
	lookback := 3
	if v := q.Get("lookback_months"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			lookback = parsed
		}
	}
	minEvents := h.cfg.Analysis.DefaultMinEvents
	if v := q.Get("min_events"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			minEvents = parsed
		}
	}
	limit := h.cfg.Analysis.DefaultLimit
	if v := q.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	req := signals.SignalRequest{
		Methods: []stats.Method{stats.MethodZScore},
		TimeConfig: timewindow.Config{
			Mode:           timewindow.ModeLookback,
			LookbackMonths: lookback,
		},
		Level:                level,
		ParentValue:          q.Get("parent_value"),
		ComparisonPopulation: signals.ComparisonAll,
		MinEvents:            minEvents,
		Limit:                limit,
	}

	h.runDetect(w, r, req)
}

func (h *Handler) runDetect(w http.ResponseWriter, r *http.Request, req signals.SignalRequest) {
	start := time.Now()

	cacheKey, err := signals.CacheKey(req, h.registry.Generation())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute cache key")
		return
	}
	if h.cache != nil {
		if cached, ok := h.cache.Get(cacheKey); ok {
			h.metrics.ObserveDetect(time.Since(start), true)
			h.logDetect(req, time.Since(start), len(cached.Results), true)
			respondJSON(w, http.StatusOK, cached)
			return
		}
	}

	ctx := r.Context()
	if req.DeadlineSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.DeadlineSeconds)*time.Second)
		defer cancel()
	}

	resp, err := h.engine.Detect(ctx, req)
	duration := time.Since(start)
	h.metrics.ObserveDetect(duration, false)

	if err != nil {
		writeEngineError(w, err)
		h.logDetect(req, duration, 0, false)
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(cacheKey, resp); err != nil {
			log.Printf("signals: cache write failed: %v", err)
		}
	}
	h.logDetect(req, duration, len(resp.Results), false)

	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) logDetect(req signals.SignalRequest, duration time.Duration, entityCount int, cacheHit bool) {
	methodNames := make([]string, len(req.Methods))
	for i, m := range req.Methods {
		methodNames[i] = string(m)
	}
	_, err := h.store.App.Exec(
		`INSERT INTO signal_logs (level, methods, entity_count, duration_ms, cache_hit, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(req.Level), strings.Join(methodNames, ","), entityCount, duration.Milliseconds(), cacheHit, time.Now(),
	)
	if err != nil {
		log.Printf("signals: log write failed: %v", err)
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	se, ok := err.(*signals.Error)
	if !ok {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	switch se.Kind {
	case signals.KindBadRequest, signals.KindBadFilter:
		respondError(w, http.StatusBadRequest, se.Error())
	case signals.KindGroupConflict:
		respondError(w, http.StatusConflict, se.Error())
	case signals.KindTimeout:
		respondError(w, http.StatusGatewayTimeout, se.Error())
	case signals.KindStoreUnavailable:
		respondError(w, http.StatusServiceUnavailable, se.Error())
	default:
		respondError(w, http.StatusInternalServerError, se.Error())
	}
}

// SubmitDetectJob handles POST /api/analytics/signals/jobs: runs Detect
// asynchronously on the worker pool, returning a job id the caller polls.
func (h *Handler) SubmitDetectJob(w http.ResponseWriter, r *http.Request) {
	var req signals.SignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}

	reqJSON, _ := json.Marshal(req)
	jobID := uuid.NewString()
	now := time.Now()
	if _, err := h.store.App.Exec(
		`INSERT INTO signal_jobs (id, status, progress, request_json, created_at, updated_at) VALUES (?, 'pending', 0, ?, ?, ?)`,
		jobID, string(reqJSON), now, now,
	); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if err := h.pool.Submit(jobs.Job{ID: jobID, Execute: func() error { return h.runDetectJob(jobID, req) }}); err != nil {
		respondError(w, http.StatusServiceUnavailable, "worker pool unavailable")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "pending"})
}

func (h *Handler) runDetectJob(jobID string, req signals.SignalRequest) error {
	h.store.App.Exec(`UPDATE signal_jobs SET status = 'running', updated_at = ? WHERE id = ?`, time.Now(), jobID)

	resp, err := h.engine.Detect(context.Background(), req)
	if err != nil {
		h.store.App.Exec(`UPDATE signal_jobs SET status = 'failed', error = ?, updated_at = ? WHERE id = ?`, err.Error(), time.Now(), jobID)
		return err
	}

	resultJSON, err := json.Marshal(resp)
	if err != nil {
		h.store.App.Exec(`UPDATE signal_jobs SET status = 'failed', error = ?, updated_at = ? WHERE id = ?`, err.Error(), time.Now(), jobID)
		return err
	}
	h.store.App.Exec(
		`UPDATE signal_jobs SET status = 'completed', progress = 100, result_json = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), time.Now(), jobID,
	)
	return nil
}

// GetDetectJob handles GET /api/analytics/signals/jobs/{id}.
func (h *Handler) GetDetectJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	var status, resultJSON, errMsg sql.NullString
	var progress int
	row := h.store.App.QueryRow(`SELECT status, progress, result_json, error FROM signal_jobs WHERE id = ?`, jobID)
	if err := row.Scan(&status, &progress, &resultJSON, &errMsg); err != nil {
		if err == sql.ErrNoRows {
			respondError(w, http.StatusNotFound, "job not found")
		} else {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get job: %v", err))
		}
		return
	}

	resp := map[string]interface{}{
		"job_id":   jobID,
		"status":   status.String,
		"progress": progress,
	}
	if errMsg.String != "" {
		resp["error"] = errMsg.String
	}
	if status.String == "completed" && resultJSON.Valid {
		var result signals.SignalResponse
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err == nil {
			resp["result"] = result
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// IngestRequest is the body for the mock ingestion endpoint.
type IngestRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// IngestData triggers mock data ingestion (real MAUDE flat-file loading
// is an external collaborator, out of scope per spec §1).
func (h *Handler) IngestData(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if r.Body != nil && r.ContentLength > 0 {
		json.NewDecoder(r.Body).Decode(&req)
	}

	var startTime, endTime time.Time
	if req.StartDate != "" {
		startTime, _ = time.Parse("2006-01-02", req.StartDate)
	}
	if req.EndDate != "" {
		endTime, _ = time.Parse("2006-01-02", req.EndDate)
	}

	counts, err := h.ingestor.IngestData(startTime, endTime)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("ingest failed: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

// RefreshMart handles entity_month_rollup mart refresh requests.
func (h *Handler) RefreshMart(w http.ResponseWriter, r *http.Request) {
	stats, err := h.martBuilder.Refresh()
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("mart refresh failed: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "stats": stats})
}

// GetMartStats returns current mart statistics without refreshing.
func (h *Handler) GetMartStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.martBuilder.Stats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get mart stats: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// ListEntityGroups handles GET /api/entity-groups.
func (h *Handler) ListEntityGroups(w http.ResponseWriter, r *http.Request) {
	entityType := groups.EntityType(r.URL.Query().Get("entity_type"))
	includeBuiltIn := r.URL.Query().Get("include_built_in") != "false"
	activeOnly := r.URL.Query().Get("active_only") == "true"

	respondJSON(w, http.StatusOK, h.registry.List(entityType, includeBuiltIn, activeOnly))
}

// CreateEntityGroup handles POST /api/entity-groups.
func (h *Handler) CreateEntityGroup(w http.ResponseWriter, r *http.Request) {
	var g groups.EntityGroup
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(g.Members) == 0 {
		respondError(w, http.StatusBadRequest, "members is required")
		return
	}

	counts := h.entityEventCounts(groups.EntityType(""), g.Members)
	created, err := h.registry.Create(g, counts)
	if err != nil {
		writeGroupError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// UpdateEntityGroup handles PUT /api/entity-groups/{id}.
func (h *Handler) UpdateEntityGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var patch groups.EntityGroup
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.registry.Update(id, func(g *groups.EntityGroup) {
		if patch.Name != "" {
			g.Name = patch.Name
		}
		if patch.DisplayName != "" {
			g.DisplayName = patch.DisplayName
		}
		if patch.Description != "" {
			g.Description = patch.Description
		}
		if len(patch.Members) > 0 {
			g.Members = patch.Members
		}
	})
	if err != nil {
		writeGroupError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// DeleteEntityGroup handles DELETE /api/entity-groups/{id}.
func (h *Handler) DeleteEntityGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.registry.Delete(id); err != nil {
		writeGroupError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ActivateEntityGroup handles POST /api/entity-groups/{id}/activate.
func (h *Handler) ActivateEntityGroup(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DeactivateEntityGroup handles POST /api/entity-groups/{id}/deactivate.
func (h *Handler) DeactivateEntityGroup(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := mux.Vars(r)["id"]
	updated, err := h.registry.SetActive(id, active)
	if err != nil {
		writeGroupError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func writeGroupError(w http.ResponseWriter, err error) {
	if _, ok := err.(*groups.ConflictError); ok {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondError(w, http.StatusBadRequest, err.Error())
}

// SuggestGroupName handles GET /api/entity-groups/suggest-name?members=a,b,c.
func (h *Handler) SuggestGroupName(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("members")
	if raw == "" {
		respondError(w, http.StatusBadRequest, "members is required")
		return
	}
	members := strings.Split(raw, ",")
	for i := range members {
		members[i] = strings.TrimSpace(members[i])
	}

	counts := h.entityEventCounts(groups.EntityType(""), members)
	respondJSON(w, http.StatusOK, map[string]string{"suggested_name": groups.SuggestName(members, counts)})
}

// AvailableEntities handles GET /api/entity-groups/available-entities?level=manufacturer.
func (h *Handler) AvailableEntities(w http.ResponseWriter, r *http.Request) {
	level := filterpred.EntityLevel(r.URL.Query().Get("level"))
	if level == "" {
		level = filterpred.LevelManufacturer
	}
	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	db, err := h.store.Events()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "event store unreachable")
		return
	}

	query, args := eventstore.BuildDistinctEntitiesQuery(level, limit)
	rows, err := db.QueryContext(r.Context(), query, args...)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
		return
	}
	defer rows.Close()

	type entityCount struct {
		Entity string `json:"entity"`
		Total  int    `json:"total"`
	}
	var out []entityCount
	for rows.Next() {
		var ec entityCount
		if err := rows.Scan(&ec.Entity, &ec.Total); err != nil {
			continue
		}
		out = append(out, ec)
	}
	respondJSON(w, http.StatusOK, out)
}

// entityEventCounts looks up approximate event counts per member, used by
// SuggestName's tie-break rule. Best-effort: a lookup failure just means
// that member loses the tie-break, it never fails the request.
func (h *Handler) entityEventCounts(_ groups.EntityType, members []string) map[string]int {
	counts := make(map[string]int, len(members))
	db, err := h.store.Events()
	if err != nil {
		return counts
	}
	for _, m := range members {
		var c int
		row := db.QueryRow(`SELECT COUNT(*) FROM events WHERE manufacturer_clean = ?`, m)
		if err := row.Scan(&c); err == nil {
			counts[m] = c
		}
	}
	return counts
}

// GetConfig returns the current public configuration.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"analysis":             h.cfg.Analysis,
		"ingestion_lag_months": h.cfg.IngestionLagMonths,
		"mock_data":            h.cfg.MockData,
		"scheduler":            h.cfg.Scheduler,
		"retention":            h.cfg.Retention,
	})
}

// ConfigUpdateRequest is the body for PUT /api/config.
type ConfigUpdateRequest struct {
	Analysis *struct {
		DefaultMinEvents int `json:"default_min_events"`
		DefaultLimit     int `json:"default_limit"`
		MaxLimit         int `json:"max_limit"`
	} `json:"analysis,omitempty"`
	IngestionLagMonths *int `json:"ingestion_lag_months,omitempty"`
}

// UpdateConfig updates configuration settings and persists them.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Analysis != nil {
		if err := h.cfg.UpdateAnalysisDefaults(req.Analysis.DefaultMinEvents, req.Analysis.DefaultLimit, req.Analysis.MaxLimit); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to update analysis defaults")
			return
		}
	}
	if req.IngestionLagMonths != nil {
		if err := h.cfg.UpdateIngestionLag(*req.IngestionLagMonths); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to update ingestion lag")
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// GetSignalLogs returns recent detect performance logs.
func (h *Handler) GetSignalLogs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	rows, err := h.store.App.Query(`SELECT level, methods, entity_count, duration_ms, cache_hit, created_at FROM signal_logs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get logs: %v", err))
		return
	}
	defer rows.Close()

	type logRow struct {
		Level       string    `json:"level"`
		Methods     string    `json:"methods"`
		EntityCount int       `json:"entity_count"`
		DurationMs  int64     `json:"duration_ms"`
		CacheHit    bool      `json:"cache_hit"`
		CreatedAt   time.Time `json:"created_at"`
	}
	var out []logRow
	for rows.Next() {
		var lr logRow
		if err := rows.Scan(&lr.Level, &lr.Methods, &lr.EntityCount, &lr.DurationMs, &lr.CacheHit, &lr.CreatedAt); err != nil {
			continue
		}
		out = append(out, lr)
	}
	respondJSON(w, http.StatusOK, out)
}

// GetDefaultThresholds returns the classifier's default cut points, so
// clients can show what an omitted thresholds field in a request resolves
// to.
func (h *Handler) GetDefaultThresholds(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, classify.NewDefaultThresholds())
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
