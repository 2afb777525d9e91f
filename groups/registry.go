// Package groups implements the Entity Group Registry (C7): user-defined
// aliases that collapse several raw manufacturer/brand/generic_name
// values into one logical entity. The registry is the one mutable shared
// resource in the system (spec §5): reads take a shared lock and return
// copies of the stored groups, writes serialize behind an exclusive lock
// and update the in-memory map in place, modeled on the teacher's
// HeatmapConfigManager (sync.RWMutex + persisted store) but backed by the
// SQLite app database instead of a bare JSON file, so entity groups
// survive alongside the job/cache tables in the same database handle.
package groups

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// EntityType is the grouping dimension an EntityGroup applies to.
type EntityType string

const (
	EntityTypeManufacturer EntityType = "manufacturer"
	EntityTypeBrand        EntityType = "brand"
	EntityTypeGeneric      EntityType = "generic_name"
)

// EntityGroup is an alias group, per spec §3.
type EntityGroup struct {
	ID          string
	Name        string
	Description string
	EntityType  EntityType
	Members     []string
	DisplayName string
	IsActive    bool
	IsBuiltIn   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ConflictError signals a GroupConflict per spec §7: activation would
// double-assign an entity, or a built-in group mutation was attempted.
type ConflictError struct{ Msg string }

func (e *ConflictError) Error() string { return "group conflict: " + e.Msg }

// Registry is process-wide state: explicit init (Load) and teardown
// (nothing to flush — every write commits directly to SQLite), an
// in-memory map read under the shared lock, and the same mutex held
// exclusively by writes, which modify that map in place.
type Registry struct {
	mu         sync.RWMutex
	snapshot   map[string]EntityGroup // id -> group, updated in place under mu
	order      []string               // insertion order, for first-wins overlap resolution
	db         *sql.DB
	generation int64 // bumped on every mutation, used as a cache-key input
}

// Generation returns the current mutation counter; signals.CacheKey mixes
// it in so a stale cached response never survives a registry edit.
func (r *Registry) Generation() int {
	return int(atomic.LoadInt64(&r.generation))
}

// NewRegistry constructs a Registry backed by db. Call Load before use.
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db, snapshot: map[string]EntityGroup{}}
}

// CreateSchema creates the entity_groups/entity_group_members tables if
// they don't already exist.
func (r *Registry) CreateSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS entity_groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			entity_type TEXT NOT NULL,
			display_name TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			is_built_in INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			ordinal INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS entity_group_members (
			group_id TEXT NOT NULL REFERENCES entity_groups(id),
			member TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("groups: create schema: %w", err)
	}
	return nil
}

// Load populates the in-memory snapshot from SQLite at startup.
func (r *Registry) Load() error {
	rows, err := r.db.Query(`SELECT id, name, description, entity_type, display_name, is_active, is_built_in, created_at, updated_at FROM entity_groups ORDER BY ordinal`)
	if err != nil {
		return fmt.Errorf("groups: load: %w", err)
	}
	defer rows.Close()

	snapshot := map[string]EntityGroup{}
	var order []string
	for rows.Next() {
		var g EntityGroup
		var desc sql.NullString
		if err := rows.Scan(&g.ID, &g.Name, &desc, &g.EntityType, &g.DisplayName, &g.IsActive, &g.IsBuiltIn, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return fmt.Errorf("groups: scan: %w", err)
		}
		g.Description = desc.String
		members, err := r.loadMembers(g.ID)
		if err != nil {
			return err
		}
		g.Members = members
		snapshot[g.ID] = g
		order = append(order, g.ID)
	}

	r.mu.Lock()
	r.snapshot = snapshot
	r.order = order
	r.mu.Unlock()
	return nil
}

func (r *Registry) loadMembers(id string) ([]string, error) {
	rows, err := r.db.Query(`SELECT member FROM entity_group_members WHERE group_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("groups: load members: %w", err)
	}
	defer rows.Close()
	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

// List returns a snapshot copy filtered by entityType (empty = all),
// includeBuiltIn, and activeOnly.
func (r *Registry) List(entityType EntityType, includeBuiltIn, activeOnly bool) []EntityGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EntityGroup, 0, len(r.order))
	for _, id := range r.order {
		g := r.snapshot[id]
		if entityType != "" && g.EntityType != entityType {
			continue
		}
		if !includeBuiltIn && g.IsBuiltIn {
			continue
		}
		if activeOnly && !g.IsActive {
			continue
		}
		out = append(out, g)
	}
	return out
}

// ActiveForType returns active groups for entityType in insertion order,
// the shape filterpred.Build consumes for the first-wins overlap rule.
func (r *Registry) ActiveForType(entityType EntityType) []EntityGroup {
	return r.List(entityType, true, true)
}

// Get returns a single group by id.
func (r *Registry) Get(id string) (EntityGroup, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.snapshot[id]
	return g, ok
}

func normalizeMembers(members []string) ([]string, error) {
	seen := map[string]string{}
	var out []string
	for _, m := range members {
		// Unicode-normalize before dedup so visually identical
		// manufacturer names submitted from different locales (combining
		// vs. precomposed accents) collapse to the same member.
		trimmed := strings.TrimSpace(norm.NFC.String(m))
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = trimmed
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("groups: members must be a non-empty set")
	}
	return out, nil
}

// Create inserts a new group. display_name is auto-derived when empty.
func (r *Registry) Create(g EntityGroup, eventCounts map[string]int) (EntityGroup, error) {
	members, err := normalizeMembers(g.Members)
	if err != nil {
		return EntityGroup{}, err
	}
	g.Members = members
	g.ID = uuid.NewString()
	g.IsBuiltIn = false
	now := time.Now()
	g.CreatedAt, g.UpdatedAt = now, now
	if g.DisplayName == "" {
		g.DisplayName = SuggestName(members, eventCounts)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if g.IsActive {
		if err := r.checkNoConflictLocked(g, ""); err != nil {
			return EntityGroup{}, err
		}
	}

	if err := r.persist(g); err != nil {
		return EntityGroup{}, err
	}
	r.snapshot[g.ID] = g
	r.order = append(r.order, g.ID)
	return g, nil
}

// Update replaces an existing non-built-in group's mutable fields.
func (r *Registry) Update(id string, mutate func(*EntityGroup)) (EntityGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.snapshot[id]
	if !ok {
		return EntityGroup{}, fmt.Errorf("groups: %s not found", id)
	}
	if existing.IsBuiltIn {
		return EntityGroup{}, &ConflictError{Msg: "built-in groups cannot be updated"}
	}

	updated := existing
	mutate(&updated)
	members, err := normalizeMembers(updated.Members)
	if err != nil {
		return EntityGroup{}, err
	}
	updated.Members = members
	updated.UpdatedAt = time.Now()

	if updated.IsActive {
		if err := r.checkNoConflictLocked(updated, id); err != nil {
			return EntityGroup{}, err
		}
	}

	if err := r.persist(updated); err != nil {
		return EntityGroup{}, err
	}
	r.snapshot[id] = updated
	return updated, nil
}

// Delete removes a non-built-in group.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.snapshot[id]
	if !ok {
		return fmt.Errorf("groups: %s not found", id)
	}
	if existing.IsBuiltIn {
		return &ConflictError{Msg: "built-in groups cannot be deleted"}
	}

	if _, err := r.db.Exec(`DELETE FROM entity_group_members WHERE group_id = ?`, id); err != nil {
		return fmt.Errorf("groups: delete members: %w", err)
	}
	if _, err := r.db.Exec(`DELETE FROM entity_groups WHERE id = ?`, id); err != nil {
		return fmt.Errorf("groups: delete: %w", err)
	}

	delete(r.snapshot, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	atomic.AddInt64(&r.generation, 1)
	return nil
}

// SetActive atomically checks the uniqueness invariant and flips IsActive.
func (r *Registry) SetActive(id string, active bool) (EntityGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.snapshot[id]
	if !ok {
		return EntityGroup{}, fmt.Errorf("groups: %s not found", id)
	}

	candidate := existing
	candidate.IsActive = active
	candidate.UpdatedAt = time.Now()

	if active {
		if err := r.checkNoConflictLocked(candidate, id); err != nil {
			return EntityGroup{}, err
		}
	}

	if err := r.persist(candidate); err != nil {
		return EntityGroup{}, err
	}
	r.snapshot[id] = candidate
	return candidate, nil
}

// checkNoConflictLocked enforces "at most one active group per
// entity_type per member" (Property 8 / spec §4.7). Caller must hold mu.
func (r *Registry) checkNoConflictLocked(candidate EntityGroup, excludeID string) error {
	candidateMembers := map[string]struct{}{}
	for _, m := range candidate.Members {
		candidateMembers[strings.ToLower(m)] = struct{}{}
	}
	for id, g := range r.snapshot {
		if id == excludeID || !g.IsActive || g.EntityType != candidate.EntityType {
			continue
		}
		for _, m := range g.Members {
			if _, clash := candidateMembers[strings.ToLower(m)]; clash {
				return &ConflictError{Msg: fmt.Sprintf("entity %q already belongs to active group %q", m, g.Name)}
			}
		}
	}
	return nil
}

func (r *Registry) persist(g EntityGroup) error {
	defer atomic.AddInt64(&r.generation, 1)
	ordinal := len(r.order)
	for i, id := range r.order {
		if id == g.ID {
			ordinal = i
		}
	}
	_, err := r.db.Exec(`
		INSERT INTO entity_groups (id, name, description, entity_type, display_name, is_active, is_built_in, created_at, updated_at, ordinal)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description,
			display_name=excluded.display_name, is_active=excluded.is_active, updated_at=excluded.updated_at
	`, g.ID, g.Name, g.Description, g.EntityType, g.DisplayName, g.IsActive, g.IsBuiltIn, g.CreatedAt, g.UpdatedAt, ordinal)
	if err != nil {
		return fmt.Errorf("groups: persist: %w", err)
	}

	if _, err := r.db.Exec(`DELETE FROM entity_group_members WHERE group_id = ?`, g.ID); err != nil {
		return fmt.Errorf("groups: replace members: %w", err)
	}
	for _, m := range g.Members {
		if _, err := r.db.Exec(`INSERT INTO entity_group_members (group_id, member) VALUES (?, ?)`, g.ID, m); err != nil {
			return fmt.Errorf("groups: insert member: %w", err)
		}
	}
	return nil
}

// SeedBuiltIn inserts a built-in, always-active, immutable group if it
// doesn't already exist by name — used by config.EntityGroupSeedManager
// at startup.
func (r *Registry) SeedBuiltIn(name string, entityType EntityType, members []string, displayName string) error {
	r.mu.RLock()
	for _, g := range r.snapshot {
		if g.Name == name && g.IsBuiltIn {
			r.mu.RUnlock()
			return nil
		}
	}
	r.mu.RUnlock()

	norm, err := normalizeMembers(members)
	if err != nil {
		return err
	}
	now := time.Now()
	g := EntityGroup{
		ID: uuid.NewString(), Name: name, EntityType: entityType, Members: norm,
		DisplayName: displayName, IsActive: true, IsBuiltIn: true, CreatedAt: now, UpdatedAt: now,
	}
	if g.DisplayName == "" {
		g.DisplayName = SuggestName(norm, nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkNoConflictLocked(g, ""); err != nil {
		return err
	}
	if err := r.persist(g); err != nil {
		return err
	}
	r.snapshot[g.ID] = g
	r.order = append(r.order, g.ID)
	return nil
}

// SuggestName implements the display-name auto-derivation algorithm from
// spec §4.7: longest common token prefix across members, else the member
// with the highest event count (ties go to the alphabetically first of
// the tied members), else the first member alphabetically.
func SuggestName(members []string, eventCounts map[string]int) string {
	if len(members) == 0 {
		return ""
	}
	if prefix := commonTokenPrefix(members); prefix != "" {
		return prefix
	}
	if eventCounts != nil {
		best := ""
		bestCount := 0
		for _, m := range members {
			c := eventCounts[m]
			if c > bestCount || (c > 0 && c == bestCount && m < best) {
				bestCount = c
				best = m
			}
		}
		if bestCount > 0 {
			return best
		}
	}
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	return sorted[0]
}

func commonTokenPrefix(members []string) string {
	tokenLists := make([][]string, len(members))
	for i, m := range members {
		tokenLists[i] = strings.Fields(m)
	}
	minLen := len(tokenLists[0])
	for _, tl := range tokenLists {
		if len(tl) < minLen {
			minLen = len(tl)
		}
	}
	var prefix []string
	for i := 0; i < minLen; i++ {
		tok := tokenLists[0][i]
		for _, tl := range tokenLists[1:] {
			if !strings.EqualFold(tl[i], tok) {
				return strings.Join(prefix, " ")
			}
		}
		prefix = append(prefix, tok)
	}
	return strings.Join(prefix, " ")
}
