package pattern

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// IDGenerator generates unique IDs for rules
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemTime struct{}

func (systemTime) Now() time.Time {
	return time.Now().UTC()
}

// Option configures a Registry
type Option func(*Registry)

// WithSeed replaces the golden rule set used to populate an empty store
func WithSeed(rules []Rule) Option {
	return func(r *Registry) {
		r.seed = rules
	}
}

// WithStaleFallback keeps serving the last good snapshot when a reload fails
func WithStaleFallback() Option {
	return func(r *Registry) {
		r.allowStale = true
	}
}

// WithIDGenerator overrides rule ID generation
func WithIDGenerator(g IDGenerator) Option {
	return func(r *Registry) {
		r.ids = g
	}
}

// WithTimeSource overrides the registry clock
func WithTimeSource(t TimeSource) Option {
	return func(r *Registry) {
		r.clock = t
	}
}

// state pairs the published snapshot with the outcome of the last load
type state struct {
	snap *Snapshot
	err  error
}

// Registry is the process-wide rule set. Reads go through an atomically
// published Snapshot and never lock; mutations are serialized, persisted to
// the Store and followed by a full snapshot rebuild.
type Registry struct {
	store      Store
	seed       []Rule
	allowStale bool
	ids        IDGenerator
	clock      TimeSource

	mu      sync.Mutex
	version uint64
	current atomic.Pointer[state]
}

// NewRegistry creates a registry over store. Call Load before serving.
func NewRegistry(store Store, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		ids:   uuidGenerator{},
		clock: systemTime{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.seed == nil {
		seed, err := DefaultSeed()
		if err != nil {
			// the embedded seed is part of the binary
			panic(err)
		}
		r.seed = seed
	}
	return r
}

// Load seeds an empty store and publishes the first snapshot
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rules, err := r.store.ListRules()
	if err != nil {
		r.fail(err)
		return fmt.Errorf("%w: listing rules: %v", ErrRegistryUnavailable, err)
	}
	if len(rules) == 0 {
		slog.Info("Seeding pattern registry", "rules", len(r.seed))
		now := r.clock.Now()
		for _, seed := range r.seed {
			rule := seed
			rule.normalize()
			if _, err := compileRule(rule); err != nil {
				return fmt.Errorf("seeding rule %q: %w", rule.Name, err)
			}
			if rule.ID == "" {
				rule.ID = r.ids.Generate()
			}
			rule.CreatedAt = now
			rule.UpdatedAt = now
			if err := r.store.SaveRule(&rule); err != nil {
				r.fail(err)
				return fmt.Errorf("%w: saving seed rule: %v", ErrRegistryUnavailable, err)
			}
		}
	}
	return r.reload()
}

// Snapshot returns the current immutable rule set
func (r *Registry) Snapshot() (*Snapshot, error) {
	st := r.current.Load()
	if st == nil {
		return nil, fmt.Errorf("%w: not loaded", ErrRegistryUnavailable)
	}
	if st.err != nil {
		if r.allowStale && st.snap != nil {
			return st.snap, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, st.err)
	}
	return st.snap, nil
}

// RulesFor returns the active rules of category by ascending priority
func (r *Registry) RulesFor(category Category) ([]Rule, error) {
	snap, err := r.Snapshot()
	if err != nil {
		return nil, err
	}
	compiled := snap.RulesFor(category)
	rules := make([]Rule, len(compiled))
	for i, c := range compiled {
		rules[i] = c.Rule
	}
	return rules, nil
}

// ListFilter narrows List results
type ListFilter struct {
	Category Category
	Active   *bool
}

// List returns stored rules, including inactive ones, ordered by category,
// priority and name
func (r *Registry) List(filter ListFilter) ([]*Rule, error) {
	rules, err := r.store.ListRules()
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	out := make([]*Rule, 0, len(rules))
	for _, rule := range rules {
		if filter.Category != "" && rule.Category != filter.Category {
			continue
		}
		if filter.Active != nil && rule.Active != *filter.Active {
			continue
		}
		out = append(out, rule)
	}
	slices.SortFunc(out, func(a, b *Rule) int {
		if c := slices.Index(Categories, a.Category) - slices.Index(Categories, b.Category); c != 0 {
			return c
		}
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Get retrieves a rule by ID
func (r *Registry) Get(id string) (*Rule, error) {
	rule, err := r.store.GetRule(id)
	if err != nil {
		return nil, fmt.Errorf("getting rule: %w", err)
	}
	return rule, nil
}

// Create validates, persists and publishes a new rule
func (r *Registry) Create(rule Rule) (*Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule.normalize()
	if err := r.check(rule, ""); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	rule.ID = r.ids.Generate()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := r.store.SaveRule(&rule); err != nil {
		return nil, fmt.Errorf("saving rule: %w", err)
	}
	slog.Info("Rule created", "id", rule.ID, "name", rule.Name, "category", rule.Category)

	if err := r.reload(); err != nil {
		return nil, err
	}
	return &rule, nil
}

// Update replaces the editable fields of rule id
func (r *Registry) Update(id string, rule Rule) (*Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.GetRule(id)
	if err != nil {
		return nil, fmt.Errorf("getting rule: %w", err)
	}

	rule.normalize()
	if err := r.check(rule, id); err != nil {
		return nil, err
	}

	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	if rule.CreatedBy == "" {
		rule.CreatedBy = existing.CreatedBy
	}
	rule.UpdatedAt = r.clock.Now()
	if err := r.store.SaveRule(&rule); err != nil {
		return nil, fmt.Errorf("saving rule: %w", err)
	}
	slog.Info("Rule updated", "id", rule.ID, "name", rule.Name)

	if err := r.reload(); err != nil {
		return nil, err
	}
	return &rule, nil
}

// Delete removes a rule that has never produced a field
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.GetRule(id); err != nil {
		return fmt.Errorf("getting rule: %w", err)
	}
	counts, err := r.store.UsageCounts()
	if err != nil {
		return fmt.Errorf("reading usage log: %w", err)
	}
	if counts[id] > 0 {
		return fmt.Errorf("deleting rule %s (%d uses): %w", id, counts[id], ErrRuleInUse)
	}
	if err := r.store.DeleteRule(id); err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	slog.Info("Rule deleted", "id", id)

	return r.reload()
}

// ToggleActive flips the active flag of rule id
func (r *Registry) ToggleActive(id string) (*Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, err := r.store.GetRule(id)
	if err != nil {
		return nil, fmt.Errorf("getting rule: %w", err)
	}
	rule.Active = !rule.Active
	rule.UpdatedAt = r.clock.Now()
	if err := r.store.SaveRule(rule); err != nil {
		return nil, fmt.Errorf("saving rule: %w", err)
	}
	slog.Info("Rule toggled", "id", id, "active", rule.Active)

	if err := r.reload(); err != nil {
		return nil, err
	}
	return rule, nil
}

// RecordUsage appends usage events to the store's log
func (r *Registry) RecordUsage(events []UsageEvent) error {
	if err := r.store.AppendUsage(events); err != nil {
		return fmt.Errorf("recording rule usage: %w", err)
	}
	return nil
}

// Test runs an ad-hoc pattern against sample text
func (r *Registry) Test(pattern, flags, sample string) TestResult {
	return Test(pattern, flags, sample)
}

// check validates category, regexes and name uniqueness. selfID is
// excluded from the uniqueness check.
func (r *Registry) check(rule Rule, selfID string) error {
	if rule.Name == "" {
		return &InvalidPatternError{Rule: rule.Name, Reason: "name is required"}
	}
	if _, ok := ParseCategory(string(rule.Category)); !ok {
		return &InvalidPatternError{Rule: rule.Name, Reason: fmt.Sprintf("unknown category %q", rule.Category)}
	}
	if _, err := compileRule(rule); err != nil {
		return err
	}

	rules, err := r.store.ListRules()
	if err != nil {
		return fmt.Errorf("%w: listing rules: %v", ErrRegistryUnavailable, err)
	}
	for _, other := range rules {
		if other.ID != selfID && strings.EqualFold(other.Name, rule.Name) {
			return &InvalidPatternError{Rule: rule.Name, Reason: "name already in use"}
		}
	}
	return nil
}

// reload rebuilds and publishes the snapshot. Caller holds r.mu.
func (r *Registry) reload() error {
	rules, err := r.store.ListRules()
	if err != nil {
		r.fail(err)
		return fmt.Errorf("%w: listing rules: %v", ErrRegistryUnavailable, err)
	}
	snap, err := newSnapshot(r.version+1, r.clock.Now(), rules)
	if err != nil {
		r.fail(err)
		return fmt.Errorf("%w: building snapshot: %v", ErrRegistryUnavailable, err)
	}
	r.version++
	r.current.Store(&state{snap: snap})
	slog.Debug("Pattern snapshot published", "version", snap.Version, "active_rules", snap.Len())
	return nil
}

// fail records a load failure while keeping the previous snapshot around
// for stale fallback
func (r *Registry) fail(err error) {
	var prev *Snapshot
	if st := r.current.Load(); st != nil {
		prev = st.snap
	}
	slog.Error("Pattern registry load failed", "error", err)
	r.current.Store(&state{snap: prev, err: err})
}

// IsUnavailable reports whether err means the registry could not serve rules
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrRegistryUnavailable)
}
