package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"leadintel_backend/internal/events"
	"leadintel_backend/internal/leads/domain"
	"leadintel_backend/internal/leads/repository"
	"leadintel_backend/platform/apperr"
	"leadintel_backend/platform/lock"
	"leadintel_backend/platform/logger"
	"leadintel_backend/platform/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	sweepLockKey = "lifecycle:sweep"
	sweepLockTTL = 30 * time.Minute
)

// ErrSweepRunning is returned when another sweep holds the guard.
var ErrSweepRunning = apperr.Conflict("lifecycle sweep already running")

// LeadFailure records a lead the sweep could not update.
type LeadFailure struct {
	TenantID uuid.UUID `json:"tenantId"`
	LeadID   uuid.UUID `json:"leadId"`
	Error    string    `json:"error"`
}

// SweepResult summarises a sweep.
type SweepResult struct {
	Examined         int           `json:"examined"`
	StaleCount       int           `json:"staleCount"`
	ArchivedCount    int           `json:"archivedCount"`
	ReactivatedCount int           `json:"reactivatedCount"`
	Failures         []LeadFailure `json:"failures,omitempty"`
}

func (r *SweepResult) add(o SweepResult) {
	r.Examined += o.Examined
	r.StaleCount += o.StaleCount
	r.ArchivedCount += o.ArchivedCount
	r.ReactivatedCount += o.ReactivatedCount
	r.Failures = append(r.Failures, o.Failures...)
}

// Manager runs sweeps and manual overrides.
type Manager struct {
	store       repository.SnapshotStore
	locks       *lock.Keyed[uuid.UUID]
	redis       redis.UniversalClient
	bus         events.Bus
	log         *logger.Logger
	metrics     *metrics.Metrics
	policy      Policy
	concurrency int
	now         func() time.Time

	running sync.Mutex
}

// Option customises a Manager.
type Option func(*Manager)

// WithRedisGuard adds a cross-instance SET NX lease around each sweep.
func WithRedisGuard(client redis.UniversalClient) Option {
	return func(m *Manager) { m.redis = client }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithConcurrency bounds how many leads are saved in parallel.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithEvents publishes engagement changes.
func WithEvents(bus events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

func NewManager(store repository.SnapshotStore, locks *lock.Keyed[uuid.UUID], policy Policy, log *logger.Logger, m *metrics.Metrics, opts ...Option) *Manager {
	mgr := &Manager{
		store:       store,
		locks:       locks,
		log:         log,
		metrics:     m,
		policy:      policy,
		concurrency: 8,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(mgr)
	}
	if mgr.locks == nil {
		mgr.locks = lock.NewKeyed[uuid.UUID]()
	}
	if mgr.log == nil {
		mgr.log = logger.Nop()
	}
	return mgr
}

// Policy returns the active thresholds.
func (m *Manager) Policy() Policy { return m.policy }

// Sweep reclassifies one tenant's leads.
func (m *Manager) Sweep(ctx context.Context, tenantID uuid.UUID) (SweepResult, error) {
	release, err := m.guard(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	defer release()
	return m.sweepTenant(ctx, tenantID)
}

// SweepAll sweeps every tenant with open leads. A failing tenant is
// recorded and the remaining tenants still run.
func (m *Manager) SweepAll(ctx context.Context) (SweepResult, error) {
	release, err := m.guard(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	defer release()

	tenants, err := m.store.ListTenants(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	var total SweepResult
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := m.sweepTenant(ctx, tenantID)
		total.add(res)
		if err != nil {
			total.Failures = append(total.Failures, LeadFailure{TenantID: tenantID, Error: err.Error()})
		}
	}
	return total, nil
}

// guard keeps sweeps from overlapping in this process and, when Redis is
// configured, across instances.
func (m *Manager) guard(ctx context.Context) (func(), error) {
	if !m.running.TryLock() {
		return nil, ErrSweepRunning
	}
	if m.redis == nil {
		return m.running.Unlock, nil
	}

	lease, ok, err := lock.Acquire(ctx, m.redis, sweepLockKey, sweepLockTTL)
	if err != nil {
		m.running.Unlock()
		return nil, err
	}
	if !ok {
		m.running.Unlock()
		return nil, ErrSweepRunning
	}
	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			m.log.Warn("lifecycle sweep lease release failed", "error", err)
		}
		m.running.Unlock()
	}, nil
}

func (m *Manager) sweepTenant(ctx context.Context, tenantID uuid.UUID) (SweepResult, error) {
	started := time.Now()
	defer func() { m.metrics.SweepDuration(time.Since(started)) }()

	open, err := m.store.ListActiveOrStale(ctx, tenantID)
	if err != nil {
		return SweepResult{}, err
	}
	archived, err := m.store.ListByTenant(ctx, tenantID, repository.ListFilter{
		States: []domain.EngagementState{domain.StateArchived},
	})
	if err != nil {
		return SweepResult{}, err
	}

	now := m.now()
	var candidates []*domain.Snapshot
	candidates = append(candidates, open...)
	for _, s := range archived {
		// Archived leads only matter when a contact arrived since archiving.
		if m.policy.Decide(s, now) == domain.StateActive {
			candidates = append(candidates, s)
		}
	}

	var (
		mu  sync.Mutex
		res = SweepResult{Examined: len(candidates)}
		g   errgroup.Group
	)
	g.SetLimit(m.concurrency)

	for _, lead := range candidates {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			from, to, err := m.apply(ctx, tenantID, lead.ID, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failures = append(res.Failures, LeadFailure{TenantID: tenantID, LeadID: lead.ID, Error: err.Error()})
			case from == to:
			case to == domain.StateArchived:
				res.ArchivedCount++
			case to == domain.StateStale:
				res.StaleCount++
			case to == domain.StateActive:
				res.ReactivatedCount++
			}
			return nil
		})
	}
	_ = g.Wait()

	m.log.LifecycleSweep(tenantID.String(), res.Examined, res.StaleCount, res.ArchivedCount, res.ReactivatedCount, len(res.Failures))
	return res, ctx.Err()
}

// apply re-reads the lead under its lock, decides again on the fresh copy
// and saves when the state changes.
func (m *Manager) apply(ctx context.Context, tenantID, leadID uuid.UUID, now time.Time) (from, to domain.EngagementState, err error) {
	_, err = repository.Mutate(ctx, m.store, m.locks, tenantID, leadID, func(s *domain.Snapshot) error {
		from = s.EngagementState
		to = m.policy.Decide(s, now)
		if to == from {
			return repository.ErrUnchanged
		}
		return s.Transition(to, now)
	})
	if err != nil {
		return from, from, err
	}
	if from != to {
		m.metrics.LifecycleTransition(string(to))
		m.publish(ctx, tenantID, leadID, from, to, false)
	}
	return from, to, nil
}

// Override sets a lead's state by operator decision, bypassing the rules.
func (m *Manager) Override(ctx context.Context, tenantID, leadID uuid.UUID, state domain.EngagementState) (*domain.Snapshot, error) {
	if !state.Valid() {
		return nil, apperr.Validation("invalid engagement state").
			WithDetails(map[string]string{"state": string(state)})
	}

	var from domain.EngagementState
	s, err := repository.Mutate(ctx, m.store, m.locks, tenantID, leadID, func(s *domain.Snapshot) error {
		from = s.EngagementState
		if from == state {
			return repository.ErrUnchanged
		}
		return s.Override(state, m.now())
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("lead not found")
	}
	if err != nil {
		return nil, err
	}
	if from != state {
		m.metrics.LifecycleTransition(string(state))
		m.publish(ctx, tenantID, leadID, from, state, true)
	}
	return s, nil
}

func (m *Manager) publish(ctx context.Context, tenantID, leadID uuid.UUID, from, to domain.EngagementState, manual bool) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ctx, events.LeadEngagementChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		TenantID:  tenantID,
		From:      string(from),
		To:        string(to),
		Manual:    manual,
	})
}
