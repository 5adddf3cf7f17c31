package enrichment

import (
	"context"
	"errors"
	"sort"
	"time"

	"leadintel_backend/internal/billing"
	"leadintel_backend/internal/events"
	"leadintel_backend/internal/leads/domain"
	"leadintel_backend/internal/leads/repository"
	"leadintel_backend/platform/apperr"
	"leadintel_backend/platform/lock"
	"leadintel_backend/platform/logger"
	"leadintel_backend/platform/metrics"
	"leadintel_backend/platform/retry"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Status of one provider within a request.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusDenied    Status = "denied"
	StatusCanceled  Status = "canceled"
)

// Request asks for a lead to be enriched. An empty Providers list means
// every registered provider.
type Request struct {
	TenantID  uuid.UUID
	LeadID    uuid.UUID
	Providers []string
	Force     bool
}

// ProviderResult is the outcome of one provider.
type ProviderResult struct {
	Provider  string   `json:"provider"`
	Status    Status   `json:"status"`
	Attempts  int      `json:"attempts"`
	Fields    []string `json:"fields,omitempty"`
	ErrorKind string   `json:"errorKind,omitempty"`
	Retryable bool     `json:"retryable,omitempty"`
	Err       error    `json:"-"`
}

// Report collects per-provider outcomes and the snapshot after all merges.
type Report struct {
	Snapshot *domain.Snapshot
	Results  []ProviderResult
}

// Err joins the provider errors; nil when every provider succeeded or was skipped.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// AnySucceeded reports whether at least one provider merged or was fresh.
func (r *Report) AnySucceeded() bool {
	for _, res := range r.Results {
		if res.Status == StatusSucceeded || res.Status == StatusSkipped {
			return true
		}
	}
	return false
}

// Options tunes the orchestrator.
type Options struct {
	// Policy bounds each provider call; a provider's own Timeout wins.
	Policy retry.Policy
	// Freshness turns re-enrichment into a no-op unless forced.
	Freshness time.Duration
	// CostCents overrides provider prices when positive.
	CostCents int64
}

// Orchestrator runs providers for a lead and merges their results.
type Orchestrator struct {
	store        repository.SnapshotStore
	providers    map[string]Provider
	entitlements billing.Entitlements
	ledger       billing.Ledger
	archive      Archive
	locks        *lock.Keyed[uuid.UUID]
	bus          events.Bus
	log          *logger.Logger
	metrics      *metrics.Metrics
	opts         Options
	now          func() time.Time
}

// Deps groups the orchestrator's collaborators. Archive, Bus and Metrics are optional.
type Deps struct {
	Store        repository.SnapshotStore
	Providers    []Provider
	Entitlements billing.Entitlements
	Ledger       billing.Ledger
	Archive      Archive
	Locks        *lock.Keyed[uuid.UUID]
	Bus          events.Bus
	Log          *logger.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:        deps.Store,
		providers:    make(map[string]Provider, len(deps.Providers)),
		entitlements: deps.Entitlements,
		ledger:       deps.Ledger,
		archive:      deps.Archive,
		locks:        deps.Locks,
		bus:          deps.Bus,
		log:          deps.Log,
		metrics:      deps.Metrics,
		opts:         opts,
		now:          deps.Now,
	}
	for _, p := range deps.Providers {
		o.providers[p.Name()] = p
	}
	if o.locks == nil {
		o.locks = lock.NewKeyed[uuid.UUID]()
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Providers lists registered provider names in sorted order.
func (o *Orchestrator) Providers() []string {
	names := make([]string, 0, len(o.providers))
	for name := range o.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (o *Orchestrator) resolve(names []string) ([]Provider, error) {
	if len(names) == 0 {
		names = o.Providers()
	}
	seen := make(map[string]bool, len(names))
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		p, ok := o.providers[name]
		if !ok {
			return nil, apperr.Validation("unknown enrichment provider").
				WithDetails(map[string]any{"provider": name, "available": o.Providers()})
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, apperr.Validation("no enrichment providers configured")
	}
	return out, nil
}

// Enrich runs the requested providers concurrently. Each provider is atomic
// on its own: a failure never undoes another provider's merge. The returned
// error covers lookup, validation and cancellation only; provider failures
// are in the report.
func (o *Orchestrator) Enrich(ctx context.Context, req Request) (*Report, error) {
	providers, err := o.resolve(req.Providers)
	if err != nil {
		return nil, err
	}

	initial, err := o.store.Get(ctx, req.TenantID, req.LeadID)
	if err != nil {
		return nil, leadError(err)
	}

	results := make([]ProviderResult, len(providers))
	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() error {
			results[i] = o.runProvider(ctx, req, initial, p)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{Results: results}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	final, err := o.store.Get(ctx, req.TenantID, req.LeadID)
	if err != nil {
		return report, leadError(err)
	}
	report.Snapshot = final
	o.publish(ctx, req, results)
	return report, nil
}

func (o *Orchestrator) runProvider(ctx context.Context, req Request, initial *domain.Snapshot, p Provider) ProviderResult {
	name := p.Name()
	res := ProviderResult{Provider: name}
	leadID := req.LeadID.String()

	if !req.Force && initial.FreshFor(name, o.opts.Freshness, o.now()) {
		res.Status = StatusSkipped
		return res
	}

	allowed, err := o.entitlements.CheckFeature(ctx, req.TenantID, p.Feature())
	if err != nil {
		return o.fail(res, apperr.Wrap(apperr.KindInternal, "entitlement check failed", err))
	}
	if !allowed {
		res.Status = StatusDenied
		res.Err = apperr.Entitlement(p.Feature())
		res.ErrorKind = apperr.KindEntitlement.String()
		o.log.EnrichmentAttempt(leadID, name, string(res.Status), 0, res.Err)
		return res
	}

	cost := p.Cost()
	if o.opts.CostCents > 0 {
		cost = o.opts.CostCents
	}
	if err := o.ledger.RecordUsage(ctx, req.TenantID, p.Feature(), cost); err != nil {
		if apperr.Is(err, apperr.KindBudgetExceeded) {
			res.Status = StatusDenied
			res.Err = err
			res.ErrorKind = apperr.KindBudgetExceeded.String()
			o.log.EnrichmentAttempt(leadID, name, string(res.Status), 0, err)
			return res
		}
		return o.fail(res, apperr.Wrap(apperr.KindInternal, "usage ledger failed", err))
	}

	// The charge is already on the ledger, so the pending entry is written
	// even if the caller goes away now.
	var entryID uuid.UUID
	_, err = repository.Mutate(context.WithoutCancel(ctx), o.store, o.locks, req.TenantID, req.LeadID, func(s *domain.Snapshot) error {
		entryID = s.BeginEnrichment(name, cost, o.now())
		return nil
	})
	if err != nil {
		return o.fail(res, apperr.Wrap(apperr.KindInternal, "record pending enrichment", err))
	}

	policy := o.opts.Policy
	if t := p.Timeout(); t > 0 {
		policy.Timeout = t
	}
	attrs := initial.Attributes.Clone()
	started := time.Now()
	outcome := retry.Run(ctx, policy, IsTransient, func(ctx context.Context) (Payload, error) {
		return p.Fetch(ctx, attrs)
	})
	res.Attempts = outcome.Attempts

	if outcome.Kind == retry.Canceled {
		o.abandon(ctx, req, entryID, name, cost, outcome.Attempts)
		res.Status = StatusCanceled
		res.Err = outcome.Err
		o.log.EnrichmentAttempt(leadID, name, string(res.Status), res.Attempts, outcome.Err)
		return res
	}

	status := domain.EnrichmentSucceeded
	var callErr error
	if !outcome.OK() {
		status = domain.EnrichmentFailed
		callErr = providerError(name, outcome)
		res.ErrorKind = errorKind(outcome.Err, outcome.Kind == retry.Transient)
	}
	o.metrics.EnrichmentResult(name, string(status), time.Since(started))

	fetchedAt := o.now()
	var payloadKey string
	if outcome.OK() && o.archive != nil && len(outcome.Value.Raw) > 0 {
		key, err := o.archive.Store(ctx, req.TenantID, req.LeadID, name, fetchedAt, outcome.Value.Raw)
		if err != nil {
			o.log.Warn("enrichment payload archive failed", "provider", name, "lead_id", leadID, "error", err)
		} else {
			payloadKey = key
		}
	}

	_, err = repository.Mutate(ctx, o.store, o.locks, req.TenantID, req.LeadID, func(s *domain.Snapshot) error {
		entry := domain.EnrichmentResult{
			Provider:   name,
			Status:     status,
			CostCents:  cost,
			Attempts:   outcome.Attempts,
			ErrorKind:  res.ErrorKind,
			PayloadKey: payloadKey,
		}
		if status == domain.EnrichmentSucceeded {
			entry.Fields = s.MergeAttributes(outcome.Value.Fields, name, fetchedAt)
			sort.Strings(entry.Fields)
			res.Fields = entry.Fields
		}
		return s.FinishEnrichment(entryID, entry, fetchedAt)
	})
	if err != nil {
		if ctx.Err() != nil {
			o.abandon(ctx, req, entryID, name, cost, outcome.Attempts)
			res.Status = StatusCanceled
			res.Err = ctx.Err()
			return res
		}
		return o.fail(res, apperr.Wrap(apperr.KindInternal, "save enrichment", err))
	}

	o.log.EnrichmentAttempt(leadID, name, string(status), res.Attempts, callErr)
	if callErr != nil {
		res.Status = StatusFailed
		res.Err = callErr
		res.Retryable = apperr.IsRetryable(callErr)
		return res
	}
	res.Status = StatusSucceeded
	return res
}

// abandon finalises a pending entry as failed after the caller canceled. The
// write outlives ctx so the charge stays explained.
func (o *Orchestrator) abandon(ctx context.Context, req Request, entryID uuid.UUID, name string, cost int64, attempts int) {
	_, err := repository.Mutate(context.WithoutCancel(ctx), o.store, o.locks, req.TenantID, req.LeadID, func(s *domain.Snapshot) error {
		return s.FinishEnrichment(entryID, domain.EnrichmentResult{
			Provider:  name,
			Status:    domain.EnrichmentFailed,
			CostCents: cost,
			Attempts:  attempts,
			ErrorKind: errorKindCanceled,
		}, o.now())
	})
	if err != nil {
		o.log.Error("finalise canceled enrichment failed", "provider", name, "lead_id", req.LeadID, "error", err)
	}
}

func (o *Orchestrator) fail(res ProviderResult, err error) ProviderResult {
	res.Status = StatusFailed
	res.Err = err
	res.ErrorKind = apperr.GetKind(err).String()
	res.Retryable = apperr.IsRetryable(err)
	o.log.EnrichmentAttempt("", res.Provider, string(res.Status), res.Attempts, err)
	return res
}

func (o *Orchestrator) publish(ctx context.Context, req Request, results []ProviderResult) {
	if o.bus == nil {
		return
	}
	evt := events.LeadEnriched{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    req.LeadID,
		TenantID:  req.TenantID,
	}
	for _, r := range results {
		switch r.Status {
		case StatusSucceeded:
			evt.Succeeded = append(evt.Succeeded, r.Provider)
		case StatusSkipped:
			evt.Skipped = append(evt.Skipped, r.Provider)
		default:
			evt.Failed = append(evt.Failed, r.Provider)
		}
	}
	o.bus.Publish(ctx, evt)
}

// providerError maps a failed outcome to the caller-facing taxonomy:
// exhausted transient failures are retryable, everything else is terminal.
func providerError(provider string, out retry.Outcome[Payload]) error {
	var ae *apperr.Error
	if errors.As(out.Err, &ae) {
		return ae
	}
	if out.Kind == retry.Transient {
		return apperr.ProviderTimeout(provider, out.Err)
	}
	return apperr.Provider(provider, out.Err)
}

func leadError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("lead not found")
	}
	return err
}
