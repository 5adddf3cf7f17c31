// Package goals provides the goals bounded context module: goal progress
// against lead snapshots and ranked next actions.
package goals

import (
	"context"

	"leadintel_backend/internal/events"
	"leadintel_backend/internal/goals/handler"
	"leadintel_backend/internal/goals/planner"
	"leadintel_backend/internal/goals/repository"
	"leadintel_backend/internal/goals/service"
	apphttp "leadintel_backend/internal/http"
	"leadintel_backend/internal/leads/scoring"
	"leadintel_backend/internal/ratelimit"
	"leadintel_backend/platform/logger"
	"leadintel_backend/platform/metrics"
	"leadintel_backend/platform/validator"
)

// Module is the goals bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule wires the goals module over an existing goal store and lead source.
func NewModule(
	store repository.GoalStore,
	leads service.LeadSource,
	engine *scoring.Engine,
	val *validator.Validator,
	log *logger.Logger,
	m *metrics.Metrics,
) *Module {
	svc := service.New(store, leads, planner.New(engine, 0), log, m)
	return &Module{handler: handler.New(svc, val), service: svc}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "goals"
}

// Service returns the service layer for the pipeline and the scheduler.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts goal routes on the protected group under the goals budget.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/goals", ctx.RateLimit(ratelimit.ClassGoals))
	m.handler.RegisterRoutes(group)
}

// RegisterHandlers subscribes goal recompute to lead changes that move goal
// metrics.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.LeadEngagementChanged{}.EventName(), m)
	bus.Subscribe(events.LeadEnriched{}.EventName(), m)
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.LeadEngagementChanged:
		_, err := m.service.RecomputeTenant(ctx, e.TenantID)
		return err
	case events.LeadEnriched:
		if len(e.Succeeded) == 0 {
			return nil
		}
		_, err := m.service.RecomputeTenant(ctx, e.TenantID)
		return err
	default:
		return nil
	}
}

var _ apphttp.Module = (*Module)(nil)
