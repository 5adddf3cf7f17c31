// Package pipeline provides the lead pipeline bounded context module:
// scoring, enrichment, ranking and lifecycle operations over lead snapshots.
package pipeline

import (
	apphttp "leadintel_backend/internal/http"
	"leadintel_backend/internal/pipeline/handler"
	"leadintel_backend/internal/pipeline/service"
	"leadintel_backend/internal/ratelimit"
	"leadintel_backend/platform/validator"
)

// Module is the pipeline bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule wires the pipeline service and its HTTP handler.
func NewModule(deps service.Deps, val *validator.Validator) *Module {
	svc := service.New(deps)
	return &Module{handler: handler.New(svc, val), service: svc}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "pipeline"
}

// Service returns the service layer for the worker and the operator CLI.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts lead routes under the api budget, the enrichment
// route under its own budget and the operator routes on the admin group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	leads := ctx.Protected.Group("/leads", ctx.RateLimit(ratelimit.ClassAPI))
	m.handler.RegisterRoutes(leads)

	enrich := ctx.Protected.Group("/leads", ctx.RateLimit(ratelimit.ClassEnrichment))
	m.handler.RegisterEnrichRoutes(enrich)

	admin := ctx.Admin.Group("", ctx.RateLimit(ratelimit.ClassAPI))
	m.handler.RegisterAdminRoutes(admin)
}

var _ apphttp.Module = (*Module)(nil)
