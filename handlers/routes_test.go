package handlers

import (
	"testing"

	"github.com/labstack/echo/v4"
)

// TestRegisteredRoutes pins the HTTP surface. Registration only binds
// handler funcs, so nil services are fine here.
func TestRegisteredRoutes(t *testing.T) {
	e := echo.New()
	api := e.Group("/api/v1")
	NewStatusHandler(nil, nil).Register(api)
	NewCommandHandler(nil).Register(api)
	NewIntegrationHandler(nil, nil, nil).Register(api)
	NewAuditHandler(nil).Register(api)

	registered := make(map[string]bool)
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	want := []string{
		"POST /api/v1/installations",
		"GET /api/v1/installations/:id/status",
		"PUT /api/v1/installations/:id/status",
		"POST /api/v1/installations/:id/suspend/payment",
		"POST /api/v1/installations/:id/suspend/security",
		"POST /api/v1/installations/:id/suspend/maintenance",
		"POST /api/v1/installations/:id/restore",
		"POST /api/v1/installations/:id/status/schedule",
		"DELETE /api/v1/installations/:id/status/schedule",
		"GET /api/v1/installations/:id/status/history",
		"GET /api/v1/installations/:id/lastseen",
		"GET /api/v1/status/owner/:owner",
		"GET /api/v1/status/state/:state",
		"GET /api/v1/system/overview",
		"POST /api/v1/installations/:id/commands",
		"GET /api/v1/installations/:id/commands",
		"GET /api/v1/installations/:id/commands/pending",
		"POST /api/v1/commands/batch",
		"POST /api/v1/commands/response",
		"GET /api/v1/commands/status-counts",
		"GET /api/v1/commands/:id",
		"POST /api/v1/commands/:id/cancel",
		"POST /api/v1/commands/:id/retry",
		"GET /api/v1/commands/status/:status",
		"GET /api/v1/commands/exhausted",
		"POST /api/v1/integrations/payment/events",
		"POST /api/v1/integrations/security/tamper",
		"POST /api/v1/integrations/security/tamper/resolve",
		"GET /api/v1/integrations/security/:id/open-issues",
		"POST /api/v1/integrations/device/heartbeat",
		"GET /api/v1/installations/:id/actions",
		"GET /api/v1/installations/:id/logs",
		"GET /api/v1/logs/operation/:op",
		"GET /api/v1/logs/range",
	}
	for _, w := range want {
		if !registered[w] {
			t.Errorf("route %s not registered", w)
		}
	}
}
