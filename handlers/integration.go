package handlers

import (
	"net/http"

	"github.com/2001J/nebular-power-sub002/models"
	"github.com/2001J/nebular-power-sub002/services"
	"github.com/2001J/nebular-power-sub002/utils"

	"github.com/labstack/echo/v4"
)

// IntegrationHandler serves the payment and security bridge endpoints used
// by the sibling subsystems.
type IntegrationHandler struct {
	paymentSvc   *services.PaymentIntegrationService
	securitySvc  *services.SecurityIntegrationService
	heartbeatSvc *services.HeartbeatService
}

func NewIntegrationHandler(paymentSvc *services.PaymentIntegrationService, securitySvc *services.SecurityIntegrationService, heartbeatSvc *services.HeartbeatService) *IntegrationHandler {
	return &IntegrationHandler{paymentSvc: paymentSvc, securitySvc: securitySvc, heartbeatSvc: heartbeatSvc}
}

func (h *IntegrationHandler) Register(g *echo.Group) {
	g.POST("/integrations/payment/events", h.HandlePaymentEvent)
	g.POST("/integrations/security/tamper", h.HandleTamperEvent)
	g.POST("/integrations/security/tamper/resolve", h.ResolveTamperEvent)
	g.GET("/integrations/security/:id/open-issues", h.GetOpenIssueCount)
	g.POST("/integrations/device/heartbeat", h.RecordHeartbeat)
}

func (h *IntegrationHandler) HandlePaymentEvent(c echo.Context) error {
	var req models.PaymentEventRequest
	if err := c.Bind(&req); err != nil {
		return utils.NewBadRequestError("invalid payment event payload", err)
	}
	if err := h.paymentSvc.HandlePaymentEvent(c.Request().Context(), &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Payment event processed", nil))
}

func (h *IntegrationHandler) HandleTamperEvent(c echo.Context) error {
	var req models.TamperEventRequest
	if err := c.Bind(&req); err != nil {
		return utils.NewBadRequestError("invalid tamper event payload", err)
	}
	if err := h.securitySvc.HandleTamperEvent(c.Request().Context(), &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Tamper event processed", nil))
}

func (h *IntegrationHandler) ResolveTamperEvent(c echo.Context) error {
	var req models.TamperResolutionRequest
	if err := c.Bind(&req); err != nil {
		return utils.NewBadRequestError("invalid tamper resolution payload", err)
	}
	if err := h.securitySvc.ResolveTamperEvent(c.Request().Context(), &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Tamper event resolved", nil))
}

// RecordHeartbeat is the HTTP fallback for device heartbeats; the MQTT
// heartbeat topic feeds the same service.
func (h *IntegrationHandler) RecordHeartbeat(c echo.Context) error {
	var req models.HeartbeatMessage
	if err := c.Bind(&req); err != nil {
		return utils.NewBadRequestError("invalid heartbeat payload", err)
	}
	if err := h.heartbeatSvc.RecordHeartbeat(c.Request().Context(), &req); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Heartbeat recorded", nil))
}

func (h *IntegrationHandler) GetOpenIssueCount(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	count := h.securitySvc.OpenIssueCount(id)
	return c.JSON(http.StatusOK, utils.SuccessResponse("Open security issues", map[string]interface{}{
		"installationId": id,
		"openIssues":     count,
	}))
}
