package handlers

import (
	"net/http"
	"strconv"

	"github.com/2001J/nebular-power-sub002/models"
	"github.com/2001J/nebular-power-sub002/services"
	"github.com/2001J/nebular-power-sub002/utils"

	"github.com/labstack/echo/v4"
)

const defaultPageSize = 50

// StatusHandler serves the service-status endpoints.
type StatusHandler struct {
	statusSvc    *services.ServiceStatusService
	heartbeatSvc *services.HeartbeatService
}

func NewStatusHandler(statusSvc *services.ServiceStatusService, heartbeatSvc *services.HeartbeatService) *StatusHandler {
	return &StatusHandler{statusSvc: statusSvc, heartbeatSvc: heartbeatSvc}
}

func (h *StatusHandler) Register(g *echo.Group) {
	g.POST("/installations", h.RegisterInstallation)
	g.GET("/installations/:id/status", h.GetCurrentStatus)
	g.PUT("/installations/:id/status", h.UpdateStatus)
	g.POST("/installations/:id/suspend/payment", h.SuspendForPayment)
	g.POST("/installations/:id/suspend/security", h.SuspendForSecurity)
	g.POST("/installations/:id/suspend/maintenance", h.SuspendForMaintenance)
	g.POST("/installations/:id/restore", h.RestoreService)
	g.POST("/installations/:id/status/schedule", h.ScheduleChange)
	g.DELETE("/installations/:id/status/schedule", h.CancelScheduledChange)
	g.GET("/installations/:id/status/history", h.GetStatusHistory)
	g.GET("/installations/:id/lastseen", h.GetDeviceLastSeen)
	g.GET("/status/owner/:owner", h.GetStatusesByOwner)
	g.GET("/status/state/:state", h.GetInstallationsByState)
	g.GET("/system/overview", h.GetSystemOverview)
}

func (h *StatusHandler) RegisterInstallation(c echo.Context) error {
	var inst models.SolarInstallation
	if err := c.Bind(&inst); err != nil {
		return utils.NewBadRequestError("invalid installation payload", err)
	}
	status, err := h.statusSvc.RegisterInstallation(c.Request().Context(), &inst)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, utils.SuccessResponse("Installation registered", map[string]interface{}{
		"installation": inst,
		"status":       status,
	}))
}

func (h *StatusHandler) GetCurrentStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	status, err := h.statusSvc.GetCurrentStatus(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Current service status", status))
}

func (h *StatusHandler) UpdateStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req models.StatusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return utils.NewBadRequestError("invalid status update payload", err)
	}
	status, err := h.statusSvc.UpdateStatus(c.Request().Context(), id, req.Status, req.StatusReason, requestUser(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Service status updated", status))
}

func (h *StatusHandler) SuspendForPayment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req models.SuspendRequest
	if err := c.Bind(&req); err != nil {
		return utils.NewBadRequestError("invalid suspend payload", err)
	}
	status, err := h.statusSvc.SuspendForPayment(c.Request().Context(), id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Service suspended for payment", status))
}

func (h *StatusHandler) SuspendForSecurity(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req models.SuspendRequest
	if err := c.Bind(&req); err != nil {
		return utils.NewBadRequestError("invalid suspend payload", err)
	}
	status, err := h.statusSvc.SuspendForSecurity(c.Request().Context(), id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Service suspended for security", status))
}

func (h *StatusHandler) SuspendForMaintenance(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req models.SuspendRequest
	if err := c.Bind(&req); err != nil {
		return utils.NewBadRequestError("invalid suspend payload", err)
	}
	status, err := h.statusSvc.SuspendForMaintenance(c.Request().Context(), id, req.Reason, requestUser(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Service suspended for maintenance", status))
}

func (h *StatusHandler) RestoreService(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req models.SuspendRequest
	if err := c.Bind(&req); err != nil {
		return utils.NewBadRequestError("invalid restore payload", err)
	}
	status, err := h.statusSvc.RestoreService(c.Request().Context(), id, req.Reason, requestUser(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Service restored", status))
}

func (h *StatusHandler) ScheduleChange(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req models.ScheduleChangeRequest
	if err := c.Bind(&req); err != nil {
		return utils.NewBadRequestError("invalid schedule payload", err)
	}
	status, err := h.statusSvc.ScheduleStatusChange(c.Request().Context(), id, &req, requestUser(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Status change scheduled", status))
}

func (h *StatusHandler) CancelScheduledChange(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	reason := c.QueryParam("reason")
	status, err := h.statusSvc.CancelScheduledChange(c.Request().Context(), id, reason, requestUser(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Scheduled change cancelled", status))
}

func (h *StatusHandler) GetStatusHistory(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p := utils.GetPaginationParams(c.QueryParam("limit"), c.QueryParam("offset"), defaultPageSize)
	history, err := h.statusSvc.GetStatusHistory(id, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Status history", utils.CreateListResponse(history, len(history), &p)))
}

func (h *StatusHandler) GetDeviceLastSeen(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	at, err := h.heartbeatSvc.GetDeviceLastSeen(c.Request().Context(), id)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{"installationId": id}
	if at.IsZero() {
		payload["lastSeen"] = nil
	} else {
		payload["lastSeen"] = at
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Device last seen", payload))
}

func (h *StatusHandler) GetStatusesByOwner(c echo.Context) error {
	owner := c.Param("owner")
	if owner == "" {
		return utils.NewBadRequestError("owner is required")
	}
	statuses, err := h.statusSvc.GetStatusesByOwner(owner)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Statuses by owner", utils.CreateListResponse(statuses, len(statuses), nil)))
}

func (h *StatusHandler) GetInstallationsByState(c echo.Context) error {
	state := models.ServiceState(c.Param("state"))
	p := utils.GetPaginationParams(c.QueryParam("limit"), c.QueryParam("offset"), defaultPageSize)
	statuses, err := h.statusSvc.GetInstallationsByState(state, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Installations by state", utils.CreateListResponse(statuses, len(statuses), &p)))
}

func (h *StatusHandler) GetSystemOverview(c echo.Context) error {
	overview, err := h.statusSvc.GetSystemOverview()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("System overview", overview))
}

// parseID reads a positive integer path parameter.
func parseID(c echo.Context, name string) (uint, error) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, utils.NewBadRequestError("invalid " + name + " parameter")
	}
	return uint(id), nil
}

// requestUser resolves the acting user from the request. Authentication is
// handled upstream at the gateway; the header carries the resolved identity.
func requestUser(c echo.Context) string {
	if user := c.Request().Header.Get("X-User"); user != "" {
		return user
	}
	return "admin"
}
