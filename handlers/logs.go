package handlers

import (
	"net/http"
	"time"

	"github.com/2001J/nebular-power-sub002/models"
	"github.com/2001J/nebular-power-sub002/services"
	"github.com/2001J/nebular-power-sub002/utils"

	"github.com/labstack/echo/v4"
)

// AuditHandler serves the audit-trail read endpoints.
type AuditHandler struct {
	auditSvc *services.AuditService
}

func NewAuditHandler(auditSvc *services.AuditService) *AuditHandler {
	return &AuditHandler{auditSvc: auditSvc}
}

func (h *AuditHandler) Register(g *echo.Group) {
	g.GET("/installations/:id/actions", h.GetControlActions)
	g.GET("/installations/:id/logs", h.GetOperationalLogs)
	g.GET("/logs/operation/:op", h.GetLogsByOperation)
	g.GET("/logs/range", h.GetLogsByTimeRange)
}

func (h *AuditHandler) GetControlActions(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p := utils.GetPaginationParams(c.QueryParam("limit"), c.QueryParam("offset"), defaultPageSize)
	actions, err := h.auditSvc.GetControlActions(id, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Control actions", utils.CreateListResponse(actions, len(actions), &p)))
}

func (h *AuditHandler) GetOperationalLogs(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p := utils.GetPaginationParams(c.QueryParam("limit"), c.QueryParam("offset"), defaultPageSize)
	entries, err := h.auditSvc.GetOperationalLogs(id, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Operational logs", utils.CreateListResponse(entries, len(entries), &p)))
}

func (h *AuditHandler) GetLogsByOperation(c echo.Context) error {
	op := models.OperationType(c.Param("op"))
	p := utils.GetPaginationParams(c.QueryParam("limit"), c.QueryParam("offset"), defaultPageSize)
	entries, err := h.auditSvc.GetLogsByOperation(op, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Operational logs by operation", utils.CreateListResponse(entries, len(entries), &p)))
}

func (h *AuditHandler) GetLogsByTimeRange(c echo.Context) error {
	from, err := time.Parse(time.RFC3339, c.QueryParam("from"))
	if err != nil {
		return utils.NewBadRequestError("invalid from parameter, expected RFC3339", err)
	}
	to, err := time.Parse(time.RFC3339, c.QueryParam("to"))
	if err != nil {
		return utils.NewBadRequestError("invalid to parameter, expected RFC3339", err)
	}
	p := utils.GetPaginationParams(c.QueryParam("limit"), c.QueryParam("offset"), defaultPageSize)
	entries, err := h.auditSvc.GetLogsByTimeRange(from, to, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Operational logs by time range", utils.CreateListResponse(entries, len(entries), &p)))
}
