package handlers

import (
	"net/http"

	"github.com/2001J/nebular-power-sub002/models"
	"github.com/2001J/nebular-power-sub002/services"
	"github.com/2001J/nebular-power-sub002/utils"

	"github.com/labstack/echo/v4"
)

// CommandHandler serves the device-command endpoints.
type CommandHandler struct {
	cmdSvc *services.DeviceCommandService
}

func NewCommandHandler(cmdSvc *services.DeviceCommandService) *CommandHandler {
	return &CommandHandler{cmdSvc: cmdSvc}
}

func (h *CommandHandler) Register(g *echo.Group) {
	g.POST("/installations/:id/commands", h.SendCommand)
	g.GET("/installations/:id/commands", h.GetCommandsByInstallation)
	g.GET("/installations/:id/commands/pending", h.GetPendingCommands)
	g.POST("/commands/batch", h.SendBatchCommand)
	g.POST("/commands/response", h.SubmitCommandResponse)
	g.GET("/commands/status-counts", h.GetCommandStatusCounts)
	g.GET("/commands/:id", h.GetCommand)
	g.POST("/commands/:id/cancel", h.CancelCommand)
	g.POST("/commands/:id/retry", h.RetryCommand)
	g.GET("/commands/status/:status", h.GetCommandsByStatus)
	g.GET("/commands/exhausted", h.GetExhaustedCommands)
}

func (h *CommandHandler) SendCommand(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req models.SendCommandRequest
	if err := c.Bind(&req); err != nil {
		return utils.NewBadRequestError("invalid command payload", err)
	}
	cmd, err := h.cmdSvc.SendCommand(c.Request().Context(), id, req.Command, req.Parameters, requestUser(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, utils.SuccessResponse("Command dispatched", cmd))
}

func (h *CommandHandler) SendBatchCommand(c echo.Context) error {
	var req models.BatchCommandRequest
	if err := c.Bind(&req); err != nil {
		return utils.NewBadRequestError("invalid batch command payload", err)
	}
	results, err := h.cmdSvc.SendBatchCommand(c.Request().Context(), &req, requestUser(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, utils.SuccessResponse("Batch command dispatched", utils.CreateListResponse(results, len(results), nil)))
}

// SubmitCommandResponse is the HTTP fallback for devices that cannot reach
// the broker. The same device-token check applies as on the MQTT path.
func (h *CommandHandler) SubmitCommandResponse(c echo.Context) error {
	var resp models.CommandResponseMessage
	if err := c.Bind(&resp); err != nil {
		return utils.NewBadRequestError("invalid command response payload", err)
	}
	if err := h.cmdSvc.ProcessCommandResponse(c.Request().Context(), &resp); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Command response processed", nil))
}

func (h *CommandHandler) GetCommandStatusCounts(c echo.Context) error {
	counts, err := h.cmdSvc.GetCommandStatusCounts()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Command status counts", counts))
}

func (h *CommandHandler) GetCommand(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	cmd, err := h.cmdSvc.GetCommand(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Command", cmd))
}

func (h *CommandHandler) CancelCommand(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	cmd, err := h.cmdSvc.CancelCommand(c.Request().Context(), id, requestUser(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Command cancelled", cmd))
}

func (h *CommandHandler) RetryCommand(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	cmd, err := h.cmdSvc.RetryCommand(c.Request().Context(), id, requestUser(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Command requeued", cmd))
}

func (h *CommandHandler) GetCommandsByInstallation(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p := utils.GetPaginationParams(c.QueryParam("limit"), c.QueryParam("offset"), defaultPageSize)
	cmds, err := h.cmdSvc.GetCommandsByInstallation(id, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Commands", utils.CreateListResponse(cmds, len(cmds), &p)))
}

func (h *CommandHandler) GetPendingCommands(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	cmds, err := h.cmdSvc.GetPendingCommands(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Pending commands", utils.CreateListResponse(cmds, len(cmds), nil)))
}

func (h *CommandHandler) GetCommandsByStatus(c echo.Context) error {
	status := models.CommandStatus(c.Param("status"))
	p := utils.GetPaginationParams(c.QueryParam("limit"), c.QueryParam("offset"), defaultPageSize)
	cmds, err := h.cmdSvc.GetCommandsByStatus(status, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Commands by status", utils.CreateListResponse(cmds, len(cmds), &p)))
}

func (h *CommandHandler) GetExhaustedCommands(c echo.Context) error {
	cmds, err := h.cmdSvc.ListExhaustedCommands()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Exhausted commands", utils.CreateListResponse(cmds, len(cmds), nil)))
}
