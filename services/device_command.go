package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2001J/nebular-power-sub002/config"
	"github.com/2001J/nebular-power-sub002/database"
	"github.com/2001J/nebular-power-sub002/models"
	"github.com/2001J/nebular-power-sub002/repositories/base"
	"github.com/2001J/nebular-power-sub002/repositories/interfaces"
	"github.com/2001J/nebular-power-sub002/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeviceCommandService owns the command lifecycle: dispatch, response
// matching, retry, expiry and cancellation. Every status change goes through
// a precondition write, so a duplicate or late event can never overwrite a
// terminal state.
type DeviceCommandService struct {
	uow       database.UnitOfWorkInterface
	cmdRepo   interfaces.DeviceCommandRepositoryInterface
	instRepo  interfaces.InstallationRepositoryInterface
	opLogRepo interfaces.OperationalLogRepositoryInterface
	transport DeviceTransport
	notifier  Notifier
	cfg       *config.Config
	logger    *slog.Logger
}

func NewDeviceCommandService(
	uow database.UnitOfWorkInterface,
	cmdRepo interfaces.DeviceCommandRepositoryInterface,
	instRepo interfaces.InstallationRepositoryInterface,
	opLogRepo interfaces.OperationalLogRepositoryInterface,
	transport DeviceTransport,
	notifier Notifier,
	cfg *config.Config,
	logger *slog.Logger,
) *DeviceCommandService {
	return &DeviceCommandService{
		uow:       uow,
		cmdRepo:   cmdRepo,
		instRepo:  instRepo,
		opLogRepo: opLogRepo,
		transport: transport,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With("component", "device_command"),
	}
}

// SendCommand creates a command record and hands it to the device transport.
// The command is durable (QUEUED) before anything leaves the broker, so a
// transport failure is recorded on the row instead of losing the command.
func (s *DeviceCommandService) SendCommand(ctx context.Context, installationID uint, command string, params map[string]interface{}, initiatedBy string) (*models.DeviceCommand, error) {
	if command == "" {
		return nil, utils.NewBadRequestError("command must not be empty")
	}
	if _, err := s.instRepo.GetByID(installationID); err != nil {
		if base.IsEntityNotFound(err) {
			return nil, utils.NewNotFoundError(fmt.Sprintf("installation %d not found", installationID))
		}
		return nil, utils.NewInternalServerError("failed to load installation", err)
	}

	rawParams, err := utils.MarshalParameters(params)
	if err != nil {
		return nil, utils.NewBadRequestError("invalid command parameters", err)
	}

	now := time.Now()
	cmd := &models.DeviceCommand{
		InstallationID: installationID,
		Command:        command,
		Parameters:     rawParams,
		Status:         models.CommandStatusQueued,
		SentAt:         now,
		ExpiresAt:      now.Add(s.cfg.CommandExpiry),
		InitiatedBy:    initiatedBy,
		CorrelationID:  uuid.NewString(),
	}

	tx := s.uow.Begin()
	defer s.uow.Rollback(tx)

	if err := s.cmdRepo.Create(tx, cmd); err != nil {
		return nil, utils.NewInternalServerError("failed to create command", err)
	}
	if err := s.writeCommandLog(tx, cmd, models.OpCommandSent, initiatedBy,
		fmt.Sprintf("Command %s queued (correlation %s)", command, cmd.CorrelationID), true, ""); err != nil {
		return nil, err
	}
	if err := s.uow.Commit(tx); err != nil {
		return nil, utils.NewInternalServerError("failed to commit command", err)
	}

	s.publish(ctx, cmd, params)

	fresh, err := s.cmdRepo.GetByID(cmd.ID)
	if err != nil {
		return cmd, nil
	}
	return fresh, nil
}

// SendBatchCommand dispatches one command to many installations. Failures
// are isolated per installation.
func (s *DeviceCommandService) SendBatchCommand(ctx context.Context, req *models.BatchCommandRequest, initiatedBy string) ([]models.BatchCommandResult, error) {
	if !req.Confirmation {
		return nil, utils.NewBadRequestError("batch commands require explicit confirmation")
	}
	if len(req.InstallationIDs) == 0 {
		return nil, utils.NewBadRequestError("batch command needs at least one installation")
	}

	results := make([]models.BatchCommandResult, 0, len(req.InstallationIDs))
	for _, id := range req.InstallationIDs {
		cmd, err := s.SendCommand(ctx, id, req.Command, req.Parameters, initiatedBy)
		result := models.BatchCommandResult{InstallationID: id}
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Command = cmd
		}
		results = append(results, result)
	}
	return results, nil
}

// ProcessCommandResponse applies an inbound device response. Ack responses
// mark delivery; final responses settle the command as EXECUTED or FAILED.
// Responses to terminal commands are recorded and rejected without changing
// state.
func (s *DeviceCommandService) ProcessCommandResponse(ctx context.Context, resp *models.CommandResponseMessage) error {
	cmd, err := s.cmdRepo.GetByCorrelationID(resp.CorrelationID)
	if err != nil {
		if base.IsEntityNotFound(err) {
			return utils.NewNotFoundError(fmt.Sprintf("no command with correlation ID %s", resp.CorrelationID))
		}
		return utils.NewInternalServerError("failed to load command", err)
	}

	if resp.InstallationID != cmd.InstallationID {
		return utils.NewUnauthorizedError(fmt.Sprintf("response installation %d does not match command installation %d", resp.InstallationID, cmd.InstallationID))
	}
	inst, err := s.instRepo.GetByID(cmd.InstallationID)
	if err != nil {
		return utils.NewInternalServerError("failed to load installation", err)
	}
	if inst.DeviceToken != "" && resp.DeviceToken != inst.DeviceToken {
		return utils.NewUnauthorizedError(fmt.Sprintf("device token mismatch for installation %d", cmd.InstallationID))
	}

	if cmd.Status.IsTerminal() {
		s.logger.Warn("Duplicate response for terminal command",
			"correlation_id", resp.CorrelationID, "status", cmd.Status)
		return utils.NewDuplicateResponseError(fmt.Sprintf("command %s is already %s", resp.CorrelationID, cmd.Status))
	}

	if time.Now().After(cmd.ExpiresAt) {
		s.expireCommand(cmd)
		return utils.NewExpiredCommandError(fmt.Sprintf("command %s expired at %s", resp.CorrelationID, cmd.ExpiresAt.Format(time.RFC3339)))
	}

	if resp.Ack {
		return s.markDelivered(cmd)
	}
	return s.settle(ctx, cmd, resp)
}

// markDelivered records the device's delivery acknowledgement.
func (s *DeviceCommandService) markDelivered(cmd *models.DeviceCommand) error {
	tx := s.uow.Begin()
	defer s.uow.Rollback(tx)

	won, err := s.cmdRepo.TransitionStatus(tx, cmd.ID,
		[]models.CommandStatus{models.CommandStatusSent},
		map[string]interface{}{"status": models.CommandStatusDelivered})
	if err != nil {
		return utils.NewInternalServerError("failed to mark command delivered", err)
	}
	if !won {
		return s.responseConflict(cmd)
	}
	if err := s.writeCommandLog(tx, cmd, models.OpCommandResponse, "DEVICE",
		fmt.Sprintf("Command %s acknowledged by device", cmd.CorrelationID), true, ""); err != nil {
		return err
	}
	if err := s.uow.Commit(tx); err != nil {
		return utils.NewInternalServerError("failed to commit delivery ack", err)
	}
	s.logger.Info("Command delivered", "correlation_id", cmd.CorrelationID)
	return nil
}

// settle finalizes the command from the device's execution result.
func (s *DeviceCommandService) settle(ctx context.Context, cmd *models.DeviceCommand, resp *models.CommandResponseMessage) error {
	target := models.CommandStatusExecuted
	details := resp.Message
	if !resp.Success {
		target = models.CommandStatusFailed
		if resp.ErrorDetails != "" {
			details = resp.ErrorDetails
		}
	}

	now := time.Now()
	tx := s.uow.Begin()
	defer s.uow.Rollback(tx)

	won, err := s.cmdRepo.TransitionStatus(tx, cmd.ID,
		[]models.CommandStatus{models.CommandStatusSent, models.CommandStatusDelivered},
		map[string]interface{}{
			"status":           target,
			"processed_at":     now,
			"response_message": details,
		})
	if err != nil {
		return utils.NewInternalServerError("failed to settle command", err)
	}
	if !won {
		return s.responseConflict(cmd)
	}
	if err := s.writeCommandLog(tx, cmd, models.OpCommandResponse, "DEVICE",
		fmt.Sprintf("Command %s settled as %s: %s", cmd.CorrelationID, target, details), resp.Success, resp.ErrorDetails); err != nil {
		return err
	}
	if err := s.uow.Commit(tx); err != nil {
		return utils.NewInternalServerError("failed to commit command result", err)
	}

	s.logger.Info("Command settled",
		"correlation_id", cmd.CorrelationID, "status", target, "success", resp.Success)

	if target == models.CommandStatusFailed && cmd.RetryCount >= s.cfg.CommandMaxRetry {
		s.alertExhausted(ctx, cmd)
	}
	return nil
}

// responseConflict classifies a response whose precondition write lost. A
// command that reached a terminal state concurrently makes the response a
// duplicate; any other state is simply not awaiting this response.
func (s *DeviceCommandService) responseConflict(cmd *models.DeviceCommand) error {
	if fresh, err := s.cmdRepo.GetByID(cmd.ID); err == nil && fresh.Status.IsTerminal() {
		return utils.NewDuplicateResponseError(fmt.Sprintf("command %s is already %s", cmd.CorrelationID, fresh.Status))
	}
	return utils.NewInvalidTransitionError(fmt.Sprintf("command %s is not awaiting a response", cmd.CorrelationID))
}

// CancelCommand cancels a command that has not reached a terminal state.
func (s *DeviceCommandService) CancelCommand(ctx context.Context, commandID uint, cancelledBy string) (*models.DeviceCommand, error) {
	cmd, err := s.cmdRepo.GetByID(commandID)
	if err != nil {
		if base.IsEntityNotFound(err) {
			return nil, utils.NewNotFoundError(fmt.Sprintf("command %d not found", commandID))
		}
		return nil, utils.NewInternalServerError("failed to load command", err)
	}
	if cmd.Status.IsTerminal() {
		return nil, utils.NewInvalidTransitionError(fmt.Sprintf("command %d is already %s", commandID, cmd.Status))
	}

	now := time.Now()
	tx := s.uow.Begin()
	defer s.uow.Rollback(tx)

	won, err := s.cmdRepo.TransitionStatus(tx, cmd.ID,
		models.NonTerminalCommandStatuses(),
		map[string]interface{}{
			"status":       models.CommandStatusCancelled,
			"processed_at": now,
		})
	if err != nil {
		return nil, utils.NewInternalServerError("failed to cancel command", err)
	}
	if !won {
		return nil, utils.NewInvalidTransitionError(fmt.Sprintf("command %d reached a terminal state concurrently", commandID))
	}
	if err := s.writeCommandLog(tx, cmd, models.OpCommandCancelled, cancelledBy,
		fmt.Sprintf("Command %s cancelled", cmd.CorrelationID), true, ""); err != nil {
		return nil, err
	}
	if err := s.uow.Commit(tx); err != nil {
		return nil, utils.NewInternalServerError("failed to commit cancellation", err)
	}

	s.logger.Info("Command cancelled", "command_id", commandID, "cancelled_by", cancelledBy)
	return s.cmdRepo.GetByID(commandID)
}

// RetryCommand re-queues a failed command and republishes it. The retry
// budget is enforced here; past it the caller gets a RETRY_EXHAUSTED error.
func (s *DeviceCommandService) RetryCommand(ctx context.Context, commandID uint, initiatedBy string) (*models.DeviceCommand, error) {
	cmd, err := s.cmdRepo.GetByID(commandID)
	if err != nil {
		if base.IsEntityNotFound(err) {
			return nil, utils.NewNotFoundError(fmt.Sprintf("command %d not found", commandID))
		}
		return nil, utils.NewInternalServerError("failed to load command", err)
	}
	if cmd.Status.IsTerminal() {
		return nil, utils.NewInvalidTransitionError(fmt.Sprintf("command %d is already %s", commandID, cmd.Status))
	}
	if cmd.Status != models.CommandStatusFailed {
		return nil, utils.NewInvalidTransitionError(fmt.Sprintf("command %d is %s, only failed commands can be retried", commandID, cmd.Status))
	}
	if cmd.RetryCount >= s.cfg.CommandMaxRetry {
		return nil, utils.NewRetryExhaustedError(fmt.Sprintf("command %d used all %d retries", commandID, s.cfg.CommandMaxRetry))
	}
	if time.Now().After(cmd.ExpiresAt) {
		s.expireCommand(cmd)
		return nil, utils.NewExpiredCommandError(fmt.Sprintf("command %d expired at %s", commandID, cmd.ExpiresAt.Format(time.RFC3339)))
	}

	if err := s.requeue(ctx, cmd, initiatedBy); err != nil {
		return nil, err
	}
	return s.cmdRepo.GetByID(commandID)
}

// requeue moves a command back to QUEUED with an incremented retry count and
// republishes it. The status precondition makes concurrent requeues of the
// same command consume exactly one retry.
func (s *DeviceCommandService) requeue(ctx context.Context, cmd *models.DeviceCommand, initiatedBy string) error {
	now := time.Now()
	tx := s.uow.Begin()
	defer s.uow.Rollback(tx)

	won, err := s.cmdRepo.TransitionStatus(tx, cmd.ID,
		[]models.CommandStatus{models.CommandStatusFailed, models.CommandStatusSent},
		map[string]interface{}{
			"status":        models.CommandStatusQueued,
			"retry_count":   cmd.RetryCount + 1,
			"last_retry_at": now,
		})
	if err != nil {
		return utils.NewInternalServerError("failed to requeue command", err)
	}
	if !won {
		return utils.NewInvalidTransitionError(fmt.Sprintf("command %d changed state concurrently", cmd.ID))
	}
	if err := s.writeCommandLog(tx, cmd, models.OpCommandRetried, initiatedBy,
		fmt.Sprintf("Command %s requeued, retry %d of %d", cmd.CorrelationID, cmd.RetryCount+1, s.cfg.CommandMaxRetry), true, ""); err != nil {
		return err
	}
	if err := s.uow.Commit(tx); err != nil {
		return utils.NewInternalServerError("failed to commit requeue", err)
	}

	cmd.RetryCount++
	params, err := utils.UnmarshalParameters(cmd.Parameters)
	if err != nil {
		s.logger.Error("Stored command parameters unreadable",
			"command_id", cmd.ID, "error", err)
		params = nil
	}
	s.publish(ctx, cmd, params)
	return nil
}

// ProcessCommandRetries requeues failed commands past the retry backoff and
// stalled SENT commands past the response timeout. Returns the number of
// commands requeued.
func (s *DeviceCommandService) ProcessCommandRetries(ctx context.Context) (int, error) {
	now := time.Now()
	candidates, err := s.cmdRepo.FindRetryCandidates(
		s.cfg.CommandMaxRetry,
		now.Add(-s.cfg.RetryBackoff),
		now.Add(-s.cfg.ResponseTimeout),
	)
	if err != nil {
		return 0, utils.NewInternalServerError("failed to list retry candidates", err)
	}

	retried := 0
	for i := range candidates {
		cmd := &candidates[i]
		if now.After(cmd.ExpiresAt) {
			// The expiry sweep owns these.
			continue
		}
		if err := s.requeue(ctx, cmd, InitiatorScheduler); err != nil {
			if utils.IsKind(err, utils.KindInvalidTransition) {
				continue
			}
			s.logger.Error("Failed to requeue command",
				"command_id", cmd.ID, "error", err)
			continue
		}
		retried++
	}

	if len(candidates) > 0 {
		s.logger.Info("Retry sweep finished", "candidates", len(candidates), "retried", retried)
	}
	return retried, nil
}

// ProcessExpiredCommands marks every overdue non-terminal command EXPIRED.
// Returns the number of commands expired.
func (s *DeviceCommandService) ProcessExpiredCommands(ctx context.Context) (int, error) {
	overdue, err := s.cmdRepo.FindExpired(time.Now())
	if err != nil {
		return 0, utils.NewInternalServerError("failed to list expired commands", err)
	}

	expired := 0
	for i := range overdue {
		if s.expireCommand(&overdue[i]) {
			expired++
		}
	}

	if len(overdue) > 0 {
		s.logger.Info("Expiry sweep finished", "overdue", len(overdue), "expired", expired)
	}
	return expired, nil
}

// expireCommand marks a single command EXPIRED. Returns false when the
// command reached a terminal state first.
func (s *DeviceCommandService) expireCommand(cmd *models.DeviceCommand) bool {
	now := time.Now()
	tx := s.uow.Begin()
	defer s.uow.Rollback(tx)

	won, err := s.cmdRepo.TransitionStatus(tx, cmd.ID,
		models.NonTerminalCommandStatuses(),
		map[string]interface{}{
			"status":       models.CommandStatusExpired,
			"processed_at": now,
		})
	if err != nil {
		s.logger.Error("Failed to expire command", "command_id", cmd.ID, "error", err)
		return false
	}
	if !won {
		return false
	}
	if err := s.writeCommandLog(tx, cmd, models.OpCommandExpired, InitiatorScheduler,
		fmt.Sprintf("Command %s expired at %s", cmd.CorrelationID, cmd.ExpiresAt.Format(time.RFC3339)), false, "command expired before completion"); err != nil {
		s.logger.Error("Failed to log command expiry", "command_id", cmd.ID, "error", err)
		return false
	}
	if err := s.uow.Commit(tx); err != nil {
		s.logger.Error("Failed to commit command expiry", "command_id", cmd.ID, "error", err)
		return false
	}
	s.logger.Info("Command expired", "command_id", cmd.ID, "correlation_id", cmd.CorrelationID)
	return true
}

// publish hands the command to the device transport and records the outcome
// on the row.
func (s *DeviceCommandService) publish(ctx context.Context, cmd *models.DeviceCommand, params map[string]interface{}) {
	msg := &models.CommandMessage{
		CorrelationID: cmd.CorrelationID,
		Command:       cmd.Command,
		Parameters:    params,
		ExpiresAt:     cmd.ExpiresAt,
		Timestamp:     time.Now(),
	}

	publishErr := s.transport.PublishCommand(ctx, cmd.InstallationID, msg)

	tx := s.uow.Begin()
	defer s.uow.Rollback(tx)

	if publishErr != nil {
		s.logger.Error("Failed to publish command",
			"command_id", cmd.ID, "correlation_id", cmd.CorrelationID, "error", publishErr)
		won, err := s.cmdRepo.TransitionStatus(tx, cmd.ID,
			[]models.CommandStatus{models.CommandStatusQueued},
			map[string]interface{}{
				"status":           models.CommandStatusFailed,
				"response_message": fmt.Sprintf("publish failed: %v", publishErr),
			})
		if err != nil || !won {
			return
		}
		if err := s.uow.Commit(tx); err != nil {
			s.logger.Error("Failed to commit publish failure", "command_id", cmd.ID, "error", err)
			return
		}
		if cmd.RetryCount >= s.cfg.CommandMaxRetry {
			s.alertExhausted(ctx, cmd)
		}
		return
	}

	won, err := s.cmdRepo.TransitionStatus(tx, cmd.ID,
		[]models.CommandStatus{models.CommandStatusQueued},
		map[string]interface{}{"status": models.CommandStatusSent})
	if err != nil || !won {
		return
	}
	if err := s.uow.Commit(tx); err != nil {
		s.logger.Error("Failed to commit publish", "command_id", cmd.ID, "error", err)
	}
}

func (s *DeviceCommandService) alertExhausted(ctx context.Context, cmd *models.DeviceCommand) {
	s.logger.Warn("Command retry budget exhausted",
		"command_id", cmd.ID,
		"correlation_id", cmd.CorrelationID,
		"installation_id", cmd.InstallationID,
		"retry_count", cmd.RetryCount)
	if s.notifier != nil {
		s.notifier.NotifyCommandExhausted(ctx, cmd)
	}
}

func (s *DeviceCommandService) writeCommandLog(tx *gorm.DB, cmd *models.DeviceCommand, op models.OperationType, initiator, details string, success bool, errorDetails string) error {
	instID := cmd.InstallationID
	entry := &models.OperationalLog{
		InstallationID: &instID,
		Operation:      op,
		Initiator:      initiator,
		Details:        details,
		SourceSystem:   sourceControl,
		SourceAction:   cmd.Command,
		Success:        success,
		ErrorDetails:   errorDetails,
	}
	if err := s.opLogRepo.Create(tx, entry); err != nil {
		return utils.NewInternalServerError("failed to write operational log", err)
	}
	return nil
}

// GetCommand returns one command by ID.
func (s *DeviceCommandService) GetCommand(commandID uint) (*models.DeviceCommand, error) {
	cmd, err := s.cmdRepo.GetByID(commandID)
	if err != nil {
		if base.IsEntityNotFound(err) {
			return nil, utils.NewNotFoundError(fmt.Sprintf("command %d not found", commandID))
		}
		return nil, utils.NewInternalServerError("failed to load command", err)
	}
	return cmd, nil
}

// GetCommandsByInstallation lists an installation's commands, newest first.
func (s *DeviceCommandService) GetCommandsByInstallation(installationID uint, limit, offset int) ([]models.DeviceCommand, error) {
	cmds, err := s.cmdRepo.FindByInstallation(installationID, limit, offset)
	if err != nil {
		return nil, utils.NewInternalServerError("failed to list commands", err)
	}
	return cmds, nil
}

// GetPendingCommands lists an installation's in-flight commands.
func (s *DeviceCommandService) GetPendingCommands(installationID uint) ([]models.DeviceCommand, error) {
	cmds, err := s.cmdRepo.FindPendingByInstallation(installationID)
	if err != nil {
		return nil, utils.NewInternalServerError("failed to list pending commands", err)
	}
	return cmds, nil
}

// GetCommandsByStatus lists commands in one lifecycle state.
func (s *DeviceCommandService) GetCommandsByStatus(status models.CommandStatus, limit, offset int) ([]models.DeviceCommand, error) {
	cmds, err := s.cmdRepo.FindByStatus(status, limit, offset)
	if err != nil {
		return nil, utils.NewInternalServerError("failed to list commands by status", err)
	}
	return cmds, nil
}

// GetCommandStatusCounts reports how many commands sit in each lifecycle
// state.
func (s *DeviceCommandService) GetCommandStatusCounts() (map[models.CommandStatus]int64, error) {
	counts, err := s.cmdRepo.CountByStatus()
	if err != nil {
		return nil, utils.NewInternalServerError("failed to count commands", err)
	}
	return counts, nil
}

// ListExhaustedCommands lists failed commands with no retry budget left.
func (s *DeviceCommandService) ListExhaustedCommands() ([]models.DeviceCommand, error) {
	cmds, err := s.cmdRepo.FindExhausted(s.cfg.CommandMaxRetry)
	if err != nil {
		return nil, utils.NewInternalServerError("failed to list exhausted commands", err)
	}
	return cmds, nil
}
