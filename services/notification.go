package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/2001J/nebular-power-sub002/models"
)

// AlertPublisher is the pub/sub surface the notification service needs; the
// Redis client implements it.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, payload interface{}) error
}

// adminAlert is the JSON payload published on the operator alert channel.
type adminAlert struct {
	Type           string      `json:"type"`
	InstallationID uint        `json:"installationId"`
	Timestamp      time.Time   `json:"timestamp"`
	Detail         interface{} `json:"detail,omitempty"`
}

// NotificationService publishes operator alerts over Redis pub/sub. Alert
// delivery is best-effort; failures are logged and swallowed so they never
// fail the operation that raised them.
type NotificationService struct {
	publisher AlertPublisher
	logger    *slog.Logger
}

func NewNotificationService(publisher AlertPublisher, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		publisher: publisher,
		logger:    logger.With("component", "notification"),
	}
}

func (s *NotificationService) NotifyStatusChange(ctx context.Context, installationID uint, from, to models.ServiceState, reason string) {
	s.send(ctx, adminAlert{
		Type:           "SERVICE_STATUS_CHANGED",
		InstallationID: installationID,
		Timestamp:      time.Now(),
		Detail: map[string]interface{}{
			"from":   from,
			"to":     to,
			"reason": reason,
		},
	})
}

func (s *NotificationService) NotifyCommandExhausted(ctx context.Context, cmd *models.DeviceCommand) {
	s.send(ctx, adminAlert{
		Type:           "COMMAND_RETRY_EXHAUSTED",
		InstallationID: cmd.InstallationID,
		Timestamp:      time.Now(),
		Detail: map[string]interface{}{
			"commandId":     cmd.ID,
			"command":       cmd.Command,
			"correlationId": cmd.CorrelationID,
			"retryCount":    cmd.RetryCount,
		},
	})
}

func (s *NotificationService) NotifyTamperAlert(ctx context.Context, installationID uint, eventType string, severity models.TamperSeverity) {
	s.send(ctx, adminAlert{
		Type:           "TAMPER_ALERT",
		InstallationID: installationID,
		Timestamp:      time.Now(),
		Detail: map[string]interface{}{
			"eventType": eventType,
			"severity":  severity,
		},
	})
}

func (s *NotificationService) send(ctx context.Context, alert adminAlert) {
	if err := s.publisher.PublishAlert(ctx, alert); err != nil {
		s.logger.Warn("Failed to publish admin alert",
			"type", alert.Type,
			"installation_id", alert.InstallationID,
			"error", err)
	}
}
