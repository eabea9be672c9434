package services

import (
	"context"

	"github.com/2001J/nebular-power-sub002/models"
)

// DeviceTransport publishes command payloads to a device. The MQTT client
// implements it; tests substitute a fake.
type DeviceTransport interface {
	PublishCommand(ctx context.Context, installationID uint, msg *models.CommandMessage) error
}

// StatusCache is the fast-read cache for active status rows. All cache
// operations are best-effort; callers log failures and continue.
type StatusCache interface {
	CacheServiceStatus(ctx context.Context, status *models.ServiceStatus) error
	GetCachedServiceStatus(ctx context.Context, installationID uint) (*models.ServiceStatus, error)
	InvalidateServiceStatus(ctx context.Context, installationID uint) error
}

// Notifier delivers operator-facing alerts. Delivery failures never fail the
// operation that triggered them.
type Notifier interface {
	NotifyStatusChange(ctx context.Context, installationID uint, from, to models.ServiceState, reason string)
	NotifyCommandExhausted(ctx context.Context, cmd *models.DeviceCommand)
	NotifyTamperAlert(ctx context.Context, installationID uint, eventType string, severity models.TamperSeverity)
}

// CommandDispatcher is the slice of the command service the status engine
// needs to push SUSPEND_SERVICE / RESTORE_SERVICE commands after a
// transition commits.
type CommandDispatcher interface {
	SendCommand(ctx context.Context, installationID uint, command string, params map[string]interface{}, initiatedBy string) (*models.DeviceCommand, error)
}
