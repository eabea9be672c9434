package models

import (
	"time"
)

// Database Models

// SolarInstallation is the monitored unit under service control. Commands
// and status rows reference it by ID only; the full installation entity is
// owned by the monitoring subsystem.
type SolarInstallation struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:200" json:"name"`
	Owner       string    `gorm:"size:100" json:"owner"`
	DeviceToken string    `gorm:"size:100;index" json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ServiceStatus is one row of an installation's status history. Exactly one
// row per installation has Active=true; a transition inserts a new row and
// flips the prior active row to inactive. State fields are never mutated
// after creation, only the Active flag and the schedule fields.
type ServiceStatus struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	InstallationID  uint          `gorm:"index;not null" json:"installationId"`
	Status          ServiceState  `gorm:"size:32;not null" json:"status"`
	StatusReason    string        `gorm:"size:500" json:"statusReason"`
	UpdatedBy       string        `gorm:"size:100" json:"updatedBy"`
	UpdatedAt       time.Time     `gorm:"not null" json:"updatedAt"`
	ScheduledChange *ServiceState `gorm:"size:32" json:"scheduledChange,omitempty"`
	ScheduledTime   *time.Time    `json:"scheduledTime,omitempty"`
	Active          bool          `gorm:"not null;index" json:"active"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// DeviceCommand tracks one command dispatched to an installation's device.
// CorrelationID is globally unique and is the only key used to match an
// inbound device response to its command.
type DeviceCommand struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	InstallationID  uint          `gorm:"index;not null" json:"installationId"`
	Command         string        `gorm:"size:100;not null" json:"command"`
	Parameters      string        `gorm:"type:text" json:"parameters"`
	Status          CommandStatus `gorm:"size:32;not null;index" json:"status"`
	SentAt          time.Time     `gorm:"not null" json:"sentAt"`
	ProcessedAt     *time.Time    `json:"processedAt,omitempty"`
	ExpiresAt       time.Time     `gorm:"index" json:"expiresAt"`
	ResponseMessage string        `gorm:"size:500" json:"responseMessage"`
	InitiatedBy     string        `gorm:"size:100" json:"initiatedBy"`
	RetryCount      int           `gorm:"not null;default:0" json:"retryCount"`
	LastRetryAt     *time.Time    `json:"lastRetryAt,omitempty"`
	CorrelationID   string        `gorm:"size:100;uniqueIndex;not null" json:"correlationId"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// ControlAction is an immutable audit fact about a control decision.
type ControlAction struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	InstallationID uint       `gorm:"index;not null" json:"installationId"`
	ActionType     ActionType `gorm:"size:64;not null" json:"actionType"`
	ExecutedAt     time.Time  `gorm:"not null" json:"executedAt"`
	ExecutedBy     string     `gorm:"size:100" json:"executedBy"`
	Success        bool       `gorm:"not null" json:"success"`
	FailureReason  string     `gorm:"size:500" json:"failureReason,omitempty"`
	ActionDetails  string     `gorm:"size:500" json:"actionDetails,omitempty"`
	SourceSystem   string     `gorm:"size:100" json:"sourceSystem"`
	SourceEvent    string     `gorm:"size:100" json:"sourceEvent"`
}

// OperationalLog is a broader immutable audit fact, optionally scoped to an
// installation (InstallationID nil for system-wide operations).
type OperationalLog struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	InstallationID *uint         `gorm:"index" json:"installationId,omitempty"`
	Timestamp      time.Time     `gorm:"not null;index" json:"timestamp"`
	Operation      OperationType `gorm:"size:64;not null" json:"operation"`
	Initiator      string        `gorm:"size:100" json:"initiator"`
	Details        string        `gorm:"size:500" json:"details"`
	SourceSystem   string        `gorm:"size:100" json:"sourceSystem"`
	SourceAction   string        `gorm:"size:100" json:"sourceAction"`
	Success        bool          `gorm:"not null" json:"success"`
	ErrorDetails   string        `gorm:"size:500" json:"errorDetails,omitempty"`
}

// Payment is the compliance subsystem's record of a billing cycle payment.
// The overdue-payment sweep reads these rows; only MarkPaid mutates them.
type Payment struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	InstallationID uint          `gorm:"index;not null" json:"installationId"`
	Amount         float64       `json:"amount"`
	DueDate        time.Time     `gorm:"not null;index" json:"dueDate"`
	Status         PaymentStatus `gorm:"size:32;not null;index" json:"status"`
	PaidAt         *time.Time    `json:"paidAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// MQTT Message Structures

// CommandMessage is the payload published to a device's command topic.
type CommandMessage struct {
	CorrelationID string                 `json:"correlationId"`
	Command       string                 `json:"command"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
	ExpiresAt     time.Time              `json:"expiresAt"`
	Timestamp     time.Time              `json:"timestamp"`
}

// CommandResponseMessage is the payload a device publishes on its response
// topic. Ack=true acknowledges delivery only; otherwise the message carries
// the execution result.
type CommandResponseMessage struct {
	CorrelationID  string `json:"correlationId"`
	InstallationID uint   `json:"installationId"`
	DeviceToken    string `json:"deviceToken"`
	Ack            bool   `json:"ack,omitempty"`
	Success        bool   `json:"success"`
	Message        string `json:"message,omitempty"`
	ErrorDetails   string `json:"errorDetails,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}

// HeartbeatMessage is the periodic device liveness report.
type HeartbeatMessage struct {
	InstallationID  uint    `json:"installationId"`
	DeviceID        string  `json:"deviceId"`
	DeviceToken     string  `json:"deviceToken"`
	Status          string  `json:"status,omitempty"`
	BatteryLevel    float64 `json:"batteryLevel,omitempty"`
	FirmwareVersion string  `json:"firmwareVersion,omitempty"`
	SignalStrength  int     `json:"signalStrength,omitempty"`
	Timestamp       string  `json:"timestamp,omitempty"`
}

// API Request Structures

// StatusUpdateRequest is the admin-facing status change request.
type StatusUpdateRequest struct {
	Status       ServiceState `json:"status"`
	StatusReason string       `json:"statusReason"`
}

// SuspendRequest carries the reason for a suspension endpoint call.
type SuspendRequest struct {
	Reason string `json:"reason"`
}

// ScheduleChangeRequest schedules a future status change.
type ScheduleChangeRequest struct {
	TargetStatus  ServiceState `json:"targetStatus"`
	ScheduledTime time.Time    `json:"scheduledTime"`
	Reason        string       `json:"reason"`
}

// SendCommandRequest is the admin-facing command dispatch request.
type SendCommandRequest struct {
	Command    string                 `json:"command"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// BatchCommandRequest dispatches one command to many installations.
// Confirmation must be set; batch commands are deliberately not one-click.
type BatchCommandRequest struct {
	InstallationIDs []uint                 `json:"installationIds"`
	Command         string                 `json:"command"`
	Parameters      map[string]interface{} `json:"parameters,omitempty"`
	Confirmation    bool                   `json:"confirmation"`
}

// BatchCommandResult is the per-installation outcome of a batch dispatch.
type BatchCommandResult struct {
	InstallationID uint           `json:"installationId"`
	Command        *DeviceCommand `json:"command,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// PaymentEventRequest is the payment subsystem's event notification.
type PaymentEventRequest struct {
	PaymentID uint             `json:"paymentId"`
	Event     PaymentEventKind `json:"event"`
}

// TamperEventRequest is the security subsystem's tamper notification.
type TamperEventRequest struct {
	TamperEventID  uint           `json:"tamperEventId"`
	InstallationID uint           `json:"installationId"`
	EventType      string         `json:"eventType"`
	Severity       TamperSeverity `json:"severity"`
	Description    string         `json:"description,omitempty"`
}

// TamperResolutionRequest reports a resolved tamper event.
type TamperResolutionRequest struct {
	TamperEventID  uint   `json:"tamperEventId"`
	InstallationID uint   `json:"installationId"`
	ResolvedBy     string `json:"resolvedBy"`
}

// SystemOverview summarizes active status counts across installations.
type SystemOverview struct {
	CountsByState map[ServiceState]int64  `json:"countsByState"`
	CommandCounts map[CommandStatus]int64 `json:"commandCounts"`
	GeneratedAt   time.Time               `json:"generatedAt"`
}
