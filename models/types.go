package models

// ServiceState is the operational state of an installation's service.
type ServiceState string

const (
	ServiceStateActive               ServiceState = "ACTIVE"
	ServiceStateSuspendedPayment     ServiceState = "SUSPENDED_PAYMENT"
	ServiceStateSuspendedSecurity    ServiceState = "SUSPENDED_SECURITY"
	ServiceStateSuspendedMaintenance ServiceState = "SUSPENDED_MAINTENANCE"
	ServiceStateTransitioning        ServiceState = "TRANSITIONING"
)

// serviceTransitions maps a target state to the set of source states it may
// be entered from. Same-state transitions are not allowed; every status
// change must be observable in the history.
var serviceTransitions = map[ServiceState][]ServiceState{
	ServiceStateActive: {
		ServiceStateSuspendedPayment,
		ServiceStateSuspendedSecurity,
		ServiceStateSuspendedMaintenance,
		ServiceStateTransitioning,
	},
	ServiceStateSuspendedPayment: {
		ServiceStateActive,
		ServiceStateSuspendedSecurity,
		ServiceStateSuspendedMaintenance,
		ServiceStateTransitioning,
	},
	ServiceStateSuspendedSecurity: {
		ServiceStateActive,
		ServiceStateSuspendedPayment,
		ServiceStateSuspendedMaintenance,
		ServiceStateTransitioning,
	},
	ServiceStateSuspendedMaintenance: {
		ServiceStateActive,
		ServiceStateSuspendedPayment,
		ServiceStateSuspendedSecurity,
		ServiceStateTransitioning,
	},
	ServiceStateTransitioning: {
		ServiceStateActive,
		ServiceStateSuspendedPayment,
		ServiceStateSuspendedSecurity,
		ServiceStateSuspendedMaintenance,
	},
}

// IsValidServiceState checks if the state is a known service state.
func IsValidServiceState(state string) bool {
	_, ok := serviceTransitions[ServiceState(state)]
	return ok
}

// CanTransitionService reports whether a status change from -> to is legal.
func CanTransitionService(from, to ServiceState) bool {
	for _, src := range serviceTransitions[to] {
		if src == from {
			return true
		}
	}
	return false
}

// IsSuspended reports whether the state is any of the suspension states.
func (s ServiceState) IsSuspended() bool {
	return s == ServiceStateSuspendedPayment ||
		s == ServiceStateSuspendedSecurity ||
		s == ServiceStateSuspendedMaintenance
}

// CommandStatus is the lifecycle state of a device command.
type CommandStatus string

const (
	CommandStatusPending   CommandStatus = "PENDING"
	CommandStatusQueued    CommandStatus = "QUEUED"
	CommandStatusSent      CommandStatus = "SENT"
	CommandStatusDelivered CommandStatus = "DELIVERED"
	CommandStatusExecuted  CommandStatus = "EXECUTED"
	CommandStatusFailed    CommandStatus = "FAILED"
	CommandStatusExpired   CommandStatus = "EXPIRED"
	CommandStatusCancelled CommandStatus = "CANCELLED"
)

// commandTransitions maps a target command status to its allowed sources.
// EXPIRED and CANCELLED are handled separately: they are reachable from any
// non-terminal status.
var commandTransitions = map[CommandStatus][]CommandStatus{
	CommandStatusQueued:    {CommandStatusPending, CommandStatusFailed, CommandStatusSent},
	CommandStatusSent:      {CommandStatusQueued},
	CommandStatusDelivered: {CommandStatusSent},
	CommandStatusExecuted:  {CommandStatusSent, CommandStatusDelivered},
	CommandStatusFailed:    {CommandStatusPending, CommandStatusQueued, CommandStatusSent, CommandStatusDelivered},
}

// IsTerminal reports whether no further transitions are possible. FAILED is
// not terminal here because the retry sweep may re-queue it; it becomes
// effectively terminal once the retry budget is exhausted.
func (s CommandStatus) IsTerminal() bool {
	return s == CommandStatusExecuted || s == CommandStatusExpired || s == CommandStatusCancelled
}

// CanTransitionCommand reports whether a command may move from -> to.
func CanTransitionCommand(from, to CommandStatus) bool {
	if to == CommandStatusExpired || to == CommandStatusCancelled {
		return !from.IsTerminal()
	}
	for _, src := range commandTransitions[to] {
		if src == from {
			return true
		}
	}
	return false
}

// NonTerminalCommandStatuses returns the statuses a command may still leave.
func NonTerminalCommandStatuses() []CommandStatus {
	return []CommandStatus{
		CommandStatusPending,
		CommandStatusQueued,
		CommandStatusSent,
		CommandStatusDelivered,
		CommandStatusFailed,
	}
}

// ActionType classifies control actions for the audit trail.
type ActionType string

const (
	ActionSuspendService     ActionType = "SUSPEND_SERVICE"
	ActionRestoreService     ActionType = "RESTORE_SERVICE"
	ActionRebootDevice       ActionType = "REBOOT_DEVICE"
	ActionEnableMaintenance  ActionType = "ENABLE_MAINTENANCE_MODE"
	ActionDisableMaintenance ActionType = "DISABLE_MAINTENANCE_MODE"
	ActionSecurityLockdown   ActionType = "SECURITY_LOCKDOWN"
	ActionSecurityRestore    ActionType = "SECURITY_RESTORE"
	ActionConfigChange       ActionType = "CONFIGURATION_CHANGE"
)

// OperationType classifies operational log entries.
type OperationType string

const (
	OpServiceStatusChange      OperationType = "SERVICE_STATUS_CHANGE"
	OpServiceSuspension        OperationType = "SERVICE_SUSPENSION"
	OpServiceRestoration       OperationType = "SERVICE_RESTORATION"
	OpStatusChangeScheduled    OperationType = "STATUS_CHANGE_SCHEDULED"
	OpScheduledChangeCancelled OperationType = "SCHEDULED_CHANGE_CANCELLED"
	OpCommandSent              OperationType = "COMMAND_SENT"
	OpCommandResponse          OperationType = "COMMAND_RESPONSE"
	OpCommandCancelled         OperationType = "COMMAND_CANCELLED"
	OpCommandRetried           OperationType = "COMMAND_RETRIED"
	OpCommandExpired           OperationType = "COMMAND_EXPIRED"
	OpDeviceHeartbeat          OperationType = "DEVICE_HEARTBEAT"
	OpPaymentStatusChange      OperationType = "PAYMENT_STATUS_CHANGE"
	OpProcessOverduePayments   OperationType = "PROCESS_OVERDUE_PAYMENTS"
	OpTamperEventReceived      OperationType = "TAMPER_EVENT_RECEIVED"
	OpSecurityResponse         OperationType = "SECURITY_RESPONSE_PROCESSED"
)

// PaymentStatus is the compliance state of a payment record.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusOverdue PaymentStatus = "OVERDUE"
	PaymentStatusPaid    PaymentStatus = "PAID"
)

// TamperSeverity grades tamper events reported by the security subsystem.
type TamperSeverity string

const (
	TamperSeverityLow      TamperSeverity = "LOW"
	TamperSeverityMedium   TamperSeverity = "MEDIUM"
	TamperSeverityHigh     TamperSeverity = "HIGH"
	TamperSeverityCritical TamperSeverity = "CRITICAL"
)

// RequiresSuspension reports whether a tamper event of this severity must
// suspend service.
func (s TamperSeverity) RequiresSuspension() bool {
	return s == TamperSeverityHigh || s == TamperSeverityCritical
}

// PaymentEventKind is the kind of payment event delivered by the payment
// subsystem.
type PaymentEventKind string

const (
	PaymentEventOverdue  PaymentEventKind = "OVERDUE"
	PaymentEventReceived PaymentEventKind = "RECEIVED"
)
