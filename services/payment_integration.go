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
)

// PaymentIntegrationService bridges payment compliance events into service
// control. Overdue payments past the grace period suspend service; received
// payments restore it, but only while payment is still the suspension cause.
type PaymentIntegrationService struct {
	uow         database.UnitOfWorkInterface
	paymentRepo interfaces.PaymentRepositoryInterface
	statusRepo  interfaces.ServiceStatusRepositoryInterface
	opLogRepo   interfaces.OperationalLogRepositoryInterface
	statusSvc   *ServiceStatusService
	cfg         *config.Config
	logger      *slog.Logger
}

func NewPaymentIntegrationService(
	uow database.UnitOfWorkInterface,
	paymentRepo interfaces.PaymentRepositoryInterface,
	statusRepo interfaces.ServiceStatusRepositoryInterface,
	opLogRepo interfaces.OperationalLogRepositoryInterface,
	statusSvc *ServiceStatusService,
	cfg *config.Config,
	logger *slog.Logger,
) *PaymentIntegrationService {
	return &PaymentIntegrationService{
		uow:         uow,
		paymentRepo: paymentRepo,
		statusRepo:  statusRepo,
		opLogRepo:   opLogRepo,
		statusSvc:   statusSvc,
		cfg:         cfg,
		logger:      logger.With("component", "payment_integration"),
	}
}

// HandlePaymentEvent applies a payment subsystem notification.
func (s *PaymentIntegrationService) HandlePaymentEvent(ctx context.Context, req *models.PaymentEventRequest) error {
	payment, err := s.paymentRepo.GetByID(req.PaymentID)
	if err != nil {
		if base.IsEntityNotFound(err) {
			return utils.NewNotFoundError(fmt.Sprintf("payment %d not found", req.PaymentID))
		}
		return utils.NewInternalServerError("failed to load payment", err)
	}

	switch req.Event {
	case models.PaymentEventReceived:
		return s.handlePaymentReceived(ctx, payment)
	case models.PaymentEventOverdue:
		return s.handlePaymentOverdue(ctx, payment)
	default:
		return utils.NewBadRequestError(fmt.Sprintf("unknown payment event %q", req.Event))
	}
}

// handlePaymentReceived marks the payment paid and restores service if the
// installation is suspended for payment. A suspension held by security or
// maintenance is left untouched.
func (s *PaymentIntegrationService) handlePaymentReceived(ctx context.Context, payment *models.Payment) error {
	now := time.Now()
	tx := s.uow.Begin()
	defer s.uow.Rollback(tx)

	if err := s.paymentRepo.MarkPaid(tx, payment.ID, now); err != nil {
		return utils.NewInternalServerError("failed to mark payment paid", err)
	}

	instID := payment.InstallationID
	entry := &models.OperationalLog{
		InstallationID: &instID,
		Operation:      models.OpPaymentStatusChange,
		Initiator:      InitiatorPaymentService,
		Details:        fmt.Sprintf("Payment %d received", payment.ID),
		SourceSystem:   sourcePayment,
		SourceAction:   "PAYMENT_RECEIVED",
		Success:        true,
	}
	if err := s.opLogRepo.Create(tx, entry); err != nil {
		return utils.NewInternalServerError("failed to write operational log", err)
	}
	if err := s.uow.Commit(tx); err != nil {
		return utils.NewInternalServerError("failed to commit payment update", err)
	}

	_, err := s.statusSvc.RestoreServiceIf(ctx, payment.InstallationID,
		models.ServiceStateSuspendedPayment,
		fmt.Sprintf("Payment %d received", payment.ID),
		InitiatorPaymentService, sourcePayment, "PAYMENT_RECEIVED")
	if err != nil {
		if utils.IsKind(err, utils.KindNotFound) {
			s.logger.Warn("Payment received for installation without status",
				"installation_id", payment.InstallationID)
			return nil
		}
		return err
	}
	return nil
}

// handlePaymentOverdue suspends service when the payment is past its grace
// period. Inside the grace period the event is recorded but no suspension
// happens yet; the overdue sweep will catch it later.
func (s *PaymentIntegrationService) handlePaymentOverdue(ctx context.Context, payment *models.Payment) error {
	deadline := payment.DueDate.Add(s.cfg.GracePeriod())
	if time.Now().Before(deadline) {
		s.logger.Info("Overdue payment still within grace period",
			"payment_id", payment.ID,
			"installation_id", payment.InstallationID,
			"grace_deadline", deadline)
		return nil
	}
	return s.suspendForPayment(ctx, payment)
}

func (s *PaymentIntegrationService) suspendForPayment(ctx context.Context, payment *models.Payment) error {
	reason := fmt.Sprintf("Payment %d overdue since %s, grace period exceeded",
		payment.ID, payment.DueDate.Format("2006-01-02"))

	_, err := s.statusSvc.SuspendForPayment(ctx, payment.InstallationID, reason)
	if err != nil {
		if utils.IsKind(err, utils.KindInvalidTransition) {
			// Already suspended, nothing to do.
			s.logger.Info("Installation already suspended, skipping payment suspension",
				"installation_id", payment.InstallationID, "payment_id", payment.ID)
			return nil
		}
		return err
	}
	return nil
}

// ProcessOverduePayments sweeps payments past the grace period and suspends
// the affected installations. Installations already suspended for payment
// are skipped, so the sweep is idempotent; suspensions held by other causes
// are taken over, the same as on the event path. Returns the number of
// suspensions performed.
func (s *PaymentIntegrationService) ProcessOverduePayments(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.GracePeriod())
	overdue, err := s.paymentRepo.FindOverdueBefore(cutoff)
	if err != nil {
		return 0, utils.NewInternalServerError("failed to list overdue payments", err)
	}

	suspended := 0
	for i := range overdue {
		payment := &overdue[i]

		current, err := s.statusRepo.FindActiveByInstallation(payment.InstallationID)
		if err != nil {
			if base.IsEntityNotFound(err) {
				s.logger.Warn("Overdue payment for installation without status",
					"installation_id", payment.InstallationID, "payment_id", payment.ID)
				continue
			}
			s.logger.Error("Failed to load status during overdue sweep",
				"installation_id", payment.InstallationID, "error", err)
			continue
		}
		if current.Status == models.ServiceStateSuspendedPayment {
			continue
		}

		if err := s.suspendForPayment(ctx, payment); err != nil {
			s.logger.Error("Failed to suspend for overdue payment",
				"installation_id", payment.InstallationID, "payment_id", payment.ID, "error", err)
			continue
		}
		suspended++
	}

	if len(overdue) > 0 {
		s.logger.Info("Overdue payment sweep finished",
			"overdue", len(overdue), "suspended", suspended)
	}
	return suspended, nil
}
