package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/2001J/nebular-power-sub002/models"
	"github.com/2001J/nebular-power-sub002/utils"
)

type statusFixture struct {
	svc        *ServiceStatusService
	statusRepo *fakeStatusRepo
	instRepo   *fakeInstallationRepo
	actions    *fakeActionRepo
	oplog      *fakeOpLogRepo
	cmds       *fakeCommandRepo
	cache      *fakeCache
	notifier   *fakeNotifier
	dispatcher *fakeDispatcher
}

func newStatusFixture() *statusFixture {
	f := &statusFixture{
		statusRepo: newFakeStatusRepo(),
		instRepo:   newFakeInstallationRepo(),
		actions:    &fakeActionRepo{},
		oplog:      &fakeOpLogRepo{},
		cmds:       newFakeCommandRepo(),
		cache:      newFakeCache(),
		notifier:   &fakeNotifier{},
		dispatcher: &fakeDispatcher{},
	}
	f.svc = NewServiceStatusService(
		&fakeUoW{}, f.statusRepo, f.instRepo, f.actions, f.oplog, f.cmds,
		f.cache, f.notifier, testLogger())
	f.svc.SetDispatcher(f.dispatcher)
	return f
}

func TestUpdateStatusValidTransition(t *testing.T) {
	f := newStatusFixture()
	f.statusRepo.seed(1, models.ServiceStateActive)

	status, err := f.svc.UpdateStatus(context.Background(), 1, models.ServiceStateSuspendedMaintenance, "firmware rollout", "ops")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if status.Status != models.ServiceStateSuspendedMaintenance {
		t.Errorf("status = %s, want SUSPENDED_MAINTENANCE", status.Status)
	}
	if !status.Active {
		t.Error("new row should be active")
	}
	if n := f.statusRepo.activeCount(1); n != 1 {
		t.Errorf("active rows = %d, want 1", n)
	}
	if len(f.actions.actions) != 1 {
		t.Fatalf("control actions = %d, want 1", len(f.actions.actions))
	}
	if f.actions.actions[0].ActionType != models.ActionEnableMaintenance {
		t.Errorf("action type = %s, want ENABLE_MAINTENANCE_MODE", f.actions.actions[0].ActionType)
	}
	if n := f.oplog.countByOperation(models.OpServiceSuspension); n != 1 {
		t.Errorf("suspension log entries = %d, want 1", n)
	}
	if len(f.dispatcher.calls) != 1 || f.dispatcher.calls[0] != commandSuspendService {
		t.Errorf("dispatcher calls = %v, want [SUSPEND_SERVICE]", f.dispatcher.calls)
	}
	if f.notifier.statusChanges != 1 {
		t.Errorf("status change notifications = %d, want 1", f.notifier.statusChanges)
	}
	cached, _ := f.cache.GetCachedServiceStatus(context.Background(), 1)
	if cached == nil || cached.Status != models.ServiceStateSuspendedMaintenance {
		t.Error("cache not refreshed with new status")
	}
}

func TestConcurrentSuspendsLeaveOneActiveRow(t *testing.T) {
	f := newStatusFixture()
	f.statusRepo.seed(1, models.ServiceStateActive)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Losers surface same-state or retry errors; only the row
			// invariant matters here.
			f.svc.SuspendForSecurity(context.Background(), 1, "tamper detected")
		}()
	}
	wg.Wait()

	if n := f.statusRepo.activeCount(1); n != 1 {
		t.Fatalf("active rows = %d, want exactly 1 after concurrent suspends", n)
	}
	current, err := f.statusRepo.FindActiveByInstallation(1)
	if err != nil {
		t.Fatalf("FindActiveByInstallation: %v", err)
	}
	if current.Status != models.ServiceStateSuspendedSecurity {
		t.Errorf("status = %s, want SUSPENDED_SECURITY", current.Status)
	}
}

func TestUpdateStatusSameStateRejected(t *testing.T) {
	f := newStatusFixture()
	f.statusRepo.seed(1, models.ServiceStateActive)

	_, err := f.svc.UpdateStatus(context.Background(), 1, models.ServiceStateActive, "noop", "ops")
	if !utils.IsKind(err, utils.KindInvalidTransition) {
		t.Fatalf("err = %v, want INVALID_TRANSITION", err)
	}
	if n := f.statusRepo.activeCount(1); n != 1 {
		t.Errorf("active rows = %d, want 1", n)
	}
	if len(f.actions.actions) != 0 {
		t.Error("no control action expected on rejected transition")
	}
}

func TestUpdateStatusUnknownState(t *testing.T) {
	f := newStatusFixture()
	f.statusRepo.seed(1, models.ServiceStateActive)

	_, err := f.svc.UpdateStatus(context.Background(), 1, models.ServiceState("POWERED_DOWN"), "", "ops")
	if !utils.IsKind(err, utils.KindBadRequest) {
		t.Fatalf("err = %v, want BAD_REQUEST", err)
	}
}

func TestUpdateStatusNotFound(t *testing.T) {
	f := newStatusFixture()

	_, err := f.svc.UpdateStatus(context.Background(), 42, models.ServiceStateActive, "", "ops")
	if !utils.IsKind(err, utils.KindNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestTransitionRetriesOnLostRace(t *testing.T) {
	f := newStatusFixture()
	f.statusRepo.seed(1, models.ServiceStateActive)
	f.statusRepo.stealDeactivations = 1

	status, err := f.svc.UpdateStatus(context.Background(), 1, models.ServiceStateSuspendedPayment, "overdue", "ops")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if status.Status != models.ServiceStateSuspendedPayment {
		t.Errorf("status = %s, want SUSPENDED_PAYMENT", status.Status)
	}
	if n := f.statusRepo.activeCount(1); n != 1 {
		t.Errorf("active rows = %d, want 1", n)
	}
}

func TestTransitionGivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newStatusFixture()
	f.statusRepo.seed(1, models.ServiceStateActive)
	f.statusRepo.stealDeactivations = maxTransitionAttempts + 1

	_, err := f.svc.UpdateStatus(context.Background(), 1, models.ServiceStateSuspendedPayment, "overdue", "ops")
	if !utils.IsKind(err, utils.KindInvalidTransition) {
		t.Fatalf("err = %v, want INVALID_TRANSITION", err)
	}
	if n := f.statusRepo.activeCount(1); n != 1 {
		t.Errorf("active rows = %d, want 1", n)
	}
}

func TestSuspendedToSuspendedAllowed(t *testing.T) {
	f := newStatusFixture()
	f.statusRepo.seed(1, models.ServiceStateSuspendedPayment)

	status, err := f.svc.SuspendForSecurity(context.Background(), 1, "tamper detected")
	if err != nil {
		t.Fatalf("SuspendForSecurity: %v", err)
	}
	if status.Status != models.ServiceStateSuspendedSecurity {
		t.Errorf("status = %s, want SUSPENDED_SECURITY", status.Status)
	}
	// Already suspended, no new device command needed.
	if len(f.dispatcher.calls) != 0 {
		t.Errorf("dispatcher calls = %v, want none", f.dispatcher.calls)
	}
}

func TestRestoreServiceIfSkipsOnMismatch(t *testing.T) {
	f := newStatusFixture()
	f.statusRepo.seed(1, models.ServiceStateSuspendedSecurity)

	status, err := f.svc.RestoreServiceIf(context.Background(), 1,
		models.ServiceStateSuspendedPayment, "payment received", "payments", "PAYMENT", "PAYMENT_RECEIVED")
	if err != nil {
		t.Fatalf("RestoreServiceIf: %v", err)
	}
	if status.Status != models.ServiceStateSuspendedSecurity {
		t.Errorf("status = %s, want unchanged SUSPENDED_SECURITY", status.Status)
	}
	if len(f.dispatcher.calls) != 0 {
		t.Errorf("dispatcher calls = %v, want none", f.dispatcher.calls)
	}
	if len(f.actions.actions) != 0 {
		t.Error("no control action expected on skipped restore")
	}
}

func TestRestoreServiceIfMatches(t *testing.T) {
	f := newStatusFixture()
	f.statusRepo.seed(1, models.ServiceStateSuspendedPayment)

	status, err := f.svc.RestoreServiceIf(context.Background(), 1,
		models.ServiceStateSuspendedPayment, "payment received", "payments", "PAYMENT", "PAYMENT_RECEIVED")
	if err != nil {
		t.Fatalf("RestoreServiceIf: %v", err)
	}
	if status.Status != models.ServiceStateActive {
		t.Errorf("status = %s, want ACTIVE", status.Status)
	}
	if len(f.dispatcher.calls) != 1 || f.dispatcher.calls[0] != commandRestoreService {
		t.Errorf("dispatcher calls = %v, want [RESTORE_SERVICE]", f.dispatcher.calls)
	}
}

func TestScheduleStatusChangeValidation(t *testing.T) {
	f := newStatusFixture()
	f.statusRepo.seed(1, models.ServiceStateActive)

	_, err := f.svc.ScheduleStatusChange(context.Background(), 1, &models.ScheduleChangeRequest{
		TargetStatus:  models.ServiceStateSuspendedMaintenance,
		ScheduledTime: time.Now().Add(-time.Hour),
		Reason:        "past",
	}, "ops")
	if !utils.IsKind(err, utils.KindBadRequest) {
		t.Fatalf("err = %v, want BAD_REQUEST for past time", err)
	}

	status, err := f.svc.ScheduleStatusChange(context.Background(), 1, &models.ScheduleChangeRequest{
		TargetStatus:  models.ServiceStateSuspendedMaintenance,
		ScheduledTime: time.Now().Add(time.Hour),
		Reason:        "planned window",
	}, "ops")
	if err != nil {
		t.Fatalf("ScheduleStatusChange: %v", err)
	}
	if status.ScheduledChange == nil || *status.ScheduledChange != models.ServiceStateSuspendedMaintenance {
		t.Error("scheduled change not recorded")
	}
}

func TestCancelScheduledChange(t *testing.T) {
	f := newStatusFixture()
	f.statusRepo.seed(1, models.ServiceStateActive)

	if _, err := f.svc.CancelScheduledChange(context.Background(), 1, "", "ops"); !utils.IsKind(err, utils.KindBadRequest) {
		t.Fatalf("err = %v, want BAD_REQUEST when nothing is scheduled", err)
	}

	_, err := f.svc.ScheduleStatusChange(context.Background(), 1, &models.ScheduleChangeRequest{
		TargetStatus:  models.ServiceStateSuspendedMaintenance,
		ScheduledTime: time.Now().Add(time.Hour),
	}, "ops")
	if err != nil {
		t.Fatalf("ScheduleStatusChange: %v", err)
	}

	status, err := f.svc.CancelScheduledChange(context.Background(), 1, "window moved", "ops")
	if err != nil {
		t.Fatalf("CancelScheduledChange: %v", err)
	}
	if status.ScheduledChange != nil {
		t.Error("scheduled change should be cleared")
	}
}

func TestProcessScheduledChangesAppliesDue(t *testing.T) {
	f := newStatusFixture()
	row := f.statusRepo.seed(1, models.ServiceStateActive)
	target := models.ServiceStateSuspendedMaintenance
	past := time.Now().Add(-time.Minute)
	row.ScheduledChange = &target
	row.ScheduledTime = &past

	n, err := f.svc.ProcessScheduledChanges(context.Background())
	if err != nil {
		t.Fatalf("ProcessScheduledChanges: %v", err)
	}
	if n != 1 {
		t.Errorf("applied = %d, want 1", n)
	}
	current, err := f.svc.GetCurrentStatus(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetCurrentStatus: %v", err)
	}
	if current.Status != models.ServiceStateSuspendedMaintenance {
		t.Errorf("status = %s, want SUSPENDED_MAINTENANCE", current.Status)
	}

	// A second run finds nothing due; the applied row is no longer active
	// with a schedule.
	n, err = f.svc.ProcessScheduledChanges(context.Background())
	if err != nil {
		t.Fatalf("ProcessScheduledChanges (second run): %v", err)
	}
	if n != 0 {
		t.Errorf("second run applied = %d, want 0", n)
	}
}

func TestProcessScheduledChangesDropsStale(t *testing.T) {
	f := newStatusFixture()
	row := f.statusRepo.seed(1, models.ServiceStateSuspendedMaintenance)
	// Scheduled to the state the installation is already in; the transition
	// is invalid by the time the sweep runs.
	target := models.ServiceStateSuspendedMaintenance
	past := time.Now().Add(-time.Minute)
	row.ScheduledChange = &target
	row.ScheduledTime = &past

	n, err := f.svc.ProcessScheduledChanges(context.Background())
	if err != nil {
		t.Fatalf("ProcessScheduledChanges: %v", err)
	}
	if n != 0 {
		t.Errorf("applied = %d, want 0", n)
	}
	current, _ := f.statusRepo.FindActiveByInstallation(1)
	if current.ScheduledChange != nil {
		t.Error("stale schedule should have been cleared")
	}
}

func TestRegisterInstallationSeedsActiveStatus(t *testing.T) {
	f := newStatusFixture()

	inst := &models.SolarInstallation{Name: "Plant A", Owner: "acme"}
	status, err := f.svc.RegisterInstallation(context.Background(), inst)
	if err != nil {
		t.Fatalf("RegisterInstallation: %v", err)
	}
	if inst.ID == 0 {
		t.Error("installation ID not assigned")
	}
	if status.Status != models.ServiceStateActive || !status.Active {
		t.Errorf("seed status = %+v, want active ACTIVE row", status)
	}
}

func TestGetCurrentStatusPrefersCache(t *testing.T) {
	f := newStatusFixture()
	cached := &models.ServiceStatus{InstallationID: 1, Status: models.ServiceStateSuspendedPayment, Active: true}
	f.cache.CacheServiceStatus(context.Background(), cached)

	status, err := f.svc.GetCurrentStatus(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetCurrentStatus: %v", err)
	}
	if status.Status != models.ServiceStateSuspendedPayment {
		t.Errorf("status = %s, want cached SUSPENDED_PAYMENT", status.Status)
	}
}

func TestGetSystemOverview(t *testing.T) {
	f := newStatusFixture()
	f.statusRepo.seed(1, models.ServiceStateActive)
	f.statusRepo.seed(2, models.ServiceStateSuspendedPayment)

	overview, err := f.svc.GetSystemOverview()
	if err != nil {
		t.Fatalf("GetSystemOverview: %v", err)
	}
	if overview.CountsByState[models.ServiceStateActive] != 1 {
		t.Errorf("active count = %d, want 1", overview.CountsByState[models.ServiceStateActive])
	}
	if overview.CountsByState[models.ServiceStateSuspendedPayment] != 1 {
		t.Errorf("suspended payment count = %d, want 1", overview.CountsByState[models.ServiceStateSuspendedPayment])
	}
}
