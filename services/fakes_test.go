package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2001J/nebular-power-sub002/models"
	"github.com/2001J/nebular-power-sub002/repositories/base"
	"gorm.io/gorm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUoW satisfies the unit of work without a real database. The fakes
// ignore the tx handle, so transactional grouping is not exercised here.
type fakeUoW struct{}

func (f *fakeUoW) Begin() *gorm.DB          { return nil }
func (f *fakeUoW) Commit(tx *gorm.DB) error { return nil }
func (f *fakeUoW) Rollback(tx *gorm.DB)     {}

// fakeStatusRepo is an in-memory status history store.
type fakeStatusRepo struct {
	mu     sync.Mutex
	nextID uint
	rows   []*models.ServiceStatus
	owners map[uint]string

	// stealDeactivations makes the next N DeactivateIfActive calls report a
	// lost race, simulating a concurrent transition.
	stealDeactivations int
}

func newFakeStatusRepo() *fakeStatusRepo {
	return &fakeStatusRepo{owners: make(map[uint]string)}
}

func (f *fakeStatusRepo) seed(installationID uint, state models.ServiceState) *models.ServiceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	row := &models.ServiceStatus{
		ID:             f.nextID,
		InstallationID: installationID,
		Status:         state,
		UpdatedAt:      time.Now(),
		Active:         true,
	}
	f.rows = append(f.rows, row)
	return row
}

func (f *fakeStatusRepo) activeRow(installationID uint) *models.ServiceStatus {
	for _, r := range f.rows {
		if r.InstallationID == installationID && r.Active {
			return r
		}
	}
	return nil
}

func (f *fakeStatusRepo) activeCount(installationID uint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if r.InstallationID == installationID && r.Active {
			n++
		}
	}
	return n
}

func (f *fakeStatusRepo) FindActiveByInstallation(installationID uint) (*models.ServiceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row := f.activeRow(installationID); row != nil {
		cp := *row
		return &cp, nil
	}
	return nil, base.NewEntityNotFoundError("service_statuses", fmt.Sprintf("installation ID %d", installationID))
}

func (f *fakeStatusRepo) FindHistoryByInstallation(installationID uint, limit, offset int) ([]models.ServiceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ServiceStatus
	for _, r := range f.rows {
		if r.InstallationID == installationID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeStatusRepo) FindActiveByState(state models.ServiceState, limit, offset int) ([]models.ServiceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ServiceStatus
	for _, r := range f.rows {
		if r.Active && r.Status == state {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStatusRepo) FindActiveByOwner(owner string) ([]models.ServiceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ServiceStatus
	for _, r := range f.rows {
		if r.Active && f.owners[r.InstallationID] == owner {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStatusRepo) FindDueScheduled(now time.Time) ([]models.ServiceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ServiceStatus
	for _, r := range f.rows {
		if r.Active && r.ScheduledChange != nil && r.ScheduledTime != nil && !r.ScheduledTime.After(now) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStatusRepo) CountActiveByState() (map[models.ServiceState]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[models.ServiceState]int64)
	for _, r := range f.rows {
		if r.Active {
			counts[r.Status]++
		}
	}
	return counts, nil
}

func (f *fakeStatusRepo) CreateStatus(tx *gorm.DB, status *models.ServiceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	status.ID = f.nextID
	cp := *status
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeStatusRepo) DeactivateIfActive(tx *gorm.DB, statusID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stealDeactivations > 0 {
		f.stealDeactivations--
		return false, nil
	}
	for _, r := range f.rows {
		if r.ID == statusID {
			if !r.Active {
				return false, nil
			}
			r.Active = false
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStatusRepo) SetSchedule(tx *gorm.DB, statusID uint, target models.ServiceState, at time.Time, reason, updatedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID == statusID {
			if !r.Active {
				return base.NewConflictError("service_statuses", fmt.Sprintf("ID %d", statusID))
			}
			r.ScheduledChange = &target
			r.ScheduledTime = &at
			return nil
		}
	}
	return base.NewEntityNotFoundError("service_statuses", fmt.Sprintf("ID %d", statusID))
}

func (f *fakeStatusRepo) ClearSchedule(tx *gorm.DB, statusID uint, reason, updatedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID == statusID {
			r.ScheduledChange = nil
			r.ScheduledTime = nil
			return nil
		}
	}
	return base.NewEntityNotFoundError("service_statuses", fmt.Sprintf("ID %d", statusID))
}

// fakeCommandRepo is an in-memory command lifecycle store.
type fakeCommandRepo struct {
	mu     sync.Mutex
	nextID uint
	cmds   map[uint]*models.DeviceCommand
	byCorr map[string]uint
}

func newFakeCommandRepo() *fakeCommandRepo {
	return &fakeCommandRepo{
		cmds:   make(map[uint]*models.DeviceCommand),
		byCorr: make(map[string]uint),
	}
}

func (f *fakeCommandRepo) get(id uint) *models.DeviceCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.cmds[id]; ok {
		cp := *c
		return &cp
	}
	return nil
}

func (f *fakeCommandRepo) Create(tx *gorm.DB, cmd *models.DeviceCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cmd.ID = f.nextID
	if cmd.UpdatedAt.IsZero() {
		cmd.UpdatedAt = time.Now()
	}
	cp := *cmd
	f.cmds[cmd.ID] = &cp
	f.byCorr[cmd.CorrelationID] = cmd.ID
	return nil
}

func (f *fakeCommandRepo) GetByID(id uint) (*models.DeviceCommand, error) {
	if c := f.get(id); c != nil {
		return c, nil
	}
	return nil, base.NewEntityNotFoundError("device_commands", fmt.Sprintf("ID %d", id))
}

func (f *fakeCommandRepo) GetByCorrelationID(correlationID string) (*models.DeviceCommand, error) {
	f.mu.Lock()
	id, ok := f.byCorr[correlationID]
	f.mu.Unlock()
	if !ok {
		return nil, base.NewEntityNotFoundError("device_commands", fmt.Sprintf("correlation ID %s", correlationID))
	}
	return f.GetByID(id)
}

func (f *fakeCommandRepo) TransitionStatus(tx *gorm.DB, id uint, from []models.CommandStatus, updates map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cmds[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range from {
		if c.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	for k, v := range updates {
		switch k {
		case "status":
			c.Status = v.(models.CommandStatus)
		case "processed_at":
			at := v.(time.Time)
			c.ProcessedAt = &at
		case "response_message":
			c.ResponseMessage = v.(string)
		case "retry_count":
			c.RetryCount = v.(int)
		case "last_retry_at":
			at := v.(time.Time)
			c.LastRetryAt = &at
		case "updated_at":
			c.UpdatedAt = v.(time.Time)
		default:
			return false, errors.New("unexpected update column " + k)
		}
	}
	return true, nil
}

func (f *fakeCommandRepo) FindExpired(now time.Time) ([]models.DeviceCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DeviceCommand
	for _, c := range f.cmds {
		if !c.Status.IsTerminal() && !c.ExpiresAt.After(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCommandRepo) FindRetryCandidates(maxRetries int, failedBefore, stalledBefore time.Time) ([]models.DeviceCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DeviceCommand
	for _, c := range f.cmds {
		if c.RetryCount >= maxRetries {
			continue
		}
		if (c.Status == models.CommandStatusFailed && !c.UpdatedAt.After(failedBefore)) ||
			(c.Status == models.CommandStatusSent && !c.UpdatedAt.After(stalledBefore)) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCommandRepo) FindExhausted(maxRetries int) ([]models.DeviceCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DeviceCommand
	for _, c := range f.cmds {
		if c.Status == models.CommandStatusFailed && c.RetryCount >= maxRetries {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCommandRepo) FindByInstallation(installationID uint, limit, offset int) ([]models.DeviceCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DeviceCommand
	for _, c := range f.cmds {
		if c.InstallationID == installationID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCommandRepo) FindByStatus(status models.CommandStatus, limit, offset int) ([]models.DeviceCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DeviceCommand
	for _, c := range f.cmds {
		if c.Status == status {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCommandRepo) FindPendingByInstallation(installationID uint) ([]models.DeviceCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.DeviceCommand
	for _, c := range f.cmds {
		if c.InstallationID != installationID {
			continue
		}
		switch c.Status {
		case models.CommandStatusPending, models.CommandStatusQueued, models.CommandStatusSent, models.CommandStatusDelivered:
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCommandRepo) CountByStatus() (map[models.CommandStatus]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[models.CommandStatus]int64)
	for _, c := range f.cmds {
		counts[c.Status]++
	}
	return counts, nil
}

// fakeInstallationRepo is an in-memory installation store.
type fakeInstallationRepo struct {
	mu       sync.Mutex
	nextID   uint
	installs map[uint]*models.SolarInstallation
}

func newFakeInstallationRepo() *fakeInstallationRepo {
	return &fakeInstallationRepo{installs: make(map[uint]*models.SolarInstallation)}
}

func (f *fakeInstallationRepo) seed(id uint, owner, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs[id] = &models.SolarInstallation{ID: id, Owner: owner, DeviceToken: token}
	if id > f.nextID {
		f.nextID = id
	}
}

func (f *fakeInstallationRepo) GetByID(id uint) (*models.SolarInstallation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if inst, ok := f.installs[id]; ok {
		cp := *inst
		return &cp, nil
	}
	return nil, base.NewEntityNotFoundError("solar_installations", fmt.Sprintf("ID %d", id))
}

func (f *fakeInstallationRepo) Create(tx *gorm.DB, inst *models.SolarInstallation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	inst.ID = f.nextID
	cp := *inst
	f.installs[inst.ID] = &cp
	return nil
}

// fakePaymentRepo is an in-memory payment store.
type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[uint]*models.Payment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: make(map[uint]*models.Payment)}
}

func (f *fakePaymentRepo) seed(p models.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := p
	f.payments[p.ID] = &cp
}

func (f *fakePaymentRepo) GetByID(id uint) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payments[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, base.NewEntityNotFoundError("payments", fmt.Sprintf("ID %d", id))
}

func (f *fakePaymentRepo) FindOverdueBefore(cutoff time.Time) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payment
	for _, p := range f.payments {
		if p.Status == models.PaymentStatusOverdue && !p.DueDate.After(cutoff) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePaymentRepo) MarkPaid(tx *gorm.DB, id uint, paidAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payments[id]; ok && p.Status != models.PaymentStatusPaid {
		p.Status = models.PaymentStatusPaid
		p.PaidAt = &paidAt
	}
	return nil
}

// fakeActionRepo collects control actions.
type fakeActionRepo struct {
	mu      sync.Mutex
	actions []models.ControlAction
}

func (f *fakeActionRepo) Create(tx *gorm.DB, action *models.ControlAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, *action)
	return nil
}

func (f *fakeActionRepo) FindByInstallation(installationID uint, limit, offset int) ([]models.ControlAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ControlAction
	for _, a := range f.actions {
		if a.InstallationID == installationID {
			out = append(out, a)
		}
	}
	return out, nil
}

// fakeOpLogRepo collects operational log entries.
type fakeOpLogRepo struct {
	mu      sync.Mutex
	entries []models.OperationalLog
}

func (f *fakeOpLogRepo) Create(tx *gorm.DB, entry *models.OperationalLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeOpLogRepo) FindByInstallation(installationID uint, limit, offset int) ([]models.OperationalLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OperationalLog
	for _, e := range f.entries {
		if e.InstallationID != nil && *e.InstallationID == installationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeOpLogRepo) FindByOperation(op models.OperationType, limit, offset int) ([]models.OperationalLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OperationalLog
	for _, e := range f.entries {
		if e.Operation == op {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeOpLogRepo) FindByTimeRange(from, to time.Time, limit, offset int) ([]models.OperationalLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OperationalLog
	for _, e := range f.entries {
		if !e.Timestamp.Before(from) && !e.Timestamp.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeOpLogRepo) countByOperation(op models.OperationType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.Operation == op {
			n++
		}
	}
	return n
}

// fakeCache is an in-memory StatusCache.
type fakeCache struct {
	mu      sync.Mutex
	entries map[uint]models.ServiceStatus
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[uint]models.ServiceStatus)}
}

func (f *fakeCache) CacheServiceStatus(ctx context.Context, status *models.ServiceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[status.InstallationID] = *status
	return nil
}

func (f *fakeCache) GetCachedServiceStatus(ctx context.Context, installationID uint) (*models.ServiceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.entries[installationID]; ok {
		cp := st
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeCache) InvalidateServiceStatus(ctx context.Context, installationID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, installationID)
	return nil
}

// fakeNotifier records alert calls.
type fakeNotifier struct {
	mu               sync.Mutex
	statusChanges    int
	exhaustedAlerts  int
	tamperAlerts     int
	lastStatusChange [2]models.ServiceState
}

func (f *fakeNotifier) NotifyStatusChange(ctx context.Context, installationID uint, from, to models.ServiceState, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusChanges++
	f.lastStatusChange = [2]models.ServiceState{from, to}
}

func (f *fakeNotifier) NotifyCommandExhausted(ctx context.Context, cmd *models.DeviceCommand) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exhaustedAlerts++
}

func (f *fakeNotifier) NotifyTamperAlert(ctx context.Context, installationID uint, eventType string, severity models.TamperSeverity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tamperAlerts++
}

// fakeTransport records published command messages and can fail on demand.
type fakeTransport struct {
	mu        sync.Mutex
	published []models.CommandMessage
	fail      bool
}

func (f *fakeTransport) PublishCommand(ctx context.Context, installationID uint, msg *models.CommandMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker unreachable")
	}
	f.published = append(f.published, *msg)
	return nil
}

func (f *fakeTransport) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// fakeDispatcher records commands the status engine asked to send.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeDispatcher) SendCommand(ctx context.Context, installationID uint, command string, params map[string]interface{}, initiatedBy string) (*models.DeviceCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, command)
	return &models.DeviceCommand{InstallationID: installationID, Command: command}, nil
}
