package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/practiceflow/notify-engine/internal/domain"
	"github.com/practiceflow/notify-engine/internal/gateway"
	"github.com/practiceflow/notify-engine/internal/repository"
)

// memoryNotificationRepo mirrors the conditional-update semantics of the
// gorm repository. The *Err fields inject store failures.
type memoryNotificationRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]domain.Notification

	createErr    error
	listDueErr   error
	listDueCalls int
	claimErr     map[int64]error
	markErr      error
	requeued     []time.Time
	lastList     repository.ListParams
}

func newMemoryNotificationRepo() *memoryNotificationRepo {
	return &memoryNotificationRepo{rows: map[int64]domain.Notification{}}
}

func (r *memoryNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	n.ID = r.nextID
	n.CreatedAt = time.Now().UTC()
	n.UpdatedAt = n.CreatedAt
	r.rows[n.ID] = cloneNotification(*n)
	return nil
}

func (r *memoryNotificationRepo) GetByID(ctx context.Context, id int64) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: notification %d", domain.ErrNotFound, id)
	}
	out := cloneNotification(n)
	return &out, nil
}

func (r *memoryNotificationRepo) List(ctx context.Context, params repository.ListParams) ([]domain.Notification, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastList = params
	var out []domain.Notification
	for _, n := range r.rows {
		if params.Status != nil && n.Status != *params.Status {
			continue
		}
		if params.OverdueAt != nil && !n.IsOverdue(*params.OverdueAt) {
			continue
		}
		out = append(out, cloneNotification(n))
	}
	sortBySchedule(out)
	return out, int64(len(out)), nil
}

func (r *memoryNotificationRepo) ListDue(ctx context.Context, now time.Time, after *repository.DueCursor, limit int) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listDueCalls++
	if r.listDueErr != nil {
		return nil, r.listDueErr
	}
	var out []domain.Notification
	for _, n := range r.rows {
		if !n.IsDue(now) {
			continue
		}
		if after != nil && (n.ScheduledFor.Before(after.ScheduledFor) ||
			(n.ScheduledFor.Equal(after.ScheduledFor) && n.ID <= after.ID)) {
			continue
		}
		out = append(out, cloneNotification(n))
	}
	sortBySchedule(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryNotificationRepo) Claim(ctx context.Context, id int64, now time.Time) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.claimErr[id]; err != nil {
		return nil, err
	}
	n, ok := r.rows[id]
	if !ok || !n.IsDue(now) {
		return nil, nil
	}
	n.Status = domain.StatusSending
	n.AttemptCount++
	n.UpdatedAt = now
	r.rows[id] = n
	out := cloneNotification(n)
	return &out, nil
}

func (r *memoryNotificationRepo) MarkSent(ctx context.Context, id int64, sentAt time.Time, providerMessageID *string) (*domain.Notification, error) {
	return r.update(id, []domain.Status{domain.StatusSending}, func(n *domain.Notification) {
		n.Status = domain.StatusSent
		n.SentAt = &sentAt
		if providerMessageID != nil {
			n.ProviderMessageID = providerMessageID
		}
	})
}

func (r *memoryNotificationRepo) MarkFailed(ctx context.Context, id int64, failedAt time.Time, reason string) (*domain.Notification, error) {
	return r.update(id, []domain.Status{domain.StatusSending}, func(n *domain.Notification) {
		n.Status = domain.StatusFailed
		n.Metadata[domain.MetaError] = reason
		n.Metadata[domain.MetaFailedAt] = failedAt.UTC().Format(time.RFC3339)
	})
}

func (r *memoryNotificationRepo) UpdateStatus(
	ctx context.Context,
	id int64,
	from []domain.Status,
	to domain.Status,
	fields map[string]any,
) (*domain.Notification, error) {
	allowed := make([]domain.Status, 0, len(from))
	for _, status := range from {
		if domain.CanTransition(status, to) {
			allowed = append(allowed, status)
		}
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: no allowed transition to %s", domain.ErrConflict, to)
	}

	return r.update(id, allowed, func(n *domain.Notification) {
		n.Status = to
		if t, ok := fields["scheduled_for"].(time.Time); ok {
			n.ScheduledFor = t
		}
		if remote, ok := fields["remote_scheduled"].(bool); ok {
			n.RemoteScheduled = remote
		}
	})
}

func (r *memoryNotificationRepo) UpdateSchedule(ctx context.Context, id int64, scheduledFor time.Time) (*domain.Notification, error) {
	return r.update(id, []domain.Status{domain.StatusPending}, func(n *domain.Notification) {
		n.ScheduledFor = scheduledFor
	})
}

func (r *memoryNotificationRepo) MarkRemoteScheduled(ctx context.Context, id int64, providerMessageID *string) (*domain.Notification, error) {
	return r.update(id, []domain.Status{domain.StatusPending}, func(n *domain.Notification) {
		n.RemoteScheduled = true
		n.Metadata[domain.MetaDelivery] = domain.MetaDeliveryRemote
		if providerMessageID != nil {
			n.ProviderMessageID = providerMessageID
		}
	})
}

func (r *memoryNotificationRepo) ReleaseClaim(ctx context.Context, id int64, now time.Time) (*domain.Notification, error) {
	return r.update(id, []domain.Status{domain.StatusSending}, func(n *domain.Notification) {
		n.Status = domain.StatusPending
		if n.AttemptCount > 0 {
			n.AttemptCount--
		}
		n.UpdatedAt = now
	})
}

func (r *memoryNotificationRepo) RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requeued = append(r.requeued, claimedBefore)
	var count int64
	for id, n := range r.rows {
		if n.Status == domain.StatusSending && n.UpdatedAt.Before(claimedBefore) {
			n.Status = domain.StatusPending
			r.rows[id] = n
			count++
		}
	}
	return count, nil
}

func (r *memoryNotificationRepo) update(id int64, from []domain.Status, apply func(n *domain.Notification)) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.markErr != nil {
		return nil, r.markErr
	}
	n, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: notification %d", domain.ErrNotFound, id)
	}
	matched := false
	for _, status := range from {
		if n.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: notification %d is %s", domain.ErrConflict, id, n.Status)
	}

	n = cloneNotification(n)
	apply(&n)
	r.rows[id] = n
	out := cloneNotification(n)
	return &out, nil
}

// put stores n as-is, for arranging state directly.
func (r *memoryNotificationRepo) put(n domain.Notification) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	n.ID = r.nextID
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}
	if n.Priority == "" {
		n.Priority = domain.PriorityNormal
	}
	r.rows[n.ID] = n
	return n.ID
}

func (r *memoryNotificationRepo) status(id int64) domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id].Status
}

func cloneNotification(n domain.Notification) domain.Notification {
	metadata := make(map[string]any, len(n.Metadata))
	for k, v := range n.Metadata {
		metadata[k] = v
	}
	n.Metadata = metadata
	return n
}

func sortBySchedule(ns []domain.Notification) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].ScheduledFor.Equal(ns[j].ScheduledFor) {
			return ns[i].ID < ns[j].ID
		}
		return ns[i].ScheduledFor.Before(ns[j].ScheduledFor)
	})
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.DeliveryAttempt
	createFn func(ctx context.Context, a *domain.DeliveryAttempt) error
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, a); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakeAttemptRepo) ListByNotificationID(ctx context.Context, notificationID int64) ([]domain.DeliveryAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.DeliveryAttempt
	for _, a := range f.attempts {
		if a.NotificationID == notificationID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAttemptRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.attempts)
}

type fakeBulkRepo struct {
	created  []domain.BulkDispatch
	createFn func(ctx context.Context, b *domain.BulkDispatch) error
}

func (f *fakeBulkRepo) Create(ctx context.Context, b *domain.BulkDispatch) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, b); err != nil {
			return err
		}
	}
	b.ID = fmt.Sprintf("bulk-%d", len(f.created)+1)
	f.created = append(f.created, *b)
	return nil
}

func (f *fakeBulkRepo) GetByID(ctx context.Context, id string) (*domain.BulkDispatch, error) {
	for i := range f.created {
		if f.created[i].ID == id {
			return &f.created[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

type fakeGateway struct {
	mu             sync.Mutex
	sendCalls      int
	sendOneFn      func(ctx context.Context, phone, message string) domain.DeliveryResult
	sendBulkFn     func(ctx context.Context, items []gateway.BulkItem) []domain.DeliveryResult
	scheduleFn     func(ctx context.Context, phone, message string, delayMinutes int) domain.DeliveryResult
	reconnectFn    func(ctx context.Context) error
	lastBulkItems  []gateway.BulkItem
	lastSentPhones []string
}

func (f *fakeGateway) SendOne(ctx context.Context, phone, message string) domain.DeliveryResult {
	f.mu.Lock()
	f.sendCalls++
	f.lastSentPhones = append(f.lastSentPhones, phone)
	f.mu.Unlock()

	if f.sendOneFn != nil {
		return f.sendOneFn(ctx, phone, message)
	}
	return domain.SuccessResult("msg-1")
}

func (f *fakeGateway) SendBulk(ctx context.Context, items []gateway.BulkItem) []domain.DeliveryResult {
	f.mu.Lock()
	f.lastBulkItems = items
	f.mu.Unlock()

	if f.sendBulkFn != nil {
		return f.sendBulkFn(ctx, items)
	}
	results := make([]domain.DeliveryResult, len(items))
	for i := range items {
		results[i] = domain.SuccessResult(fmt.Sprintf("bulk-msg-%d", i))
	}
	return results
}

func (f *fakeGateway) ScheduleRemote(ctx context.Context, phone, message string, delayMinutes int) domain.DeliveryResult {
	if f.scheduleFn != nil {
		return f.scheduleFn(ctx, phone, message, delayMinutes)
	}
	return domain.SuccessResult("remote-1")
}

func (f *fakeGateway) Reconnect(ctx context.Context) error {
	if f.reconnectFn != nil {
		return f.reconnectFn(ctx)
	}
	return nil
}

func (f *fakeGateway) sends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}

type fakeMonitor struct {
	connected  bool
	forced     int
	getStatusN int
}

func (f *fakeMonitor) GetStatus(ctx context.Context, maxAge time.Duration) domain.GatewayStatus {
	f.getStatusN++
	return f.status()
}

func (f *fakeMonitor) ForceCheck(ctx context.Context) domain.GatewayStatus {
	f.forced++
	return f.status()
}

func (f *fakeMonitor) status() domain.GatewayStatus {
	status := domain.GatewayStatus{Connected: f.connected, CheckedAt: time.Now().UTC()}
	if !f.connected {
		msg := "connection error: refused"
		status.Error = &msg
	}
	return status
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, scope string) error
	scopes []string
}

func (f *fakeRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, scope string) error {
	f.scopes = append(f.scopes, scope)
	if f.waitFn != nil {
		return f.waitFn(ctx, scope)
	}
	return nil
}

type fakePassLock struct {
	ok       bool
	err      error
	released int
}

func (f *fakePassLock) TryAcquire(ctx context.Context) (func(context.Context) error, bool, error) {
	if f.err != nil || !f.ok {
		return nil, f.ok, f.err
	}
	return func(context.Context) error {
		f.released++
		return nil
	}, true, nil
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	repo       *memoryNotificationRepo
	attempts   *fakeAttemptRepo
	bulk       *fakeBulkRepo
	gateway    *fakeGateway
	monitor    *fakeMonitor
	clock      *testClock
}

func newDispatcherFixture(cfg DispatcherConfig, deps ...func(d *Dependencies)) (*dispatcherFixture, error) {
	f := &dispatcherFixture{
		repo:     newMemoryNotificationRepo(),
		attempts: &fakeAttemptRepo{},
		bulk:     &fakeBulkRepo{},
		gateway:  &fakeGateway{},
		monitor:  &fakeMonitor{connected: true},
		clock:    newTestClock(),
	}

	d := Dependencies{
		Notifications: f.repo,
		Attempts:      f.attempts,
		Bulk:          f.bulk,
		Gateway:       f.gateway,
		Monitor:       f.monitor,
	}
	for _, apply := range deps {
		apply(&d)
	}

	dispatcher, err := newDispatcher(d, cfg, nil, f.clock.Now)
	if err != nil {
		return nil, err
	}
	f.dispatcher = dispatcher
	return f, nil
}
