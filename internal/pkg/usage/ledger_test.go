package usage

import (
	"errors"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/ManuelReschke/QuotaFox/app/models"
)

type fakeSubRepo struct {
	subs map[uint]*models.Subscription
}

func (f *fakeSubRepo) GetByUserID(userID uint) (*models.Subscription, error) {
	sub, ok := f.subs[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

type fakeUsageRepo struct {
	mu     sync.Mutex
	counts map[uint]int64
	logs   []models.UsageLogEntry

	failAppend bool
	failCount  bool
}

func newFakeUsageRepo() *fakeUsageRepo {
	return &fakeUsageRepo{counts: map[uint]int64{}}
}

func (f *fakeUsageRepo) GetOrCreateCounter(userID uint) (*models.UsageCounter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.counts[userID]; !ok {
		f.counts[userID] = 0
	}
	return &models.UsageCounter{UserID: userID, Count: f.counts[userID]}, nil
}

func (f *fakeUsageRepo) IncrementIfBelow(userID uint, limit int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts[userID] >= limit {
		return false, nil
	}
	f.counts[userID]++
	return true, nil
}

func (f *fakeUsageRepo) Increment(userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[userID]++
	return nil
}

func (f *fakeUsageRepo) CurrentCount(userID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCount {
		return 0, errors.New("counter read failed")
	}
	return f.counts[userID], nil
}

func (f *fakeUsageRepo) AppendLog(entry *models.UsageLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAppend {
		return errors.New("log table unavailable")
	}
	f.logs = append(f.logs, *entry)
	return nil
}

func ledgerWith(sub *models.Subscription, usage *fakeUsageRepo) *Ledger {
	subs := &fakeSubRepo{subs: map[uint]*models.Subscription{}}
	if sub != nil {
		subs.subs[sub.UserID] = sub
	}
	return NewLedger(subs, usage)
}

func TestCheckAndIncrement_AllowsUpToQuotaThenDenies(t *testing.T) {
	usageRepo := newFakeUsageRepo()
	ledger := ledgerWith(&models.Subscription{
		UserID: 1, Plan: "free", Quota: 3, Status: models.SubscriptionStatusActive,
	}, usageRepo)

	for i := 0; i < 3; i++ {
		res, err := ledger.CheckAndIncrement(1, "api_call")
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d: expected allowed", i)
		}
	}

	res, err := ledger.CheckAndIncrement(1, "api_call")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Allowed {
		t.Fatalf("expected denial at quota")
	}
	if res.Count != 3 || res.Quota != 3 {
		t.Fatalf("denial payload wrong: count=%d quota=%d", res.Count, res.Quota)
	}

	// Denied calls must not move the counter or append a log entry.
	if usageRepo.counts[1] != 3 {
		t.Fatalf("counter moved past quota: %d", usageRepo.counts[1])
	}
	if len(usageRepo.logs) != 3 {
		t.Fatalf("expected 3 log entries, got %d", len(usageRepo.logs))
	}
}

func TestCheckAndIncrement_UnlimitedPlanAlwaysAllows(t *testing.T) {
	usageRepo := newFakeUsageRepo()
	ledger := ledgerWith(&models.Subscription{
		UserID: 2, Plan: "business", Quota: -1, Status: models.SubscriptionStatusActive,
	}, usageRepo)

	for i := 0; i < 100; i++ {
		res, err := ledger.CheckAndIncrement(2, "api_call")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("unlimited plan denied at call %d", i)
		}
	}
	// The counter still moves for analytics.
	if usageRepo.counts[2] != 100 {
		t.Fatalf("expected counter 100, got %d", usageRepo.counts[2])
	}
}

func TestCheckAndIncrement_CounterReadFailureStillAllows(t *testing.T) {
	// The count in the result is informational; a failed read must not turn
	// an accepted action into an error, on capped or unlimited plans.
	for _, quota := range []int64{-1, 1000} {
		usageRepo := newFakeUsageRepo()
		usageRepo.failCount = true
		ledger := ledgerWith(&models.Subscription{
			UserID: 6, Plan: "business", Quota: quota, Status: models.SubscriptionStatusActive,
		}, usageRepo)

		res, err := ledger.CheckAndIncrement(6, "api_call")
		if err != nil {
			t.Fatalf("quota %d: counter read failure must not fail the check: %v", quota, err)
		}
		if !res.Allowed || res.Count != 0 {
			t.Fatalf("quota %d: unexpected result %+v", quota, res)
		}
		if usageRepo.counts[6] != 1 {
			t.Fatalf("quota %d: expected counter incremented once, got %d", quota, usageRepo.counts[6])
		}
	}
}

func TestCheckAndIncrement_NoProfile(t *testing.T) {
	ledger := ledgerWith(nil, newFakeUsageRepo())

	if _, err := ledger.CheckAndIncrement(9, "api_call"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestCheckAndIncrement_ConcurrentCallsNeverOvershoot(t *testing.T) {
	usageRepo := newFakeUsageRepo()
	ledger := ledgerWith(&models.Subscription{
		UserID: 3, Plan: "free", Quota: 10, Status: models.SubscriptionStatusActive,
	}, usageRepo)

	var wg sync.WaitGroup
	allowed := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.CheckAndIncrement(3, "api_call")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			allowed <- res.Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	var granted int
	for ok := range allowed {
		if ok {
			granted++
		}
	}
	if granted != 10 {
		t.Fatalf("expected exactly 10 grants, got %d", granted)
	}
	if usageRepo.counts[3] != 10 {
		t.Fatalf("counter overshot: %d", usageRepo.counts[3])
	}
}

func TestCheckAndIncrement_LogFailureDoesNotBlockAndRetries(t *testing.T) {
	usageRepo := newFakeUsageRepo()
	usageRepo.failAppend = true

	var retried []*models.UsageLogEntry
	ledger := ledgerWith(&models.Subscription{
		UserID: 4, Plan: "pro", Quota: 1000, Status: models.SubscriptionStatusActive,
	}, usageRepo).WithLogRetry(func(entry *models.UsageLogEntry) {
		retried = append(retried, entry)
	})

	res, err := ledger.CheckAndIncrement(4, "api_call")
	if err != nil {
		t.Fatalf("log failure must not fail the check: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected allowed")
	}
	if len(retried) != 1 || retried[0].Action != "api_call" {
		t.Fatalf("expected retry hook invoked once, got %+v", retried)
	}
}

func TestCurrent(t *testing.T) {
	usageRepo := newFakeUsageRepo()
	usageRepo.counts[5] = 7
	ledger := ledgerWith(&models.Subscription{
		UserID: 5, Plan: "pro", Quota: 1000, Status: models.SubscriptionStatusActive,
	}, usageRepo)

	sub, count, err := ledger.Current(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Plan != "pro" || count != 7 {
		t.Fatalf("unexpected snapshot %s/%d", sub.Plan, count)
	}

	if _, _, err := ledger.Current(99); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}
