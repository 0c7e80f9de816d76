package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/QuotaFox/app/models"
)

// fakeRepository is an in-memory Repository with the same conditional-update
// semantics as the GORM implementation.
type fakeRepository struct {
	subs        map[uint]*models.Subscription
	txns        map[string]*models.Transaction
	events      map[string]*models.PaymentWebhookEvent
	logs        []models.UsageLogEntry
	nextEventID uint

	failLogAppend bool
	failSaveSub   bool
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		subs:   map[uint]*models.Subscription{},
		txns:   map[string]*models.Transaction{},
		events: map[string]*models.PaymentWebhookEvent{},
	}
}

func (f *fakeRepository) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	sub, ok := f.subs[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeRepository) GetOrCreateSubscription(userID uint) (*models.Subscription, error) {
	if sub, ok := f.subs[userID]; ok {
		cp := *sub
		return &cp, nil
	}
	fresh := models.NewFreeSubscription(userID)
	f.subs[userID] = fresh
	cp := *fresh
	return &cp, nil
}

func (f *fakeRepository) SaveSubscription(sub *models.Subscription) error {
	if f.failSaveSub {
		return errors.New("subscriptions table unavailable")
	}
	cp := *sub
	f.subs[sub.UserID] = &cp
	return nil
}

func (f *fakeRepository) CreateTransaction(t *models.Transaction) error {
	if _, ok := f.txns[t.Reference]; ok {
		return fmt.Errorf("duplicate reference %s", t.Reference)
	}
	t.ID = uint(len(f.txns) + 1)
	t.CreatedAt = time.Now()
	cp := *t
	f.txns[t.Reference] = &cp
	return nil
}

func (f *fakeRepository) GetTransactionByReference(reference string) (*models.Transaction, error) {
	t, ok := f.txns[reference]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeRepository) CompleteTransactionIfPending(reference, externalID string, completedAt time.Time) (bool, error) {
	t, ok := f.txns[reference]
	if !ok || t.Status != models.TransactionStatusPending {
		return false, nil
	}
	t.Status = models.TransactionStatusCompleted
	t.ExternalTransactionID = externalID
	t.CompletedAt = &completedAt
	return true, nil
}

func (f *fakeRepository) MarkTransactionFailed(reference string) error {
	if t, ok := f.txns[reference]; ok && t.Status == models.TransactionStatusPending {
		t.Status = models.TransactionStatusFailed
	}
	return nil
}

func (f *fakeRepository) LatestCompletedTransaction(userID uint) (*models.Transaction, error) {
	var latest *models.Transaction
	for _, t := range f.txns {
		if t.UserID != userID || t.Status != models.TransactionStatusCompleted || t.CompletedAt == nil {
			continue
		}
		if latest == nil || t.CompletedAt.After(*latest.CompletedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeRepository) ListPendingTransactionsOlderThan(cutoff time.Time, limit int) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, t := range f.txns {
		if t.Status == models.TransactionStatusPending && t.CreatedAt.Before(cutoff) {
			out = append(out, *t)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepository) CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if existing, ok := f.events[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	f.nextEventID++
	event.ID = f.nextEventID
	cp := *event
	f.events[key] = &cp
	out := cp
	return true, &out, nil
}

func (f *fakeRepository) MarkWebhookProcessed(id uint, processingError string) error {
	for _, e := range f.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetWebhookEvent(id uint) (*models.PaymentWebhookEvent, error) {
	for _, e := range f.events {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) MarkWebhookArchived(id uint) error {
	for _, e := range f.events {
		if e.ID == id {
			now := time.Now()
			e.ArchivedAt = &now
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepository) AppendUsageLog(entry *models.UsageLogEntry) error {
	if f.failLogAppend {
		return errors.New("log table unavailable")
	}
	f.logs = append(f.logs, *entry)
	return nil
}

// fakeProvider returns canned responses.
type fakeProvider struct {
	initResult *InitializeResult
	initErr    error
	verify     map[string]*VerifyResult
	verifyErr  error
	initCalls  int
}

func (f *fakeProvider) InitializeTransaction(_ context.Context, req InitializeRequest) (*InitializeResult, error) {
	f.initCalls++
	if f.initErr != nil {
		return nil, f.initErr
	}
	out := *f.initResult
	out.Reference = req.Reference
	return &out, nil
}

func (f *fakeProvider) VerifyTransaction(_ context.Context, reference string) (*VerifyResult, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	vr, ok := f.verify[reference]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return vr, nil
}

func (f *fakeProvider) WebhookSecret() string { return "sk_test_secret" }

func successVerify(userID uint, plan string, maxUsage string) *VerifyResult {
	return &VerifyResult{
		Status: "success",
		ID:     flexID("99001"),
		Amount: 500000,
		PaidAt: "2026-03-01T09:00:00Z",
		Metadata: webhookMetadata{
			UserID:   flexID(fmt.Sprint(userID)),
			PlanID:   plan,
			MaxUsage: flexID(maxUsage),
		},
	}
}

func TestInitializeTransaction_PersistsPendingBeforeProviderCall(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{initResult: &InitializeResult{
		AuthorizationURL: "https://checkout.example/abc",
		AccessCode:       "abc",
	}}
	svc := NewService(repo, provider)

	out, err := svc.InitializeTransaction(context.Background(), 42, "user@example.com", "pro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.AuthorizationURL == "" || out.Reference == "" {
		t.Fatalf("expected checkout handle, got %+v", out)
	}

	txn, err := repo.GetTransactionByReference(out.Reference)
	if err != nil {
		t.Fatalf("expected pending transaction persisted: %v", err)
	}
	if txn.Status != models.TransactionStatusPending {
		t.Fatalf("expected pending, got %s", txn.Status)
	}
	if txn.UserID != 42 || txn.PlanID != "pro" {
		t.Fatalf("unexpected transaction %+v", txn)
	}
	if !strings.HasPrefix(txn.Reference, "qf_") {
		t.Fatalf("unexpected reference format %q", txn.Reference)
	}
}

func TestInitializeTransaction_UnknownOrFreePlanRejected(t *testing.T) {
	svc := NewService(newFakeRepository(), &fakeProvider{})

	for _, plan := range []string{"gold", "", "free"} {
		if _, err := svc.InitializeTransaction(context.Background(), 1, "u@example.com", plan); !errors.Is(err, ErrUnknownPlan) {
			t.Fatalf("plan %q: expected ErrUnknownPlan, got %v", plan, err)
		}
	}
}

func TestInitializeTransaction_ProviderFailureMarksTransactionFailed(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{initErr: fmt.Errorf("%w: upstream 500", ErrProviderFailure)}
	svc := NewService(repo, provider)

	_, err := svc.InitializeTransaction(context.Background(), 5, "u@example.com", "pro")
	if !errors.Is(err, ErrProviderFailure) {
		t.Fatalf("expected provider failure, got %v", err)
	}

	// The pending row must be closed out so the reconciler does not chase it.
	for _, txn := range repo.txns {
		if txn.Status != models.TransactionStatusFailed {
			t.Fatalf("expected transaction marked failed, got %s", txn.Status)
		}
	}
}

func TestVerifyTransaction_SettlesOnceAndUpgrades(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{verify: map[string]*VerifyResult{}}
	svc := NewService(repo, provider)

	ref := "qf_1700000000_abcdef"
	_ = repo.CreateTransaction(&models.Transaction{
		Reference: ref, UserID: 42, PlanID: "pro", Amount: 500000,
		Status: models.TransactionStatusPending,
	})
	provider.verify[ref] = successVerify(42, "pro", "1000")

	out, err := svc.VerifyTransaction(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Applied {
		t.Fatalf("expected first verify to apply the transition")
	}
	if out.Transaction.Status != models.TransactionStatusCompleted {
		t.Fatalf("expected completed, got %s", out.Transaction.Status)
	}

	sub, err := repo.GetSubscriptionByUserID(42)
	if err != nil {
		t.Fatalf("expected subscription created: %v", err)
	}
	if sub.Plan != "pro" || sub.Quota != 1000 || sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("unexpected subscription %+v", sub)
	}
	if len(repo.logs) != 1 || repo.logs[0].Action != models.UsageActionPaymentSuccess {
		t.Fatalf("expected one payment_success log entry, got %+v", repo.logs)
	}

	// Second verify of the same reference: same answer, no second apply.
	out2, err := svc.VerifyTransaction(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error on re-verify: %v", err)
	}
	if out2.Applied {
		t.Fatalf("expected re-verify not to re-apply")
	}
	if len(repo.logs) != 1 {
		t.Fatalf("re-verify appended a duplicate log entry")
	}
}

func TestVerifyTransaction_FailedChargeMarksFailed(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{verify: map[string]*VerifyResult{}}
	svc := NewService(repo, provider)

	ref := "qf_1700000001_fail01"
	_ = repo.CreateTransaction(&models.Transaction{
		Reference: ref, UserID: 7, PlanID: "pro",
		Status: models.TransactionStatusPending,
	})
	provider.verify[ref] = &VerifyResult{Status: "failed"}

	out, err := svc.VerifyTransaction(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Applied {
		t.Fatalf("failed charge must not apply a transition")
	}
	if out.Transaction.Status != models.TransactionStatusFailed {
		t.Fatalf("expected failed, got %s", out.Transaction.Status)
	}
	if _, ok := repo.subs[7]; ok {
		t.Fatalf("failed charge must not create a subscription")
	}
}

func TestVerifyTransaction_UnknownReference(t *testing.T) {
	svc := NewService(newFakeRepository(), &fakeProvider{verify: map[string]*VerifyResult{}})

	if _, err := svc.VerifyTransaction(context.Background(), "qf_nope"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
	if _, err := svc.VerifyTransaction(context.Background(), "  "); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound for blank reference, got %v", err)
	}
}

func TestVerifyTransaction_BackfillsMissingLocalRow(t *testing.T) {
	// Crash before the pending row was written: the provider knows the
	// reference, we do not. Verification still settles.
	repo := newFakeRepository()
	provider := &fakeProvider{verify: map[string]*VerifyResult{}}
	svc := NewService(repo, provider)

	ref := "qf_1700000002_lost99"
	provider.verify[ref] = successVerify(42, "pro", "1000")

	out, err := svc.VerifyTransaction(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Applied {
		t.Fatalf("expected backfilled verify to apply")
	}
	txn, err := repo.GetTransactionByReference(ref)
	if err != nil {
		t.Fatalf("expected backfilled transaction: %v", err)
	}
	if txn.UserID != 42 || txn.Status != models.TransactionStatusCompleted {
		t.Fatalf("unexpected backfilled transaction %+v", txn)
	}
}

func webhookBody(event, reference string, userID uint, plan string) string {
	return fmt.Sprintf(`{"event":%q,"data":{"id":1234,"reference":%q,"amount":500000,"paid_at":"2026-03-01T09:00:00Z","metadata":{"user_id":"%d","plan_id":%q,"max_usage":1000}}}`,
		event, reference, userID, plan)
}

func TestProcessWebhookEvent_AppliesOnceAndDeduplicates(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeProvider{})

	in := WebhookEventInput{
		Provider:        models.PaymentProviderPaystack,
		ProviderEventID: "evt_1",
		PayloadJSON:     webhookBody("charge.success", "qf_1700000003_hook01", 42, "pro"),
		SignatureValid:  true,
	}

	out, err := svc.ProcessWebhookEvent(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Duplicate || !out.Applied {
		t.Fatalf("expected first delivery to apply, got %+v", out)
	}

	sub, err := repo.GetSubscriptionByUserID(42)
	if err != nil {
		t.Fatalf("expected subscription: %v", err)
	}
	if sub.Plan != "pro" || sub.Quota != 1000 {
		t.Fatalf("unexpected subscription %+v", sub)
	}

	// Redelivery of the same provider event id: acknowledged, not reprocessed.
	out2, err := svc.ProcessWebhookEvent(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}
	if !out2.Duplicate {
		t.Fatalf("expected duplicate outcome, got %+v", out2)
	}
	if len(repo.logs) != 1 {
		t.Fatalf("redelivery must not append a second log entry, got %d", len(repo.logs))
	}
}

func TestProcessWebhookEvent_MissingEventIDFallsBackToPayloadHash(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeProvider{})

	in := WebhookEventInput{
		Provider:    models.PaymentProviderPaystack,
		PayloadJSON: webhookBody("charge.success", "qf_1700000004_hash01", 8, "pro"),
	}

	if _, err := svc.ProcessWebhookEvent(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := svc.ProcessWebhookEvent(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Duplicate {
		t.Fatalf("identical payload without event id must deduplicate via hash")
	}
}

func TestProcessWebhookEvent_WebhookThenVerifyRace(t *testing.T) {
	repo := newFakeRepository()
	provider := &fakeProvider{verify: map[string]*VerifyResult{}}
	svc := NewService(repo, provider)

	ref := "qf_1700000005_race01"
	_ = repo.CreateTransaction(&models.Transaction{
		Reference: ref, UserID: 42, PlanID: "pro",
		Status: models.TransactionStatusPending,
	})
	provider.verify[ref] = successVerify(42, "pro", "1000")

	// Webhook lands first and wins the completion.
	_, err := svc.ProcessWebhookEvent(context.Background(), WebhookEventInput{
		Provider:        models.PaymentProviderPaystack,
		ProviderEventID: "evt_race",
		PayloadJSON:     webhookBody("charge.success", ref, 42, "pro"),
	})
	if err != nil {
		t.Fatalf("unexpected webhook error: %v", err)
	}

	// Verify arrives afterwards; it must not re-apply.
	out, err := svc.VerifyTransaction(context.Background(), ref)
	if err != nil {
		t.Fatalf("unexpected verify error: %v", err)
	}
	if out.Applied {
		t.Fatalf("verify after webhook settlement must not re-apply")
	}
	if len(repo.logs) != 1 {
		t.Fatalf("expected exactly one lifecycle log entry, got %d", len(repo.logs))
	}
}

func TestProcessWebhookEvent_DisableDowngradesToFree(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeProvider{})
	repo.subs[42] = &models.Subscription{UserID: 42, Plan: "pro", Quota: 1000, Status: models.SubscriptionStatusActive}

	out, err := svc.ProcessWebhookEvent(context.Background(), WebhookEventInput{
		Provider:        models.PaymentProviderPaystack,
		ProviderEventID: "evt_disable",
		PayloadJSON:     `{"event":"subscription.disable","data":{"created_at":"2026-04-01T00:00:00Z","metadata":{"user_id":"42"}}}`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Applied {
		t.Fatalf("expected disable to apply")
	}

	sub, _ := repo.GetSubscriptionByUserID(42)
	if sub.Plan != "free" || sub.Quota != 50 || sub.Status != models.SubscriptionStatusCancelled {
		t.Fatalf("unexpected subscription after disable %+v", sub)
	}
}

func TestProcessWebhookEvent_LateFailureDoesNotRegressNewerSuccess(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeProvider{})

	// A completed renewal exists.
	completed := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	repo.txns["qf_newer"] = &models.Transaction{
		Reference: "qf_newer", UserID: 42, PlanID: "pro",
		Status: models.TransactionStatusCompleted, CompletedAt: &completed,
	}
	repo.subs[42] = &models.Subscription{UserID: 42, Plan: "pro", Quota: 1000, Status: models.SubscriptionStatusActive}

	// An older failure event arrives late.
	out, err := svc.ProcessWebhookEvent(context.Background(), WebhookEventInput{
		Provider:        models.PaymentProviderPaystack,
		ProviderEventID: "evt_late_fail",
		PayloadJSON:     `{"event":"invoice.payment_failed","data":{"created_at":"2026-04-01T00:00:00Z","metadata":{"user_id":"42"}}}`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Applied {
		t.Fatalf("late failure must not apply over a newer success")
	}
	sub, _ := repo.GetSubscriptionByUserID(42)
	if sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("subscription regressed to %s", sub.Status)
	}
}

func TestProcessWebhookEvent_PaymentFailedFlagsSubscription(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeProvider{})
	repo.subs[42] = &models.Subscription{UserID: 42, Plan: "pro", Quota: 1000, Status: models.SubscriptionStatusActive}

	out, err := svc.ProcessWebhookEvent(context.Background(), WebhookEventInput{
		Provider:        models.PaymentProviderPaystack,
		ProviderEventID: "evt_fail_now",
		PayloadJSON:     `{"event":"invoice.payment_failed","data":{"created_at":"2026-04-03T00:00:00Z","metadata":{"user_id":"42"}}}`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Applied {
		t.Fatalf("expected failure event to apply")
	}
	sub, _ := repo.GetSubscriptionByUserID(42)
	if sub.Status != models.SubscriptionStatusPaymentFailed {
		t.Fatalf("expected payment_failed, got %s", sub.Status)
	}
	if sub.Plan != "pro" || sub.Quota != 1000 {
		t.Fatalf("failure must not change entitlements, got %s/%d", sub.Plan, sub.Quota)
	}
}

func TestProcessWebhookEvent_RedeliveryAfterStorageFailureReprocesses(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeProvider{})
	repo.subs[42] = &models.Subscription{UserID: 42, Plan: "business", Quota: -1, Status: models.SubscriptionStatusActive}

	in := WebhookEventInput{
		Provider:        models.PaymentProviderPaystack,
		ProviderEventID: "evt_retry",
		PayloadJSON:     `{"event":"subscription.disable","data":{"created_at":"2026-04-05T00:00:00Z","metadata":{"user_id":"42"}}}`,
	}

	// First delivery aborts mid-apply; the provider sees an error and will
	// redeliver.
	repo.failSaveSub = true
	if _, err := svc.ProcessWebhookEvent(context.Background(), in); err == nil {
		t.Fatalf("expected storage failure to surface")
	}
	sub, _ := repo.GetSubscriptionByUserID(42)
	if sub.Plan != "business" || sub.Status != models.SubscriptionStatusActive {
		t.Fatalf("failed delivery must not change the subscription, got %+v", sub)
	}

	// The redelivery must re-run the payload, not be swallowed as a duplicate.
	repo.failSaveSub = false
	out, err := svc.ProcessWebhookEvent(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}
	if !out.Applied {
		t.Fatalf("expected redelivery to apply the lost transition, got %+v", out)
	}
	sub, _ = repo.GetSubscriptionByUserID(42)
	if sub.Plan != "free" || sub.Quota != 50 || sub.Status != models.SubscriptionStatusCancelled {
		t.Fatalf("unexpected subscription after redelivery %+v", sub)
	}

	// Once settled, a further redelivery is a plain duplicate.
	out2, err := svc.ProcessWebhookEvent(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out2.Duplicate {
		t.Fatalf("expected settled event to deduplicate, got %+v", out2)
	}
	if len(repo.logs) != 1 {
		t.Fatalf("expected exactly one lifecycle log entry, got %d", len(repo.logs))
	}
}

func TestProcessWebhookEvent_MalformedPayloadIsHandled(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, &fakeProvider{})

	out, err := svc.ProcessWebhookEvent(context.Background(), WebhookEventInput{
		Provider:        models.PaymentProviderPaystack,
		ProviderEventID: "evt_broken",
		PayloadJSON:     `{"event":"charge.success","data":{"reference":"r","metadata":{}}}`,
	})
	if err != nil {
		t.Fatalf("normalization failure must be a handled outcome, got %v", err)
	}
	if !out.Ignored {
		t.Fatalf("expected ignored outcome, got %+v", out)
	}

	// The stored event carries the error for operators.
	event, err := repo.GetWebhookEvent(out.EventID)
	if err != nil {
		t.Fatalf("expected stored event: %v", err)
	}
	if event.ProcessingError == "" || event.ProcessedAt == nil {
		t.Fatalf("expected event marked processed with error, got %+v", event)
	}
}

func TestProcessWebhookEvent_UnknownKindAcknowledged(t *testing.T) {
	svc := NewService(newFakeRepository(), &fakeProvider{})

	out, err := svc.ProcessWebhookEvent(context.Background(), WebhookEventInput{
		Provider:        models.PaymentProviderPaystack,
		ProviderEventID: "evt_transfer",
		PayloadJSON:     `{"event":"transfer.success","data":{}}`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Ignored || out.Applied {
		t.Fatalf("expected ignored outcome, got %+v", out)
	}
}

func TestAppendLifecycleLog_RetryHookOnFailure(t *testing.T) {
	repo := newFakeRepository()
	repo.failLogAppend = true

	var retried []*models.UsageLogEntry
	svc := NewService(repo, &fakeProvider{}).WithLogRetry(func(entry *models.UsageLogEntry) {
		retried = append(retried, entry)
	})

	out, err := svc.ProcessWebhookEvent(context.Background(), WebhookEventInput{
		Provider:        models.PaymentProviderPaystack,
		ProviderEventID: "evt_log_fail",
		PayloadJSON:     webhookBody("charge.success", "qf_1700000006_logf01", 42, "pro"),
	})
	if err != nil {
		t.Fatalf("log failure must not fail the webhook: %v", err)
	}
	if !out.Applied {
		t.Fatalf("expected transition applied despite log failure")
	}
	if len(retried) != 1 || retried[0].Action != models.UsageActionPaymentSuccess {
		t.Fatalf("expected one retried log entry, got %+v", retried)
	}
}

func TestNewReference_Format(t *testing.T) {
	a, b := NewReference(), NewReference()
	if a == b {
		t.Fatalf("references must be unique")
	}
	for _, ref := range []string{a, b} {
		if !strings.HasPrefix(ref, "qf_") {
			t.Fatalf("unexpected reference %q", ref)
		}
		parts := strings.SplitN(ref, "_", 3)
		if len(parts) != 3 || len(parts[2]) != 12 {
			t.Fatalf("unexpected reference shape %q", ref)
		}
	}
}
