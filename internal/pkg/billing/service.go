package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/QuotaFox/app/models"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/entitlements"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Provider is the payment provider surface the service depends on; the
// Paystack client implements it, tests inject fakes.
type Provider interface {
	InitializeTransaction(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference string) (*VerifyResult, error)
	WebhookSecret() string
}

// Service reconciles payment provider state with local subscriptions. All
// methods are safe under concurrent invocation and provider redelivery: the
// webhook event table and the transaction reference are the idempotency keys.
type Service struct {
	repo     Repository
	provider Provider

	// retryLog enqueues a usage log entry for a later attempt when the
	// direct append fails. Log entries are best-effort and never gate the
	// subscription update.
	retryLog func(entry *models.UsageLogEntry)
}

// NewService creates a billing service from injected collaborators.
func NewService(repo Repository, provider Provider) *Service {
	return &Service{repo: repo, provider: provider}
}

// NewServiceFromDB creates a billing service from a GORM DB handle with the
// provider client configured from the environment.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), NewPaystackClientFromEnv())
}

// WithLogRetry installs the hook used to re-attempt failed usage log appends.
func (s *Service) WithLogRetry(fn func(entry *models.UsageLogEntry)) *Service {
	s.retryLog = fn
	return s
}

// Repo exposes the repository for collaborators wired at startup.
func (s *Service) Repo() Repository {
	return s.repo
}

// WebhookSecret returns the provider's shared webhook secret.
func (s *Service) WebhookSecret() string {
	return s.provider.WebhookSecret()
}

// NewReference generates a payment reference that is unique with
// overwhelming probability and still sortable by initiation time.
func NewReference() string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("qf_%d_%s", time.Now().Unix(), token[:12])
}

// InitializeTransaction persists a pending transaction and opens a hosted
// checkout with the provider. The pending row is written before the provider
// call so a crash in between is recoverable by verifying the reference later.
func (s *Service) InitializeTransaction(ctx context.Context, userID uint, email, planID string) (*InitializeResult, error) {
	plan := strings.ToLower(strings.TrimSpace(planID))
	if !entitlements.IsKnownPlan(plan) || plan == string(entitlements.PlanFree) {
		return nil, ErrUnknownPlan
	}
	limits := entitlements.LimitsFor(entitlements.Plan(plan))

	txn := &models.Transaction{
		Reference: NewReference(),
		UserID:    userID,
		PlanID:    plan,
		Amount:    limits.Amount,
		Status:    models.TransactionStatusPending,
	}
	if err := s.repo.CreateTransaction(txn); err != nil {
		return nil, err
	}

	req := InitializeRequest{
		Email:     email,
		Amount:    limits.Amount,
		Reference: txn.Reference,
		Metadata: InitializeMetadata{
			UserID: userID,
			PlanID: plan,
		},
	}
	if !entitlements.IsUnlimited(limits.Quota) {
		req.Metadata.MaxUsage = limits.Quota
	}

	out, err := s.provider.InitializeTransaction(ctx, req)
	if err != nil {
		if markErr := s.repo.MarkTransactionFailed(txn.Reference); markErr != nil {
			log.Warnf("[Billing] could not mark transaction %s failed: %v", txn.Reference, markErr)
		}
		return nil, err
	}
	return out, nil
}

// VerifyOutcome is the result of reconciling a reference against the provider.
type VerifyOutcome struct {
	Plan        string
	Transaction *models.Transaction
	Applied     bool
}

// VerifyTransaction reconciles a payment reference with the provider outcome.
// Only the first completion of a reference drives the state machine; repeated
// verify calls and webhook races return the prior result.
func (s *Service) VerifyTransaction(ctx context.Context, reference string) (*VerifyOutcome, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return nil, ErrTransactionNotFound
	}

	vr, err := s.provider.VerifyTransaction(ctx, ref)
	if err != nil {
		return nil, err
	}

	if !vr.Succeeded() {
		if err := s.repo.MarkTransactionFailed(ref); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		txn, err := s.repo.GetTransactionByReference(ref)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrTransactionNotFound
			}
			return nil, err
		}
		return &VerifyOutcome{Plan: txn.PlanID, Transaction: txn}, nil
	}

	ev, err := s.eventFromVerify(ref, vr)
	if err != nil {
		return nil, err
	}
	return s.settleSuccess(ev)
}

// settleSuccess completes the transaction exactly once and, on the winning
// completion, pushes the success through the state machine.
func (s *Service) settleSuccess(ev *CanonicalEvent) (*VerifyOutcome, error) {
	txn, err := s.repo.GetTransactionByReference(ev.Reference)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// The pending row was never persisted (crash before write). Local
		// bookkeeping is an optimization, not a correctness dependency:
		// backfill from the provider event and carry on.
		txn, err = s.backfillTransaction(ev)
	}
	if err != nil {
		return nil, err
	}

	completedAt := ev.OccurredAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	won, err := s.repo.CompleteTransactionIfPending(ev.Reference, ev.ExternalID, completedAt)
	if err != nil {
		return nil, err
	}
	if !won {
		// Already settled by a concurrent verify or the webhook path.
		txn, err = s.repo.GetTransactionByReference(ev.Reference)
		if err != nil {
			return nil, err
		}
		return &VerifyOutcome{Plan: txn.PlanID, Transaction: txn}, nil
	}

	if _, err := s.applyTransition(ev); err != nil {
		return nil, err
	}
	txn, err = s.repo.GetTransactionByReference(ev.Reference)
	if err != nil {
		return nil, err
	}
	return &VerifyOutcome{Plan: txn.PlanID, Transaction: txn, Applied: true}, nil
}

func (s *Service) backfillTransaction(ev *CanonicalEvent) (*models.Transaction, error) {
	if ev.UserID == 0 {
		return nil, &NormalizationError{Field: "metadata.user_id"}
	}
	txn := &models.Transaction{
		Reference: ev.Reference,
		UserID:    ev.UserID,
		PlanID:    ev.PlanID,
		Amount:    ev.Amount,
		Status:    models.TransactionStatusPending,
	}
	if err := s.repo.CreateTransaction(txn); err != nil {
		// Lost a race against another backfill; re-read.
		existing, readErr := s.repo.GetTransactionByReference(ev.Reference)
		if readErr != nil {
			return nil, err
		}
		return existing, nil
	}
	return txn, nil
}

func (s *Service) eventFromVerify(reference string, vr *VerifyResult) (*CanonicalEvent, error) {
	userID, ok := vr.Metadata.UserID.Uint()
	if !ok || userID == 0 {
		return nil, &NormalizationError{Field: "metadata.user_id"}
	}
	planID := strings.TrimSpace(vr.Metadata.PlanID)
	if planID == "" {
		return nil, &NormalizationError{Field: "metadata.plan_id"}
	}

	ev := &CanonicalEvent{
		Kind:       EventPaymentSucceeded,
		UserID:     userID,
		PlanID:     planID,
		ExternalID: string(vr.ID),
		Reference:  reference,
		Amount:     vr.Amount,
		OccurredAt: vr.PaidTime(),
	}
	if max, ok := vr.Metadata.MaxUsage.Int64(); ok && max != 0 {
		ev.Quota = &max
	}
	return ev, nil
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// WebhookOutcome describes how an inbound webhook delivery was handled.
// Duplicate is set only when a settled event was acknowledged without
// reprocessing; a redelivery that re-runs an incomplete event reports the
// outcome of that run.
type WebhookOutcome struct {
	EventID   uint
	Duplicate bool
	Ignored   bool
	Applied   bool
}

// ProcessWebhookEvent persists the delivery idempotently and, for the first
// delivery of an event, normalizes it and drives the state machine. The
// caller must have verified the signature already; signature failures never
// reach this method.
func (s *Service) ProcessWebhookEvent(ctx context.Context, in WebhookEventInput) (*WebhookOutcome, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(&models.PaymentWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		// Redeliveries of a settled event are acknowledged without
		// reprocessing. An unsettled row means an earlier delivery crashed or
		// failed mid-apply and was answered with an error; the provider's
		// retry is the recovery path, so run the payload again.
		if webhookEventSettled(stored) {
			return &WebhookOutcome{EventID: stored.ID, Duplicate: true}, nil
		}
		log.Infof("[Billing] reprocessing webhook event %d after incomplete delivery", stored.ID)
	}

	outcome, procErr := s.handleWebhookPayload(ctx, in.EventType, []byte(in.PayloadJSON))
	outcome.EventID = stored.ID

	errMsg := ""
	if procErr != nil {
		errMsg = procErr.Error()
	}
	if markErr := s.repo.MarkWebhookProcessed(stored.ID, errMsg); markErr != nil {
		log.Warnf("[Billing] could not mark webhook event %d processed: %v", stored.ID, markErr)
	}

	// Malformed or incomplete payloads are a handled outcome: the delivery is
	// recorded with its error and the provider must not redeliver it.
	var nerr *NormalizationError
	if errors.As(procErr, &nerr) || errors.Is(procErr, errUnparseablePayload) {
		log.Warnf("[Billing] webhook event %d not applied: %v", stored.ID, procErr)
		return outcome, nil
	}
	return outcome, procErr
}

var errUnparseablePayload = errors.New("unparseable webhook payload")

// webhookEventSettled reports whether a stored delivery already ran to a
// handled outcome. Rows without a processed marker, or marked with a
// processing error, are retried on redelivery.
func webhookEventSettled(event *models.PaymentWebhookEvent) bool {
	return event.ProcessedAt != nil && event.ProcessingError == ""
}

func (s *Service) handleWebhookPayload(_ context.Context, eventType string, raw []byte) (*WebhookOutcome, error) {
	envType, data, err := ParseWebhookEnvelope(raw)
	if err != nil {
		return &WebhookOutcome{Ignored: true}, fmt.Errorf("%w: %v", errUnparseablePayload, err)
	}
	if strings.TrimSpace(eventType) == "" {
		eventType = envType
	}

	ev, err := NormalizeEvent(eventType, data)
	if err != nil {
		return &WebhookOutcome{Ignored: true}, err
	}
	if ev.Kind == EventIgnored {
		log.Infof("[Billing] ignoring webhook event type %q", eventType)
		return &WebhookOutcome{Ignored: true}, nil
	}

	// Success events with a reference settle through the transaction so the
	// webhook and verify paths share one first-completion gate.
	if ev.Kind == EventPaymentSucceeded && ev.Reference != "" {
		out, err := s.settleSuccess(ev)
		if err != nil {
			return &WebhookOutcome{}, err
		}
		return &WebhookOutcome{Applied: out.Applied}, nil
	}

	tr, err := s.applyTransition(ev)
	if err != nil {
		return &WebhookOutcome{}, err
	}
	return &WebhookOutcome{Applied: tr.Applied, Ignored: !tr.Applied}, nil
}

// applyTransition loads the subscription, enforces the no-regression rule for
// payment failures and writes the result of the state machine.
func (s *Service) applyTransition(ev *CanonicalEvent) (Transition, error) {
	if ev.Kind == EventPaymentFailed {
		newer, err := s.hasNewerSuccess(ev)
		if err != nil {
			return Transition{}, err
		}
		if newer {
			return Transition{Reason: "newer successful transaction exists"}, nil
		}
	}

	sub, err := s.repo.GetOrCreateSubscription(ev.UserID)
	if err != nil {
		return Transition{}, err
	}

	tr := ApplyEvent(sub, ev)
	if !tr.Applied {
		return tr, nil
	}
	if err := s.repo.SaveSubscription(sub); err != nil {
		return Transition{}, err
	}

	s.appendLifecycleLog(sub, ev, tr)
	return tr, nil
}

// hasNewerSuccess reports whether a completed transaction newer than the
// failure event exists for the user. A failed renewal arriving late must not
// regress an already re-activated subscription.
func (s *Service) hasNewerSuccess(ev *CanonicalEvent) (bool, error) {
	latest, err := s.repo.LatestCompletedTransaction(ev.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	if latest.CompletedAt == nil {
		return false, nil
	}
	if ev.OccurredAt.IsZero() {
		return true, nil
	}
	return latest.CompletedAt.After(ev.OccurredAt), nil
}

func (s *Service) appendLifecycleLog(sub *models.Subscription, ev *CanonicalEvent, tr Transition) {
	meta, _ := json.Marshal(map[string]interface{}{
		"event":     ev.Kind.String(),
		"plan":      sub.Plan,
		"reference": ev.Reference,
		"amount":    ev.Amount,
	})
	entry := &models.UsageLogEntry{
		UserID:   ev.UserID,
		Action:   tr.LogAction,
		Metadata: string(meta),
	}
	if err := s.repo.AppendUsageLog(entry); err != nil {
		log.Warnf("[Billing] usage log append failed for user %d: %v", ev.UserID, err)
		if s.retryLog != nil {
			s.retryLog(entry)
		}
	}
}
