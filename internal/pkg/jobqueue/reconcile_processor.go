package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/QuotaFox/internal/pkg/billing"
	"github.com/ManuelReschke/QuotaFox/internal/pkg/database"
)

// processTransactionReconcileJob re-checks a pending transaction against the
// payment provider. This recovers purchases where the provider charged the
// customer but the verify call or webhook never reached us.
func (q *Queue) processTransactionReconcileJob(ctx context.Context, job *Job) error {
	payload, err := TransactionReconcileJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid reconcile payload: %w", err)
	}
	if payload.Reference == "" {
		return fmt.Errorf("reconcile payload missing reference")
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	svc := billing.NewServiceFromDB(db)

	outcome, err := svc.VerifyTransaction(ctx, payload.Reference)
	if err != nil {
		if errors.Is(err, billing.ErrTransactionNotFound) {
			// The provider never saw this reference; the initialize call
			// failed after we stored the pending row. Close it out.
			log.Warnf("[JobQueue] Transaction %s unknown to provider, marking failed", payload.Reference)
			return svc.Repo().MarkTransactionFailed(payload.Reference)
		}
		return fmt.Errorf("failed to reconcile transaction %s: %w", payload.Reference, err)
	}

	if outcome.Applied {
		log.Infof("[JobQueue] Reconciled transaction %s: subscription updated to plan %s", payload.Reference, outcome.Plan)
	} else {
		log.Debugf("[JobQueue] Reconciled transaction %s: status %s, no subscription change", payload.Reference, outcome.Transaction.Status)
	}
	return nil
}

// EnqueueTransactionReconcile schedules a pending transaction for
// provider-side verification.
func (q *Queue) EnqueueTransactionReconcile(reference string) (*Job, error) {
	payload := TransactionReconcileJobPayload{Reference: reference}
	return q.EnqueueJob(JobTypeTransactionReconcile, payload.ToMap())
}
