package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeUsageLogAppend       JobType = "usage_log_append"
	JobTypeWebhookArchive       JobType = "webhook_archive"
	JobTypeTransactionReconcile JobType = "transaction_reconcile"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// UsageLogJobPayload contains the payload for deferred usage log appends.
// These jobs exist so a failed synchronous ledger write is retried instead
// of silently dropped.
type UsageLogJobPayload struct {
	UserID   uint   `json:"user_id"`
	Action   string `json:"action"`
	Metadata string `json:"metadata"`
}

// ToMap converts the payload to a map for storage
func (p UsageLogJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id":  p.UserID,
		"action":   p.Action,
		"metadata": p.Metadata,
	}
}

// FromMap creates a payload from a map
func UsageLogJobPayloadFromMap(data map[string]interface{}) (*UsageLogJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload UsageLogJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// WebhookArchiveJobPayload contains the payload for archiving a processed
// webhook event payload to S3
type WebhookArchiveJobPayload struct {
	EventID uint `json:"event_id"`
}

// ToMap converts the payload to a map for storage
func (p WebhookArchiveJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"event_id": p.EventID,
	}
}

// FromMap creates a payload from a map
func WebhookArchiveJobPayloadFromMap(data map[string]interface{}) (*WebhookArchiveJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload WebhookArchiveJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// TransactionReconcileJobPayload contains the payload for re-checking a
// pending transaction against the payment provider
type TransactionReconcileJobPayload struct {
	Reference string `json:"reference"`
}

// ToMap converts the payload to a map for storage
func (p TransactionReconcileJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"reference": p.Reference,
	}
}

// FromMap creates a payload from a map
func TransactionReconcileJobPayloadFromMap(data map[string]interface{}) (*TransactionReconcileJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload TransactionReconcileJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
