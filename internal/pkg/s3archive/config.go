package s3archive

import (
	"errors"
	"fmt"

	"github.com/ManuelReschke/QuotaFox/internal/pkg/env"

	"github.com/ManuelReschke/QuotaFox/app/models"
)

// Config holds S3 archive configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
}

// LoadConfig loads S3 configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-west-001"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Enabled:         env.GetEnv("S3_ARCHIVE_ENABLED", "false") == "true",
	}

	// Validate required fields if archiving is enabled
	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when S3 archiving is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when S3 archiving is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when S3 archiving is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if S3 archiving is turned on in the environment.
func IsEnabled() bool {
	return env.GetEnv("S3_ARCHIVE_ENABLED", "false") == "true"
}

// GetBucketName returns the configured bucket name
func (c *Config) GetBucketName() string {
	return c.BucketName
}

// ObjectKeyFor generates a standardized S3 object key for a webhook event.
// Format: webhooks/<provider>/YYYY/MM/<event-row-id>.json
func (c *Config) ObjectKeyFor(event *models.PaymentWebhookEvent) string {
	created := event.CreatedAt
	return fmt.Sprintf("webhooks/%s/%04d/%02d/%d.json", event.Provider, created.Year(), int(created.Month()), event.ID)
}

// GetAppEnv returns the current application environment
func GetAppEnv() string {
	return env.GetEnv("APP_ENV", "dev")
}
