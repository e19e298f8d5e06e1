package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// DiscussionRetentionDays is how long terminal discussions are kept
	// before the cleanup loop deletes them.
	DiscussionRetentionDays int `yaml:"discussion_retention_days"`

	// JobRetentionDays is how long completed sync jobs are kept. Jobs are
	// the audit trail, so they outlive their discussions by default.
	JobRetentionDays int `yaml:"job_retention_days"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		DiscussionRetentionDays: 90,
		JobRetentionDays:        365,
		CleanupInterval:         12 * time.Hour,
	}
}
