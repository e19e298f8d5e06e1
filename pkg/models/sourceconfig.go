package models

import "time"

// DefaultTitleProperty is the task database property used for page titles
// when the tenant's field mapping does not name one.
const DefaultTitleProperty = "Name"

// FieldMapping names the target properties in the tenant's task database.
// Empty fields mean "do not set this property", except Title, which falls
// back to DefaultTitleProperty.
type FieldMapping struct {
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
	Status    string `json:"status,omitempty" yaml:"status,omitempty"`
	Priority  string `json:"priority,omitempty" yaml:"priority,omitempty"`
	Assignee  string `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	Due       string `json:"due,omitempty" yaml:"due,omitempty"`
	Tags      string `json:"tags,omitempty" yaml:"tags,omitempty"`
	SourceURL string `json:"source_url,omitempty" yaml:"source_url,omitempty"`
}

// TitleProperty returns the mapped title property or the default.
func (m FieldMapping) TitleProperty() string {
	if m.Title != "" {
		return m.Title
	}
	return DefaultTitleProperty
}

// SourceConfig holds one tenant's credentials and policy for one source.
// All credential fields are stored encrypted (see pkg/crypto); adapters
// decrypt at the time of each operation and never persist plaintext.
type SourceConfig struct {
	ID          string       `db:"id" json:"id"`
	TenantID    string       `db:"tenant_id" json:"tenant_id"`
	SourceType  string       `db:"source_type" json:"source_type"`
	Name        string       `db:"name" json:"name"`
	APIToken    string       `db:"api_token" json:"-"`
	TaskDBToken string       `db:"task_db_token" json:"-"`
	TaskDBID    string       `db:"task_db_id" json:"task_db_id"`
	LLMKey      string       `db:"llm_key" json:"-"`
	Mapping     FieldMapping `db:"field_mapping" json:"mapping"`

	AIEnabled        bool `db:"ai_enabled" json:"ai_enabled"`
	AutoSync         bool `db:"auto_sync" json:"auto_sync"`
	PostConfirmation bool `db:"post_confirmation" json:"post_confirmation"`
	Active           bool `db:"active" json:"active"`

	Metadata  MetadataMap `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}

// Meta returns a metadata value, or "" when absent.
func (c *SourceConfig) Meta(key string) string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata[key]
}

// ValidationResult is the outcome of an adapter's config validation.
// ValidateConfig never fails; it always returns a result.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Invalid builds a failed validation result from the given messages.
func Invalid(errs ...string) ValidationResult {
	return ValidationResult{Valid: false, Errors: errs}
}
