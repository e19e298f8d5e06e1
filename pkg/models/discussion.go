package models

import (
	"encoding/json"
	"time"
)

// Discussion is the canonical persisted record of one ingested event.
// The pair (tenant, source type, source thread id) is unique; ingress
// enforces this with a dedupe lookup before insert.
type Discussion struct {
	ID             string          `db:"id" json:"id"`
	TenantID       string          `db:"tenant_id" json:"tenant_id"`
	Owner          string          `db:"owner" json:"owner"`
	SourceType     string          `db:"source_type" json:"source_type"`
	SourceThreadID string          `db:"source_thread_id" json:"source_thread_id"`
	SourceURL      string          `db:"source_url" json:"source_url,omitempty"`
	SourceConfigID string          `db:"source_config_id" json:"source_config_id"`
	Title          string          `db:"title" json:"title"`
	Content        string          `db:"content" json:"content"`
	Author         string          `db:"author" json:"author"`
	Participants   StringList      `db:"participants" json:"participants"`
	Status         Status          `db:"status" json:"status"`
	EventID        string          `db:"event_id" json:"event_id,omitempty"`
	JobID          *string         `db:"job_id" json:"job_id,omitempty"`
	RawPayload     json.RawMessage `db:"raw_payload" json:"-"`
	Metadata       MetadataMap     `db:"metadata" json:"metadata,omitempty"`
	ProcessedAt    *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// NewDiscussion builds a pending discussion from an adapter's parse output.
func NewDiscussion(id string, parsed *ParsedDiscussion, configID string, raw json.RawMessage) *Discussion {
	now := time.Now().UTC()
	return &Discussion{
		ID:             id,
		TenantID:       parsed.Tenant,
		Owner:          parsed.Author,
		SourceType:     parsed.SourceType,
		SourceThreadID: parsed.SourceThreadID,
		SourceURL:      parsed.SourceURL,
		SourceConfigID: configID,
		Title:          parsed.Title,
		Content:        parsed.Content,
		Author:         parsed.Author,
		Participants:   dedupeOrdered(parsed.Participants),
		Status:         StatusPending,
		EventID:        parsed.EventID,
		RawPayload:     raw,
		Metadata:       parsed.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// dedupeOrdered removes duplicates while preserving first-seen order.
func dedupeOrdered(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
