package models

import "time"

// ParsedDiscussion is an adapter's view of one incoming webhook payload.
// It is transient: ingress converts it into a Discussion before persisting.
type ParsedDiscussion struct {
	SourceType     string
	SourceThreadID string
	SourceURL      string
	Tenant         string
	EventID        string
	Author         string
	Title          string
	Content        string
	Participants   []string
	Timestamp      time.Time
	Metadata       MetadataMap
}
