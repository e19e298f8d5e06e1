package models

import "time"

// AttachmentKind classifies a thread message attachment.
type AttachmentKind string

// AttachmentKind values.
const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
	AttachmentLink  AttachmentKind = "link"
)

// Attachment is a file, image, or link carried by a thread message.
type Attachment struct {
	ID   string         `json:"id"`
	Kind AttachmentKind `json:"kind"`
	URL  string         `json:"url"`
	Name string         `json:"name,omitempty"`
	Mime string         `json:"mime,omitempty"`
}

// ThreadMessage is a single message inside a conversation thread.
type ThreadMessage struct {
	ID          string       `json:"id"`
	Author      string       `json:"author"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Thread is a conversation snapshot fetched from a source: the root message
// plus its ordered replies.
type Thread struct {
	ID           string            `json:"id"`
	Root         ThreadMessage     `json:"root"`
	Replies      []ThreadMessage   `json:"replies,omitempty"`
	Participants []string          `json:"participants,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// MessageIDs returns the ordered ids of the root and every reply.
// Used as a cache key for LLM summaries.
func (t *Thread) MessageIDs() []string {
	ids := make([]string, 0, len(t.Replies)+1)
	ids = append(ids, t.Root.ID)
	for _, r := range t.Replies {
		ids = append(ids, r.ID)
	}
	return ids
}

// Messages returns the root followed by all replies.
func (t *Thread) Messages() []ThreadMessage {
	out := make([]ThreadMessage, 0, len(t.Replies)+1)
	out = append(out, t.Root)
	return append(out, t.Replies...)
}
