// Package ingress turns verified webhook deliveries into persisted pending
// discussions and kicks off background processing. It owns the dedupe rules:
// a source-supplied event id or the (tenant, source, thread) triple seen
// before means the delivery is acknowledged without a second discussion.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/threadsync/threadsync/pkg/adapter"
	"github.com/threadsync/threadsync/pkg/crypto"
	"github.com/threadsync/threadsync/pkg/models"
	"github.com/threadsync/threadsync/pkg/processor"
	"github.com/threadsync/threadsync/pkg/store"
)

// ErrNoActiveConfig is returned when the tenant has no active source config
// for the delivery's source type. The webhook layer maps it to 404.
var ErrNoActiveConfig = errors.New("no active source config")

// ErrBadPayload marks deliveries the adapter could not make sense of. The
// webhook layer maps it to 400.
var ErrBadPayload = errors.New("bad payload")

// OutcomeKind classifies how a delivery was handled.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeAccepted  OutcomeKind = "accepted"
	OutcomeIgnored   OutcomeKind = "ignored"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeChallenge OutcomeKind = "challenge"
)

// Outcome is the result of ingesting one delivery. OK is always true; a
// delivery that cannot be accepted surfaces as an error instead.
type Outcome struct {
	OK           bool        `json:"ok"`
	Kind         OutcomeKind `json:"status"`
	DiscussionID string      `json:"discussion_id,omitempty"`
	Challenge    string      `json:"challenge,omitempty"`
}

// Launcher starts background processing for a persisted discussion.
type Launcher interface {
	ProcessWithRetry(ctx context.Context, discussionID string) (*processor.Result, error)
}

// Service is the ingestion pipeline between webhook transport and storage.
type Service struct {
	store    store.Store
	registry *adapter.Registry
	launcher Launcher

	slackVerifier   *crypto.SlackVerifier
	mailgunVerifier *crypto.MailgunVerifier

	logger *slog.Logger

	// launch is swappable so tests can intercept the goroutine hand-off.
	launch func(discussionID string)
}

// NewService creates the ingestion service.
func NewService(st store.Store, registry *adapter.Registry, launcher Launcher, slackV *crypto.SlackVerifier, mailgunV *crypto.MailgunVerifier) *Service {
	s := &Service{
		store:           st,
		registry:        registry,
		launcher:        launcher,
		slackVerifier:   slackV,
		mailgunVerifier: mailgunV,
		logger:          slog.Default().With("component", "ingress"),
	}
	s.launch = s.launchProcessing
	return s
}

// VerifySlack checks a Slack request signature.
func (s *Service) VerifySlack(timestamp string, body []byte, signature string) error {
	return s.slackVerifier.Verify(timestamp, body, signature)
}

// VerifyMailgun checks a forwarded-email webhook signature.
func (s *Service) VerifyMailgun(timestamp, token, signature string) error {
	return s.mailgunVerifier.Verify(timestamp, token, signature)
}

// IngestSlack handles one verified Slack event delivery. URL-verification
// handshakes are answered inline and never reach an adapter.
func (s *Service) IngestSlack(ctx context.Context, raw []byte) (*Outcome, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding event payload: %v", ErrBadPayload, err)
	}

	if t, _ := payload["type"].(string); t == "url_verification" {
		challenge, _ := payload["challenge"].(string)
		return &Outcome{OK: true, Kind: OutcomeChallenge, Challenge: challenge}, nil
	}

	return s.ingest(ctx, "slack_mention", payload, raw)
}

// IngestEmail handles one verified forwarded-email delivery. The payload is
// the provider's form fields as a map.
func (s *Service) IngestEmail(ctx context.Context, payload map[string]any, raw []byte) (*Outcome, error) {
	return s.ingest(ctx, "figma_email", payload, raw)
}

// ingest is the shared path: parse, dedupe, resolve config, persist, launch.
func (s *Service) ingest(ctx context.Context, sourceType string, payload map[string]any, raw []byte) (*Outcome, error) {
	src, err := s.registry.Get(sourceType)
	if err != nil {
		return nil, err
	}

	parsed, err := src.ParseIncoming(ctx, payload)
	if errors.Is(err, adapter.ErrIgnoreEvent) {
		s.logger.Debug("ignoring delivery", "source", sourceType, "reason", err)
		return &Outcome{OK: true, Kind: OutcomeIgnored}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	discussions := s.store.Discussions()
	if parsed.EventID != "" {
		if existing, err := discussions.FindByEventID(ctx, parsed.Tenant, parsed.EventID); err == nil {
			s.logger.Info("duplicate delivery by event id",
				"tenant", parsed.Tenant, "event_id", parsed.EventID, "discussion_id", existing.ID)
			return &Outcome{OK: true, Kind: OutcomeDuplicate, DiscussionID: existing.ID}, nil
		}
	}
	if existing, err := discussions.FindByThread(ctx, parsed.Tenant, parsed.SourceType, parsed.SourceThreadID); err == nil {
		s.logger.Info("duplicate delivery by thread",
			"tenant", parsed.Tenant, "thread_id", parsed.SourceThreadID, "discussion_id", existing.ID)
		return &Outcome{OK: true, Kind: OutcomeDuplicate, DiscussionID: existing.ID}, nil
	}

	cfg, err := s.store.SourceConfigs().FindActive(ctx, parsed.Tenant, parsed.SourceType)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w for tenant %s and source %s", ErrNoActiveConfig, parsed.Tenant, parsed.SourceType)
	}
	if err != nil {
		return nil, fmt.Errorf("resolving source config: %w", err)
	}

	d := models.NewDiscussion(uuid.NewString(), parsed, cfg.ID, json.RawMessage(raw))
	if err := discussions.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("persisting discussion: %w", err)
	}

	s.logger.Info("discussion ingested",
		"discussion_id", d.ID, "tenant", d.TenantID, "source", d.SourceType, "thread_id", d.SourceThreadID)

	s.launch(d.ID)
	return &Outcome{OK: true, Kind: OutcomeAccepted, DiscussionID: d.ID}, nil
}

// launchProcessing hands the discussion to the processor in the background.
// The webhook response never waits on the pipeline; launch problems are only
// logged.
func (s *Service) launchProcessing(discussionID string) {
	go func() {
		if _, err := s.launcher.ProcessWithRetry(context.Background(), discussionID); err != nil {
			s.logger.Error("background processing failed", "discussion_id", discussionID, "error", err)
		}
	}()
}
