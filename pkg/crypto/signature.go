package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Replay windows per source. Requests whose timestamp is further than the
// window from current wall time are rejected even with a valid signature.
const (
	SlackReplayWindow   = 5 * time.Minute
	MailgunReplayWindow = 15 * time.Minute
)

// Sentinel errors for webhook verification.
var (
	ErrBadSignature   = errors.New("signature mismatch")
	ErrStaleTimestamp = errors.New("timestamp outside replay window")
	ErrMissingSecret  = errors.New("signing secret not configured")
)

// SlackVerifier checks Slack event-subscription request signatures:
// HMAC-SHA256 over "v0:{timestamp}:{raw-body}", compared as "v0={hex}".
type SlackVerifier struct {
	secret      string
	window      time.Duration
	allowUnsafe bool
	now         func() time.Time
}

// NewSlackVerifier creates a verifier. allowUnsafe disables verification
// when no secret is configured; it must only be set in development.
func NewSlackVerifier(secret string, allowUnsafe bool) *SlackVerifier {
	return &SlackVerifier{secret: secret, window: SlackReplayWindow, allowUnsafe: allowUnsafe, now: time.Now}
}

// Verify checks the request signature and replay window.
func (v *SlackVerifier) Verify(timestamp string, body []byte, signature string) error {
	if v.secret == "" {
		if v.allowUnsafe {
			return nil
		}
		return fmt.Errorf("%w: SLACK_SIGNING_SECRET", ErrMissingSecret)
	}
	if err := checkWindow(timestamp, v.window, v.now()); err != nil {
		return err
	}

	base := "v0:" + timestamp + ":" + string(body)
	expected := "v0=" + hmacHex(v.secret, base)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// MailgunVerifier checks forwarded-email webhook signatures:
// HMAC-SHA256 over "{timestamp}{token}", lowercase hex.
// The body is deliberately not part of the signed material; this matches the
// provider's scheme and must not be generalized to other providers.
type MailgunVerifier struct {
	secret      string
	window      time.Duration
	allowUnsafe bool
	now         func() time.Time
}

// NewMailgunVerifier creates a verifier; see NewSlackVerifier for allowUnsafe.
func NewMailgunVerifier(secret string, allowUnsafe bool) *MailgunVerifier {
	return &MailgunVerifier{secret: secret, window: MailgunReplayWindow, allowUnsafe: allowUnsafe, now: time.Now}
}

// Verify checks the token signature and replay window.
func (v *MailgunVerifier) Verify(timestamp, token, signature string) error {
	if v.secret == "" {
		if v.allowUnsafe {
			return nil
		}
		return fmt.Errorf("%w: MAILGUN_WEBHOOK_SECRET", ErrMissingSecret)
	}
	if err := checkWindow(timestamp, v.window, v.now()); err != nil {
		return err
	}

	expected := hmacHex(v.secret, timestamp+token)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrBadSignature
	}
	return nil
}

func hmacHex(secret, base string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

// checkWindow rejects timestamps older or newer than the window.
func checkWindow(timestamp string, window time.Duration, now time.Time) error {
	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: unparseable timestamp %q", ErrStaleTimestamp, timestamp)
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > window || age < -window {
		return ErrStaleTimestamp
	}
	return nil
}
