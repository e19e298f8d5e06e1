// Package extractor turns emailed notification HTML into the structured
// fields the email adapter needs. Notification templates vary by sender and
// change without notice, so extraction is a cascade of strategies from most
// to least specific; the first one that yields a non-empty comment text wins.
package extractor

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/threadsync/threadsync/pkg/models"
)

// Email is one inbound notification as delivered by the mail provider.
type Email struct {
	HTMLBody  string
	Sender    string // RFC 5322 From, may carry a display name
	Recipient string
	Subject   string
}

// Result is the extractor's output. CommentText and FileKey are both
// required for success; the rest is best effort.
type Result struct {
	CommentText string
	FileKey     string
	CommentID   string
	FileName    string
	AuthorEmail string
	AuthorName  string
	SourceURL   string
	Metadata    models.MetadataMap
}

// Extract parses the email and returns the structured comment record.
// botName is the tenant's bot handle used by the highest-priority strategy;
// it may be empty. Extraction fails when no strategy finds a comment text
// or no file key can be located.
func Extract(email Email, botName string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(email.HTMLBody))
	if err != nil {
		return nil, fmt.Errorf("parsing email HTML: %w", err)
	}

	text, strategy := extractCommentText(doc, botName)
	if text == "" {
		return nil, fmt.Errorf("no comment text found in email from %s", email.Sender)
	}

	fileKey, sourceURL := extractFileKey(doc, email.Sender)
	if fileKey == "" {
		return nil, fmt.Errorf("no file key found in email from %s", email.Sender)
	}

	result := &Result{
		CommentText: text,
		FileKey:     fileKey,
		CommentID:   extractCommentID(doc, sourceURL),
		FileName:    fileNameFromSubject(email.Subject),
		SourceURL:   sourceURL,
		Metadata: models.MetadataMap{
			"extraction_strategy": strategy,
			"recipient":           email.Recipient,
		},
	}
	result.AuthorName, result.AuthorEmail = parseSender(email.Sender)
	return result, nil
}

// parseSender splits an RFC 5322 From value into display name and address.
// Malformed senders fall back to the raw string as the address.
func parseSender(sender string) (name, email string) {
	addr, err := mail.ParseAddress(sender)
	if err != nil {
		return "", strings.TrimSpace(sender)
	}
	return addr.Name, addr.Address
}

// fileNameFromSubject pulls the design-file name out of subjects shaped
// like `New comment on "Homepage redesign"` or `Re: Homepage redesign`.
func fileNameFromSubject(subject string) string {
	if m := quotedTitleRe.FindStringSubmatch(subject); m != nil {
		return m[1]
	}
	s := strings.TrimSpace(subject)
	for _, prefix := range []string{"Re:", "Fwd:", "FW:"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
	}
	return s
}
