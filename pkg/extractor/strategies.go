package extractor

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	quotedTitleRe = regexp.MustCompile(`[“"]([^”"]+)[”"]`)

	mentionRe   = regexp.MustCompile(`@[A-Za-z][\w.-]*`)
	fileURLRe   = regexp.MustCompile(`https?://(?:www\.)?figma\.com/(?:file|design)/([A-Za-z0-9]{8,})[^\s"'<>]*`)
	commentIDRe = regexp.MustCompile(`#comment[_-]?([A-Za-z0-9:_-]+)`)
	senderKeyRe = regexp.MustCompile(`[-_.]([A-Za-z0-9]{16,})$`)

	// Stylesheet at-rules that look like mentions once tags are stripped.
	cssPseudoMentions = []string{
		"@media", "@font-face", "@import", "@charset", "@keyframes",
		"@supports", "@page", "@namespace",
	}

	boilerplateMarkers = []string{
		"unsubscribe", "view in app", "open in app", "manage notifications",
		"notification settings", "all rights reserved", "privacy policy",
		"terms of service", "you are receiving this", "©", "(c) 20",
	}
)

const (
	maxCellLength  = 300
	mentionContext = 100
)

// Selectors known notification templates use for the comment body.
var commentSelectors = []string{
	".comment-text",
	".comment-body",
	".message-body",
	"div.comment",
	"td.comment",
	"blockquote",
}

type strategy struct {
	name    string
	extract func(doc *goquery.Document, botName string) string
}

var strategies = []strategy{
	{"bot_mention", extractBotMention},
	{"table_cell", extractTableCell},
	{"mention_context", extractMentionContext},
	{"selector", extractBySelector},
	{"longest_paragraph", extractLongestParagraph},
}

// extractCommentText runs the strategy cascade and returns the winning text
// and the name of the strategy that produced it.
func extractCommentText(doc *goquery.Document, botName string) (text, strategyName string) {
	for _, s := range strategies {
		if got := normalizeWhitespace(s.extract(doc, botName)); got != "" {
			return got, s.name
		}
	}
	return "", ""
}

// extractBotMention finds the longest run of text starting at a mention of
// the tenant's own bot handle.
func extractBotMention(doc *goquery.Document, botName string) string {
	if botName == "" {
		return ""
	}
	re, err := regexp.Compile(`(?i)@` + regexp.QuoteMeta(botName) + `\b[^\n<]*`)
	if err != nil {
		return ""
	}
	longest := ""
	for _, m := range re.FindAllString(doc.Text(), -1) {
		if len(m) > len(longest) {
			longest = m
		}
	}
	return longest
}

// extractTableCell scans <td> cells for short content carrying a real
// mention. Notification templates typically put the comment in its own cell.
func extractTableCell(doc *goquery.Document, _ string) string {
	var found string
	doc.Find("td").EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		text := normalizeWhitespace(cell.Text())
		if text == "" || len(text) > maxCellLength {
			return true
		}
		if !containsValidMention(text) || isBoilerplate(text) {
			return true
		}
		found = text
		return false
	})
	return found
}

// extractMentionContext takes any valid mention and returns the text around
// it.
func extractMentionContext(doc *goquery.Document, _ string) string {
	text := normalizeWhitespace(doc.Text())
	loc := findValidMention(text)
	if loc == nil {
		return ""
	}
	start := loc[0] - mentionContext
	if start < 0 {
		start = 0
	}
	end := loc[1] + mentionContext
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

// extractBySelector tries the selectors known templates use.
func extractBySelector(doc *goquery.Document, _ string) string {
	for _, sel := range commentSelectors {
		text := normalizeWhitespace(doc.Find(sel).First().Text())
		if text != "" && !isBoilerplate(text) {
			return text
		}
	}
	return ""
}

// extractLongestParagraph is the fallback: the longest block of text that is
// not footer boilerplate.
func extractLongestParagraph(doc *goquery.Document, _ string) string {
	longest := ""
	doc.Find("p, div, td").Each(func(_ int, block *goquery.Selection) {
		if block.Children().Length() > 0 {
			return
		}
		text := normalizeWhitespace(block.Text())
		if len(text) > len(longest) && !isBoilerplate(text) && !isCSSPseudoMention(text) {
			longest = text
		}
	})
	return longest
}

// extractFileKey locates the design-file key, trying the sender local part,
// decoded redirect links, then direct file links. It also returns the deep
// link when one was the source of the key.
func extractFileKey(doc *goquery.Document, sender string) (fileKey, sourceURL string) {
	if _, addr := splitDisplayName(sender); addr != "" {
		local, _, ok := strings.Cut(addr, "@")
		if ok {
			if m := senderKeyRe.FindStringSubmatch(local); m != nil {
				fileKey = m[1]
			}
		}
	}

	doc.Find("a[href]").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		candidate := href
		if decoded := decodedRedirectTarget(href); decoded != "" {
			candidate = decoded
		}
		if m := fileURLRe.FindStringSubmatch(candidate); m != nil {
			sourceURL = m[0]
			if fileKey == "" {
				fileKey = m[1]
			}
			return false
		}
		return true
	})

	// Last resort: a plain-text link in the body.
	if fileKey == "" {
		if m := fileURLRe.FindStringSubmatch(doc.Text()); m != nil {
			sourceURL = m[0]
			fileKey = m[1]
		}
	}
	return fileKey, sourceURL
}

// decodedRedirectTarget unwraps click-tracking links whose real target is
// carried in a query parameter.
func decodedRedirectTarget(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	for _, param := range []string{"url", "u", "redirect", "target"} {
		if target := u.Query().Get(param); target != "" {
			if decoded, err := url.QueryUnescape(target); err == nil {
				return decoded
			}
			return target
		}
	}
	return ""
}

func extractCommentID(doc *goquery.Document, sourceURL string) string {
	if m := commentIDRe.FindStringSubmatch(sourceURL); m != nil {
		return m[1]
	}
	var id string
	doc.Find("a[href]").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, _ := link.Attr("href")
		if m := commentIDRe.FindStringSubmatch(href); m != nil {
			id = m[1]
			return false
		}
		return true
	})
	return id
}

func splitDisplayName(sender string) (name, addr string) {
	return parseSender(sender)
}

// containsValidMention reports whether text carries an @mention that is not
// a stylesheet at-rule.
func containsValidMention(text string) bool {
	return findValidMention(text) != nil
}

// findValidMention returns the [start, end) of the first mention in text
// that is not a CSS pseudo-mention, or nil.
func findValidMention(text string) []int {
	for _, loc := range mentionRe.FindAllStringIndex(text, -1) {
		if !isCSSPseudoMention(text[loc[0]:loc[1]]) {
			return loc
		}
	}
	return nil
}

func isCSSPseudoMention(mention string) bool {
	lower := strings.ToLower(mention)
	for _, pseudo := range cssPseudoMentions {
		if strings.HasPrefix(lower, pseudo) {
			return true
		}
	}
	return false
}

// isBoilerplate reports whether text is footer content rather than a
// comment.
func isBoilerplate(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range boilerplateMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// normalizeWhitespace collapses runs of whitespace into single spaces and
// trims the result.
func normalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
