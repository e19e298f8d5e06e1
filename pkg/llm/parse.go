package llm

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
)

const maxTitleLength = 50

var validPriorities = map[string]bool{"low": true, "medium": true, "high": true}

// parseSummary decodes the model's summary JSON. Unparseable output
// degrades to the raw text as the summary.
func parseSummary(text string) SummaryResult {
	var result SummaryResult
	if err := decodeModelJSON(text, &result); err != nil || result.Summary == "" {
		return SummaryResult{Summary: strings.TrimSpace(text)}
	}
	return result
}

// parseDetection decodes the model's detection JSON and normalises it.
// Unparseable output degrades to a single task wrapping the original
// comment; the parse error never reaches the pipeline.
func parseDetection(text, commentText string) DetectionResult {
	var result DetectionResult
	if err := decodeModelJSON(text, &result); err != nil {
		return fallbackDetection(commentText)
	}
	if len(result.Tasks) == 0 {
		return fallbackDetection(commentText)
	}

	for i := range result.Tasks {
		normalizeTask(&result.Tasks[i])
	}
	result.IsMultiTask = result.IsMultiTask && len(result.Tasks) >= 2
	return result
}

func normalizeTask(task *DetectedTask) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Title = truncate(strings.TrimSpace(task.Title), maxTitleLength)
	if task.Title == "" {
		task.Title = truncate(task.Description, maxTitleLength)
	}
	if !validPriorities[strings.ToLower(task.Priority)] {
		task.Priority = "medium"
	} else {
		task.Priority = strings.ToLower(task.Priority)
	}
}

func fallbackDetection(commentText string) DetectionResult {
	comment := strings.TrimSpace(commentText)
	return DetectionResult{
		IsMultiTask: false,
		Tasks: []DetectedTask{{
			ID:          uuid.NewString(),
			Title:       truncate(comment, maxTitleLength),
			Description: comment,
			Priority:    "medium",
		}},
	}
}

// decodeModelJSON pulls the outermost JSON object out of the model's text
// and decodes it, repairing almost-JSON (trailing commas, unquoted keys)
// before giving up.
func decodeModelJSON(text string, out any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	if err := json.Unmarshal([]byte(text), out); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(repaired), out)
}

// truncate caps s at max runes, preferring to break at a space past the
// halfway point. Slicing by rune keeps multi-byte characters intact.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := string(runes[:max])
	if idx := strings.LastIndex(cut, " "); idx > max/2 {
		cut = cut[:idx]
	}
	return cut
}
