package notion

import (
	"sort"
	"strings"

	"github.com/threadsync/threadsync/pkg/models"
)

// buildProperties maps a task onto the tenant's database columns. Absent
// mappings omit the property entirely rather than writing a null.
func buildProperties(task Task, mapping models.FieldMapping) map[string]any {
	props := map[string]any{
		mapping.TitleProperty(): map[string]any{
			"title": []any{richText(task.Title)},
		},
	}
	if mapping.Status != "" && task.Status != "" {
		props[mapping.Status] = map[string]any{"select": map[string]string{"name": task.Status}}
	}
	if mapping.Priority != "" && task.Priority != "" {
		props[mapping.Priority] = map[string]any{"select": map[string]string{"name": task.Priority}}
	}
	if mapping.Assignee != "" && task.Assignee != "" {
		props[mapping.Assignee] = map[string]any{"rich_text": []any{richText(task.Assignee)}}
	}
	if mapping.Due != "" && task.Due != "" {
		props[mapping.Due] = map[string]any{"date": map[string]string{"start": task.Due}}
	}
	if mapping.Tags != "" && len(task.Tags) > 0 {
		options := make([]any, 0, len(task.Tags))
		for _, tag := range task.Tags {
			options = append(options, map[string]string{"name": tag})
		}
		props[mapping.Tags] = map[string]any{"multi_select": options}
	}
	if mapping.SourceURL != "" && task.SourceURL != "" {
		props[mapping.SourceURL] = map[string]any{"url": task.SourceURL}
	}
	return props
}

// buildPageBlocks assembles the page body in a fixed order: AI summary,
// description, metadata, source link, separated by a divider before the
// trailer.
func buildPageBlocks(task Task) []any {
	var blocks []any
	blocks = append(blocks, aiSummaryBlocks(task.AISummary)...)
	blocks = append(blocks, descriptionBlocks(task.Description)...)
	blocks = append(blocks, metadataBlocks(task.Metadata)...)
	if trailer := sourceLinkBlocks(task.SourceURL); len(trailer) > 0 {
		blocks = append(blocks, dividerBlock())
		blocks = append(blocks, trailer...)
	}
	return blocks
}

func aiSummaryBlocks(summary string) []any {
	if summary == "" {
		return nil
	}
	return []any{
		headingBlock("AI Summary"),
		paragraphBlock(summary),
	}
}

func descriptionBlocks(description string) []any {
	if description == "" {
		return nil
	}
	return []any{
		headingBlock("Description"),
		paragraphBlock(description),
	}
}

func metadataBlocks(metadata map[string]string) []any {
	if len(metadata) == 0 {
		return nil
	}
	keys := make([]string, 0, len(metadata))
	for key := range metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+": "+metadata[key])
	}
	return []any{
		headingBlock("Details"),
		paragraphBlock(strings.Join(lines, "\n")),
	}
}

func sourceLinkBlocks(sourceURL string) []any {
	if sourceURL == "" {
		return nil
	}
	return []any{paragraphBlock("Source: " + sourceURL)}
}

func headingBlock(text string) map[string]any {
	return map[string]any{
		"object":    "block",
		"type":      "heading_3",
		"heading_3": map[string]any{"rich_text": []any{richText(text)}},
	}
}

func paragraphBlock(text string) map[string]any {
	return map[string]any{
		"object":    "block",
		"type":      "paragraph",
		"paragraph": map[string]any{"rich_text": []any{richText(text)}},
	}
}

func dividerBlock() map[string]any {
	return map[string]any{
		"object":  "block",
		"type":    "divider",
		"divider": map[string]any{},
	}
}

func richText(content string) map[string]any {
	return map[string]any{
		"type": "text",
		"text": map[string]string{"content": content},
	}
}
