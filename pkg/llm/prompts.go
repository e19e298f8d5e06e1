package llm

import (
	"fmt"
	"strings"

	"github.com/threadsync/threadsync/pkg/models"
)

const summarySystemPrompt = `You summarise design and engineering discussions.
Respond with a single JSON object, no prose around it:
{"summary": "...", "keyPoints": ["..."], "suggestedActions": ["..."]}`

const detectSystemPrompt = `You extract actionable tasks from collaboration comments.
Respond with a single JSON object, no prose around it:
{"isMultiTask": bool, "tasks": [{"title": "...", "description": "...", "priority": "low|medium|high"}], "overallContext": "..."}
Titles must stay under 50 characters. Only emit isMultiTask=true when the
comment clearly contains two or more independent pieces of work.`

func summaryUserPrompt(thread *models.Thread, fileName, customPrompt string) string {
	var sb strings.Builder
	if fileName != "" {
		fmt.Fprintf(&sb, "File: %s\n\n", fileName)
	}
	sb.WriteString("Discussion:\n")
	for _, msg := range thread.Messages() {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Author, msg.Content)
	}
	if customPrompt != "" {
		fmt.Fprintf(&sb, "\nAdditional instructions: %s\n", customPrompt)
	}
	return sb.String()
}

func detectUserPrompt(commentText, threadContext, fileName, customPrompt string) string {
	var sb strings.Builder
	if fileName != "" {
		fmt.Fprintf(&sb, "File: %s\n\n", fileName)
	}
	fmt.Fprintf(&sb, "Comment:\n%s\n", commentText)
	if threadContext != "" {
		fmt.Fprintf(&sb, "\nThread context:\n%s\n", threadContext)
	}
	if customPrompt != "" {
		fmt.Fprintf(&sb, "\nAdditional instructions: %s\n", customPrompt)
	}
	return sb.String()
}
