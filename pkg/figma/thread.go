package figma

import (
	"context"
	"fmt"
	"sort"

	"github.com/threadsync/threadsync/pkg/models"
)

// FetchThread assembles the comment thread containing commentID: the root
// is found by walking parent pointers upward, then every comment replying
// to that root is collected in creation order.
func (c *Client) FetchThread(ctx context.Context, fileKey, commentID string) (*models.Thread, error) {
	comments, err := c.ListComments(ctx, fileKey)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Comment, len(comments))
	for _, comment := range comments {
		byID[comment.ID] = comment
	}

	root, err := findRoot(byID, commentID)
	if err != nil {
		return nil, err
	}

	var replies []Comment
	for _, comment := range comments {
		if comment.ParentID == root.ID {
			replies = append(replies, comment)
		}
	}
	sort.Slice(replies, func(i, j int) bool {
		return replies[i].CreatedAt.Before(replies[j].CreatedAt)
	})

	thread := &models.Thread{
		ID:       root.ID,
		Root:     toThreadMessage(root),
		Metadata: models.MetadataMap{"file_key": fileKey},
	}
	seen := map[string]bool{root.User.Handle: true}
	thread.Participants = []string{root.User.Handle}
	for _, reply := range replies {
		thread.Replies = append(thread.Replies, toThreadMessage(reply))
		if handle := reply.User.Handle; handle != "" && !seen[handle] {
			seen[handle] = true
			thread.Participants = append(thread.Participants, handle)
		}
	}
	return thread, nil
}

// findRoot walks parent pointers from commentID to the thread root,
// stopping on a missing parent or a cycle.
func findRoot(byID map[string]Comment, commentID string) (Comment, error) {
	current, ok := byID[commentID]
	if !ok {
		return Comment{}, fmt.Errorf("comment %s not found", commentID)
	}
	visited := map[string]bool{current.ID: true}
	for current.ParentID != "" {
		parent, ok := byID[current.ParentID]
		if !ok || visited[parent.ID] {
			break
		}
		visited[parent.ID] = true
		current = parent
	}
	return current, nil
}

func toThreadMessage(comment Comment) models.ThreadMessage {
	return models.ThreadMessage{
		ID:        comment.ID,
		Author:    comment.User.Handle,
		Content:   comment.Message,
		Timestamp: comment.CreatedAt,
	}
}
