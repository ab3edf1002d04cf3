package messaging

import (
	"strings"
)

// ConversationFilter narrows a conversation listing. Zero values mean "any".
// Search is free text matched against subject, last message content and
// participant names.
type ConversationFilter struct {
	Status     Status
	Priority   Priority
	AssignedTo string
	Tag        string
	Search     string
}

// Matches evaluates the filter against a conversation. lastMessage is the
// content of the newest message, empty when the thread has none.
func (f ConversationFilter) Matches(c Conversation, lastMessage string) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Priority != "" && c.Priority != f.Priority {
		return false
	}
	if f.AssignedTo != "" && (c.AssignedTo == nil || *c.AssignedTo != f.AssignedTo) {
		return false
	}
	if f.Tag != "" && !c.HasTag(strings.ToLower(strings.TrimSpace(f.Tag))) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(strings.TrimSpace(f.Search))
		haystack := strings.ToLower(strings.Join([]string{
			c.Subject, lastMessage, c.PatientName, c.ClinicName,
		}, "\n"))
		if !strings.Contains(haystack, needle) {
			return false
		}
	}
	return true
}

// CacheKey derives a stable cache identity for this filter so equal queries
// share one cached result.
func (f ConversationFilter) CacheKey() string {
	var b strings.Builder
	b.WriteString("conversations:list")
	b.WriteString(":s=")
	b.WriteString(string(f.Status))
	b.WriteString(":p=")
	b.WriteString(string(f.Priority))
	b.WriteString(":a=")
	b.WriteString(f.AssignedTo)
	b.WriteString(":t=")
	b.WriteString(strings.ToLower(strings.TrimSpace(f.Tag)))
	b.WriteString(":q=")
	b.WriteString(strings.ToLower(strings.TrimSpace(f.Search)))
	return b.String()
}
