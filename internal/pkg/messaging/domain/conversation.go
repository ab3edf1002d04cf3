package messaging

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the triage lifecycle state of a conversation.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
	StatusArchived Status = "archived"
)

// ParseStatus maps a raw string onto the closed Status enumeration.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, nil
	case StatusResolved:
		return StatusResolved, nil
	case StatusArchived:
		return StatusArchived, nil
	}
	return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
}

// Priority orders conversations for triage.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ParsePriority maps a raw string onto the closed Priority enumeration.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityLow:
		return PriorityLow, nil
	case PriorityNormal:
		return PriorityNormal, nil
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityUrgent:
		return PriorityUrgent, nil
	}
	return "", &ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", s)}
}

// Conversation is a threaded exchange between a patient, a clinic and optionally
// admin staff, scoped to at most one booking. LastMessageAt is monotonically
// non-decreasing and advances only as a side effect of message append.
type Conversation struct {
	ID            string    `db:"id"`
	Subject       string    `db:"subject"`
	Status        Status    `db:"status"`
	Priority      Priority  `db:"priority"`
	AssignedTo    *string   `db:"assigned_to"`
	Tags          []string  `db:"tags"`
	PatientID     string    `db:"patient_id"`
	PatientName   string    `db:"patient_name"`
	ClinicID      string    `db:"clinic_id"`
	ClinicName    string    `db:"clinic_name"`
	BookingID     *string   `db:"booking_id"`
	CreatedAt     time.Time `db:"created_at"`
	LastMessageAt time.Time `db:"last_message_at"`
}

// NewConversation validates and normalizes a conversation before persistence.
func NewConversation(c Conversation) (*Conversation, error) {
	if c.PatientID == "" || c.ClinicID == "" {
		return nil, &ValidationError{Field: "participants", Reason: "patient_id and clinic_id are required"}
	}
	c.Subject = strings.TrimSpace(c.Subject)
	if c.Status == "" {
		c.Status = StatusActive
	}
	if c.Priority == "" {
		c.Priority = PriorityNormal
	}
	c.Tags = NormalizeTags(c.Tags)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.LastMessageAt.IsZero() {
		c.LastMessageAt = c.CreatedAt
	}
	return &c, nil
}

// HasTag reports whether the tag set contains tag.
func (c *Conversation) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Touch advances LastMessageAt, never moving it backwards.
func (c *Conversation) Touch(at time.Time) {
	if at.After(c.LastMessageAt) {
		c.LastMessageAt = at
	}
}

// NormalizeTags trims, lowercases, dedupes and sorts a tag list so it behaves
// as a set regardless of caller input order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
