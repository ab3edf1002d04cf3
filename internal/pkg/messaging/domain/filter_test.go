package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleConversation() Conversation {
	assignee := "staff-7"
	return Conversation{
		ID:          "c1",
		Subject:     "Hair transplant consultation",
		Status:      StatusActive,
		Priority:    PriorityHigh,
		AssignedTo:  &assignee,
		Tags:        []string{"follow-up", "visa"},
		PatientName: "Jane Smith",
		ClinicName:  "Istanbul Dental Clinic",
	}
}

func TestFilterMatchesStatusAndPriority(t *testing.T) {
	c := sampleConversation()

	assert.True(t, ConversationFilter{Status: StatusActive}.Matches(c, ""))
	assert.False(t, ConversationFilter{Status: StatusResolved}.Matches(c, ""))
	assert.True(t, ConversationFilter{Priority: PriorityHigh}.Matches(c, ""))
	assert.False(t, ConversationFilter{Priority: PriorityLow}.Matches(c, ""))
}

func TestFilterMatchesAssigneeAndTag(t *testing.T) {
	c := sampleConversation()

	assert.True(t, ConversationFilter{AssignedTo: "staff-7"}.Matches(c, ""))
	assert.False(t, ConversationFilter{AssignedTo: "staff-9"}.Matches(c, ""))

	unassigned := c
	unassigned.AssignedTo = nil
	assert.False(t, ConversationFilter{AssignedTo: "staff-7"}.Matches(unassigned, ""))

	assert.True(t, ConversationFilter{Tag: " VISA "}.Matches(c, ""))
	assert.False(t, ConversationFilter{Tag: "billing"}.Matches(c, ""))
}

func TestFilterFreeTextSearchSpansFields(t *testing.T) {
	c := sampleConversation()

	// Clinic name match.
	assert.True(t, ConversationFilter{Search: "istanbul"}.Matches(c, ""))
	// Subject match.
	assert.True(t, ConversationFilter{Search: "Transplant"}.Matches(c, ""))
	// Last message content match.
	assert.True(t, ConversationFilter{Search: "flights"}.Matches(c, "We booked the flights already"))
	// No field matches.
	assert.False(t, ConversationFilter{Search: "rhinoplasty"}.Matches(c, "see you monday"))
}

func TestFilterSearchCombinesWithStructuredFields(t *testing.T) {
	c := sampleConversation()

	assert.True(t, ConversationFilter{Status: StatusActive, Search: "istanbul"}.Matches(c, ""))
	assert.False(t, ConversationFilter{Status: StatusArchived, Search: "istanbul"}.Matches(c, ""))
}

func TestCacheKeyIsStablePerFilter(t *testing.T) {
	a := ConversationFilter{Status: StatusActive, Search: " Istanbul "}
	b := ConversationFilter{Status: StatusActive, Search: "istanbul"}
	c := ConversationFilter{Status: StatusResolved, Search: "istanbul"}

	assert.Equal(t, a.CacheKey(), b.CacheKey(), "normalized search shares one key")
	assert.NotEqual(t, a.CacheKey(), c.CacheKey())
}
