// Package triage mutates conversation metadata (status, priority, tags,
// assignee) with the same apply/commit/rollback shape as an optimistic send,
// but by whole-field replacement instead of append. Concurrent edits to the
// same field resolve by last-writer-wins; there is no version check.
package triage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"careline/internal/metrics"
	"careline/internal/pkg/messaging/application/notify"
	"careline/internal/pkg/messaging/application/querycache"
	repository "careline/internal/pkg/messaging/persistence/repository/port"

	messaging "careline/internal/pkg/messaging/domain"
)

// Field names one independently mutable triage column.
type Field string

const (
	FieldStatus   Field = "status"
	FieldPriority Field = "priority"
	FieldTags     Field = "tags"
	FieldAssignee Field = "assignee"
)

// Event reports how a triage update settled. Err is a
// *messaging.TransportError after the field was reverted.
type Event struct {
	ConversationID string
	Field          Field
	Err            error
}

// Config wires a Manager. Cache, Metrics and Notifier may be nil.
type Config struct {
	Conversations repository.ConversationRepository
	Cache         *querycache.Cache
	Notifier      notify.Notifier
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
	UpdateTimeout time.Duration
}

// Manager holds the local known-good view of the conversations a session has
// open and settles triage edits against the store.
type Manager struct {
	repo     repository.ConversationRepository
	cache    *querycache.Cache
	notifier notify.Notifier
	log      zerolog.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration

	mu    sync.Mutex
	local map[string]*messaging.Conversation

	events chan Event
	wg     sync.WaitGroup
}

// NewManager constructs a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = 10 * time.Second
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	return &Manager{
		repo:     cfg.Conversations,
		cache:    cfg.Cache,
		notifier: cfg.Notifier,
		log:      cfg.Logger.With().Str("component", "triage").Logger(),
		metrics:  cfg.Metrics,
		timeout:  cfg.UpdateTimeout,
		local:    make(map[string]*messaging.Conversation),
		events:   make(chan Event, 32),
	}
}

// Load hydrates the local view for a conversation from the store.
func (m *Manager) Load(ctx context.Context, id string) (messaging.Conversation, error) {
	c, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return messaging.Conversation{}, &messaging.TransportError{Op: "conversation fetch", Err: err}
	}
	m.mu.Lock()
	m.local[id] = c
	m.mu.Unlock()
	return *c, nil
}

// Track registers an already-fetched conversation as the local known-good view.
func (m *Manager) Track(c messaging.Conversation) {
	m.mu.Lock()
	cp := c
	m.local[c.ID] = &cp
	m.mu.Unlock()
}

// Get returns the current local view.
func (m *Manager) Get(id string) (messaging.Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.local[id]
	if !ok {
		return messaging.Conversation{}, false
	}
	return *c, true
}

// UpdateStatus optimistically replaces the status field.
func (m *Manager) UpdateStatus(id string, status messaging.Status, actorID string) error {
	if _, err := messaging.ParseStatus(string(status)); err != nil {
		return err
	}
	return m.update(id, FieldStatus, string(status), actorID,
		func(c *messaging.Conversation) func(*messaging.Conversation) {
			prior := c.Status
			c.Status = status
			return func(c *messaging.Conversation) { c.Status = prior }
		},
		func(ctx context.Context) error { return m.repo.UpdateStatus(ctx, id, status) },
	)
}

// UpdatePriority optimistically replaces the priority field.
func (m *Manager) UpdatePriority(id string, priority messaging.Priority, actorID string) error {
	if _, err := messaging.ParsePriority(string(priority)); err != nil {
		return err
	}
	return m.update(id, FieldPriority, string(priority), actorID,
		func(c *messaging.Conversation) func(*messaging.Conversation) {
			prior := c.Priority
			c.Priority = priority
			return func(c *messaging.Conversation) { c.Priority = prior }
		},
		func(ctx context.Context) error { return m.repo.UpdatePriority(ctx, id, priority) },
	)
}

// UpdateTags optimistically replaces the whole tag set.
func (m *Manager) UpdateTags(id string, tags []string, actorID string) error {
	normalized := messaging.NormalizeTags(tags)
	return m.update(id, FieldTags, joinTags(normalized), actorID,
		func(c *messaging.Conversation) func(*messaging.Conversation) {
			prior := c.Tags
			c.Tags = normalized
			return func(c *messaging.Conversation) { c.Tags = prior }
		},
		func(ctx context.Context) error { return m.repo.UpdateTags(ctx, id, normalized) },
	)
}

// UpdateAssignee optimistically replaces the assignee; nil unassigns.
func (m *Manager) UpdateAssignee(id string, assignee *string, actorID string) error {
	value := ""
	if assignee != nil {
		value = *assignee
	}
	return m.update(id, FieldAssignee, value, actorID,
		func(c *messaging.Conversation) func(*messaging.Conversation) {
			prior := c.AssignedTo
			c.AssignedTo = assignee
			return func(c *messaging.Conversation) { c.AssignedTo = prior }
		},
		func(ctx context.Context) error { return m.repo.UpdateAssignee(ctx, id, assignee) },
	)
}

// update applies the mutation locally, then settles the durable write on a
// background goroutine, reverting the field on failure.
func (m *Manager) update(id string, field Field, value, actorID string,
	mutate func(*messaging.Conversation) func(*messaging.Conversation),
	durable func(ctx context.Context) error,
) error {
	m.mu.Lock()
	c, ok := m.local[id]
	if !ok {
		m.mu.Unlock()
		return messaging.ErrNotFound
	}
	revert := mutate(c)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		if err := durable(ctx); err != nil {
			m.mu.Lock()
			if cur, ok := m.local[id]; ok {
				revert(cur)
			}
			m.mu.Unlock()
			if m.metrics != nil {
				m.metrics.TriageRollbacks.Inc()
				m.metrics.TriageUpdatesTotal.WithLabelValues(string(field), "error").Inc()
			}
			m.log.Warn().Err(err).Str("conversation_id", id).Str("field", string(field)).Msg("triage update reverted")
			m.emit(Event{ConversationID: id, Field: field, Err: &messaging.TransportError{Op: "triage update", Err: err}})
			return
		}

		if m.metrics != nil {
			m.metrics.TriageUpdatesTotal.WithLabelValues(string(field), "ok").Inc()
		}
		if m.cache != nil {
			m.cache.InvalidateAll(ctx)
		}
		m.notifier.TriageChanged(ctx, id, string(field), value, actorID)
		m.emit(Event{ConversationID: id, Field: field})
	}()

	return nil
}

// Events exposes settle outcomes; buffered, oldest dropped when unread.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Wait blocks until every in-flight update has settled.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) emit(ev Event) {
	for {
		select {
		case m.events <- ev:
			return
		default:
			select {
			case <-m.events:
			default:
			}
		}
	}
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}
