package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	messaging "careline/internal/pkg/messaging/domain"
)

type PgConversationRepository struct {
	pool *pgxpool.Pool
}

func NewPgConversationRepository(pool *pgxpool.Pool) *PgConversationRepository {
	return &PgConversationRepository{pool: pool}
}

func (r *PgConversationRepository) Create(ctx context.Context, c messaging.Conversation) (string, error) {
	if r == nil || r.pool == nil {
		return "", errors.New("PgConversationRepository: nil pool")
	}
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messaging.conversation (
			subject, status, priority, assigned_to, tags,
			patient_id, patient_name, clinic_id, clinic_name, booking_id,
			created_at, last_message_at
		) VALUES ($1, $2, $3, $4::uuid, $5, $6::uuid, $7, $8::uuid, $9, $10::uuid, $11, $12)
		RETURNING id::text
	`, c.Subject, c.Status, c.Priority, c.AssignedTo, c.Tags,
		c.PatientID, c.PatientName, c.ClinicID, c.ClinicName, c.BookingID,
		c.CreatedAt, c.LastMessageAt).Scan(&id)
	return id, err
}

func (r *PgConversationRepository) GetByID(ctx context.Context, id string) (*messaging.Conversation, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgConversationRepository: nil pool")
	}
	row := r.pool.QueryRow(ctx, `
		SELECT id::text, subject, status, priority, assigned_to::text, tags,
		       patient_id::text, patient_name, clinic_id::text, clinic_name,
		       booking_id::text, created_at, last_message_at
		FROM messaging.conversation
		WHERE id = $1::uuid
	`, id)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, messaging.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PgConversationRepository) List(ctx context.Context, f messaging.ConversationFilter) ([]messaging.Conversation, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgConversationRepository: nil pool")
	}
	rows, err := r.pool.Query(ctx, `
		SELECT c.id::text, c.subject, c.status, c.priority, c.assigned_to::text, c.tags,
		       c.patient_id::text, c.patient_name, c.clinic_id::text, c.clinic_name,
		       c.booking_id::text, c.created_at, c.last_message_at
		FROM messaging.conversation c
		LEFT JOIN LATERAL (
			SELECT m.content
			FROM messaging.message m
			WHERE m.conversation_id = c.id
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT 1
		) last_msg ON true
		WHERE ($1 = '' OR c.status = $1)
		  AND ($2 = '' OR c.priority = $2)
		  AND ($3 = '' OR c.assigned_to::text = $3)
		  AND ($4 = '' OR $4 = ANY(c.tags))
		  AND ($5 = ''
		       OR c.subject ILIKE '%' || $5 || '%'
		       OR c.patient_name ILIKE '%' || $5 || '%'
		       OR c.clinic_name ILIKE '%' || $5 || '%'
		       OR COALESCE(last_msg.content, '') ILIKE '%' || $5 || '%')
		ORDER BY c.last_message_at DESC
	`, string(f.Status), string(f.Priority), f.AssignedTo, f.Tag, f.Search)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []messaging.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return convs, nil
}

func (r *PgConversationRepository) UpdateStatus(ctx context.Context, id string, status messaging.Status) error {
	return r.updateField(ctx, "status", id, string(status))
}

func (r *PgConversationRepository) UpdatePriority(ctx context.Context, id string, priority messaging.Priority) error {
	return r.updateField(ctx, "priority", id, string(priority))
}

func (r *PgConversationRepository) UpdateTags(ctx context.Context, id string, tags []string) error {
	return r.updateField(ctx, "tags", id, messaging.NormalizeTags(tags))
}

func (r *PgConversationRepository) UpdateAssignee(ctx context.Context, id string, assignee *string) error {
	return r.updateField(ctx, "assigned_to", id, assignee)
}

func (r *PgConversationRepository) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.pool == nil {
		return errors.New("PgConversationRepository: nil pool")
	}
	// GREATEST keeps last_message_at monotone under concurrent appends.
	ct, err := r.pool.Exec(ctx, `
		UPDATE messaging.conversation
		SET last_message_at = GREATEST(last_message_at, $2)
		WHERE id = $1::uuid
	`, id, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return messaging.ErrNotFound
	}
	return nil
}

// updateField writes one triage column. Last writer wins at the field level;
// there is no version check.
func (r *PgConversationRepository) updateField(ctx context.Context, column, id string, value any) error {
	if r == nil || r.pool == nil {
		return errors.New("PgConversationRepository: nil pool")
	}
	var ct pgconn.CommandTag
	var err error
	switch column {
	case "status":
		ct, err = r.pool.Exec(ctx, `UPDATE messaging.conversation SET status = $2 WHERE id = $1::uuid`, id, value)
	case "priority":
		ct, err = r.pool.Exec(ctx, `UPDATE messaging.conversation SET priority = $2 WHERE id = $1::uuid`, id, value)
	case "tags":
		ct, err = r.pool.Exec(ctx, `UPDATE messaging.conversation SET tags = $2 WHERE id = $1::uuid`, id, value)
	case "assigned_to":
		ct, err = r.pool.Exec(ctx, `UPDATE messaging.conversation SET assigned_to = $2::uuid WHERE id = $1::uuid`, id, value)
	default:
		return errors.New("PgConversationRepository: unknown triage column " + column)
	}
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return messaging.ErrNotFound
	}
	return nil
}

func scanConversation(row pgx.Row) (*messaging.Conversation, error) {
	var c messaging.Conversation
	err := row.Scan(&c.ID, &c.Subject, &c.Status, &c.Priority, &c.AssignedTo, &c.Tags,
		&c.PatientID, &c.PatientName, &c.ClinicID, &c.ClinicName,
		&c.BookingID, &c.CreatedAt, &c.LastMessageAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
