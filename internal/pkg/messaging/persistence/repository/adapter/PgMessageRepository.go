package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	messaging "careline/internal/pkg/messaging/domain"
)

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

func (r *PgMessageRepository) Append(ctx context.Context, m messaging.Message) (string, time.Time, error) {
	if r == nil || r.pool == nil {
		return "", time.Time{}, errors.New("PgMessageRepository: nil pool")
	}
	var (
		id        string
		createdAt time.Time
	)
	// The store clock is the authority for global order.
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messaging.message (
			conversation_id, sender_id, sender_type, content, message_type, created_at
		) VALUES ($1::uuid, $2::uuid, $3, $4, $5, now())
		RETURNING id::text, created_at
	`, m.ConversationID, m.SenderID, m.SenderType, m.Content, m.MessageType).Scan(&id, &createdAt)
	if err != nil {
		return "", time.Time{}, err
	}
	return id, createdAt, nil
}

func (r *PgMessageRepository) History(ctx context.Context, conversationID string, limit, offset int) ([]messaging.Message, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgMessageRepository: nil pool")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, conversation_id::text, sender_id::text, sender_type,
		       content, message_type, read_at, created_at
		FROM messaging.message
		WHERE conversation_id = $1::uuid
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []messaging.Message
	index := make(map[string]int)
	for rows.Next() {
		var m messaging.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderType,
			&m.Content, &m.MessageType, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		index[m.ID] = len(msgs)
		msgs = append(msgs, m)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	if err := r.hydrateAttachments(ctx, conversationID, msgs, index); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *PgMessageRepository) hydrateAttachments(ctx context.Context, conversationID string, msgs []messaging.Message, index map[string]int) error {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id::text, a.message_id::text, a.file_name, a.file_url, a.file_type, a.file_size
		FROM messaging.message_attachment a
		JOIN messaging.message m ON m.id = a.message_id
		WHERE m.conversation_id = $1::uuid
		ORDER BY a.id ASC
	`, conversationID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var a messaging.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.FileName, &a.FileURL, &a.FileType, &a.FileSize); err != nil {
			return err
		}
		if i, ok := index[a.MessageID]; ok {
			msgs[i].Attachments = append(msgs[i].Attachments, a)
		}
	}
	return rows.Err()
}

func (r *PgMessageRepository) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error) {
	if r == nil || r.pool == nil {
		return 0, errors.New("PgMessageRepository: nil pool")
	}
	// read_at IS NULL keeps the transition one-way; the first read wins.
	ct, err := r.pool.Exec(ctx, `
		UPDATE messaging.message
		SET read_at = $3
		WHERE conversation_id = $1::uuid
		  AND sender_id <> $2::uuid
		  AND read_at IS NULL
	`, conversationID, readerID, at)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (r *PgMessageRepository) AddAttachment(ctx context.Context, a messaging.Attachment) (string, error) {
	if r == nil || r.pool == nil {
		return "", errors.New("PgMessageRepository: nil pool")
	}
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messaging.message_attachment (message_id, file_name, file_url, file_type, file_size)
		VALUES ($1::uuid, $2, $3, $4, $5)
		RETURNING id::text
	`, a.MessageID, a.FileName, a.FileURL, a.FileType, a.FileSize).Scan(&id)
	return id, err
}
