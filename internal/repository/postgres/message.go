package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/pressroom/internal/models"
	"github.com/lalith-99/pressroom/internal/repository"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

const messageColumns = `id, order_id, sender_id, sender_role, recipient_id, body, created_at, read_at`

func scanMessage(row pgx.Row) (models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID,
		&msg.OrderID,
		&msg.SenderID,
		&msg.SenderRole,
		&msg.RecipientID,
		&msg.Body,
		&msg.CreatedAt,
		&msg.ReadAt,
	)
	return msg, err
}

// scopeFilter renders the WHERE fragment for a scope. Placeholders start
// at $next so callers can put their own arguments first.
func scopeFilter(scope models.Scope, next int) (string, []any, error) {
	p := func(i int) string { return "$" + strconv.Itoa(next+i) }

	switch scope.Kind {
	case models.ScopeOrder:
		return "order_id = " + p(0), []any{scope.OrderID}, nil
	case models.ScopeDirect:
		return "order_id IS NULL AND (sender_id = " + p(0) + " OR recipient_id = " + p(0) + ")",
			[]any{scope.PrincipalID}, nil
	case models.ScopeAdminBroadcast:
		return "order_id IS NULL AND recipient_id IS NULL", nil, nil
	default:
		return "", nil, fmt.Errorf("unsupported scope %q", scope.Key())
	}
}

func (s *MessageStore) Create(ctx context.Context, in repository.NewMessage) (*models.Message, error) {
	// Messages use bigserial, so ids are monotonic and double as the
	// pagination cursor.
	query := `
		INSERT INTO messages (order_id, sender_id, sender_role, recipient_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING ` + messageColumns

	msg, err := scanMessage(s.pool.QueryRow(ctx, query,
		in.OrderID, in.SenderID, in.SenderRole, in.RecipientID, in.Body))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

func (s *MessageStore) ListByScope(ctx context.Context, scope models.Scope, before int64, limit int) ([]models.Message, error) {
	where, args, err := scopeFilter(scope, 1)
	if err != nil {
		return nil, err
	}

	// before=0 is the first page. Both variants sort on the bigserial id,
	// which matches insertion order.
	if before > 0 {
		args = append(args, before)
		where += " AND id < $" + strconv.Itoa(len(args))
	}
	args = append(args, limit)
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ` + where + `
		ORDER BY id DESC
		LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// addressedTo renders the filter for messages meant for reader, using $1
// for the reader's id.
func addressedTo(reader models.Principal) string {
	if reader.IsAdmin() {
		return "sender_role = 'client'"
	}
	return "(sender_role = 'admin' OR recipient_id = $1)"
}

func (s *MessageStore) MarkScopeRead(ctx context.Context, scope models.Scope, reader models.Principal) (int64, error) {
	where, args, err := scopeFilter(scope, 2)
	if err != nil {
		return 0, err
	}

	// read_at IS NULL keeps the first read timestamp; a second call
	// touches zero rows.
	query := `
		UPDATE messages
		SET read_at = now()
		WHERE read_at IS NULL AND sender_id <> $1 AND ` + addressedTo(reader) + ` AND ` + where

	tag, err := s.pool.Exec(ctx, query, append([]any{reader.ID}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *MessageStore) CountUnreadFor(ctx context.Context, p models.Principal, orderIDs []string) (int64, error) {
	if orderIDs == nil {
		orderIDs = []string{}
	}

	var query string
	if p.IsAdmin() {
		query = `
			SELECT count(*) FROM messages
			WHERE read_at IS NULL AND sender_id <> $1
			  AND ((order_id IS NULL AND recipient_id IS NULL) OR order_id = ANY($2))`
	} else {
		query = `
			SELECT count(*) FROM messages
			WHERE read_at IS NULL AND sender_id <> $1
			  AND ((order_id IS NULL AND recipient_id = $1) OR order_id = ANY($2))`
	}

	var n int64
	if err := s.pool.QueryRow(ctx, query, p.ID, orderIDs).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return n, nil
}
