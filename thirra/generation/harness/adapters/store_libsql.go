package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
)

// LibSQLTurnStore implements TurnStore on the conversation_turns table.
// The schema is owned by the goose migrations in thirra/db.
type LibSQLTurnStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewLibSQLTurnStore creates a turn store over an open libsql connection.
func NewLibSQLTurnStore(db *sql.DB) *LibSQLTurnStore {
	return &LibSQLTurnStore{
		db:  db,
		now: time.Now,
	}
}

// AppendTurn inserts a turn, filling in a missing ID and timestamp.
func (s *LibSQLTurnStore) AppendTurn(ctx context.Context, turn ports.ConversationTurn) error {
	if turn.ConversationID == "" {
		return fmt.Errorf("append turn: empty conversation id")
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}

	query := `
		INSERT INTO conversation_turns (id, conversation_id, user_text, assistant_text, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		turn.ID,
		turn.ConversationID,
		nullableText(turn.UserText),
		nullableText(turn.AssistantText),
		turn.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}

	return nil
}

// ListTurns loads every turn of a conversation, oldest first.
func (s *LibSQLTurnStore) ListTurns(ctx context.Context, conversationID string) ([]ports.ConversationTurn, error) {
	query := `
		SELECT id, user_text, assistant_text, created_at FROM conversation_turns
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []ports.ConversationTurn
	for rows.Next() {
		var (
			id            string
			userText      sql.NullString
			assistantText sql.NullString
			createdAt     int64
		)
		if err := rows.Scan(&id, &userText, &assistantText, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}

		turns = append(turns, ports.ConversationTurn{
			ID:             id,
			ConversationID: conversationID,
			UserText:       userText.String,
			AssistantText:  assistantText.String,
			CreatedAt:      time.Unix(0, createdAt).UTC(),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	return turns, nil
}

func nullableText(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ensure LibSQLTurnStore implements the TurnStore interface.
var _ ports.TurnStore = (*LibSQLTurnStore)(nil)
