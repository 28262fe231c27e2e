package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/fathomlabs/agentcore/pkg/models"
)

// Dialect selects the SQL placeholder style and driver a SQLStore targets.
// The query text is otherwise identical across both.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore is a database/sql-backed Store, grounded on the ancestor's
// CockroachDB session store: prepared statements for the hot paths, JSON
// columns for the reference-typed Message fields, CRUD over a *sql.DB.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect

	stmtInsert *sql.Stmt
}

// OpenSQLStore opens (and pings) a database connection for the given
// dialect/DSN and prepares the store's statements. driverName is
// "postgres" or "sqlite".
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	driverName := "postgres"
	if dialect == DialectSQLite {
		driverName = "sqlite"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", driverName, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping %s: %w", driverName, err)
	}

	store := &SQLStore{db: db, dialect: dialect}
	if err := store.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStoreFromDB wraps an already-open *sql.DB (used by tests against
// go-sqlmock, which supplies its own driver connection).
func NewSQLStoreFromDB(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	store := &SQLStore{db: db, dialect: dialect}
	if err := store.prepare(); err != nil {
		return nil, err
	}
	return store, nil
}

// schemaSQL creates the table backing a SQLStore. Kept inline rather than
// as an embedded migration set (the ancestor's sessions package uses
// go:embed over a migrations/ directory) since this store owns a single
// table with no revision history to track yet.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS history_messages (
	id STRING PRIMARY KEY,
	user_id STRING NOT NULL,
	session_id STRING,
	channel STRING,
	channel_id STRING,
	direction STRING,
	role STRING,
	content STRING,
	attachments JSONB,
	tool_calls JSONB,
	tool_results JSONB,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL
)`

// EnsureSchema creates history_messages if it doesn't already exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("history: ensure schema: %w", err)
	}
	return nil
}

func (s *SQLStore) placeholder(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) prepare() error {
	var err error
	s.stmtInsert, err = s.db.Prepare(fmt.Sprintf(`
		INSERT INTO history_messages
			(id, user_id, session_id, channel, channel_id, direction, role, content, attachments, tool_calls, tool_results, metadata, created_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
	`, s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5),
		s.placeholder(6), s.placeholder(7), s.placeholder(8), s.placeholder(9), s.placeholder(10),
		s.placeholder(11), s.placeholder(12), s.placeholder(13)))
	if err != nil {
		return fmt.Errorf("history: prepare insert: %w", err)
	}
	return nil
}

// Close releases the store's prepared statements and database handle.
func (s *SQLStore) Close() error {
	if s.stmtInsert != nil {
		s.stmtInsert.Close()
	}
	return s.db.Close()
}

func (s *SQLStore) Add(ctx context.Context, userID string, msg models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("history: marshal attachments: %w", err)
	}
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("history: marshal tool calls: %w", err)
	}
	toolResults, err := json.Marshal(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("history: marshal tool results: %w", err)
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("history: marshal metadata: %w", err)
	}

	_, err = s.stmtInsert.ExecContext(ctx,
		msg.ID, userID, msg.SessionID, msg.Channel, msg.ChannelID, msg.Direction, msg.Role,
		msg.Content, attachments, toolCalls, toolResults, metadata, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("history: insert message: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, userID string, maxMessages int, maxAge time.Duration) ([]models.Message, error) {
	query := fmt.Sprintf(`
		SELECT id, session_id, channel, channel_id, direction, role, content, attachments, tool_calls, tool_results, metadata, created_at
		FROM history_messages
		WHERE user_id = %s`, s.placeholder(1))
	args := []any{userID}
	argN := 2

	if maxAge > 0 {
		query += fmt.Sprintf(" AND created_at >= %s", s.placeholder(argN))
		args = append(args, time.Now().Add(-maxAge))
		argN++
	}

	query += " ORDER BY created_at DESC"
	if maxMessages > 0 {
		query += fmt.Sprintf(" LIMIT %s", s.placeholder(argN))
		args = append(args, maxMessages)
		argN++
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg := models.Message{}
		var attachments, toolCalls, toolResults, metadata []byte

		if err := rows.Scan(
			&msg.ID, &msg.SessionID, &msg.Channel, &msg.ChannelID, &msg.Direction, &msg.Role,
			&msg.Content, &attachments, &toolCalls, &toolResults, &metadata, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("history: scan message: %w", err)
		}

		if len(attachments) > 0 && string(attachments) != "null" {
			if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
				return nil, fmt.Errorf("history: unmarshal attachments: %w", err)
			}
		}
		if len(toolCalls) > 0 && string(toolCalls) != "null" {
			if err := json.Unmarshal(toolCalls, &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("history: unmarshal tool calls: %w", err)
			}
		}
		if len(toolResults) > 0 && string(toolResults) != "null" {
			if err := json.Unmarshal(toolResults, &msg.ToolResults); err != nil {
				return nil, fmt.Errorf("history: unmarshal tool results: %w", err)
			}
		}
		if len(metadata) > 0 && string(metadata) != "null" {
			if err := json.Unmarshal(metadata, &msg.Metadata); err != nil {
				return nil, fmt.Errorf("history: unmarshal metadata: %w", err)
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLStore) Clear(ctx context.Context, userID string) error {
	query := fmt.Sprintf("DELETE FROM history_messages WHERE user_id = %s", s.placeholder(1))
	_, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	return nil
}

func (s *SQLStore) CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-maxAge)
	query := fmt.Sprintf("DELETE FROM history_messages WHERE created_at < %s", s.placeholder(1))

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: cleanup expired: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: rows affected: %w", err)
	}
	return int(rows), nil
}
