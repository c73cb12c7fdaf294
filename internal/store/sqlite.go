// Package store implements the persistent store collaborator over sqlite.
// Writes funnel through a single goroutine to avoid sqlite write
// contention; reads run concurrently against the pooled connection.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"coachline/internal/logging"
	"coachline/pkg/interfaces"
	"coachline/pkg/types"
)

const writeTimeout = 30 * time.Second

// SQLite implements interfaces.Store.
type SQLite struct {
	db       *sql.DB
	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

type writeOp struct {
	fn     func(db *sql.DB) error
	result chan error
}

// Open opens (creating if necessary) the database at path, applies
// migrations and starts the writer goroutine.
func Open(path string, busyTimeout time.Duration) (*SQLite, error) {
	dsn := fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLite{
		db:       db,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
			}
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
		logging.Info().Int("version", m.version).Str("name", m.name).Msg("applied migration")
	}
	return nil
}

func (s *SQLite) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeCh:
			err := op.fn(s.db)
			if err != nil {
				// Retry once; sqlite busy errors are usually transient.
				time.Sleep(250 * time.Millisecond)
				err = op.fn(s.db)
			}
			op.result <- err
		case <-s.shutdown:
			return
		}
	}
}

func (s *SQLite) write(fn func(db *sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{fn: fn, result: result}:
		return <-result
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrClosed
	}
}

// Close stops the writer and closes the database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	return s.db.Close()
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *SQLite) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM conversation_participants WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query participant: %w", err)
	}
	return n > 0, nil
}

// Participants returns the conversation's members.
func (s *SQLite) Participants(ctx context.Context, conversationID string) ([]types.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, role, display_name FROM conversation_participants
		 WHERE conversation_id = ? ORDER BY user_id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Participant
	for rows.Next() {
		var p types.Participant
		if err := rows.Scan(&p.UserID, &p.Role, &p.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}
	if len(out) == 0 {
		// Distinguish an empty conversation from a missing one.
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM conversations WHERE id = ?`, conversationID).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to query conversation: %w", err)
		}
		if n == 0 {
			return nil, interfaces.ErrConversationNotFound
		}
	}
	return out, nil
}

// InsertMessage persists a message with a server-assigned id and
// timestamp.
func (s *SQLite) InsertMessage(ctx context.Context, conversationID string, sender types.Identity, content string) (*types.Message, error) {
	msg := &types.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       sender.UserID,
		SenderName:     sender.DisplayName,
		SenderRole:     sender.Role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	err := s.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, sender_id, sender_name, sender_role, content, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.ConversationID, msg.SenderID, msg.SenderName, msg.SenderRole, msg.Content, msg.CreatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg, nil
}

// TouchConversation bumps the conversation's last-activity timestamp.
func (s *SQLite) TouchConversation(ctx context.Context, conversationID string) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`UPDATE conversations SET last_activity_at = ? WHERE id = ?`,
			time.Now().UTC(), conversationID)
		return err
	})
}

// RecentMessages returns up to limit messages, oldest first.
func (s *SQLite) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, sender_id, sender_name, sender_role, content, created_at
		 FROM (
			SELECT * FROM messages WHERE conversation_id = ?
			ORDER BY created_at DESC LIMIT ?
		 ) ORDER BY created_at ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Message
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.SenderRole, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return out, nil
}

// ActiveEnrollments returns enrollments eligible for scheduled delivery.
func (s *SQLite) ActiveEnrollments(ctx context.Context) ([]*types.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_id, coach_id, template_id, conversation_id, start_date, active
		 FROM enrollments WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Enrollment
	for rows.Next() {
		var e types.Enrollment
		if err := rows.Scan(&e.ID, &e.ClientID, &e.CoachID, &e.TemplateID, &e.ConversationID, &e.StartDate, &e.Active); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}
	return out, nil
}

// ElementsFor returns the template elements at the 1-indexed (week,
// day-of-week) coordinate, in a stable order.
func (s *SQLite) ElementsFor(ctx context.Context, templateID string, week, dayOfWeek int) ([]*types.TemplateElement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, template_id, week, day_of_week, kind, title, body
		 FROM template_elements
		 WHERE template_id = ? AND week = ? AND day_of_week = ?
		 ORDER BY id`, templateID, week, dayOfWeek)
	if err != nil {
		return nil, fmt.Errorf("failed to query template elements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.TemplateElement
	for rows.Next() {
		var e types.TemplateElement
		if err := rows.Scan(&e.ID, &e.TemplateID, &e.Week, &e.DayOfWeek, &e.Kind, &e.Title, &e.Body); err != nil {
			return nil, fmt.Errorf("failed to scan template element: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating template elements: %w", err)
	}
	if len(out) == 0 {
		// Distinguish a rest day from a missing template.
		var n int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM program_templates WHERE id = ?`, templateID).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to query template: %w", err)
		}
		if n == 0 {
			return nil, interfaces.ErrTemplateNotFound
		}
	}
	return out, nil
}

// ClaimDelivery conditionally records delivery of an element for a
// program day. True means this call inserted the record; false means the
// record already existed and the element must be skipped.
func (s *SQLite) ClaimDelivery(ctx context.Context, enrollmentID, elementID string, programDay int) (bool, error) {
	var claimed bool
	err := s.write(func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO delivery_log (enrollment_id, element_id, program_day, delivered_at)
			 VALUES (?, ?, ?, ?)`,
			enrollmentID, elementID, programDay, time.Now().UTC())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		claimed = n == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to claim delivery: %w", err)
	}
	return claimed, nil
}

// CreateConversation inserts a conversation with its participants. The
// platform's CRUD layer is the primary writer of these tables; this
// helper keeps the store usable standalone and in tests.
func (s *SQLite) CreateConversation(ctx context.Context, conversationID string, participants []types.Participant) error {
	return s.write(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, last_activity_at) VALUES (?, ?)`,
			conversationID, time.Now().UTC()); err != nil {
			return err
		}
		for _, p := range participants {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO conversation_participants (conversation_id, user_id, role, display_name)
				 VALUES (?, ?, ?, ?)`,
				conversationID, p.UserID, p.Role, p.DisplayName); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// CreateTemplate inserts a program template.
func (s *SQLite) CreateTemplate(ctx context.Context, templateID, name string) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO program_templates (id, name) VALUES (?, ?)`, templateID, name)
		return err
	})
}

// CreateTemplateElement inserts a template element.
func (s *SQLite) CreateTemplateElement(ctx context.Context, e *types.TemplateElement) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO template_elements (id, template_id, week, day_of_week, kind, title, body)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.TemplateID, e.Week, e.DayOfWeek, e.Kind, e.Title, e.Body)
		return err
	})
}

// CreateEnrollment inserts an enrollment.
func (s *SQLite) CreateEnrollment(ctx context.Context, e *types.Enrollment) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO enrollments (id, client_id, coach_id, template_id, conversation_id, start_date, active)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.ClientID, e.CoachID, e.TemplateID, e.ConversationID, e.StartDate.UTC(), e.Active)
		return err
	})
}
