package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apversus/sauai/internal/domain"
	"github.com/apversus/sauai/internal/logging"
)

const sessionColumns = `session_id, username, created_at, last_activity, preferences`

// sessionRow is the storage shape of a sessions row.
type sessionRow struct {
	ID           string
	Username     string
	CreatedAt    int64
	LastActivity int64
	Preferences  string
}

func scanSession(s rowScanner) (*domain.Session, error) {
	var r sessionRow
	if err := s.Scan(&r.ID, &r.Username, &r.CreatedAt, &r.LastActivity, &r.Preferences); err != nil {
		return nil, err
	}
	sess := &domain.Session{
		ID:           r.ID,
		Username:     r.Username,
		CreatedAt:    time.UnixMilli(r.CreatedAt),
		LastActivity: time.UnixMilli(r.LastActivity),
		Preferences:  map[string]any{},
	}
	if r.Preferences != "" {
		if err := json.Unmarshal([]byte(r.Preferences), &sess.Preferences); err != nil {
			return nil, fmt.Errorf("decode preferences of session %s: %w", r.ID, err)
		}
	}
	return sess, nil
}

// historyRow is the storage shape of a conversation_messages row.
type historyRow struct {
	ID        int64
	SessionID string
	CreatedAt int64
	Content   string
	FromUser  bool
}

// SessionStore persists sessions and their append-only history. Mutations are
// serialized per user (GetOrCreate) or per session (AppendMessage,
// UpdatePreferences); unrelated conversations never wait on each other.
type SessionStore struct {
	pool *Pool
	log  *logging.Logger
	now  func() time.Time

	userLocks    keyedLocker
	sessionLocks keyedLocker
}

// NewSessionStore creates a session store on the given pool.
func NewSessionStore(pool *Pool, log *logging.Logger) *SessionStore {
	return &SessionStore{pool: pool, log: log.Sub("sessions"), now: time.Now}
}

// GetOrCreate returns the user's most recently active session, bumping its
// last activity, or creates the first one. The user must exist.
func (s *SessionStore) GetOrCreate(ctx context.Context, username string) (*domain.Session, error) {
	unlock := s.userLocks.lock(username)
	defer unlock()

	now := s.now()
	var sess *domain.Session
	var created bool
	err := s.pool.Acquire(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var err error
		sess, err = scanSession(conn.QueryRowContext(ctx, `
			SELECT `+sessionColumns+` FROM sessions
			WHERE username = ?
			ORDER BY last_activity DESC, rowid DESC LIMIT 1`, username))
		switch {
		case err == nil:
			if _, err := conn.ExecContext(ctx,
				`UPDATE sessions SET last_activity = ? WHERE session_id = ?`, now.UnixMilli(), sess.ID); err != nil {
				return err
			}
			sess.LastActivity = time.UnixMilli(now.UnixMilli())
			return nil
		case errors.Is(err, sql.ErrNoRows):
		default:
			return err
		}

		sess = &domain.Session{
			ID:           uuid.NewString(),
			Username:     username,
			CreatedAt:    time.UnixMilli(now.UnixMilli()),
			LastActivity: time.UnixMilli(now.UnixMilli()),
			Preferences:  map[string]any{},
		}
		_, err = conn.ExecContext(ctx, `
			INSERT INTO sessions (session_id, username, created_at, last_activity, preferences)
			VALUES (?, ?, ?, ?, '{}')`,
			sess.ID, username, now.UnixMilli(), now.UnixMilli())
		created = err == nil
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get or create session for %s: %w", username, err)
	}
	if created {
		s.log.Info().Str("username", username).Str("session", sess.ID).Msg("session created")
	}
	return sess, nil
}

// Get returns a session by id, or nil if there is none.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	var sess *domain.Session
	err := s.pool.Acquire(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var err error
		sess, err = scanSession(conn.QueryRowContext(ctx,
			`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID))
		if errors.Is(err, sql.ErrNoRows) {
			sess = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return sess, nil
}

// AppendMessage adds one turn to the session history and bumps its last activity.
func (s *SessionStore) AppendMessage(ctx context.Context, sessionID, text string, fromUser bool) error {
	unlock := s.sessionLocks.lock(sessionID)
	defer unlock()

	now := s.now().UnixMilli()
	err := s.pool.Tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_messages (session_id, created_at, content, is_user)
			VALUES (?, ?, ?, ?)`, sessionID, now, text, fromUser); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_activity = MAX(last_activity, ?) WHERE session_id = ?`, now, sessionID)
		if err != nil {
			return err
		}
		return expectRow(res)
	})
	if err != nil {
		return fmt.Errorf("append message to session %s: %w", sessionID, err)
	}
	return nil
}

// History returns up to limit of the most recent turns, oldest first.
func (s *SessionStore) History(ctx context.Context, sessionID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	var entries []domain.HistoryEntry
	err := s.pool.Acquire(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT message_id, session_id, created_at, content, is_user
			FROM conversation_messages
			WHERE session_id = ?
			ORDER BY created_at DESC, message_id DESC
			LIMIT ?`, sessionID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var r historyRow
			if err := rows.Scan(&r.ID, &r.SessionID, &r.CreatedAt, &r.Content, &r.FromUser); err != nil {
				return err
			}
			entries = append(entries, domain.HistoryEntry{
				ID:        r.ID,
				SessionID: r.SessionID,
				Content:   r.Content,
				FromUser:  r.FromUser,
				CreatedAt: time.UnixMilli(r.CreatedAt),
			})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("history of session %s: %w", sessionID, err)
	}
	slices.Reverse(entries)
	return entries, nil
}

// RecentContext renders the last limit turns as "<Role>: <text>" lines, oldest
// first. An empty history renders as "".
func (s *SessionStore) RecentContext(ctx context.Context, sessionID string, limit int) (string, error) {
	entries, err := s.History(ctx, sessionID, limit)
	if err != nil {
		return "", err
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.ContextLine()
	}
	return strings.Join(lines, "\n"), nil
}

// UpdatePreferences shallow-merges patch into the stored preferences: incoming
// keys overwrite, the rest are kept.
func (s *SessionStore) UpdatePreferences(ctx context.Context, sessionID string, patch map[string]any) error {
	unlock := s.sessionLocks.lock(sessionID)
	defer unlock()

	err := s.pool.Tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT preferences FROM sessions WHERE session_id = ?`, sessionID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		prefs := map[string]any{}
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
				return fmt.Errorf("decode preferences: %w", err)
			}
		}
		maps.Copy(prefs, patch)

		data, err := json.Marshal(prefs)
		if err != nil {
			return fmt.Errorf("encode preferences: %w", err)
		}
		_, err = tx.ExecContext(ctx, `UPDATE sessions SET preferences = ? WHERE session_id = ?`, string(data), sessionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("update preferences of session %s: %w", sessionID, err)
	}
	return nil
}
