package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/apversus/sauai/internal/domain"
	"github.com/apversus/sauai/internal/logging"
)

const userColumns = `username, platform_user_id, first_name, last_name, language_code, is_premium,
	email, personal_name, age, needs, favorite_topics, message_count, first_seen, last_seen`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// userRow is the storage shape of a users row.
type userRow struct {
	Username       string
	PlatformUserID sql.NullInt64
	FirstName      string
	LastName       string
	LanguageCode   string
	IsPremium      bool
	Email          string
	PersonalName   string
	Age            sql.NullInt64
	Needs          string
	FavoriteTopics string
	MessageCount   int64
	FirstSeen      int64
	LastSeen       int64
}

func scanUser(s rowScanner) (*domain.User, error) {
	var r userRow
	if err := s.Scan(
		&r.Username, &r.PlatformUserID, &r.FirstName, &r.LastName, &r.LanguageCode, &r.IsPremium,
		&r.Email, &r.PersonalName, &r.Age, &r.Needs, &r.FavoriteTopics, &r.MessageCount,
		&r.FirstSeen, &r.LastSeen,
	); err != nil {
		return nil, err
	}

	u := &domain.User{
		Username:       r.Username,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		LanguageCode:   r.LanguageCode,
		IsPremium:      r.IsPremium,
		Email:          r.Email,
		PersonalName:   r.PersonalName,
		Needs:          r.Needs,
		FavoriteTopics: []string{},
		MessageCount:   r.MessageCount,
		FirstSeen:      time.UnixMilli(r.FirstSeen),
		LastSeen:       time.UnixMilli(r.LastSeen),
	}
	if r.PlatformUserID.Valid {
		id := r.PlatformUserID.Int64
		u.PlatformUserID = &id
	}
	if r.Age.Valid {
		age := int(r.Age.Int64)
		u.Age = &age
	}
	if r.FavoriteTopics != "" {
		if err := json.Unmarshal([]byte(r.FavoriteTopics), &u.FavoriteTopics); err != nil {
			return nil, fmt.Errorf("decode favorite_topics of %s: %w", r.Username, err)
		}
	}
	return u, nil
}

// UserStore persists user profiles. Every call uses one pooled connection and
// commits on its own.
type UserStore struct {
	pool *Pool
	log  *logging.Logger
	now  func() time.Time
}

// NewUserStore creates a user store on the given pool.
func NewUserStore(pool *Pool, log *logging.Logger) *UserStore {
	return &UserStore{pool: pool, log: log.Sub("users"), now: time.Now}
}

// Get returns the user, or nil if there is none.
func (s *UserStore) Get(ctx context.Context, username string) (*domain.User, error) {
	var u *domain.User
	err := s.pool.Acquire(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var err error
		u, err = scanUser(conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
		if errors.Is(err, sql.ErrNoRows) {
			u = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	return u, nil
}

// CreateOrUpdate records a message from a chat-platform user. New users start
// with a message count of 1; existing ones have their platform attributes
// refreshed and the count incremented. The stored row is returned.
func (s *UserStore) CreateOrUpdate(ctx context.Context, username string, attrs domain.PlatformAttributes) (*domain.User, error) {
	if username == "" {
		if attrs.UserID == 0 {
			return nil, errors.New("create or update user: username or platform user id required")
		}
		username = "user_" + strconv.FormatInt(attrs.UserID, 10)
	}

	var platformID any
	if attrs.UserID != 0 {
		platformID = attrs.UserID
	}
	now := s.now().UnixMilli()

	var u *domain.User
	err := s.pool.Acquire(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var err error
		u, err = scanUser(conn.QueryRowContext(ctx, `
			INSERT INTO users (username, platform_user_id, first_name, last_name, language_code, is_premium,
				message_count, first_seen, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT (username) DO UPDATE SET
				platform_user_id = COALESCE(excluded.platform_user_id, users.platform_user_id),
				first_name       = COALESCE(NULLIF(excluded.first_name, ''), users.first_name),
				last_name        = COALESCE(NULLIF(excluded.last_name, ''), users.last_name),
				language_code    = COALESCE(NULLIF(excluded.language_code, ''), users.language_code),
				is_premium       = excluded.is_premium,
				message_count    = users.message_count + 1,
				last_seen        = excluded.last_seen
			RETURNING `+userColumns,
			username, platformID, attrs.FirstName, attrs.LastName, attrs.LanguageCode, attrs.IsPremium, now, now,
		))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create or update user %s: %w", username, err)
	}
	s.log.Debug().Str("username", username).Int64("messages", u.MessageCount).Msg("user recorded")
	return u, nil
}

// CreateWebUser creates a profile for an identity without a platform id. It is
// idempotent: an existing profile is returned untouched.
func (s *UserStore) CreateWebUser(ctx context.Context, username, name, email string) (*domain.User, error) {
	if username == "" {
		return nil, errors.New("create web user: username required")
	}
	now := s.now().UnixMilli()

	var u *domain.User
	var created bool
	err := s.pool.Acquire(ctx, func(ctx context.Context, conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			INSERT INTO users (username, email, personal_name, language_code, message_count, first_seen, last_seen)
			VALUES (?, ?, ?, 'es', 0, ?, ?)
			ON CONFLICT (username) DO NOTHING`,
			username, email, name, now, now,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			created = true
		}
		u, err = scanUser(conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create web user %s: %w", username, err)
	}
	if created {
		s.log.Info().Str("username", username).Msg("web user created")
	}
	return u, nil
}

// IncrementMessageCount bumps the message counter and last-seen time.
func (s *UserStore) IncrementMessageCount(ctx context.Context, username string) error {
	err := s.pool.Acquire(ctx, func(ctx context.Context, conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx,
			`UPDATE users SET message_count = message_count + 1, last_seen = ? WHERE username = ?`,
			s.now().UnixMilli(), username,
		)
		if err != nil {
			return err
		}
		return expectRow(res)
	})
	if err != nil {
		return fmt.Errorf("increment message count of %s: %w", username, err)
	}
	return nil
}

// UpdateProfile sets the self-declared name, age and needs.
func (s *UserStore) UpdateProfile(ctx context.Context, username string, upd domain.ProfileUpdate) (*domain.User, error) {
	var u *domain.User
	err := s.pool.Acquire(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var err error
		u, err = scanUser(conn.QueryRowContext(ctx, `
			UPDATE users SET
				personal_name = COALESCE(?, personal_name),
				age           = COALESCE(?, age),
				needs         = COALESCE(?, needs)
			WHERE username = ?
			RETURNING `+userColumns,
			nullable(upd.PersonalName), nullable(upd.Age), nullable(upd.Needs), username,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update profile of %s: %w", username, err)
	}
	return u, nil
}

// TrackTopic adds topic to the user's favorite topics unless already present.
func (s *UserStore) TrackTopic(ctx context.Context, username, topic string) error {
	err := s.pool.Acquire(ctx, func(ctx context.Context, conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `
			UPDATE users SET favorite_topics = json_insert(favorite_topics, '$[#]', ?1)
			WHERE username = ?2
			  AND NOT EXISTS (SELECT 1 FROM json_each(users.favorite_topics) WHERE value = ?1)`,
			topic, username,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		var exists int
		err = conn.QueryRowContext(ctx, `SELECT 1 FROM users WHERE username = ?`, username).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("track topic for %s: %w", username, err)
	}
	return nil
}

// Stats summarizes the user base. "Today" starts at local midnight.
func (s *UserStore) Stats(ctx context.Context) (*domain.UserStats, error) {
	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	stats := &domain.UserStats{TopUsers: []domain.TopUser{}, Languages: map[string]int{}}

	err := s.pool.Acquire(ctx, func(ctx context.Context, conn *sql.Conn) error {
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&stats.TotalUsers); err != nil {
			return err
		}
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE last_seen >= ?`, midnight.UnixMilli()).Scan(&stats.ActiveToday); err != nil {
			return err
		}

		rows, err := conn.QueryContext(ctx, `
			SELECT username, personal_name, message_count FROM users
			ORDER BY message_count DESC, username LIMIT 10`)
		if err != nil {
			return err
		}
		for rows.Next() {
			var t domain.TopUser
			if err := rows.Scan(&t.Username, &t.PersonalName, &t.MessageCount); err != nil {
				rows.Close()
				return err
			}
			stats.TopUsers = append(stats.TopUsers, t)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		rows, err = conn.QueryContext(ctx, `
			SELECT language_code, COUNT(*) FROM users
			WHERE language_code != '' GROUP BY language_code`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var lang string
			var n int
			if err := rows.Scan(&lang, &n); err != nil {
				return err
			}
			stats.Languages[lang] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("user stats: %w", err)
	}
	return stats, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// nullable converts a nil pointer into a SQL NULL argument.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
