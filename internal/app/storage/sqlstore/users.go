package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/R3E-Network/ajax_layer/internal/app/auth"
	"github.com/R3E-Network/ajax_layer/internal/app/storage"
)

type userRow struct {
	ID       int64  `db:"id"`
	Username string `db:"username"`
	Active   bool   `db:"is_active"`
	Staff    bool   `db:"is_staff"`
}

func (r userRow) user() auth.User {
	return auth.User{ID: r.ID, Username: r.Username, Active: r.Active, Staff: r.Staff}
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" {
		return auth.User{}, fmt.Errorf("username is required")
	}
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO auth_users (username, is_active, is_staff)
		VALUES (?, ?, ?)
		RETURNING id
	`), u.Username, u.Active, u.Staff).Scan(&u.ID)
	if err != nil {
		return auth.User{}, fmt.Errorf("create user %s: %w", u.Username, err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (auth.User, error) {
	return s.getUser(ctx, `SELECT id, username, is_active, is_staff FROM auth_users WHERE id = ?`, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (auth.User, error) {
	return s.getUser(ctx, `SELECT id, username, is_active, is_staff FROM auth_users WHERE username = ?`, username)
}

func (s *Store) getUser(ctx context.Context, query string, arg any) (auth.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.User{}, fmt.Errorf("user %v: %w", arg, storage.ErrNotFound)
		}
		return auth.User{}, err
	}
	return row.user(), nil
}

// --- KeyStore ---------------------------------------------------------------

func (s *Store) GetAPIKey(ctx context.Context, userID int64) (auth.APIKey, error) {
	key := auth.APIKey{UserID: userID}
	err := s.db.GetContext(ctx, &key.Key, s.db.Rebind(`SELECT api_key FROM ajax_api_keys WHERE user_id = ?`), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.APIKey{}, fmt.Errorf("api key for user %d: %w", userID, storage.ErrNotFound)
		}
		return auth.APIKey{}, err
	}
	return key, nil
}

func (s *Store) SaveAPIKey(ctx context.Context, key auth.APIKey) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO ajax_api_keys (user_id, api_key) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET api_key = excluded.api_key
	`), key.UserID, key.Key)
	if err != nil {
		return fmt.Errorf("save api key for user %d: %w", key.UserID, err)
	}
	return nil
}

func (s *Store) APIKeyExists(ctx context.Context, key string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM ajax_api_keys WHERE api_key = ?`), key); err != nil {
		return false, err
	}
	return n > 0, nil
}
