package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/platinummonkey/hrauth/pkg/auth"
)

const apiKeyColumns = `id, user_id, key_hash, key_prefix, name, scopes, is_active,
	expires_at, last_used_at, created_at`

func scanAPIKey(row scanner) (auth.APIKey, error) {
	var (
		k                 auth.APIKey
		scopes            []byte
		expires, lastUsed sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.UserID, &k.KeyHash, &k.KeyPrefix, &k.Name, &scopes, &k.IsActive,
		&expires, &lastUsed, &k.CreatedAt); err != nil {
		return k, err
	}
	list, err := decodeList(scopes)
	if err != nil {
		return k, err
	}
	k.Scopes = list
	k.ExpiresAt = timePtr(expires)
	k.LastUsedAt = timePtr(lastUsed)
	k.CreatedAt = k.CreatedAt.UTC()
	return k, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, k *auth.APIKey) error {
	scopes, err := encodeList(k.Scopes)
	if err != nil {
		return auth.StoreError("create api key", err)
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = ts(time.Now())
	}

	err = s.queryRow(ctx, s.db, `
		INSERT INTO api_keys (user_id, key_hash, key_prefix, name, scopes, is_active, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		k.UserID, k.KeyHash, k.KeyPrefix, k.Name, scopes, k.IsActive, nullTime(k.ExpiresAt), ts(k.CreatedAt),
	).Scan(&k.ID)
	if isForeignKeyViolation(err) {
		return auth.ErrUserNotFound
	}
	return s.fail("create api key", err)
}

func (s *Store) listAPIKeys(ctx context.Context, op, query string, args ...interface{}) ([]auth.APIKey, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer rows.Close()

	var out []auth.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, s.fail(op, err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(op, err)
	}
	return out, nil
}

func (s *Store) ListAPIKeys(ctx context.Context, userID int64) ([]auth.APIKey, error) {
	return s.listAPIKeys(ctx, "list api keys",
		"SELECT "+apiKeyColumns+" FROM api_keys WHERE user_id = ? ORDER BY id", userID)
}

func (s *Store) FindAPIKeysByPrefix(ctx context.Context, prefix string) ([]auth.APIKey, error) {
	if prefix == "" {
		return s.listAPIKeys(ctx, "find api keys",
			"SELECT "+apiKeyColumns+" FROM api_keys ORDER BY id")
	}
	return s.listAPIKeys(ctx, "find api keys",
		"SELECT "+apiKeyColumns+" FROM api_keys WHERE key_prefix = ? ORDER BY id", prefix)
}

func (s *Store) TouchAPIKey(ctx context.Context, keyID int64, at time.Time) error {
	res, err := s.exec(ctx, s.db, "UPDATE api_keys SET last_used_at = ? WHERE id = ?", ts(at), keyID)
	if err != nil {
		return s.fail("touch api key", err)
	}
	if rowsAffected(res) == 0 {
		return auth.ErrAPIKeyNotFound
	}
	return nil
}

func (s *Store) DeactivateAPIKey(ctx context.Context, userID, keyID int64) error {
	res, err := s.exec(ctx, s.db, "UPDATE api_keys SET is_active = ? WHERE id = ? AND user_id = ?", false, keyID, userID)
	if err != nil {
		return s.fail("deactivate api key", err)
	}
	if rowsAffected(res) == 0 {
		return auth.ErrAPIKeyNotFound
	}
	return nil
}

func (s *Store) DeactivateExpiredAPIKeys(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.exec(ctx, s.db,
		"UPDATE api_keys SET is_active = ? WHERE is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?",
		false, true, ts(now))
	if err != nil {
		return 0, s.fail("deactivate expired api keys", err)
	}
	return rowsAffected(res), nil
}
