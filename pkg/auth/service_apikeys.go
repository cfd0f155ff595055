package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/hrauth/pkg/observability"
)

// CreateAPIKey issues a new key for the user. The plaintext is only present
// in the returned value.
func (s *Service) CreateAPIKey(ctx context.Context, userID int64, name string, scopes []string, expiresIn *time.Duration) (*CreatedAPIKey, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: api key name is required", ErrInvalidInput)
	}
	if expiresIn != nil && *expiresIn <= 0 {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}

	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrAccountInactive
	}

	key, keyHash, keyPrefix, err := s.keys.Generate()
	if err != nil {
		return nil, err
	}

	now := s.now()
	k := APIKey{
		UserID:    u.ID,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
		Name:      name,
		Scopes:    dedupe(scopes),
		IsActive:  true,
		CreatedAt: now,
	}
	if expiresIn != nil {
		exp := now.Add(*expiresIn)
		k.ExpiresAt = &exp
	}

	if err := storeExec(ctx, s, "create_api_key", func(ctx context.Context) error {
		return s.store.CreateAPIKey(ctx, &k)
	}); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, ActionAPIKeyCreated, StatusSuccess, u.ID, u.Username, nil)
	return &CreatedAPIKey{APIKey: k, Key: key}, nil
}

// CreateAPIKeyAs creates a key for the authenticated caller. A caller that is
// itself a scoped API key cannot mint a key broader than its own.
func (s *Service) CreateAPIKeyAs(ctx context.Context, caller *Identity, name string, scopes []string, expiresIn *time.Duration) (*CreatedAPIKey, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}
	if !caller.CanDelegate(dedupe(scopes)) {
		s.audit.Record(ctx, ActionAPIKeyCreated, StatusDenied, caller.UserID, caller.Username, ErrForbidden)
		return nil, fmt.Errorf("%w: api key scopes must be a non-empty subset of %v", ErrForbidden, caller.Scopes)
	}
	return s.CreateAPIKey(ctx, caller.UserID, name, scopes, expiresIn)
}

// RevokeAPIKeyAs revokes one of the caller's keys. A scoped API key may only
// revoke keys whose scopes it could have delegated.
func (s *Service) RevokeAPIKeyAs(ctx context.Context, caller *Identity, keyID int64) error {
	if caller == nil {
		return ErrUnauthenticated
	}
	if caller.Restricted() {
		keys, err := s.ListAPIKeys(ctx, caller.UserID)
		if err != nil {
			return err
		}
		var target *APIKey
		for i := range keys {
			if keys[i].ID == keyID {
				target = &keys[i]
				break
			}
		}
		if target == nil {
			return ErrAPIKeyNotFound
		}
		if !caller.CanDelegate(target.Scopes) {
			s.audit.Record(ctx, ActionAPIKeyRevoked, StatusDenied, caller.UserID, caller.Username, ErrForbidden)
			return fmt.Errorf("%w: api key is broader than the calling key", ErrForbidden)
		}
	}
	return s.RevokeAPIKey(ctx, caller.UserID, keyID)
}

// ListAPIKeys returns the user's keys without any key material.
func (s *Service) ListAPIKeys(ctx context.Context, userID int64) ([]APIKey, error) {
	return storeCall(ctx, s, "list_api_keys", func(ctx context.Context) ([]APIKey, error) {
		return s.store.ListAPIKeys(ctx, userID)
	})
}

// RevokeAPIKey deactivates one of the user's keys.
func (s *Service) RevokeAPIKey(ctx context.Context, userID, keyID int64) error {
	if err := storeExec(ctx, s, "deactivate_api_key", func(ctx context.Context) error {
		return s.store.DeactivateAPIKey(ctx, userID, keyID)
	}); err != nil {
		return err
	}
	s.audit.Record(ctx, ActionAPIKeyRevoked, StatusSuccess, userID, "", nil)
	return nil
}

// AuthenticateAPIKey finds the key matching rawKey and returns its owner.
// Candidates are narrowed by display prefix, then each stored hash is checked
// with the hasher. Unknown and revoked keys yield ErrInvalidCredentials;
// expired keys yield ErrAPIKeyExpired even after the expiry sweep has
// deactivated them.
func (s *Service) AuthenticateAPIKey(ctx context.Context, rawKey string) (*User, *APIKey, error) {
	ctx, span := observability.StartSpan(ctx, "auth.authenticate_api_key")
	u, k, err := s.authenticateAPIKey(ctx, rawKey)
	observability.EndSpan(span, err)

	if err == nil {
		s.metrics.RecordAPIKeyAuth("success")
	} else {
		s.metrics.RecordAPIKeyAuth(ErrorKind(err))
	}
	return u, k, err
}

func (s *Service) authenticateAPIKey(ctx context.Context, rawKey string) (*User, *APIKey, error) {
	if err := ValidateAPIKeyFormat(rawKey); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	candidates, err := storeCall(ctx, s, "find_api_keys", func(ctx context.Context) ([]APIKey, error) {
		return s.store.FindAPIKeysByPrefix(ctx, ExtractAPIKeyPrefix(rawKey))
	})
	if err != nil {
		return nil, nil, err
	}

	var match *APIKey
	for i := range candidates {
		if s.hasher.Verify(rawKey, candidates[i].KeyHash) {
			match = &candidates[i]
			break
		}
	}
	if match == nil {
		return nil, nil, ErrInvalidCredentials
	}

	now := s.now()
	if match.Expired(now) {
		return nil, nil, ErrAPIKeyExpired
	}
	if !match.IsActive {
		return nil, nil, ErrInvalidCredentials
	}

	u, err := s.getUser(ctx, match.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil, ErrInvalidCredentials
	} else if err != nil {
		return nil, nil, err
	}
	if !u.IsActive {
		return nil, nil, ErrAccountInactive
	}

	if err := storeExec(ctx, s, "touch_api_key", func(ctx context.Context) error {
		return s.store.TouchAPIKey(ctx, match.ID, now)
	}); err != nil {
		return nil, nil, err
	}
	match.LastUsedAt = &now

	s.audit.Record(ctx, ActionAPIKeyAuth, StatusSuccess, u.ID, u.Username, nil)
	return u, match, nil
}

// AuthenticateAPIKeyIdentity resolves an API key into an identity carrying
// the key's scopes.
func (s *Service) AuthenticateAPIKeyIdentity(ctx context.Context, rawKey string) (*Identity, error) {
	u, k, err := s.AuthenticateAPIKey(ctx, rawKey)
	if err != nil {
		return nil, err
	}
	roles, err := s.userRoles(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	ident := NewIdentity(u, roles, ChannelAPIKey)
	ident.APIKeyID = k.ID
	ident.Scopes = k.Scopes
	return ident, nil
}

// DeactivateExpiredAPIKeys marks every key past its expiry inactive.
func (s *Service) DeactivateExpiredAPIKeys(ctx context.Context) (int64, error) {
	now := s.now()
	return storeCall(ctx, s, "deactivate_expired_api_keys", func(ctx context.Context) (int64, error) {
		return s.store.DeactivateExpiredAPIKeys(ctx, now)
	})
}
