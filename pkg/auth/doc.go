// Package auth implements the authentication core: password hashing,
// access/refresh token issuance, brute-force lockout, API keys and the
// Service that orchestrates them over a CredentialStore.
//
// # Tokens
//
// Tokens are HS256 JWTs carrying sub (the decimal user id), iat, exp and a
// type claim of "access" or "refresh". Call sites must assert the kind:
//
//	claims, err := codec.DecodeKind(raw, auth.TokenRefresh)
//	// errors.Is(err, auth.ErrWrongTokenType) for an access token
//
// # Lockout
//
// LockoutPolicy is a pure transition function over LockoutState. The
// Service applies it through CredentialStore.UpdateLockout so concurrent
// failures for one user are serialized:
//
//	Unlocked(n) --fail--> Unlocked(n+1)            if n+1 < MaxAttempts
//	Unlocked(n) --fail--> Locked(now+Duration)     if n+1 >= MaxAttempts
//	Locked(t)   --any-->  rejected, unchanged      while now < t
//	Locked(t)   --------> Unlocked(0)              once now >= t
//	any         --ok----> Unlocked(0)
//
// # API Keys
//
// Keys look like hrk_<base64url(32 random bytes)>. Only a bcrypt digest and
// the display prefix (hrk_ plus 8 characters) are stored; the plaintext is
// returned once by CreateAPIKey.
//
// # Known limitation
//
// There is no refresh-token revocation list. A refresh token stays valid
// until it expires, even after a password change or logout. Deactivating the
// user is the way to cut it off.
package auth
