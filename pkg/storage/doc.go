// Package storage holds the backend selection shared by the credential
// stores and the cache.
//
// Three backends implement auth.CredentialStore:
//
//   - memory (storage/memory): process-local, for tests and local runs
//   - sqlite (storage/sqlstore): single file, development deployments
//   - postgres (storage/sqlstore): production
//
// Redis is optional. When RedisURL is set it backs the profile cache and
// the login rate limiter; otherwise both stay in process.
//
//	cfg := storage.DefaultConfig()
//	cfg.Type = storage.TypePostgres
//	cfg.PostgresURL = "postgres://localhost/hrauth?sslmode=disable"
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//	store, err := sqlstore.Open(ctx, cfg, logger)
package storage
