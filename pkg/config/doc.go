// Package config loads hrauth settings from HRAUTH_* environment variables.
//
// Every setting has a default except HRAUTH_JWT_SECRET, which must be at
// least 32 bytes. LoadConfig validates the result before returning it.
//
// Server:
//
//	HRAUTH_HOST="0.0.0.0"
//	HRAUTH_PORT="8080"
//	HRAUTH_HEALTH_PORT="9090"
//	HRAUTH_CORS_ORIGINS="https://hr.example.com"
//
// Storage and cache:
//
//	HRAUTH_STORAGE_TYPE="postgres"  # memory, sqlite, postgres
//	HRAUTH_POSTGRES_URL="postgres://localhost/hrauth?sslmode=disable"
//	HRAUTH_SQLITE_PATH="hrauth.db"
//	HRAUTH_REDIS_URL="redis://localhost:6379"
//	HRAUTH_PROFILE_CACHE_TTL="5m"
//
// Authentication:
//
//	HRAUTH_JWT_SECRET="..."
//	HRAUTH_ACCESS_TOKEN_TTL="1h"
//	HRAUTH_REFRESH_TOKEN_TTL="168h"
//	HRAUTH_MAX_FAILED_ATTEMPTS="5"
//	HRAUTH_LOCKOUT_DURATION="30m"
//	HRAUTH_ROLES_FILE="/etc/hrauth/roles.yaml"
//
// Rate limiting, maintenance and observability:
//
//	HRAUTH_RATE_LIMIT_REQUESTS="10"
//	HRAUTH_RATE_LIMIT_WINDOW="1m"
//	HRAUTH_MAINTENANCE_SCHEDULE="@every 5m"
//	HRAUTH_LOG_LEVEL="info"
//	HRAUTH_OTEL_ENABLED="true"
//	HRAUTH_OTEL_ENDPOINT="otel-collector:4317"
package config
