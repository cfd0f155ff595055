package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/hrauth/pkg/contextkeys"
	"github.com/platinummonkey/hrauth/pkg/observability"
)

// AuditLog is a single security event.
type AuditLog struct {
	Action       string
	Status       string
	UserID       int64
	Username     string
	ResourceType string
	ResourceID   string
	IPAddress    string
	UserAgent    string
	ErrorMessage string
	CreatedAt    time.Time
}

// AuditLogger writes security events as structured log lines.
type AuditLogger struct {
	logger *observability.Logger
	now    func() time.Time
}

// NewAuditLogger creates an audit logger. A nil logger writes to stdout at
// info level.
func NewAuditLogger(logger *observability.Logger) *AuditLogger {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &AuditLogger{
		logger: logger.WithField("component", "audit"),
		now:    time.Now,
	}
}

// LogAction records an audit event.
func (al *AuditLogger) LogAction(ctx context.Context, log *AuditLog) error {
	if log.Action == "" {
		return fmt.Errorf("action is required")
	}
	if log.Status == "" {
		return fmt.Errorf("status is required")
	}

	log.CreatedAt = al.now()

	fields := map[string]interface{}{
		"action": log.Action,
		"status": log.Status,
	}
	if log.UserID != 0 {
		fields["user_id"] = log.UserID
	}
	if log.Username != "" {
		fields["username"] = log.Username
	}
	if log.ResourceType != "" {
		fields["resource_type"] = log.ResourceType
		fields["resource_id"] = log.ResourceID
	}
	if log.IPAddress != "" {
		fields["ip_address"] = log.IPAddress
	}
	if log.UserAgent != "" {
		fields["user_agent"] = log.UserAgent
	}
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		fields["request_id"] = requestID
	}

	entry := al.logger.WithFields(fields)
	if log.ErrorMessage != "" {
		entry = entry.WithField("error", log.ErrorMessage)
	}

	if log.Status == StatusSuccess {
		entry.Info("audit event")
	} else {
		entry.Warn("audit event")
	}
	return nil
}

// Record is a shorthand for LogAction that never fails the caller.
func (al *AuditLogger) Record(ctx context.Context, action, status string, userID int64, username string, err error) {
	log := &AuditLog{Action: action, Status: status, UserID: userID, Username: username}
	if err != nil {
		log.ErrorMessage = err.Error()
	}
	_ = al.LogAction(ctx, log)
}

// LogFromRequest creates an audit log from an HTTP request, attributed to
// the authenticated caller when there is one.
func (al *AuditLogger) LogFromRequest(r *http.Request, action, resourceType, resourceID, status string, err error) error {
	log := &AuditLog{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    ClientIP(r),
		UserAgent:    r.UserAgent(),
		Status:       status,
	}
	if ident, ok := contextkeys.Lookup[*Identity](r.Context(), contextkeys.IdentityKey); ok && ident != nil {
		log.UserID = ident.UserID
		log.Username = ident.Username
	}

	if err != nil {
		log.ErrorMessage = err.Error()
	}

	return al.LogAction(r.Context(), log)
}

// Audit actions
const (
	ActionRegister          = "auth.register"
	ActionLoginSuccess      = "auth.login_success"
	ActionLoginFailed       = "auth.login_failed"
	ActionAccountLocked     = "auth.account_locked"
	ActionAccountUnlocked   = "auth.account_unlocked"
	ActionTokenRefreshed    = "auth.token_refreshed"
	ActionLogout            = "auth.logout"
	ActionPasswordChanged   = "auth.password_changed"
	ActionProfileUpdated    = "user.profile_updated"
	ActionUserActivated     = "user.activated"
	ActionUserDeactivated   = "user.deactivated"
	ActionRoleCreated       = "role.created"
	ActionRoleAssigned      = "role.assigned"
	ActionRoleRevoked       = "role.revoked"
	ActionRoleUpdated       = "role.permissions_updated"
	ActionRoleActivated     = "role.activated"
	ActionRoleDeactivated   = "role.deactivated"
	ActionAPIKeyCreated     = "api_key.created"
	ActionAPIKeyRevoked     = "api_key.revoked"
	ActionAPIKeyAuth        = "api_key.authenticated"
	ActionAccessDenied      = "authz.denied"
	ActionRateLimitExceeded = "ratelimit.exceeded"
)

// Status constants
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusDenied  = "denied"
)
