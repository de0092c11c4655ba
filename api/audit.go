package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess       AuditEvent = "login_success"
	AuditLoginFailure       AuditEvent = "login_failure"
	AuditLoginRateLimited   AuditEvent = "login_rate_limited"
	AuditLogout             AuditEvent = "logout"
	AuditAccessDenied       AuditEvent = "access_denied"
	AuditSubmitRateLimited  AuditEvent = "submit_rate_limited"
	AuditApplicationCreated AuditEvent = "application_submitted"
	AuditApplicationReview  AuditEvent = "application_reviewed"
	AuditApplicationDeleted AuditEvent = "application_deleted"
	AuditEventCreated       AuditEvent = "event_created"
	AuditEventUpdated       AuditEvent = "event_updated"
	AuditEventDeleted       AuditEvent = "event_deleted"
	AuditMemberCreated      AuditEvent = "member_created"
	AuditMemberUpdated      AuditEvent = "member_updated"
	AuditMemberDeleted      AuditEvent = "member_deleted"
	AuditUserCreated        AuditEvent = "user_created"
	AuditUserUpdated        AuditEvent = "user_updated"
	AuditUserDeleted        AuditEvent = "user_deleted"
	AuditRoleChanged        AuditEvent = "role_changed"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry. accountID, when present, is the
// identity UID of the acting account.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	now := time.Now().UTC()
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", now.Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)

	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
	if al.webhook != nil {
		al.webhook.enqueue(newWebhookEvent(event, r, now, attrs))
	}
}

// logEvent is a convenience for events with an account ID.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, accountID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("account_id", accountID),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a failed or refused attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

func (al *auditLogger) close() {
	if al.webhook != nil {
		al.webhook.close()
	}
}

func pathAttr(r *http.Request) slog.Attr {
	return slog.String("path", r.URL.Path)
}
