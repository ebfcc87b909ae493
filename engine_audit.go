package goSession

import (
	"context"
	"errors"

	"github.com/MrEthical07/goSession/session"
)

const (
	auditEventSessionCreated     = "session_created"
	auditEventSessionSaveFailure = "session_save_failure"
	auditEventSessionIDRotated   = "session_id_rotated"
	auditEventSessionDeleted     = "session_deleted"
	auditEventSessionsSwept      = "sessions_swept"
	auditEventLogin              = "login"
	auditEventLogoutAll          = "logout_all"
)

// AuditErrorCode is the stable error classification written to
// [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrSessionNotFound  AuditErrorCode = "session_not_found"
	auditErrSessionCorrupt   AuditErrorCode = "session_corrupt"
	auditErrInvalidAttribute AuditErrorCode = "invalid_attribute"
	auditErrUnavailable      AuditErrorCode = "backend_unavailable"
	auditErrCanceled         AuditErrorCode = "canceled"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	sessionID string,
	principal string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		SessionID: sessionID,
		Principal: principal,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, session.ErrSessionCorrupt):
		return auditErrSessionCorrupt
	case errors.Is(err, session.ErrInvalidAttribute):
		return auditErrInvalidAttribute
	case errors.Is(err, session.ErrBackendUnavailable):
		return auditErrUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	default:
		return auditErrInternal
	}
}
