// Package audit records confirmed destructive dashboard actions.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"churchadmin/internal/database"
	"churchadmin/internal/model"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTypeMemberDelete   EventType = "member.delete"
	EventTypeServiceDelete  EventType = "church_service.delete"
	EventTypeServiceExit    EventType = "church_service.exit"
	EventTypeMinisterDelete EventType = "minister.delete"
	EventTypeUserDelete     EventType = "user.delete"
	EventTypeUserBan        EventType = "user.ban"
	EventTypeRoleDelete     EventType = "role.delete"
	EventTypeSessionRevoke  EventType = "session.revoke"
	EventTypeMemberExport   EventType = "member.export_data"
)

// Store persists audit events. *database.Database satisfies it.
type Store interface {
	CreateAuditEvent(ctx context.Context, event database.AuditEvent) error
	ListAuditEvents(ctx context.Context, params database.ListAuditEventsParams) ([]database.AuditEvent, error)
}

type Auditor struct {
	logger *slog.Logger
	store  Store
	now    func() time.Time
}

// NewAuditor returns an auditor writing to store. A nil store makes the
// auditor log events without persisting them.
func NewAuditor(logger *slog.Logger, store Store) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger.With("component", "audit"), store: store, now: time.Now}
}

type LogEventParam struct {
	Actor          model.Actor
	OrganizationID string
	Type           EventType
	RecordID       string
	Data           map[string]any
	IPAddress      string
}

func (a *Auditor) LogEvent(ctx context.Context, params LogEventParam) error {
	resource, action := params.Type.split()
	event := database.AuditEvent{
		ID:             uuid.New(),
		ActorID:        params.Actor.ID,
		ActorEmail:     params.Actor.Email,
		OrganizationID: params.OrganizationID,
		Resource:       resource,
		Action:         action,
		RecordID:       params.RecordID,
		Data:           params.Data,
		IPAddress:      normalizeIP(params.IPAddress),
		CreatedAt:      a.now().UTC(),
	}

	a.logger.InfoContext(ctx, "Audit event",
		"event_type", string(params.Type),
		"actor_id", event.ActorID,
		"organization_id", event.OrganizationID,
		"record_id", event.RecordID)

	if a.store == nil {
		return nil
	}
	if err := a.store.CreateAuditEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to create audit event: %w", err)
	}
	return nil
}

// Recent lists the newest events of one organization.
func (a *Auditor) Recent(ctx context.Context, organizationID string, limit int) ([]database.AuditEvent, error) {
	if a.store == nil {
		return []database.AuditEvent{}, nil
	}
	events, err := a.store.ListAuditEvents(ctx, database.ListAuditEventsParams{
		OrganizationID: organizationID,
		Limit:          limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return events, nil
}

func (t EventType) split() (string, string) {
	s := string(t)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return s[:i], s[i+1:]
		}
	}
	return s, ""
}

func normalizeIP(ip string) string {
	if parsed := net.ParseIP(ip); parsed != nil {
		return parsed.String()
	}
	return ip
}
