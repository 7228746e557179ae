package database

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"churchadmin/internal/config"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Database struct {
	*pgxpool.Pool
}

// DSN renders the key/value connection string pgx understands.
func DSN(cfg config.DatabaseConfig) string {
	return "host=" + cfg.Host +
		" port=" + strconv.Itoa(cfg.Port) +
		" user=" + cfg.User +
		" password=" + cfg.Password +
		" dbname=" + cfg.Name +
		" sslmode=" + cfg.SSLMode
}

// URL renders the postgres:// form used by migrations and session storage.
func URL(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": {cfg.SSLMode}}.Encode(),
	}
	return u.String()
}

func New(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("unable to parse database configuration: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &Database{Pool: pool}, nil
}

func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

type AuditEvent struct {
	ID             uuid.UUID
	ActorID        string
	ActorEmail     string
	OrganizationID string
	Resource       string
	Action         string
	RecordID       string
	Data           map[string]any
	IPAddress      string
	CreatedAt      time.Time
}

func (db *Database) CreateAuditEvent(ctx context.Context, event AuditEvent) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event data: %w", err)
	}
	if event.Data == nil {
		data = []byte("{}")
	}
	_, err = db.Exec(ctx, `INSERT INTO tbl_audit_event
		(id, actor_id, actor_email, organization_id, resource, action, record_id, event_data, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.ActorID, event.ActorEmail, event.OrganizationID, event.Resource, event.Action,
		event.RecordID, data, event.IPAddress, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

type ListAuditEventsParams struct {
	OrganizationID string
	Limit          int
	Offset         int
}

func (db *Database) ListAuditEvents(ctx context.Context, params ListAuditEventsParams) ([]AuditEvent, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(ctx, `SELECT id, actor_id, actor_email, organization_id, resource, action, record_id, event_data, ip_address, created_at
		FROM tbl_audit_event
		WHERE organization_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, params.OrganizationID, limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AuditEvent, error) {
		var event AuditEvent
		var data []byte
		if err := row.Scan(&event.ID, &event.ActorID, &event.ActorEmail, &event.OrganizationID, &event.Resource,
			&event.Action, &event.RecordID, &data, &event.IPAddress, &event.CreatedAt); err != nil {
			return AuditEvent{}, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &event.Data); err != nil {
				return AuditEvent{}, err
			}
		}
		return event, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit events: %w", err)
	}
	return events, nil
}
