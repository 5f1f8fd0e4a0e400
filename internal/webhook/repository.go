package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	trmsqlx "github.com/avito-tech/go-transaction-manager/drivers/sqlx/v2"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/everyskill/relay/internal/model"
)

// claimLease is how long a claimed delivery stays invisible to other workers.
const claimLease = 2 * time.Minute

// Repository handles webhook database operations. Writes join the
// transaction carried by ctx, so deliveries can be queued atomically with
// the change that caused them.
type Repository struct {
	db     *sqlx.DB
	getter *trmsqlx.CtxGetter
}

// NewRepository creates a new webhook repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db, getter: trmsqlx.DefaultCtxGetter}
}

func (r *Repository) conn(ctx context.Context) trmsqlx.Tr {
	return r.getter.DefaultTrOrDB(ctx, r.db)
}

type endpointRow struct {
	ID           string         `db:"id"`
	TenantID     string         `db:"tenant_id"`
	TargetURL    string         `db:"target_url"`
	SecretSealed string         `db:"secret_sealed"`
	Enabled      bool           `db:"enabled"`
	EventTypes   pq.StringArray `db:"event_types"`
	Name         string         `db:"name"`
	Description  string         `db:"description"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	DeletedAt    sql.NullTime   `db:"deleted_at"`
}

func (r endpointRow) toModel() *model.WebhookEndpoint {
	e := &model.WebhookEndpoint{
		ID:           r.ID,
		TenantID:     r.TenantID,
		TargetURL:    r.TargetURL,
		SecretSealed: r.SecretSealed,
		Enabled:      r.Enabled,
		EventTypes:   make([]model.EventType, len(r.EventTypes)),
		Name:         r.Name,
		Description:  r.Description,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	for i, et := range r.EventTypes {
		e.EventTypes[i] = model.EventType(et)
	}
	if r.DeletedAt.Valid {
		e.DeletedAt = &r.DeletedAt.Time
	}
	return e
}

const endpointColumns = `id, tenant_id, target_url, secret_sealed, enabled, event_types,
	name, description, created_at, updated_at, deleted_at`

// CreateEndpoint creates a new webhook endpoint.
func (r *Repository) CreateEndpoint(ctx context.Context, endpoint *model.WebhookEndpoint) error {
	eventTypes := make([]string, len(endpoint.EventTypes))
	for i, et := range endpoint.EventTypes {
		eventTypes[i] = string(et)
	}

	_, err := r.conn(ctx).ExecContext(ctx, `
		INSERT INTO webhook_endpoints (
			id, tenant_id, target_url, secret_sealed, enabled,
			event_types, name, description, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		endpoint.ID,
		endpoint.TenantID,
		endpoint.TargetURL,
		endpoint.SecretSealed,
		endpoint.Enabled,
		pq.Array(eventTypes),
		endpoint.Name,
		endpoint.Description,
		endpoint.CreatedAt,
		endpoint.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook endpoint: %w", err)
	}
	return nil
}

// GetEndpoint retrieves a live webhook endpoint by ID.
func (r *Repository) GetEndpoint(ctx context.Context, id string) (*model.WebhookEndpoint, error) {
	var row endpointRow
	err := r.conn(ctx).GetContext(ctx, &row,
		`SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1 AND deleted_at IS NULL`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEndpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query webhook endpoint: %w", err)
	}
	return row.toModel(), nil
}

// ListEndpoints retrieves a tenant's live endpoints.
func (r *Repository) ListEndpoints(ctx context.Context, tenantID string) ([]*model.WebhookEndpoint, error) {
	return r.selectEndpoints(ctx, `
		SELECT `+endpointColumns+`
		FROM webhook_endpoints
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`, tenantID)
}

// ListActiveEndpoints retrieves a tenant's enabled endpoints subscribed to
// the event type.
func (r *Repository) ListActiveEndpoints(ctx context.Context, tenantID string, eventType model.EventType) ([]*model.WebhookEndpoint, error) {
	return r.selectEndpoints(ctx, `
		SELECT `+endpointColumns+`
		FROM webhook_endpoints
		WHERE tenant_id = $1
		  AND deleted_at IS NULL
		  AND enabled = true
		  AND $2 = ANY(event_types)
		ORDER BY created_at
	`, tenantID, string(eventType))
}

func (r *Repository) selectEndpoints(ctx context.Context, query string, args ...any) ([]*model.WebhookEndpoint, error) {
	var rows []endpointRow
	if err := r.conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query webhook endpoints: %w", err)
	}
	endpoints := make([]*model.WebhookEndpoint, 0, len(rows))
	for _, row := range rows {
		endpoints = append(endpoints, row.toModel())
	}
	return endpoints, nil
}

// DeleteEndpoint soft-deletes a tenant's webhook endpoint.
func (r *Repository) DeleteEndpoint(ctx context.Context, tenantID, id string) error {
	result, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE webhook_endpoints
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
	`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete webhook endpoint: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

// CreateDelivery queues a delivery. A second delivery of the same event to
// the same endpoint is ignored.
func (r *Repository) CreateDelivery(ctx context.Context, d *model.WebhookDelivery) error {
	_, err := r.conn(ctx).ExecContext(ctx, `
		INSERT INTO webhook_deliveries (
			id, endpoint_id, event_id, event_type, payload_json,
			status, attempt_count, max_attempts, next_retry_at,
			request_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (endpoint_id, event_id) DO NOTHING
	`,
		d.ID,
		d.EndpointID,
		d.EventID,
		string(d.EventType),
		d.PayloadJSON,
		string(d.Status),
		d.AttemptCount,
		d.MaxAttempts,
		d.NextRetryAt,
		d.RequestID,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

type deliveryRow struct {
	ID             string        `db:"id"`
	EndpointID     string        `db:"endpoint_id"`
	EventID        string        `db:"event_id"`
	EventType      string        `db:"event_type"`
	PayloadJSON    string        `db:"payload_json"`
	Status         string        `db:"status"`
	AttemptCount   int           `db:"attempt_count"`
	MaxAttempts    int           `db:"max_attempts"`
	NextRetryAt    time.Time     `db:"next_retry_at"`
	LastAttemptAt  sql.NullTime  `db:"last_attempt_at"`
	LastHTTPStatus sql.NullInt32 `db:"last_http_status"`
	LastError      string        `db:"last_error"`
	RequestID      string        `db:"request_id"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

func (r deliveryRow) toModel() *model.WebhookDelivery {
	d := &model.WebhookDelivery{
		ID:           r.ID,
		EndpointID:   r.EndpointID,
		EventID:      r.EventID,
		EventType:    model.EventType(r.EventType),
		PayloadJSON:  r.PayloadJSON,
		Status:       model.DeliveryStatus(r.Status),
		AttemptCount: r.AttemptCount,
		MaxAttempts:  r.MaxAttempts,
		NextRetryAt:  r.NextRetryAt,
		LastError:    r.LastError,
		RequestID:    r.RequestID,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastAttemptAt.Valid {
		d.LastAttemptAt = &r.LastAttemptAt.Time
	}
	if r.LastHTTPStatus.Valid {
		status := int(r.LastHTTPStatus.Int32)
		d.LastHTTPStatus = &status
	}
	return d
}

// ClaimPendingDeliveries picks due deliveries of live endpoints and pushes
// their next_retry_at forward by a lease, so concurrent workers never send
// the same delivery twice while it is in flight.
func (r *Repository) ClaimPendingDeliveries(ctx context.Context, limit int) ([]*model.WebhookDelivery, error) {
	var rows []deliveryRow
	err := r.conn(ctx).SelectContext(ctx, &rows, `
		UPDATE webhook_deliveries SET next_retry_at = now() + $2::interval
		WHERE id IN (
			SELECT d.id
			FROM webhook_deliveries d
			JOIN webhook_endpoints e ON d.endpoint_id = e.id
			WHERE d.status IN ('pending', 'failed')
			  AND d.next_retry_at <= now()
			  AND e.deleted_at IS NULL
			  AND e.enabled = true
			ORDER BY d.next_retry_at
			LIMIT $1
			FOR UPDATE OF d SKIP LOCKED
		)
		RETURNING id, endpoint_id, event_id, event_type, payload_json,
		          status, attempt_count, max_attempts, next_retry_at,
		          last_attempt_at, last_http_status, last_error,
		          request_id, created_at, updated_at
	`, limit, fmt.Sprintf("%d seconds", int(claimLease.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("claim pending deliveries: %w", err)
	}

	deliveries := make([]*model.WebhookDelivery, 0, len(rows))
	for _, row := range rows {
		deliveries = append(deliveries, row.toModel())
	}
	return deliveries, nil
}

// MarkDeliverySuccess marks a delivery as successful.
func (r *Repository) MarkDeliverySuccess(ctx context.Context, id string, httpStatus int) error {
	_, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'success',
			attempt_count = attempt_count + 1,
			last_attempt_at = now(),
			last_http_status = $2,
			last_error = '',
			updated_at = now()
		WHERE id = $1
	`, id, httpStatus)
	if err != nil {
		return fmt.Errorf("update delivery success: %w", err)
	}
	return nil
}

// MarkDeliveryFailure records a failed attempt and schedules the next one.
func (r *Repository) MarkDeliveryFailure(ctx context.Context, id string, httpStatus *int, errMsg string, nextRetryAt time.Time, exhausted bool) error {
	status := model.DeliveryStatusFailed
	if exhausted {
		status = model.DeliveryStatusExhausted
	}
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}

	_, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $2,
			attempt_count = attempt_count + 1,
			last_attempt_at = now(),
			last_http_status = $3,
			last_error = $4,
			next_retry_at = $5,
			updated_at = now()
		WHERE id = $1
	`, id, string(status), httpStatus, errMsg, nextRetryAt)
	if err != nil {
		return fmt.Errorf("update delivery failure: %w", err)
	}
	return nil
}

// QueueDepth returns the count of pending and failed deliveries.
func (r *Repository) QueueDepth(ctx context.Context) (int64, error) {
	var count int64
	err := r.conn(ctx).GetContext(ctx, &count,
		`SELECT COUNT(*) FROM webhook_deliveries WHERE status IN ('pending', 'failed')`)
	if err != nil {
		return 0, fmt.Errorf("count queue depth: %w", err)
	}
	return count, nil
}
