package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sawpanic/stratum/internal/apperr"
	"github.com/sawpanic/stratum/internal/domain"
)

// SubscriberRepo implements persistence.SubscriberRepository. It is a
// read-only projection — onboarding/entitlement management is external per
// SPEC_FULL.md §1.
type SubscriberRepo struct {
	db *sqlx.DB
}

// NewSubscriberRepo wraps db.
func NewSubscriberRepo(db *sqlx.DB) *SubscriberRepo { return &SubscriberRepo{db: db} }

// ListActive returns every subscriber currently eligible for delivery.
func (r *SubscriberRepo) ListActive(ctx context.Context) ([]domain.Subscriber, error) {
	var out []domain.Subscriber
	err := r.db.SelectContext(ctx, &out, `SELECT * FROM subscribers WHERE is_active = true`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "subscribers.list_active")
	}
	return out, nil
}

// Get returns a subscriber by id, or nil if not found.
func (r *SubscriberRepo) Get(ctx context.Context, id string) (*domain.Subscriber, error) {
	var s domain.Subscriber
	err := r.db.GetContext(ctx, &s, `SELECT * FROM subscribers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "subscribers.get")
	}
	return &s, nil
}

// WebhookDeliveryRepo implements persistence.WebhookDeliveryRepository.
type WebhookDeliveryRepo struct {
	db *sqlx.DB
}

// NewWebhookDeliveryRepo wraps db.
func NewWebhookDeliveryRepo(db *sqlx.DB) *WebhookDeliveryRepo { return &WebhookDeliveryRepo{db: db} }

// Insert audits one delivery attempt batch.
func (r *WebhookDeliveryRepo) Insert(ctx context.Context, o domain.WebhookDeliveryOutcome) error {
	const q = `
		INSERT INTO webhook_delivery_outcomes
			(subscriber_id, signal_id, status, http_status, body_preview, duration_ms, error, attempts, created_at)
		VALUES
			(:subscriber_id, :signal_id, :status, :http_status, :body_preview, :duration_ms, :error, :attempts, :created_at)`
	_, err := r.db.NamedExecContext(ctx, q, o)
	return wrapWriteErr("webhook_delivery_outcomes.insert", err)
}

// RecentForSubscriber returns delivery outcomes for a subscriber since a time.
func (r *WebhookDeliveryRepo) RecentForSubscriber(ctx context.Context, subscriberID string, since time.Time) ([]domain.WebhookDeliveryOutcome, error) {
	var out []domain.WebhookDeliveryOutcome
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM webhook_delivery_outcomes WHERE subscriber_id = $1 AND created_at >= $2 ORDER BY created_at DESC`,
		subscriberID, since)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamTransient, err, "webhook_delivery_outcomes.recent_for_subscriber")
	}
	return out, nil
}
