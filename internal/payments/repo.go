package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oakmart/oakmart-backend/pkg/db/models"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
)

// Repository persists payment transactions and the webhook event log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error
	FindTransactionByIdempotencyKey(ctx context.Context, key string) (*models.PaymentTransaction, error)
	ListTransactionsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error)

	RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds the payments repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment transaction")
	}
	return nil
}

func (r *repository) FindTransactionByIdempotencyKey(ctx context.Context, key string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find payment transaction")
	}
	return &txn, nil
}

func (r *repository) ListTransactionsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&txns).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payment transactions")
	}
	return txns, nil
}

// RecordWebhookEvent inserts the durable dedup row for a provider event.
// Returns false when the (provider, event id) pair was already recorded, which
// makes the insert the authoritative tie breaker for concurrent deliveries.
func (r *repository) RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "record webhook event")
	}
	return res.RowsAffected == 1, nil
}

func failureReasonPtr(reason string) *string {
	if reason == "" {
		return nil
	}
	return &reason
}
