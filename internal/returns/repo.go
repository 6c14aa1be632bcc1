package returns

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
)

// Repository persists return requests and their line items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, ret *models.Return) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Return, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Return, error)
	HasActiveReturn(ctx context.Context, orderID uuid.UUID) (bool, error)
	UpdateStatusCAS(ctx context.Context, returnID uuid.UUID, from, to enums.ReturnStatus) (bool, error)
	Complete(ctx context.Context, returnID uuid.UUID, actualRefundCents int, completedAt time.Time) error
	UpdateItemReceipt(ctx context.Context, itemID uuid.UUID, receivedQty int, condition *enums.ItemCondition, refundCents int) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds the returns repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, ret *models.Return) error {
	if ret.ID == uuid.Nil {
		ret.ID = uuid.New()
	}
	for i := range ret.Items {
		if ret.Items[i].ID == uuid.Nil {
			ret.Items[i].ID = uuid.New()
		}
	}
	if err := r.db.WithContext(ctx).Create(ret).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create return")
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Return, error) {
	var ret models.Return
	err := r.db.WithContext(ctx).
		Preload("Items").
		First(&ret, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find return")
	}
	return &ret, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Return, error) {
	var rets []models.Return
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&rets).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list returns")
	}
	return rets, nil
}

// HasActiveReturn reports whether the order already has a return that was not
// rejected. Completed returns count: one return cycle per order.
func (r *repository) HasActiveReturn(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Return{}).
		Where("order_id = ? AND status <> ?", orderID, enums.ReturnStatusRejected).
		Count(&count).Error
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count active returns")
	}
	return count > 0, nil
}

func (r *repository) UpdateStatusCAS(ctx context.Context, returnID uuid.UUID, from, to enums.ReturnStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Return{}).
		Where("id = ? AND status = ?", returnID, from).
		Update("status", to)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "update return status")
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Complete(ctx context.Context, returnID uuid.UUID, actualRefundCents int, completedAt time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.Return{}).
		Where("id = ?", returnID).
		Updates(map[string]any{
			"actual_refund_amount_cents": actualRefundCents,
			"completed_at":               completedAt,
		}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete return")
	}
	return nil
}

func (r *repository) UpdateItemReceipt(ctx context.Context, itemID uuid.UUID, receivedQty int, condition *enums.ItemCondition, refundCents int) error {
	updates := map[string]any{
		"received_quantity": receivedQty,
		"refund_cents":      refundCents,
	}
	if condition != nil {
		updates["condition"] = *condition
	}
	err := r.db.WithContext(ctx).
		Model(&models.ReturnItem{}).
		Where("id = ?", itemID).
		Updates(updates).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update return item receipt")
	}
	return nil
}
