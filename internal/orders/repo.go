package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oakmart/oakmart-backend/pkg/db"
	"github.com/oakmart/oakmart-backend/pkg/db/models"
	"github.com/oakmart/oakmart-backend/pkg/enums"
	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
	"github.com/oakmart/oakmart-backend/pkg/pagination"
	"github.com/oakmart/oakmart-backend/pkg/types"
)

// Repository handles order persistence. Status changes go through guarded
// conditional updates so concurrent writers race safely at the database layer.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByCustomer(ctx context.Context, params ListOrdersQuery) ([]models.Order, *pagination.Cursor, error)
	UpdateStatusCAS(ctx context.Context, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus) (bool, error)
	UpdatePaymentStatusCAS(ctx context.Context, orderID uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus) (bool, error)
	UpdateTotals(ctx context.Context, orderID uuid.UUID, totals Totals) error
	SetPaymentIntentRef(ctx context.Context, orderID uuid.UUID, ref string) error
	SetFulfillmentData(ctx context.Context, orderID uuid.UUID, data types.JSONMap) error
	SetShippingDetails(ctx context.Context, orderID uuid.UUID, data types.JSONMap) error
	SetDeliveryDetails(ctx context.Context, orderID uuid.UUID, data types.JSONMap, deliveredAt time.Time) error
	SetCancelledAt(ctx context.Context, orderID uuid.UUID, at time.Time) error
	AddRefundedCents(ctx context.Context, orderID uuid.UUID, amountCents int) error
	AppendHistory(ctx context.Context, entry *models.OrderStatusHistory) error
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
}

// ListOrdersQuery configures customer order list queries.
type ListOrdersQuery struct {
	CustomerID uuid.UUID
	Status     *enums.OrderStatus
	Limit      int
	Cursor     *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for i := range order.Items {
		if order.Items[i].ID == uuid.Nil {
			order.Items[i].ID = uuid.New()
		}
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order number already taken")
		}
		return err
	}
	return nil
}

func (r *repository) FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("order_number = ?", orderNumber).
		First(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByCustomer(ctx context.Context, params ListOrdersQuery) ([]models.Order, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Order{}).
		Preload("Items").
		Where("customer_id = ?", params.CustomerID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.Order
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	if len(rows) > limit {
		next := rows[limit]
		rows = rows[:limit]
		return rows, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return rows, nil, nil
}

// UpdateStatusCAS moves status to the target only when the current value is
// one of the expected predecessors. Zero rows affected means another writer
// got there first.
func (r *repository) UpdateStatusCAS(ctx context.Context, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status IN (?)", orderID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdatePaymentStatusCAS is the forward-only payment guard. The webhook and
// the client confirmation both funnel through it; whoever commits first wins.
func (r *repository) UpdatePaymentStatusCAS(ctx context.Context, orderID uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND payment_status IN (?)", orderID, from).
		Update("payment_status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdateTotals(ctx context.Context, orderID uuid.UUID, totals Totals) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"subtotal_cents": totals.SubtotalCents,
			"tax_cents":      totals.TaxCents,
			"total_cents":    totals.TotalCents,
		}).Error
}

func (r *repository) SetPaymentIntentRef(ctx context.Context, orderID uuid.UUID, ref string) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("payment_intent_ref", ref).Error
}

func (r *repository) SetFulfillmentData(ctx context.Context, orderID uuid.UUID, data types.JSONMap) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("fulfillment_data", &data).Error
}

func (r *repository) SetShippingDetails(ctx context.Context, orderID uuid.UUID, data types.JSONMap) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("shipping_details", &data).Error
}

func (r *repository) SetDeliveryDetails(ctx context.Context, orderID uuid.UUID, data types.JSONMap, deliveredAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"delivery_details": &data,
			"delivered_at":     deliveredAt,
		}).Error
}

func (r *repository) SetCancelledAt(ctx context.Context, orderID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("cancelled_at", at).Error
}

func (r *repository) AddRefundedCents(ctx context.Context, orderID uuid.UUID, amountCents int) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("refunded_cents", gorm.Expr("refunded_cents + ?", amountCents)).Error
}

func (r *repository) AppendHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	var rows []models.OrderStatusHistory
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
