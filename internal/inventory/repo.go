package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oakmart/oakmart-backend/pkg/db/models"
)

// Repository handles inventory persistence. The quantity-moving operations
// use conditional updates so concurrent requests can never drive a counter
// negative; callers check the returned bool for success.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByProductID(ctx context.Context, productID uuid.UUID) (*models.InventoryItem, error)
	Create(ctx context.Context, item *models.InventoryItem) error
	Reserve(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	Release(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	CommitReservation(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	Restock(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByProductID(ctx context.Context, productID uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	if err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		First(&item).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repository) Create(ctx context.Context, item *models.InventoryItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// Reserve moves qty from available to reserved when enough stock exists.
func (r *repository) Reserve(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE inventory_items
		 SET available_qty = available_qty - ?, reserved_qty = reserved_qty + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE product_id = ? AND available_qty >= ?`,
		qty, qty, productID, qty,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Release moves qty back from reserved to available, used on cancellation.
func (r *repository) Release(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE inventory_items
		 SET available_qty = available_qty + ?, reserved_qty = reserved_qty - ?, updated_at = CURRENT_TIMESTAMP
		 WHERE product_id = ? AND reserved_qty >= ?`,
		qty, qty, productID, qty,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CommitReservation burns qty off the reserved counter once units ship.
func (r *repository) CommitReservation(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE inventory_items
		 SET reserved_qty = reserved_qty - ?, updated_at = CURRENT_TIMESTAMP
		 WHERE product_id = ? AND reserved_qty >= ?`,
		qty, productID, qty,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Restock adds qty straight to available, used for sellable return receipts.
func (r *repository) Restock(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE inventory_items
		 SET available_qty = available_qty + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE product_id = ?`,
		qty, productID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
