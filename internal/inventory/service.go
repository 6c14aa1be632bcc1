package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/oakmart/oakmart-backend/pkg/errors"
	"github.com/oakmart/oakmart-backend/pkg/logger"
)

// ReservationLine is one product/quantity pair to reserve or release.
type ReservationLine struct {
	ProductID uuid.UUID
	SKU       string
	Qty       int
}

// ShortageDetail reports the product that could not be reserved.
type ShortageDetail struct {
	ProductID uuid.UUID `json:"product_id"`
	SKU       string    `json:"sku,omitempty"`
	Requested int       `json:"requested"`
}

// ServiceParams groups dependencies for the inventory service.
type ServiceParams struct {
	Repo Repository
	Logg *logger.Logger
}

// Service applies stock movements. All multi-line operations must run inside
// the caller's transaction so a single failed line rolls back every line.
type Service struct {
	repo Repository
	logg *logger.Logger
}

// NewService builds an inventory service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo, logg: params.Logg}, nil
}

// ReserveAll reserves every line or none. A line that cannot be satisfied
// returns CodeInsufficientStock and the caller's transaction rollback undoes
// any lines reserved before it.
func (s *Service) ReserveAll(ctx context.Context, tx *gorm.DB, lines []ReservationLine) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if err := validateLines(lines); err != nil {
		return err
	}
	repo := s.repo.WithTx(tx)
	for _, line := range lines {
		ok, err := repo.Reserve(ctx, line.ProductID, line.Qty)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock,
				fmt.Sprintf("insufficient stock for product %s", line.ProductID)).
				WithDetails(ShortageDetail{ProductID: line.ProductID, SKU: line.SKU, Requested: line.Qty})
		}
	}
	return nil
}

// ReleaseAll returns reserved units to available stock, used when a pending
// or processing order is cancelled.
func (s *Service) ReleaseAll(ctx context.Context, tx *gorm.DB, lines []ReservationLine) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if err := validateLines(lines); err != nil {
		return err
	}
	repo := s.repo.WithTx(tx)
	for _, line := range lines {
		ok, err := repo.Release(ctx, line.ProductID, line.Qty)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("reserved stock for product %s is lower than the release amount", line.ProductID))
		}
	}
	return nil
}

// CommitAll burns reserved units once the order ships.
func (s *Service) CommitAll(ctx context.Context, tx *gorm.DB, lines []ReservationLine) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if err := validateLines(lines); err != nil {
		return err
	}
	repo := s.repo.WithTx(tx)
	for _, line := range lines {
		ok, err := repo.CommitReservation(ctx, line.ProductID, line.Qty)
		if err != nil {
			return err
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("reserved stock for product %s is lower than the shipped amount", line.ProductID))
		}
	}
	return nil
}

// RestockAll adds units straight back to available stock. Damaged units never
// reach this path; callers filter them out before calling.
func (s *Service) RestockAll(ctx context.Context, tx *gorm.DB, lines []ReservationLine) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if err := validateLines(lines); err != nil {
		return err
	}
	repo := s.repo.WithTx(tx)
	for _, line := range lines {
		ok, err := repo.Restock(ctx, line.ProductID, line.Qty)
		if err != nil {
			return err
		}
		if !ok {
			if s.logg != nil {
				s.logg.Warn(s.logg.WithField(ctx, "product_id", line.ProductID.String()),
					"restock skipped, inventory row missing")
			}
		}
	}
	return nil
}

// Availability returns the current counters for a product.
func (s *Service) Availability(ctx context.Context, productID uuid.UUID) (available, reserved int, err error) {
	item, err := s.repo.FindByProductID(ctx, productID)
	if err != nil {
		return 0, 0, err
	}
	if item == nil {
		return 0, 0, pkgerrors.New(pkgerrors.CodeNotFound, "inventory item not found")
	}
	return item.AvailableQty, item.ReservedQty, nil
}

func validateLines(lines []ReservationLine) error {
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one line is required")
	}
	for _, line := range lines {
		if line.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if line.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
	}
	return nil
}
