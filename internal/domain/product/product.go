// Package product holds the host-side copy of the remote module's product records
// and the metrics derived from them.
package product

import (
	"fmt"
	"time"

	"github.com/lllypuk/dashhost/internal/domain/errs"
)

// Status is the lifecycle status of a product.
type Status string

const (
	// StatusActive marks a product that is on sale.
	StatusActive Status = "active"
	// StatusInactive marks a product that is hidden from sale.
	StatusInactive Status = "inactive"
)

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	return s == StatusActive || s == StatusInactive
}

// Toggled returns the opposite status.
func (s Status) Toggled() Status {
	if s == StatusActive {
		return StatusInactive
	}
	return StatusActive
}

// Product is a copy of a product record owned by the remote module.
// The host never creates products itself; it only receives them through events.
type Product struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	SKU       string    `json:"sku"`
	Price     float64   `json:"price"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks the fields the host relies on for aggregation.
// SKU uniqueness is enforced by the remote module and is not checked here.
func (p Product) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: product id is required", errs.ErrInvalidInput)
	}
	if p.Title == "" {
		return fmt.Errorf("%w: product %s has no title", errs.ErrInvalidInput, p.ID)
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: product %s has negative price", errs.ErrInvalidInput, p.ID)
	}
	if !p.Status.IsValid() {
		return fmt.Errorf("%w: product %s has unknown status %q", errs.ErrInvalidInput, p.ID, p.Status)
	}
	return nil
}

// IsActive reports whether the product is active.
func (p Product) IsActive() bool {
	return p.Status == StatusActive
}
