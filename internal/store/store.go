// Package store provides the reservation backend behind the 2PC state
// machine: tentative holds, confirmation, release, and the read-only
// queries. The postgres implementation carries the production SQL; the
// memory implementation backs tests and mem:// deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"pkt.systems/rentald/internal/wire"
)

// ErrUnavailable reports that a tentative reserve found the car unknown or
// its window already taken. A failing resource cannot be reserved, so
// callers treat it the same as any store error: a NO vote.
var ErrUnavailable = errors.New("store: car unavailable for requested window")

// Rental is one booking row. Confirmed=false is a tentative hold.
type Rental struct {
	RentalID   uuid.UUID `json:"rentalId"`
	CarID      uuid.UUID `json:"carId"`
	StartDate  string    `json:"startDate"`
	EndDate    string    `json:"endDate"`
	TotalPrice float64   `json:"totalPrice"`
	Confirmed  bool      `json:"confirmed"`
}

// Car is a rentable vehicle. Read-only from this service's perspective.
type Car struct {
	CarID        uuid.UUID `json:"carId"`
	Model        string    `json:"model"`
	Manufacturer string    `json:"manufacturer"`
	Capacity     int       `json:"capacity"`
	PricePerDay  float64   `json:"pricePerDay"`
}

// ReservationStore is the contract the state machine and the query path
// depend on. Every call is its own transaction; idempotency across calls
// is the caller's responsibility.
type ReservationStore interface {
	// TentativeReserve inserts an unconfirmed rental for the window and
	// returns its booking id, or ErrUnavailable when the car is unknown or
	// an existing rental overlaps the window.
	TentativeReserve(ctx context.Context, req wire.ReservationRequest) (uuid.UUID, error)
	// Confirm marks a tentative rental as committed. Confirming an already
	// confirmed rental succeeds.
	Confirm(ctx context.Context, bookingID uuid.UUID) error
	// Release deletes a rental. Releasing an absent rental succeeds.
	Release(ctx context.Context, bookingID uuid.UUID) error
	// ListRentals enumerates all rentals.
	ListRentals(ctx context.Context) ([]Rental, error)
	// ListAvailable returns cars with enough capacity and no rental
	// overlapping the requested window.
	ListAvailable(ctx context.Context, req wire.AvailabilityRequest) ([]Car, error)
	// Close releases backend resources.
	Close()
}

// Overlaps reports whether [aStart, aEnd] intersects [bStart, bEnd].
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !aEnd.Before(bStart)
}

// TotalPrice computes pricePerDay times the inclusive day count of the
// window.
func TotalPrice(pricePerDay float64, start, end time.Time) float64 {
	days := int(end.Sub(start).Hours()/24) + 1
	return pricePerDay * float64(days)
}
