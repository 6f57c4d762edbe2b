package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"pkt.systems/rentald/internal/uuidv7"
	"pkt.systems/rentald/internal/wire"
)

// Memory implements ReservationStore in process memory. It backs tests and
// mem:// deployments with the same overlap and pricing rules as the
// postgres backend.
type Memory struct {
	mu      sync.Mutex
	cars    map[uuid.UUID]Car
	rentals map[uuid.UUID]memRental

	confirms int
	releases int
	failOps  bool
}

type memRental struct {
	rental Rental
	start  time.Time
	end    time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		cars:    make(map[uuid.UUID]Car),
		rentals: make(map[uuid.UUID]memRental),
	}
}

// AddCar registers a car and returns its id.
func (m *Memory) AddCar(car Car) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if car.CarID == uuid.Nil {
		car.CarID = uuidv7.New()
	}
	m.cars[car.CarID] = car
	return car.CarID
}

// FailOps makes every subsequent mutating call return an error. Tests use
// it to exercise store-error handling.
func (m *Memory) FailOps(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOps = fail
}

// ConfirmCalls returns how many Confirm calls reached the store.
func (m *Memory) ConfirmCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirms
}

// ReleaseCalls returns how many Release calls reached the store.
func (m *Memory) ReleaseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases
}

// Rental returns the stored rental for bookingID.
func (m *Memory) Rental(bookingID uuid.UUID) (Rental, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rentals[bookingID]
	return r.rental, ok
}

// TentativeReserve holds the window when the car exists and is free.
func (m *Memory) TentativeReserve(_ context.Context, req wire.ReservationRequest) (uuid.UUID, error) {
	start, err := wire.ParseDate(req.StartDate)
	if err != nil {
		return uuid.Nil, err
	}
	end, err := wire.ParseDate(req.EndDate)
	if err != nil {
		return uuid.Nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOps {
		return uuid.Nil, errors.New("store: memory backend failure injected")
	}
	car, ok := m.cars[req.ResourceID]
	if !ok {
		return uuid.Nil, ErrUnavailable
	}
	for _, existing := range m.rentals {
		if existing.rental.CarID != req.ResourceID {
			continue
		}
		if Overlaps(existing.start, existing.end, start, end) {
			return uuid.Nil, ErrUnavailable
		}
	}
	bookingID := uuidv7.New()
	m.rentals[bookingID] = memRental{
		rental: Rental{
			RentalID:   bookingID,
			CarID:      req.ResourceID,
			StartDate:  req.StartDate,
			EndDate:    req.EndDate,
			TotalPrice: TotalPrice(car.PricePerDay, start, end),
		},
		start: start,
		end:   end,
	}
	return bookingID, nil
}

// Confirm marks the rental committed; confirming an absent or already
// confirmed rental succeeds.
func (m *Memory) Confirm(_ context.Context, bookingID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOps {
		return errors.New("store: memory backend failure injected")
	}
	m.confirms++
	if r, ok := m.rentals[bookingID]; ok {
		r.rental.Confirmed = true
		m.rentals[bookingID] = r
	}
	return nil
}

// Release deletes the rental; releasing an absent rental succeeds.
func (m *Memory) Release(_ context.Context, bookingID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOps {
		return errors.New("store: memory backend failure injected")
	}
	m.releases++
	delete(m.rentals, bookingID)
	return nil
}

// ListRentals enumerates all rentals.
func (m *Memory) ListRentals(context.Context) ([]Rental, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rentals := make([]Rental, 0, len(m.rentals))
	for _, r := range m.rentals {
		rentals = append(rentals, r.rental)
	}
	return rentals, nil
}

// ListAvailable returns cars with enough seats and a free window.
func (m *Memory) ListAvailable(_ context.Context, req wire.AvailabilityRequest) ([]Car, error) {
	start, err := wire.ParseDate(req.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := wire.ParseDate(req.EndDate)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cars := make([]Car, 0)
	for _, car := range m.cars {
		if car.Capacity < req.NumberOfPersons {
			continue
		}
		free := true
		for _, existing := range m.rentals {
			if existing.rental.CarID == car.CarID && Overlaps(existing.start, existing.end, start, end) {
				free = false
				break
			}
		}
		if free {
			cars = append(cars, car)
		}
	}
	return cars, nil
}

// Close is a no-op for the memory backend.
func (m *Memory) Close() {}
