package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"pkt.systems/rentald/internal/store"
	"pkt.systems/rentald/internal/wire"
)

func seedCar(t *testing.T, m *store.Memory, capacity int, pricePerDay float64) uuid.UUID {
	t.Helper()
	return m.AddCar(store.Car{Model: "Kadett", Manufacturer: "Opel", Capacity: capacity, PricePerDay: pricePerDay})
}

func reserve(t *testing.T, m *store.Memory, carID uuid.UUID, start, end string) uuid.UUID {
	t.Helper()
	id, err := m.TentativeReserve(context.Background(), wire.ReservationRequest{
		ResourceID: carID, StartDate: start, EndDate: end, NumberOfPersons: 2,
	})
	if err != nil {
		t.Fatalf("reserve %s..%s: %v", start, end, err)
	}
	return id
}

func TestTentativeReservePricesInclusiveDays(t *testing.T) {
	t.Parallel()

	m := store.NewMemory()
	carID := seedCar(t, m, 4, 50)
	bookingID := reserve(t, m, carID, "2024-06-01", "2024-06-03")

	rental, ok := m.Rental(bookingID)
	if !ok {
		t.Fatal("rental missing after reserve")
	}
	if rental.TotalPrice != 150 {
		t.Fatalf("expected total price 150, got %v", rental.TotalPrice)
	}
	if rental.Confirmed {
		t.Fatal("fresh reservation must be tentative")
	}
}

func TestTentativeReserveExcludesOverlaps(t *testing.T) {
	t.Parallel()

	m := store.NewMemory()
	carID := seedCar(t, m, 4, 50)
	reserve(t, m, carID, "2024-06-02", "2024-06-04")

	cases := []struct {
		name       string
		start, end string
		wantFree   bool
	}{
		{"identical window", "2024-06-02", "2024-06-04", false},
		{"starts inside", "2024-06-03", "2024-06-08", false},
		{"ends inside", "2024-05-30", "2024-06-02", false},
		{"contains existing", "2024-06-01", "2024-06-05", false},
		{"before", "2024-05-28", "2024-06-01", true},
		{"after", "2024-06-05", "2024-06-07", true},
	}
	for _, tc := range cases {
		_, err := m.TentativeReserve(context.Background(), wire.ReservationRequest{
			ResourceID: carID, StartDate: tc.start, EndDate: tc.end, NumberOfPersons: 2,
		})
		if tc.wantFree && err != nil {
			t.Fatalf("%s: expected free window, got %v", tc.name, err)
		}
		if !tc.wantFree && !errors.Is(err, store.ErrUnavailable) {
			t.Fatalf("%s: expected ErrUnavailable, got %v", tc.name, err)
		}
	}
}

func TestTentativeReserveUnknownCar(t *testing.T) {
	t.Parallel()

	m := store.NewMemory()
	_, err := m.TentativeReserve(context.Background(), wire.ReservationRequest{
		ResourceID: uuid.New(), StartDate: "2024-06-01", EndDate: "2024-06-03", NumberOfPersons: 2,
	})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestConfirmAndReleaseAreIdempotent(t *testing.T) {
	t.Parallel()

	m := store.NewMemory()
	carID := seedCar(t, m, 4, 50)
	bookingID := reserve(t, m, carID, "2024-06-01", "2024-06-03")

	if err := m.Confirm(context.Background(), bookingID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if rental, _ := m.Rental(bookingID); !rental.Confirmed {
		t.Fatal("rental not confirmed")
	}
	if err := m.Confirm(context.Background(), bookingID); err != nil {
		t.Fatalf("second confirm: %v", err)
	}

	if err := m.Release(context.Background(), bookingID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok := m.Rental(bookingID); ok {
		t.Fatal("rental survived release")
	}
	if err := m.Release(context.Background(), bookingID); err != nil {
		t.Fatalf("second release: %v", err)
	}
}

func TestListAvailableFiltersCapacityAndWindow(t *testing.T) {
	t.Parallel()

	m := store.NewMemory()
	bigCar := seedCar(t, m, 5, 80)
	smallCar := seedCar(t, m, 2, 30)
	bookedCar := seedCar(t, m, 5, 60)
	reserve(t, m, bookedCar, "2024-06-01", "2024-06-05")

	cars, err := m.ListAvailable(context.Background(), wire.AvailabilityRequest{
		StartDate: "2024-06-02", EndDate: "2024-06-04", NumberOfPersons: 4,
	})
	if err != nil {
		t.Fatalf("list available: %v", err)
	}
	if len(cars) != 1 || cars[0].CarID != bigCar {
		t.Fatalf("expected only the big free car, got %+v", cars)
	}
	_ = smallCar
}

func TestFailOpsSurfacesStoreErrors(t *testing.T) {
	t.Parallel()

	m := store.NewMemory()
	carID := seedCar(t, m, 4, 50)
	bookingID := reserve(t, m, carID, "2024-06-01", "2024-06-03")

	m.FailOps(true)
	if _, err := m.TentativeReserve(context.Background(), wire.ReservationRequest{
		ResourceID: carID, StartDate: "2024-07-01", EndDate: "2024-07-02", NumberOfPersons: 2,
	}); err == nil {
		t.Fatal("expected injected reserve failure")
	}
	if err := m.Confirm(context.Background(), bookingID); err == nil {
		t.Fatal("expected injected confirm failure")
	}
	if err := m.Release(context.Background(), bookingID); err == nil {
		t.Fatal("expected injected release failure")
	}
}
