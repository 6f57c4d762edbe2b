package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"pkt.systems/pslog"

	"pkt.systems/rentald/internal/uuidv7"
	"pkt.systems/rentald/internal/wire"
)

// Postgres implements ReservationStore on a pgx connection pool. Schema:
//
//	cars(car_id uuid pk, model text, manufacturer text, capacity int, price_per_day numeric)
//	rentals(rental_id uuid pk, car_id uuid, start_date date, end_date date, total_price numeric, is_confirmed bool)
type Postgres struct {
	pool   *pgxpool.Pool
	logger pslog.Logger
}

// NewPostgres connects to dsn and verifies the connection.
func NewPostgres(ctx context.Context, dsn string, logger pslog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// TentativeReserve runs the price lookup, the overlap check, and the
// insert inside a single database transaction.
func (p *Postgres) TentativeReserve(ctx context.Context, req wire.ReservationRequest) (uuid.UUID, error) {
	start, err := wire.ParseDate(req.StartDate)
	if err != nil {
		return uuid.Nil, err
	}
	end, err := wire.ParseDate(req.EndDate)
	if err != nil {
		return uuid.Nil, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: begin reserve: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var pricePerDay float64
	err = tx.QueryRow(ctx, `SELECT price_per_day FROM cars WHERE car_id = $1`, req.ResourceID).Scan(&pricePerDay)
	if errors.Is(err, pgx.ErrNoRows) {
		p.logger.Debug("store.reserve.unknown_car", "car", req.ResourceID)
		return uuid.Nil, ErrUnavailable
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: price lookup for %s: %w", req.ResourceID, err)
	}

	var taken bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM rentals WHERE car_id = $1 AND start_date <= $3 AND end_date >= $2)`,
		req.ResourceID, start, end,
	).Scan(&taken)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: overlap check for %s: %w", req.ResourceID, err)
	}
	if taken {
		p.logger.Debug("store.reserve.window_taken", "car", req.ResourceID, "start", req.StartDate, "end", req.EndDate)
		return uuid.Nil, ErrUnavailable
	}

	bookingID := uuidv7.New()
	_, err = tx.Exec(ctx,
		`INSERT INTO rentals (rental_id, car_id, start_date, end_date, total_price, is_confirmed)
		 VALUES ($1, $2, $3, $4, $5, false)`,
		bookingID, req.ResourceID, start, end, TotalPrice(pricePerDay, start, end),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: insert rental for %s: %w", req.ResourceID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("store: commit reserve for %s: %w", req.ResourceID, err)
	}
	p.logger.Debug("store.reserve.held", "car", req.ResourceID, "booking", bookingID)
	return bookingID, nil
}

// Confirm marks the rental committed.
func (p *Postgres) Confirm(ctx context.Context, bookingID uuid.UUID) error {
	if _, err := p.pool.Exec(ctx, `UPDATE rentals SET is_confirmed = true WHERE rental_id = $1`, bookingID); err != nil {
		return fmt.Errorf("store: confirm %s: %w", bookingID, err)
	}
	return nil
}

// Release deletes the rental.
func (p *Postgres) Release(ctx context.Context, bookingID uuid.UUID) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM rentals WHERE rental_id = $1`, bookingID); err != nil {
		return fmt.Errorf("store: release %s: %w", bookingID, err)
	}
	return nil
}

// ListRentals enumerates all rentals.
func (p *Postgres) ListRentals(ctx context.Context) ([]Rental, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT rental_id, car_id, start_date, end_date, total_price, is_confirmed FROM rentals`)
	if err != nil {
		return nil, fmt.Errorf("store: list rentals: %w", err)
	}
	defer rows.Close()

	rentals := make([]Rental, 0)
	for rows.Next() {
		var r Rental
		var start, end time.Time
		if err := rows.Scan(&r.RentalID, &r.CarID, &start, &end, &r.TotalPrice, &r.Confirmed); err != nil {
			return nil, fmt.Errorf("store: scan rental: %w", err)
		}
		r.StartDate = start.Format(wire.DateLayout)
		r.EndDate = end.Format(wire.DateLayout)
		rentals = append(rentals, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rentals: %w", err)
	}
	return rentals, nil
}

// ListAvailable returns cars with enough seats and a free window.
func (p *Postgres) ListAvailable(ctx context.Context, req wire.AvailabilityRequest) ([]Car, error) {
	start, err := wire.ParseDate(req.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := wire.ParseDate(req.EndDate)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT car_id, model, manufacturer, capacity, price_per_day FROM cars
		 WHERE capacity >= $1
		   AND car_id NOT IN (SELECT car_id FROM rentals WHERE start_date <= $3 AND end_date >= $2)`,
		req.NumberOfPersons, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list available: %w", err)
	}
	defer rows.Close()

	cars := make([]Car, 0)
	for rows.Next() {
		var c Car
		if err := rows.Scan(&c.CarID, &c.Model, &c.Manufacturer, &c.Capacity, &c.PricePerDay); err != nil {
			return nil, fmt.Errorf("store: scan car: %w", err)
		}
		cars = append(cars, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list available: %w", err)
	}
	return cars, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
