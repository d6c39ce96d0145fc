package sandbox

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS sandbox_bookings (
	id               UUID PRIMARY KEY,
	reference        TEXT NOT NULL UNIQUE,
	user_id          UUID NOT NULL,
	room_id          TEXT NOT NULL,
	check_in_date    DATE NOT NULL,
	duration         INT NOT NULL CHECK (duration BETWEEN 1 AND 12),
	seeker_name      TEXT NOT NULL,
	seeker_email     TEXT NOT NULL,
	seeker_phone     TEXT NOT NULL,
	special_requests TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	total_amount     BIGINT NOT NULL,
	currency         TEXT NOT NULL,
	order_id         TEXT,
	payment_id       TEXT,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
)`

type postgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a booking repository over db.
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// EnsureSchema creates the bookings table when missing.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

func (r *postgresRepository) Create(ctx context.Context, b *Booking) error {
	query := `
		INSERT INTO sandbox_bookings (id, reference, user_id, room_id, check_in_date, duration,
			seeker_name, seeker_email, seeker_phone, special_requests, status,
			total_amount, currency, created_at, updated_at)
		VALUES (:id, :reference, :user_id, :room_id, :check_in_date, :duration,
			:seeker_name, :seeker_email, :seeker_phone, :special_requests, :status,
			:total_amount, :currency, :created_at, :updated_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, b)
	return err
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return r.get(ctx, `SELECT * FROM sandbox_bookings WHERE id = $1`, id)
}

func (r *postgresRepository) GetByReference(ctx context.Context, reference string) (*Booking, error) {
	return r.get(ctx, `SELECT * FROM sandbox_bookings WHERE reference = $1`, reference)
}

func (r *postgresRepository) get(ctx context.Context, query string, arg interface{}) (*Booking, error) {
	var b Booking
	if err := r.db.GetContext(ctx, &b, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *postgresRepository) AttachOrder(ctx context.Context, id uuid.UUID, orderID string) error {
	query := `
		UPDATE sandbox_bookings SET order_id = $2, updated_at = NOW()
		WHERE id = $1 AND (order_id IS NULL OR order_id = $2)
	`
	res, err := r.db.ExecContext(ctx, query, id, orderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrBookingNotFound
		}
		return ErrOrderConflict
	}
	return nil
}

func (r *postgresRepository) Confirm(ctx context.Context, id uuid.UUID, paymentID string) error {
	query := `
		UPDATE sandbox_bookings SET status = $2, payment_id = $3, updated_at = NOW()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, StatusConfirmed, paymentID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrBookingNotFound
	}
	return err
}

func (r *postgresRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM sandbox_bookings`)
	return n, err
}
