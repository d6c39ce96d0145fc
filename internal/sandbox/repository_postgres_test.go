package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock init error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestPostgresCreate(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	b := &Booking{
		ID:          uuid.New(),
		Reference:   "BK-TEST01",
		UserID:      uuid.New(),
		RoomID:      "room-1",
		CheckInDate: now,
		Duration:    2,
		SeekerName:  "Asha",
		SeekerEmail: "asha@example.in",
		SeekerPhone: "9876543210",
		Status:      StatusPending,
		TotalAmount: 2618000,
		Currency:    "INR",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO sandbox_bookings").
		WithArgs(b.ID, b.Reference, b.UserID, b.RoomID, b.CheckInDate, b.Duration,
			b.SeekerName, b.SeekerEmail, b.SeekerPhone, b.SpecialRequests, b.Status,
			b.TotalAmount, b.Currency, b.CreatedAt, b.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), b); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT \\* FROM sandbox_bookings WHERE id").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	b, err := repo.GetByID(context.Background(), id)
	if err != nil || b != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", b, err)
	}
}

func TestPostgresAttachOrderConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE sandbox_bookings SET order_id").
		WithArgs(id, "order_new").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT \\* FROM sandbox_bookings WHERE id").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "reference", "order_id"}).
			AddRow(id.String(), "BK-TEST01", "order_old"))

	err := repo.AttachOrder(context.Background(), id, "order_new")
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresConfirm(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE sandbox_bookings SET status").
		WithArgs(id, StatusConfirmed, "pay_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Confirm(context.Background(), id, "pay_1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	mock.ExpectExec("UPDATE sandbox_bookings SET status").
		WithArgs(id, StatusConfirmed, "pay_2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.Confirm(context.Background(), id, "pay_2"); !errors.Is(err, ErrBookingNotFound) {
		t.Fatalf("expected ErrBookingNotFound, got %v", err)
	}
}
