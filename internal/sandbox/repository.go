package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrOrderConflict   = errors.New("booking already has a different payment order")
)

// Repository defines booking data access
type Repository interface {
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetByReference(ctx context.Context, reference string) (*Booking, error)
	AttachOrder(ctx context.Context, id uuid.UUID, orderID string) error
	Confirm(ctx context.Context, id uuid.UUID, paymentID string) error
	Count(ctx context.Context) (int, error)
}

// MemoryRepository keeps bookings in process.
type MemoryRepository struct {
	mu       sync.RWMutex
	bookings map[uuid.UUID]*Booking
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{bookings: make(map[uuid.UUID]*Booking)}
}

func (r *MemoryRepository) Create(_ context.Context, b *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *b
	r.bookings[b.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (r *MemoryRepository) GetByReference(_ context.Context, reference string) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.bookings {
		if b.Reference == reference {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) AttachOrder(_ context.Context, id uuid.UUID, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	if b.OrderID.Valid && b.OrderID.String != orderID {
		return ErrOrderConflict
	}
	b.OrderID = sql.NullString{String: orderID, Valid: true}
	b.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) Confirm(_ context.Context, id uuid.UUID, paymentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	b.Status = StatusConfirmed
	b.PaymentID = sql.NullString{String: paymentID, Valid: true}
	b.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bookings), nil
}
