package booking

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fortressi/saga"
)

// Inventory is an in-memory provider with a fixed capacity.
type Inventory struct {
	kind     Kind
	name     string
	capacity int

	mu       sync.Mutex
	seq      int
	bookings map[string]Result // by customer
	byKey    map[string]string // idempotency key -> customer
	failures int
}

// NewInventory creates a provider for kind that accepts up to capacity
// concurrent bookings.
func NewInventory(kind Kind, name string, capacity int) *Inventory {
	return &Inventory{
		kind:     kind,
		name:     name,
		capacity: capacity,
		bookings: make(map[string]Result),
		byKey:    make(map[string]string),
	}
}

func (i *Inventory) Kind() Kind {
	return i.kind
}

// FailNext makes the next n Book calls fail with ErrUnavailable.
func (i *Inventory) FailNext(n int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.failures = n
}

// Book reserves a unit for customerID. A repeated idempotency key or a
// customer that already holds a booking gets the existing booking back.
func (i *Inventory) Book(ctx context.Context, customerID string, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.failures > 0 {
		i.failures--
		return Result{}, saga.Transient(fmt.Errorf("%s %s: %w", i.kind, i.name, ErrUnavailable))
	}
	if req.IdempotencyKey != "" {
		if customer, ok := i.byKey[req.IdempotencyKey]; ok {
			return i.bookings[customer], nil
		}
	}
	if existing, ok := i.bookings[customerID]; ok {
		return existing, nil
	}
	if len(i.bookings) >= i.capacity {
		return Result{}, saga.Terminal(fmt.Errorf("%s %s: %w", i.kind, i.name, ErrFullyBooked))
	}

	i.seq++
	res := Result{
		Kind:         i.kind,
		CustomerID:   customerID,
		Confirmation: fmt.Sprintf("%s-%04d", strings.ToUpper(string(i.kind)), i.seq),
		Provider:     i.name,
	}
	i.bookings[customerID] = res
	if req.IdempotencyKey != "" {
		i.byKey[req.IdempotencyKey] = customerID
	}
	return res, nil
}

// Cancel releases the booking of customerID.
func (i *Inventory) Cancel(ctx context.Context, customerID string) error {
	if err := ctx.Err(); err != nil {
		return saga.Transient(err)
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.bookings, customerID)
	for key, customer := range i.byKey {
		if customer == customerID {
			delete(i.byKey, key)
		}
	}
	return nil
}

// Get returns the booking held by customerID.
func (i *Inventory) Get(customerID string) (Result, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	res, ok := i.bookings[customerID]
	return res, ok
}

// Booked returns the number of active bookings.
func (i *Inventory) Booked() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.bookings)
}
