// Package booking holds the resource clients of the trip saga: car, flight
// and hotel providers, in memory or over HTTP.
package booking

import (
	"context"
	"errors"
	"time"
)

// Kind names a resource type.
type Kind string

const (
	KindCar    Kind = "car"
	KindFlight Kind = "flight"
	KindHotel  Kind = "hotel"
)

var (
	// ErrFullyBooked is the terminal failure of a provider without capacity.
	ErrFullyBooked = errors.New("fully booked")

	// ErrUnavailable is a transient provider failure.
	ErrUnavailable = errors.New("provider unavailable")
)

// Request describes what to book. Providers deduplicate on IdempotencyKey.
type Request struct {
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Location       string    `json:"location,omitempty"`
	Origin         string    `json:"origin,omitempty"`
	Destination    string    `json:"destination,omitempty"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
}

// Result is a confirmed booking.
type Result struct {
	Kind         Kind   `json:"kind"`
	CustomerID   string `json:"customer_id"`
	Confirmation string `json:"confirmation"`
	Provider     string `json:"provider"`
}

// Client books and cancels one kind of resource.
//
// Book fails with a saga.Terminal error when the resource cannot be booked
// and with a saga.Transient error when the call may succeed later. Cancel of
// a customer without a booking succeeds.
type Client interface {
	Book(ctx context.Context, customerID string, req Request) (Result, error)
	Cancel(ctx context.Context, customerID string) error
}
