package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/fortressi/saga"
)

// TripSaga is the name the trip definition is registered under.
const TripSaga = "trip"

// Trip is the input of the trip saga.
type Trip struct {
	CustomerID string  `json:"customer_id"`
	Car        Request `json:"car"`
	Flight     Request `json:"flight"`
	Hotel      Request `json:"hotel"`
}

func (t Trip) request(kind Kind) Request {
	switch kind {
	case KindCar:
		return t.Car
	case KindFlight:
		return t.Flight
	default:
		return t.Hotel
	}
}

// Clients holds one provider per resource kind.
type Clients struct {
	Car    Client
	Flight Client
	Hotel  Client
}

// Itinerary is the composite result of a completed trip.
type Itinerary struct {
	Car    Result `json:"car"`
	Flight Result `json:"flight"`
	Hotel  Result `json:"hotel"`
}

type bookingStep struct {
	kind   Kind
	client Client
}

func (s *bookingStep) Name() string {
	return string(s.kind)
}

func (s *bookingStep) Do(ctx context.Context, sc saga.StepContext) (any, error) {
	var trip Trip
	if err := sc.DecodeSagaInput(&trip); err != nil {
		return nil, saga.Terminal(fmt.Errorf("decode trip: %w", err))
	}
	req := trip.request(s.kind)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = sc.IdempotencyKey()
	}
	return s.client.Book(ctx, trip.CustomerID, req)
}

func (s *bookingStep) Undo(ctx context.Context, sc saga.StepContext) error {
	var trip Trip
	if err := sc.DecodeSagaInput(&trip); err != nil {
		return fmt.Errorf("decode trip: %w", err)
	}
	return s.client.Cancel(ctx, trip.CustomerID)
}

// NewTripDefinition builds the car, flight, hotel saga over clients.
func NewTripDefinition(clients Clients) (*saga.Definition, error) {
	steps := []struct {
		kind   Kind
		client Client
		label  string
	}{
		{KindCar, clients.Car, "Rent a car"},
		{KindFlight, clients.Flight, "Book a flight"},
		{KindHotel, clients.Hotel, "Reserve a hotel"},
	}

	b := saga.NewBuilder(TripSaga)
	for _, st := range steps {
		if st.client == nil {
			return nil, fmt.Errorf("no %s client", st.kind)
		}
		if err := b.Append(&bookingStep{kind: st.kind, client: st.client}, saga.WithLabel(st.label)); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// DecodeTrip extracts the bookings of a completed trip.
func DecodeTrip(res *saga.CompositeResult) (Itinerary, error) {
	if res == nil {
		return Itinerary{}, errors.New("no trip result")
	}
	var it Itinerary
	for _, leg := range []struct {
		kind Kind
		dst  *Result
	}{
		{KindCar, &it.Car},
		{KindFlight, &it.Flight},
		{KindHotel, &it.Hotel},
	} {
		if err := res.Results.Decode(string(leg.kind), leg.dst); err != nil {
			return Itinerary{}, err
		}
	}
	return it, nil
}
