package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/fortressi/saga"
	"github.com/fortressi/saga/booking"
)

const dateLayout = "2006-01-02"

type bookOptions struct {
	id          string
	customer    string
	carLocation string
	origin      string
	destination string
	hotel       string
	from        string
	to          string
}

func (o bookOptions) trip() (booking.Trip, error) {
	if o.customer == "" {
		return booking.Trip{}, errors.New("--customer is required")
	}
	var from, to time.Time
	var err error
	if o.from != "" {
		if from, err = time.Parse(dateLayout, o.from); err != nil {
			return booking.Trip{}, fmt.Errorf("--from: %w", err)
		}
	}
	if o.to != "" {
		if to, err = time.Parse(dateLayout, o.to); err != nil {
			return booking.Trip{}, fmt.Errorf("--to: %w", err)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return booking.Trip{}, errors.New("--to is before --from")
	}

	return booking.Trip{
		CustomerID: o.customer,
		Car:        booking.Request{Location: o.carLocation, From: from, To: to},
		Flight:     booking.Request{Origin: o.origin, Destination: o.destination, From: from, To: from},
		Hotel:      booking.Request{Location: o.hotel, From: from, To: to},
	}, nil
}

func (a *app) bookCmd() *cobra.Command {
	var o bookOptions
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book a car, a flight and a hotel, cancelling all of them if one fails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			trip, err := o.trip()
			if err != nil {
				return err
			}
			return a.withCoordinator(cmd.Context(), func(c *saga.Coordinator, def *saga.Definition) error {
				id := o.id
				var res *saga.CompositeResult
				if id == "" {
					id, res, err = c.Start(cmd.Context(), def, trip)
				} else {
					res, err = c.Run(cmd.Context(), id, def, trip)
				}
				return printOutcome(cmd.OutOrStdout(), id, res, err)
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.id, "id", "", "instance id; rerunning an id resumes it (generated when empty)")
	f.StringVar(&o.customer, "customer", "", "customer id")
	f.StringVar(&o.carLocation, "car", "", "car pick-up location")
	f.StringVar(&o.origin, "origin", "", "flight origin")
	f.StringVar(&o.destination, "destination", "", "flight destination")
	f.StringVar(&o.hotel, "hotel", "", "hotel location")
	f.StringVar(&o.from, "from", "", "first day of the trip (YYYY-MM-DD)")
	f.StringVar(&o.to, "to", "", "last day of the trip (YYYY-MM-DD)")
	return cmd
}

// printOutcome writes the itinerary of a completed trip or a summary of its
// rollback and returns err.
func printOutcome(w io.Writer, id string, res *saga.CompositeResult, err error) error {
	var serr *saga.SagaError
	switch {
	case err == nil:
		it, derr := booking.DecodeTrip(res)
		if derr != nil {
			return derr
		}
		fmt.Fprintf(w, "trip %s booked\n", id)
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(it)
	case errors.As(err, &serr):
		fmt.Fprintf(w, "trip %s failed at %s: %v\n", id, serr.FailedStep, serr.Cause)
		fmt.Fprintf(w, "rollback: %s\n", serr.Outcome)
		for _, ce := range serr.CompensationErrors {
			fmt.Fprintf(w, "  %s\n", ce)
		}
		return err
	default:
		if id != "" {
			fmt.Fprintf(w, "trip %s interrupted; rerun with --id %s to resume\n", id, id)
		}
		return err
	}
}
