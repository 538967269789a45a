package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortressi/saga"
	"github.com/fortressi/saga/booking"
)

// execute runs the CLI with a file store in a fresh directory.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	return out.String(), err
}

func useFileStore(t *testing.T) {
	t.Helper()
	t.Setenv("TRIPSAGA_STORE_BACKEND", "file")
	t.Setenv("TRIPSAGA_STORE_DIR", t.TempDir())
	t.Setenv("TRIPSAGA_RETRY_INITIAL_INTERVAL", "0s")
	t.Setenv("TRIPSAGA_LOG_LEVEL", "error")
}

func TestBookAndStatus(t *testing.T) {
	useFileStore(t)
	t.Setenv("TRIPSAGA_RETAIN_FINISHED", "true")

	out, err := execute(t, "book", "--id", "trip-1", "--customer", "alice",
		"--car", "Lisbon", "--origin", "LIS", "--destination", "OPO", "--hotel", "Porto",
		"--from", "2026-06-01", "--to", "2026-06-05")
	require.NoError(t, err)
	assert.Contains(t, out, "trip trip-1 booked")
	assert.Contains(t, out, "CAR-0001")
	assert.Contains(t, out, "HOTEL-0001")

	out, err = execute(t, "status", "trip-1")
	require.NoError(t, err)
	assert.Contains(t, out, "status:    completed")
	assert.Contains(t, out, "committed: [car, flight, hotel]")
}

func TestBookCompensates(t *testing.T) {
	useFileStore(t)
	t.Setenv("TRIPSAGA_PROVIDERS_CAPACITY", "0")

	out, err := execute(t, "book", "--id", "trip-2", "--customer", "bob")
	var serr *saga.SagaError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, booking.ErrFullyBooked)
	assert.Contains(t, out, "trip trip-2 failed at car")
	assert.Contains(t, out, "rollback: fully_compensated")

	_, err = execute(t, "status", "trip-2")
	assert.ErrorIs(t, err, saga.ErrNotFound, "finished snapshots are deleted by default")
}

func TestBookValidatesFlags(t *testing.T) {
	useFileStore(t)

	_, err := execute(t, "book")
	assert.ErrorContains(t, err, "--customer")

	_, err = execute(t, "book", "--customer", "alice", "--from", "2026-06-05", "--to", "2026-06-01")
	assert.ErrorContains(t, err, "before")

	_, err = execute(t, "book", "--customer", "alice", "--from", "June")
	assert.Error(t, err)
}

func TestRecoverEmptyStore(t *testing.T) {
	useFileStore(t)

	out, err := execute(t, "recover")
	require.NoError(t, err)
	assert.Contains(t, out, "recovered 0 instances, 0 failed")
}

func TestDescribe(t *testing.T) {
	useFileStore(t)

	out, err := execute(t, "describe")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph")
	assert.Contains(t, out, "hotel")
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv("TRIPSAGA_STORE_BACKEND", "etcd")

	_, err := execute(t, "recover")
	assert.ErrorContains(t, err, "etcd")
}

func TestProviderRouter(t *testing.T) {
	a := &app{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "saga_instances_started_total 0\n")
	})
	srv := httptest.NewServer(newProviderRouter(a, 1, metrics))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	hotel := booking.NewHTTPClient(booking.KindHotel, srv.URL+"/hotel", srv.Client())
	res, err := hotel.Book(ctx, "alice", booking.Request{IdempotencyKey: "trip-1/hotel"})
	require.NoError(t, err)
	assert.Equal(t, "HOTEL-0001", res.Confirmation)

	_, err = hotel.Book(ctx, "bob", booking.Request{IdempotencyKey: "trip-2/hotel"})
	assert.ErrorIs(t, err, booking.ErrFullyBooked)

	car := booking.NewHTTPClient(booking.KindCar, srv.URL+"/car", srv.Client())
	_, err = car.Book(ctx, "bob", booking.Request{})
	assert.NoError(t, err, "kinds have separate inventories")

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
