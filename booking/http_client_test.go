package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortressi/saga"
)

func newProvider(t *testing.T, inv *Inventory) *HTTPClient {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewProviderHandler(inv, logger))
	t.Cleanup(srv.Close)
	return NewHTTPClient(inv.Kind(), srv.URL+"/", srv.Client())
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestHTTPClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	inv := NewInventory(KindFlight, "air", 1)
	client := newProvider(t, inv)

	res, err := client.Book(ctx, "alice", Request{IdempotencyKey: "trip-1/flight", Origin: "LIS", Destination: "OPO"})
	require.NoError(t, err)
	assert.Equal(t, "FLIGHT-0001", res.Confirmation)
	assert.Equal(t, "alice", res.CustomerID)

	again, err := client.Book(ctx, "alice", Request{IdempotencyKey: "trip-1/flight"})
	require.NoError(t, err)
	assert.Equal(t, res, again)

	_, err = client.Book(ctx, "bob", Request{IdempotencyKey: "trip-2/flight"})
	require.ErrorIs(t, err, ErrFullyBooked)
	assert.Equal(t, saga.KindTerminal, saga.KindOf(err))

	require.NoError(t, client.Cancel(ctx, "alice"))
	require.NoError(t, client.Cancel(ctx, "alice"))
	assert.Zero(t, inv.Booked())
}

func TestHTTPClientTransientFailures(t *testing.T) {
	ctx := context.Background()
	inv := NewInventory(KindCar, "rentals", 1)
	inv.FailNext(1)
	client := newProvider(t, inv)

	_, err := client.Book(ctx, "alice", Request{})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, saga.IsTransient(err))

	_, err = client.Book(ctx, "alice", Request{})
	assert.NoError(t, err)
}

func TestHTTPClientStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   saga.ErrorKind
	}{
		{http.StatusBadRequest, `{"error":"invalid_request"}`, saga.KindTerminal},
		{http.StatusConflict, `{"error":"fully_booked"}`, saga.KindTerminal},
		{http.StatusRequestTimeout, ``, saga.KindTransient},
		{http.StatusTooManyRequests, `slow down`, saga.KindTransient},
		{http.StatusBadGateway, `{"error":"upstream"}`, saga.KindTransient},
		{http.StatusUnprocessableEntity, `{"error":"bad dates"}`, saga.KindTerminal},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewHTTPClient(KindHotel, srv.URL, srv.Client()).Book(context.Background(), "alice", Request{})
			require.Error(t, err)
			assert.Equal(t, tt.want, saga.KindOf(err), err.Error())
		})
	}
}

func TestHTTPClientTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(KindHotel, url, nil).Book(context.Background(), "alice", Request{})
	require.Error(t, err)
	assert.True(t, saga.IsTransient(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewHTTPClient(KindHotel, url, nil).Book(ctx, "alice", Request{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, saga.KindTerminal, saga.KindOf(err))
}

func TestProviderHandler(t *testing.T) {
	inv := NewInventory(KindHotel, "grand", 2)
	h := NewProviderHandler(inv, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bookings", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/bookings", jsonBody(t, BookRequest{CustomerID: "alice"}))
	req.Header.Set("Idempotency-Key", "trip-1/hotel")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bookings/alice", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var res Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "HOTEL-0001", res.Confirmation)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/bookings/alice", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bookings/alice", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
