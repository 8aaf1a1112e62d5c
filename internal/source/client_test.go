package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := New(Config{
		BaseURL:     srv.URL + "/",
		APIKey:      "secret-key",
		BusinessID:  "biz-42",
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}, zap.NewNop())
	return c, srv
}

func TestVerifyConnection_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/businesses/biz-42", r.URL.Path)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"id":"biz-42","name":"Polished"}`))
	})

	require.NoError(t, c.VerifyConnection(context.Background()))
}

func TestVerifyConnection_RetriesThenFails(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	err := c.VerifyConnection(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestVerifyConnection_RecoversOnRetry(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	})

	require.NoError(t, c.VerifyConnection(context.Background()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestListCompletedAppointments_QueryAndMapping(t *testing.T) {
	gofakeit.Seed(7)
	email := gofakeit.Email()
	name := gofakeit.Name()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/businesses/biz-42/appointments", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "2026-05-14T00:00:00", q.Get("filter[start_date_min]"))
		assert.Equal(t, "2026-05-14T23:59:59", q.Get("filter[start_date_max]"))
		assert.Equal(t, "completed", q.Get("filter[status]"))
		assert.Equal(t, "100", q.Get("limit"))

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"id":         "apt-1",
					"customer":   map[string]any{"id": 991, "name": name, "email": email, "phone": "555-0101"},
					"service":    map[string]any{"name": "Gel Manicure"},
					"start_date": "2026-05-14T10:30:00",
				},
				{
					"id":         2,
					"customer":   map[string]any{"id": "c-2", "email": "not-an-email"},
					"start_date": "2026-05-14T15:00:00Z",
				},
			},
		})
	})

	day := time.Date(2026, 5, 14, 18, 0, 0, 0, time.UTC)
	appts, err := c.ListCompletedAppointments(context.Background(), day)
	require.NoError(t, err)
	require.Len(t, appts, 2)

	first := appts[0]
	assert.Equal(t, "apt-1", first.ExternalID)
	assert.Equal(t, "991", first.Customer.ExternalID)
	assert.Equal(t, name, first.Customer.Name)
	assert.Equal(t, email, first.Customer.Email)
	assert.Equal(t, "Gel Manicure", first.ServiceName)
	assert.True(t, first.StartTime.Equal(time.Date(2026, 5, 14, 10, 30, 0, 0, time.UTC)))

	second := appts[1]
	assert.Equal(t, "2", second.ExternalID)
	assert.Equal(t, defaultCustomerName, second.Customer.Name)
	assert.Equal(t, defaultServiceName, second.ServiceName)
	assert.Empty(t, second.Customer.Email, "invalid email should be dropped")
}

func TestListCompletedAppointments_DropsMalformedRecords(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[
			{"id":"ok","customer":{"id":"c1","email":"a@example.com"},"start_date":"2026-05-14T09:00:00"},
			{"id":"","customer":{"id":"c2"},"start_date":"2026-05-14T09:00:00"},
			{"id":"bad-date","customer":{"id":"c3"},"start_date":"yesterday"},
			{"id":"no-customer","start_date":"2026-05-14T09:00:00"}
		]}`))
	})

	appts, err := c.ListCompletedAppointments(context.Background(), time.Now())
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, "ok", appts[0].ExternalID)
}

func TestListCompletedAppointments_MalformedBody(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"data": [`))
	})

	_, err := c.ListCompletedAppointments(context.Background(), time.Now())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestListCompletedAppointments_DayBoundaryUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	var gotMin string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMin = r.URL.Query().Get("filter[start_date_min]")
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, BusinessID: "b", Location: loc, RetryDelay: time.Millisecond}, zap.NewNop())

	// 02:00 UTC on the 15th is still the 14th in New York.
	_, err = c.ListCompletedAppointments(context.Background(), time.Date(2026, 5, 15, 2, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2026-05-14T00:00:00", gotMin)
}

func TestGet_StopsOnContextCancel(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		cancel()
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := c.VerifyConnection(ctx)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFlexID(t *testing.T) {
	tests := []struct {
		in   string
		want flexID
	}{
		{`"abc"`, "abc"},
		{`123`, "123"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var got flexID
		require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
		assert.Equal(t, tt.want, got)
	}

	var bad flexID
	assert.Error(t, json.Unmarshal([]byte(`{}`), &bad))
}
