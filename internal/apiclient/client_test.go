package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practo-harvester/internal/fetcher"
	"practo-harvester/internal/normalize"
)

// mockProvider отдаёт total врачей страницами, как настоящий поставщик
type mockProvider struct {
	total    int
	searches int32
	failAt   int // offset, на котором отвечать 500
}

func (m *mockProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer test-key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/practo/search/doctors":
		atomic.AddInt32(&m.searches, 1)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if m.failAt > 0 && offset >= m.failAt {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var doctors []map[string]interface{}
		for i := offset; i < offset+limit && i < m.total; i++ {
			doctors = append(doctors, doctor(i))
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"doctors": doctors,
			"total":   m.total,
			"offset":  offset,
			"limit":   limit,
		})
	case r.URL.Path == "/practo/doctor/dr_1":
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"doctor": doctor(1)})
	case r.URL.Path == "/practo/doctor/dr_missing":
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": "Doctor not found"})
	case r.URL.Path == "/practo/doctors/city/bangalore":
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"doctors": []interface{}{doctor(0), doctor(1)}})
	case r.URL.Path == "/practo/doctors/specialization/Dentist":
		doctors := []interface{}{}
		if r.URL.Query().Get("city") == "bangalore" {
			doctors = append(doctors, doctor(2))
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"doctors": doctors})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func doctor(i int) map[string]interface{} {
	return map[string]interface{}{
		"id":             fmt.Sprintf("dr_%d", i),
		"name":           fmt.Sprintf("Dr. Test %d", i),
		"specialization": "Dentist",
		"experience":     10,
		"fees":           map[string]interface{}{"consultation": 500, "currency": "INR"},
		"profile_url":    fmt.Sprintf("https://www.practo.com/bangalore/doctor/dr_%d", i),
	}
}

func newClient(t *testing.T, provider http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(provider)
	t.Cleanup(srv.Close)

	transport := fetcher.NewRestyTransport(srv.URL, "test-key", 5*time.Second)
	f := fetcher.NewFetcher(transport, fetcher.Options{MaxRetries: 2, RetryDelay: time.Millisecond, MaxConcurrent: 1}, nil)
	return New(f, srv.URL, nil)
}

func TestSearch(t *testing.T) {
	c := newClient(t, &mockProvider{total: 5})

	res, err := c.Search(context.Background(), SearchParams{City: "bangalore", Limit: 3, Offset: 1})
	require.NoError(t, err)
	require.Len(t, res.Doctors, 3)
	assert.Equal(t, 5, res.Total)

	name, _ := res.Doctors[0].Get(normalize.FieldName).Str()
	assert.Equal(t, "Dr. Test 1", name)
	exp, _ := res.Doctors[0].Get(normalize.FieldExperience).Num()
	assert.Equal(t, 10.0, exp)
}

func TestAllPaginatesUntilShortPage(t *testing.T) {
	provider := &mockProvider{total: 250}
	c := newClient(t, provider)

	all, err := c.All(context.Background(), SearchParams{City: "bangalore"}, 100, 500)
	require.NoError(t, err)
	assert.Len(t, all, 250)
	assert.Equal(t, int32(3), atomic.LoadInt32(&provider.searches))

	id, _ := all[249].Get("id").Str()
	assert.Equal(t, "dr_249", id)
}

func TestAllRespectsLimit(t *testing.T) {
	provider := &mockProvider{total: 1000}
	c := newClient(t, provider)

	all, err := c.All(context.Background(), SearchParams{City: "bangalore"}, 100, 150)
	require.NoError(t, err)
	assert.Len(t, all, 150)
	assert.Equal(t, int32(2), atomic.LoadInt32(&provider.searches))
}

func TestAllReturnsPartialOnError(t *testing.T) {
	c := newClient(t, &mockProvider{total: 300, failAt: 100})

	all, err := c.All(context.Background(), SearchParams{City: "bangalore"}, 100, 300)
	require.Error(t, err)
	assert.Len(t, all, 100)
	assert.True(t, fetcher.IsKind(err, fetcher.KindRetriesExhausted))
}

func TestDetails(t *testing.T) {
	c := newClient(t, &mockProvider{})

	rec, err := c.Details(context.Background(), "dr_1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "https://www.practo.com/bangalore/doctor/dr_1", rec.Identity())

	rec, err = c.Details(context.Background(), "dr_missing")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// 404 от сервера: тоже "не найден"
	rec, err = c.Details(context.Background(), "dr_unknown")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestByCityAndSpecialization(t *testing.T) {
	c := newClient(t, &mockProvider{})

	byCity, err := c.ByCity(context.Background(), "bangalore", 100)
	require.NoError(t, err)
	assert.Len(t, byCity, 2)

	bySpec, err := c.BySpecialization(context.Background(), "Dentist", "bangalore")
	require.NoError(t, err)
	require.Len(t, bySpec, 1)
}

func TestUnauthorizedIsPermanent(t *testing.T) {
	srv := httptest.NewServer(&mockProvider{total: 1})
	defer srv.Close()

	transport := fetcher.NewRestyTransport(srv.URL, "wrong", time.Second)
	c := New(fetcher.NewFetcher(transport, fetcher.Options{MaxRetries: 3}, nil), srv.URL, nil)

	_, err := c.Search(context.Background(), SearchParams{City: "bangalore", Limit: 1})
	require.Error(t, err)
	assert.True(t, fetcher.IsKind(err, fetcher.KindPermanent))
}
