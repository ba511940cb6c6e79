package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-router/internal/apperr"
	"traffic-router/internal/engine"
)

// memStore backs both the CRUD handlers and the engine in tests.
type memStore struct {
	targets map[string]engine.Target
	order   []string
	counts  map[string]int64
	nextID  int

	listErr error
	pingErr error
}

func newMemStore() *memStore {
	return &memStore{
		targets: map[string]engine.Target{},
		counts:  map[string]int64{},
	}
}

func (m *memStore) List(ctx context.Context) ([]engine.Target, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]engine.Target, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.targets[id])
	}
	return out, nil
}

func (m *memStore) Get(ctx context.Context, id string) (engine.Target, error) {
	t, ok := m.targets[id]
	if !ok {
		return engine.Target{}, apperr.New(apperr.KindNotFound, "target not found")
	}
	return t, nil
}

func (m *memStore) Exists(ctx context.Context, id string) (bool, error) {
	_, ok := m.targets[id]
	return ok, nil
}

func (m *memStore) Create(ctx context.Context, t engine.Target) (string, error) {
	m.nextID++
	t.ID = fmt.Sprintf("t%d", m.nextID)
	m.targets[t.ID] = t
	m.order = append(m.order, t.ID)
	return t.ID, nil
}

func (m *memStore) Update(ctx context.Context, id string, fields map[string]string) error {
	t := m.targets[id]
	for k, v := range fields {
		switch k {
		case "url":
			t.URL = v
		case "value":
			t.Value = v
		case "maxAcceptsPerDay":
			t.MaxAcceptsPerDay = v
		case "accept":
			t.Accept = v
		}
	}
	m.targets[id] = t
	return nil
}

func (m *memStore) Counts(ctx context.Context, ids []string, day string) ([]int64, error) {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = m.counts[id+":"+day]
	}
	return out, nil
}

func (m *memStore) Increment(ctx context.Context, id, day string) (int64, error) {
	m.counts[id+":"+day]++
	return m.counts[id+":"+day], nil
}

func (m *memStore) Expire(ctx context.Context, id, day string, ttl time.Duration) error {
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return m.pingErr }

func (m *memStore) addTarget(url, value, maxPerDay, accept string) string {
	id, _ := m.Create(context.Background(), engine.Target{
		URL:              url,
		Value:            value,
		MaxAcceptsPerDay: maxPerDay,
		Accept:           accept,
	})
	return id
}

func newTestRouter(ms *memStore) http.Handler {
	return Router(NewHandler(engine.New(ms, ms), ms, ms))
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

const caAfternoonAccept = `{"geoState":{"$in":["ca"]},"hour":{"$in":["14"]}}`

func TestRoute_Scenarios(t *testing.T) {
	today := time.Now().UTC().Format("2006-01-02")

	tests := []struct {
		name       string
		setup      func(*memStore)
		body       string
		wantStatus int
		wantBody   map[string]any
	}{
		{
			name:       "empty catalog rejects",
			setup:      func(*memStore) {},
			body:       `{"geoState":"ca","timestamp":"2024-01-01T14:30:00Z"}`,
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"decision": "reject"},
		},
		{
			name: "matching target under cap accepts",
			setup: func(ms *memStore) {
				ms.addTarget("http://a.example", "0.50", "10", caAfternoonAccept)
			},
			body:       `{"geoState":"ca","timestamp":"2024-01-01T14:30:00Z"}`,
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"decision": "accept", "url": "http://a.example"},
		},
		{
			name: "target at cap rejects",
			setup: func(ms *memStore) {
				id := ms.addTarget("http://a.example", "0.50", "10", caAfternoonAccept)
				ms.counts[id+":"+today] = 10
			},
			body:       `{"geoState":"ca","timestamp":"2024-01-01T14:30:00Z"}`,
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"decision": "reject"},
		},
		{
			name: "highest value wins",
			setup: func(ms *memStore) {
				ms.addTarget("http://low.example", "0.50", "10", caAfternoonAccept)
				ms.addTarget("http://high.example", "0.75", "10", caAfternoonAccept)
			},
			body:       `{"geoState":"ca","timestamp":"2024-01-01T14:30:00Z"}`,
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"decision": "accept", "url": "http://high.example"},
		},
		{
			name: "malformed accept rule never matches",
			setup: func(ms *memStore) {
				ms.addTarget("http://a.example", "0.50", "10", "{broken")
			},
			body:       `{"geoState":"ca","timestamp":"2024-01-01T14:30:00Z"}`,
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"decision": "reject"},
		},
		{
			name:       "invalid JSON",
			setup:      func(*memStore) {},
			body:       `{nope`,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]any{"error": "invalid JSON"},
		},
		{
			name:       "missing geoState",
			setup:      func(*memStore) {},
			body:       `{"timestamp":"2024-01-01T14:30:00Z"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]any{"error": "missing geoState"},
		},
		{
			name:       "bad timestamp",
			setup:      func(*memStore) {},
			body:       `{"geoState":"ca","timestamp":"yesterday"}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]any{"error": "invalid timestamp"},
		},
		{
			name: "store failure is a server error",
			setup: func(ms *memStore) {
				ms.listErr = apperr.New(apperr.KindStore, "failed to fetch targets")
			},
			body:       `{"geoState":"ca","timestamp":"2024-01-01T14:30:00Z"}`,
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]any{"error": "failed to fetch targets"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := newMemStore()
			tt.setup(ms)
			h := newTestRouter(ms)

			w := doJSON(t, h, http.MethodPost, "/route", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)

			var got map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tt.wantBody, got)
		})
	}
}

func TestRoute_AcceptIncrementsCounter(t *testing.T) {
	ms := newMemStore()
	id := ms.addTarget("http://a.example", "0.50", "10", caAfternoonAccept)
	h := newTestRouter(ms)

	w := doJSON(t, h, http.MethodPost, "/route", `{"geoState":"ca","timestamp":"2024-01-01T14:30:00Z"}`)
	require.Equal(t, http.StatusOK, w.Code)

	today := time.Now().UTC().Format("2006-01-02")
	assert.Equal(t, int64(1), ms.counts[id+":"+today])
}

func TestCreateTarget(t *testing.T) {
	ms := newMemStore()
	h := newTestRouter(ms)

	body := `{
		"id": "client-supplied",
		"url": "http://a.example",
		"value": 0.5,
		"maxAcceptsPerDay": 10,
		"accept": {"geoState":{"$in":["ca"]},"hour":{"$in":["14"]}}
	}`
	w := doJSON(t, h, http.MethodPost, "/api/targets", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	id := resp["id"]
	require.NotEmpty(t, id)
	assert.NotEqual(t, "client-supplied", id)

	got := ms.targets[id]
	assert.Equal(t, "http://a.example", got.URL)
	assert.Equal(t, "0.5", got.Value)
	assert.Equal(t, "10", got.MaxAcceptsPerDay)

	// the accept object is stored serialized and usable for matching
	rule, ok := engine.DecodeAccept(got.Accept)
	require.True(t, ok)
	assert.Equal(t, []string{"ca"}, rule.GeoIn)
	assert.Equal(t, []string{"14"}, rule.HourIn)
}

func TestCreateTarget_InvalidJSON(t *testing.T) {
	h := newTestRouter(newMemStore())
	w := doJSON(t, h, http.MethodPost, "/api/targets", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTarget(t *testing.T) {
	ms := newMemStore()
	id := ms.addTarget("http://a.example", "0.50", "10", caAfternoonAccept)
	h := newTestRouter(ms)

	w := doJSON(t, h, http.MethodGet, "/api/target/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)

	var got engine.Target
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "http://a.example", got.URL)
}

func TestGetTarget_NotFound(t *testing.T) {
	h := newTestRouter(newMemStore())
	w := doJSON(t, h, http.MethodGet, "/api/target/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"target not found"}`, w.Body.String())
}

func TestListTargets(t *testing.T) {
	ms := newMemStore()
	h := newTestRouter(ms)

	w := doJSON(t, h, http.MethodGet, "/api/targets", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	ms.addTarget("http://a.example", "0.50", "10", caAfternoonAccept)
	ms.addTarget("http://b.example", "0.75", "5", caAfternoonAccept)

	w = doJSON(t, h, http.MethodGet, "/api/targets", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got []engine.Target
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "http://a.example", got[0].URL)
	assert.Equal(t, "http://b.example", got[1].URL)
}

func TestUpdateTarget(t *testing.T) {
	ms := newMemStore()
	id := ms.addTarget("http://a.example", "0.50", "10", caAfternoonAccept)
	h := newTestRouter(ms)

	w := doJSON(t, h, http.MethodPut, "/api/target/"+id, `{"id":"evil","value":"0.99"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"id":%q}`, id), w.Body.String())

	got := ms.targets[id]
	assert.Equal(t, id, got.ID) // id never overwritten
	assert.Equal(t, "0.99", got.Value)
	assert.Equal(t, "http://a.example", got.URL) // untouched fields survive
}

func TestUpdateTarget_NotFound(t *testing.T) {
	h := newTestRouter(newMemStore())
	w := doJSON(t, h, http.MethodPut, "/api/target/nope", `{"value":"0.99"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	ms := newMemStore()
	h := newTestRouter(ms)

	w := doJSON(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	ms.pingErr = apperr.New(apperr.KindStore, "redis down")
	w = doJSON(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
