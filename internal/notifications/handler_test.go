package notifications_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bissquit/market-courier/internal/domain"
	"github.com/bissquit/market-courier/internal/notifications"
	"github.com/bissquit/market-courier/internal/notifications/memory"
	"github.com/bissquit/market-courier/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func newHandlerRouter(t *testing.T, role domain.Role) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	store.PutProduct(domain.Product{ID: "p1", OwnerID: "seller", Status: domain.ProductStatusActive})
	h := notifications.NewHandler(notifications.NewService(notifications.DefaultServiceConfig(), store, store))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := context.WithValue(req.Context(), httputil.RoleKey, role)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	h.RegisterProducerRoutes(r)
	h.RegisterServiceRoutes(r)
	h.RegisterDeliveryRoutes(r)
	return r, store
}

func serve(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestHandler_Enqueue(t *testing.T) {
	tests := []struct {
		name       string
		role       domain.Role
		body       any
		wantStatus int
		wantError  string
	}{
		{
			name:       "personal accepted",
			role:       domain.RoleAuthenticated,
			body:       map[string]any{"kind": "personal", "payload": map[string]any{"userId": "u1", "text": "hi"}},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "missing kind",
			role:       domain.RoleAuthenticated,
			body:       map[string]any{"payload": map[string]any{"userId": "u1"}},
			wantStatus: http.StatusBadRequest,
			wantError:  "validation error",
		},
		{
			name:       "bad priority",
			role:       domain.RoleAuthenticated,
			body:       map[string]any{"kind": "personal", "payload": map[string]any{"userId": "u1"}, "priority": "urgent"},
			wantStatus: http.StatusBadRequest,
			wantError:  "validation error",
		},
		{
			name:       "unknown kind",
			role:       domain.RoleAuthenticated,
			body:       map[string]any{"kind": "fax", "payload": map[string]any{}},
			wantStatus: http.StatusBadRequest,
			wantError:  "unknown notification kind",
		},
		{
			name:       "missing entity",
			role:       domain.RoleAuthenticated,
			body:       map[string]any{"kind": "order", "payload": map[string]any{}},
			wantStatus: http.StatusBadRequest,
			wantError:  "payload is missing the entity id",
		},
		{
			name:       "bulk needs service role",
			role:       domain.RoleAuthenticated,
			body:       map[string]any{"kind": "bulk", "payload": map[string]any{"text": "sale"}},
			wantStatus: http.StatusForbidden,
			wantError:  "insufficient permissions",
		},
		{
			name:       "bulk as service",
			role:       domain.RoleService,
			body:       map[string]any{"kind": "bulk", "payload": map[string]any{"text": "sale"}},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "unknown product",
			role:       domain.RoleAuthenticated,
			body:       map[string]any{"kind": "sold", "payload": map[string]any{"productId": "missing"}},
			wantStatus: http.StatusNotFound,
			wantError:  "entity not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newHandlerRouter(t, tt.role)
			rec, env := serve(t, router, http.MethodPost, "/notifications", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError != "" {
				require.NotNil(t, env.Error)
				assert.Equal(t, tt.wantError, env.Error.Message)
				return
			}

			var result notifications.EnqueueResult
			require.NoError(t, json.Unmarshal(env.Data, &result))
			assert.NotEmpty(t, result.ItemID)
		})
	}
}

func TestHandler_Enqueue_InvalidJSON(t *testing.T) {
	router, _ := newHandlerRouter(t, domain.RoleAuthenticated)

	req := httptest.NewRequest(http.MethodPost, "/notifications", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestHandler_Enqueue_BodyTooLarge(t *testing.T) {
	router, _ := newHandlerRouter(t, domain.RoleAuthenticated)

	body := `{"kind":"personal","payload":{"userId":"u1","text":"` + strings.Repeat("a", httputil.MaxRequestBody) + `"}}`
	req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "request body too large")
}

func TestHandler_Deliver(t *testing.T) {
	router, _ := newHandlerRouter(t, domain.RoleAnon)

	t.Run("accepted", func(t *testing.T) {
		body := map[string]any{"kind": "price_offer", "payload": map[string]any{"productId": "p1", "buyerId": "b1"}}
		rec, env := serve(t, router, http.MethodPost, "/deliveries", body)
		require.Equal(t, http.StatusOK, rec.Code)

		var first notifications.DeliveryResponse
		require.NoError(t, json.Unmarshal(env.Data, &first))
		assert.True(t, first.Accepted)
		assert.NotEmpty(t, first.ItemID)
		assert.False(t, first.Duplicate)

		rec, env = serve(t, router, http.MethodPost, "/deliveries", body)
		require.Equal(t, http.StatusOK, rec.Code)
		var second notifications.DeliveryResponse
		require.NoError(t, json.Unmarshal(env.Data, &second))
		assert.True(t, second.Duplicate)
		assert.Equal(t, first.ItemID, second.ItemID)
	})

	t.Run("rejected kinds answer 200", func(t *testing.T) {
		for _, body := range []map[string]any{
			{"kind": "fax", "payload": map[string]any{}},
			{"kind": "order", "payload": map[string]any{}},
			{"kind": "sold", "payload": map[string]any{"productId": "missing"}},
		} {
			rec, env := serve(t, router, http.MethodPost, "/deliveries", body)
			require.Equal(t, http.StatusOK, rec.Code, body["kind"])

			var resp notifications.DeliveryResponse
			require.NoError(t, json.Unmarshal(env.Data, &resp))
			assert.False(t, resp.Accepted)
			assert.NotEmpty(t, resp.Reason)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		rec, env := serve(t, router, http.MethodPost, "/deliveries", map[string]any{"payload": map[string]any{}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		require.NotNil(t, env.Error)
	})
}

func TestHandler_GetItem(t *testing.T) {
	router, _ := newHandlerRouter(t, domain.RoleService)

	rec, env := serve(t, router, http.MethodGet, "/notifications/00000000-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "queue item not found", env.Error.Message)

	rec, env = serve(t, router, http.MethodPost, "/notifications", map[string]any{
		"kind": "order", "payload": map[string]any{"orderId": "o1"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var result notifications.EnqueueResult
	require.NoError(t, json.Unmarshal(env.Data, &result))

	rec, env = serve(t, router, http.MethodGet, "/notifications/"+result.ItemID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var item notifications.QueueItem
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Equal(t, result.ItemID, item.ID)
	assert.Equal(t, notifications.KindOrder, item.Kind)
}

func TestHandler_ListItems(t *testing.T) {
	router, _ := newHandlerRouter(t, domain.RoleService)

	for _, id := range []string{"o1", "o2", "o3"} {
		rec, _ := serve(t, router, http.MethodPost, "/notifications", map[string]any{
			"kind": "order", "payload": map[string]any{"orderId": id},
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCount  int
	}{
		{name: "all", query: "", wantStatus: http.StatusOK, wantCount: 3},
		{name: "pending", query: "?status=pending", wantStatus: http.StatusOK, wantCount: 3},
		{name: "completed", query: "?status=completed", wantStatus: http.StatusOK, wantCount: 0},
		{name: "limited", query: "?limit=2", wantStatus: http.StatusOK, wantCount: 2},
		{name: "invalid status", query: "?status=lost", wantStatus: http.StatusBadRequest},
		{name: "invalid limit", query: "?limit=abc", wantStatus: http.StatusBadRequest},
		{name: "negative limit", query: "?limit=-1", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := serve(t, router, http.MethodGet, "/notifications"+tt.query, nil)
			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var items []notifications.QueueItem
			require.NoError(t, json.Unmarshal(env.Data, &items))
			assert.Len(t, items, tt.wantCount)
		})
	}
}

func TestHandler_Stats(t *testing.T) {
	router, _ := newHandlerRouter(t, domain.RoleService)

	rec, _ := serve(t, router, http.MethodPost, "/notifications", map[string]any{
		"kind": "personal", "payload": map[string]any{"userId": "u1", "text": "hi"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, env := serve(t, router, http.MethodGet, "/notifications/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats notifications.QueueStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, int64(1), stats.Pending)
	assert.Zero(t, stats.DeadLetter)
}
