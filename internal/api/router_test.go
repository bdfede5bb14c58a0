package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rcourtman/pveview/internal/poller"
	"github.com/rcourtman/pveview/internal/session"
	"github.com/rcourtman/pveview/internal/viewsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecords() []viewsync.Record {
	return []viewsync.Record{
		{ID: "node/pve1", Type: viewsync.TypeNode, Node: "pve1", Text: "pve1", Running: true, Uptime: 3600},
		{ID: "qemu/100", Type: viewsync.TypeQemu, Node: "pve1", VMID: 100, Name: "web", Text: "100 (web)", Mem: 200, MaxMem: 1000},
		{ID: "qemu/101", Type: viewsync.TypeQemu, Node: "pve1", VMID: 101, Name: "db", Text: "101 (db)", Mem: 500, MaxMem: 1000, Pool: "prod"},
		{ID: "storage/pve1/local", Type: viewsync.TypeStorage, Node: "pve1", Storage: "local", Text: "local (pve1)"},
	}
}

type published struct {
	mu      sync.Mutex
	updates []*session.Update
}

func (p *published) add(u *session.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
}

func (p *published) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

func newTestRouter(t *testing.T, status func() poller.Status) (*Router, *session.Session, *published) {
	t.Helper()
	sess := session.New(nil)
	_, err := sess.Apply(testRecords())
	require.NoError(t, err)
	pub := &published{}
	r := NewRouter(Options{Session: sess, Status: status, Publish: pub.add, Version: "test"})
	return r, sess, pub
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func ids(records []viewsync.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestHealth(t *testing.T) {
	status := poller.Status{LastSuccess: time.Now()}
	r, sess, _ := newTestRouter(t, func() poller.Status { return status })

	rec := do(t, r, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, sess.ID(), resp.Session)
	assert.True(t, sess.CreatedAt().Equal(resp.SessionStarted))
	assert.Equal(t, 4, resp.Entries)
	require.NotNil(t, resp.Poller)

	status = poller.Status{Failures: 2, LastError: "connection refused"}
	resp = decode[HealthResponse](t, do(t, r, http.MethodGet, "/api/health", ""))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "connection refused", resp.Poller.LastError)

	rec = do(t, r, http.MethodPost, "/api/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

func TestResources(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	t.Run("full view", func(t *testing.T) {
		resp := decode[ResourcesResponse](t, do(t, r, http.MethodGet, "/api/resources", ""))
		assert.Equal(t, 4, resp.Total)
		assert.Len(t, resp.Records, 4)
		assert.Empty(t, resp.Rows)
	})

	t.Run("type filter", func(t *testing.T) {
		resp := decode[ResourcesResponse](t, do(t, r, http.MethodGet, "/api/resources?type=qemu", ""))
		assert.Equal(t, []string{"qemu/100", "qemu/101"}, ids(resp.Records))
		assert.Equal(t, 2, resp.Total)
	})

	t.Run("search and pool", func(t *testing.T) {
		resp := decode[ResourcesResponse](t, do(t, r, http.MethodGet, "/api/resources?pool=prod", ""))
		assert.Equal(t, []string{"qemu/101"}, ids(resp.Records))

		resp = decode[ResourcesResponse](t, do(t, r, http.MethodGet, "/api/resources?search=web", ""))
		assert.Equal(t, []string{"qemu/100"}, ids(resp.Records))
	})

	t.Run("sort descending", func(t *testing.T) {
		resp := decode[ResourcesResponse](t, do(t, r, http.MethodGet, "/api/resources?type=qemu&sort=mem&desc=true", ""))
		assert.Equal(t, []string{"qemu/101", "qemu/100"}, ids(resp.Records))
	})

	t.Run("rendered columns", func(t *testing.T) {
		resp := decode[ResourcesResponse](t, do(t, r, http.MethodGet, "/api/resources?type=qemu&columns=type,text", ""))
		require.Len(t, resp.Columns, 2)
		assert.Equal(t, "type", resp.Columns[0].Key)
		assert.Equal(t, [][]string{{"VM", "100 (web)"}, {"VM", "101 (db)"}}, resp.Rows)
	})

	t.Run("bad input", func(t *testing.T) {
		for _, target := range []string{
			"/api/resources?columns=bogus",
			"/api/resources?type=container",
			"/api/resources?sort=nope",
			"/api/resources?desc=maybe",
		} {
			rec := do(t, r, http.MethodGet, target, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, target)
			resp := decode[ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.ErrorMessage, target)
			assert.NotEmpty(t, resp.RequestID, target)
		}
	})
}

func TestTreeAndColumns(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)

	rec := do(t, r, http.MethodGet, "/api/tree", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tree := decode[struct {
		Groups []session.Group `json:"groups"`
	}](t, rec)
	var node *session.Group
	for i := range tree.Groups {
		if tree.Groups[i].ID == "node/pve1" {
			node = &tree.Groups[i]
		}
	}
	require.NotNil(t, node)
	require.NotNil(t, node.Parent)
	assert.Equal(t, "node/pve1", node.Parent.ID)
	assert.Len(t, node.Children, 3)

	parents := decode[struct {
		ID      string   `json:"id"`
		Parents []string `json:"parents"`
	}](t, do(t, r, http.MethodGet, "/api/tree?id=qemu/101", ""))
	assert.Equal(t, "qemu/101", parents.ID)
	assert.Equal(t, []string{"node/pve1", "pool/prod"}, parents.Parents)

	rec = do(t, r, http.MethodGet, "/api/tree?id=qemu/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)

	cols := decode[struct {
		Columns []ColumnInfo `json:"columns"`
		Default []string     `json:"default"`
	}](t, do(t, r, http.MethodGet, "/api/columns", ""))
	assert.NotEmpty(t, cols.Columns)
	assert.Contains(t, cols.Default, "type")
}

func TestHealth_SessionStartedFollowsReset(t *testing.T) {
	r, sess, _ := newTestRouter(t, nil)
	before := decode[HealthResponse](t, do(t, r, http.MethodGet, "/api/health", ""))

	time.Sleep(2 * time.Millisecond)
	sess.Reset()
	after := decode[HealthResponse](t, do(t, r, http.MethodGet, "/api/health", ""))
	assert.NotEqual(t, before.Session, after.Session)
	assert.True(t, after.SessionStarted.After(before.SessionStarted))
}

func TestView(t *testing.T) {
	r, sess, pub := newTestRouter(t, nil)

	rec := do(t, r, http.MethodGet, "/api/view", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"preset":null}`, rec.Body.String())

	rec = do(t, r, http.MethodPut, "/api/view", `{"name":"vms","filter":{"types":["qemu"]},"sort":{"column":"mem","desc":true}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	update := decode[session.Update](t, rec)
	assert.ElementsMatch(t, []string{"node/pve1", "storage/pve1/local"}, update.Removed)
	assert.True(t, update.Reordered)
	assert.Equal(t, []string{"qemu/101", "qemu/100"}, update.Order)
	assert.Equal(t, 1, pub.len())
	assert.Equal(t, 2, sess.Len())
	require.NotNil(t, sess.Preset())
	assert.Equal(t, "vms", sess.Preset().Name)

	// Same preset again changes nothing and publishes nothing.
	rec = do(t, r, http.MethodPut, "/api/view", `{"name":"vms","filter":{"types":["qemu"]},"sort":{"column":"mem","desc":true}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, pub.len())

	rec = do(t, r, http.MethodPut, "/api/view", `null`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, sess.Len())
	assert.Nil(t, sess.Preset())
}

func TestView_Rejections(t *testing.T) {
	r, sess, pub := newTestRouter(t, nil)

	tests := []struct {
		name   string
		method string
		body   string
		status int
		code   string
	}{
		{"malformed json", http.MethodPut, `{"filter":`, http.StatusBadRequest, "invalid_body"},
		{"unknown field", http.MethodPut, `{"colour":"red"}`, http.StatusBadRequest, "invalid_body"},
		{"unknown type", http.MethodPut, `{"filter":{"types":["container"]}}`, http.StatusBadRequest, "invalid_view"},
		{"unknown column", http.MethodPut, `{"sort":{"column":"colour"}}`, http.StatusBadRequest, "invalid_view"},
		{"wrong method", http.MethodDelete, "", http.StatusMethodNotAllowed, "method_not_allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, tt.method, "/api/view", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
	assert.Equal(t, 4, sess.Len())
	assert.Zero(t, pub.len())

	sess.Close()
	rec := do(t, r, http.MethodPut, "/api/view", `{"filter":{"types":["qemu"]}}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestErrorHandler_RequestIDAndPanics(t *testing.T) {
	h := ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			panic("boom")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = do(t, h, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "internal_error", resp.Code)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, resp.RequestID, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(t, nil)
	do(t, r, http.MethodGet, "/api/health", "")

	rec := do(t, r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pveview_http_requests_total")
}
