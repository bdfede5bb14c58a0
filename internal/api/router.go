// Package api serves the resource view over HTTP and WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcourtman/pveview/internal/config"
	"github.com/rcourtman/pveview/internal/logging"
	"github.com/rcourtman/pveview/internal/poller"
	"github.com/rcourtman/pveview/internal/resources"
	"github.com/rcourtman/pveview/internal/session"
	"github.com/rcourtman/pveview/internal/viewsync"
	"github.com/rcourtman/pveview/internal/websocket"
)

const maxViewBody = 64 * 1024

// Options wires a Router to the rest of the process. Only Session is
// required.
type Options struct {
	Session *session.Session
	Hub     *websocket.Hub
	Status  func() poller.Status
	// Publish receives updates caused by view changes made through the API.
	Publish func(*session.Update)
	Version string
}

// Router handles HTTP routing.
type Router struct {
	mux       *http.ServeMux
	handler   http.Handler
	session   *session.Session
	hub       *websocket.Hub
	status    func() poller.Status
	publish   func(*session.Update)
	version   string
	startTime time.Time
}

// NewRouter builds the route table.
func NewRouter(opts Options) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		session:   opts.Session,
		hub:       opts.Hub,
		status:    opts.Status,
		publish:   opts.Publish,
		version:   opts.Version,
		startTime: time.Now(),
	}
	if r.publish == nil {
		r.publish = func(*session.Update) {}
	}
	r.setupRoutes()
	r.handler = ErrorHandler(r.mux)
	return r
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/api/health", r.handleHealth)
	r.mux.HandleFunc("/api/resources", r.handleResources)
	r.mux.HandleFunc("/api/tree", r.handleTree)
	r.mux.HandleFunc("/api/columns", r.handleColumns)
	r.mux.HandleFunc("/api/view", r.handleView)
	r.mux.Handle("/metrics", promhttp.Handler())
	if r.hub != nil {
		r.mux.HandleFunc("/ws", r.hub.HandleWebSocket)
	}
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// HealthResponse is the body of /api/health. SessionStarted moves forward
// whenever the view is reset after losing the cluster session.
type HealthResponse struct {
	Status         string         `json:"status"`
	Version        string         `json:"version,omitempty"`
	Session        string         `json:"session"`
	SessionStarted time.Time      `json:"sessionStarted"`
	View           string         `json:"view"`
	Entries        int            `json:"entries"`
	Clients        int            `json:"clients"`
	Uptime         float64        `json:"uptime"`
	Poller         *poller.Status `json:"poller,omitempty"`
	CheckedAt      time.Time      `json:"checkedAt"`
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if !allowMethods(w, req, http.MethodGet, http.MethodHead) {
		return
	}

	state := r.session.Snapshot()
	resp := HealthResponse{
		Status:         "healthy",
		Version:        r.version,
		Session:        state.SessionID,
		SessionStarted: r.session.CreatedAt(),
		View:           state.Status,
		Entries:        state.Total,
		Uptime:         time.Since(r.startTime).Seconds(),
		CheckedAt:      time.Now(),
	}
	if r.hub != nil {
		resp.Clients = r.hub.GetClientCount()
	}
	if r.status != nil {
		st := r.status()
		resp.Poller = &st
		if st.Failures > 0 {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ColumnInfo describes one table column.
type ColumnInfo struct {
	Key    string `json:"key"`
	Header string `json:"header"`
	Hidden bool   `json:"hidden,omitempty"`
}

// ResourcesResponse is the body of /api/resources. Rows is set when
// columns were requested and holds the rendered cells in column order.
type ResourcesResponse struct {
	session.State
	Columns []ColumnInfo `json:"columns,omitempty"`
	Rows    [][]string   `json:"rows,omitempty"`
}

func (r *Router) handleResources(w http.ResponseWriter, req *http.Request) {
	if !allowMethods(w, req, http.MethodGet) {
		return
	}

	q := req.URL.Query()
	narrow, err := presetFromQuery(q)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_query", err.Error(), nil)
		return
	}
	cols, err := resources.ParseColumns(q.Get("columns"))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_columns", err.Error(), nil)
		return
	}

	resp := ResourcesResponse{State: r.session.Snapshot()}
	if narrow != nil {
		resp.Records = narrowRecords(resp.Records, narrow)
		resp.Total = len(resp.Records)
	}
	if len(cols) > 0 {
		resp.Columns = make([]ColumnInfo, len(cols))
		for i, c := range cols {
			resp.Columns[i] = ColumnInfo{Key: c.String(), Header: c.Header(), Hidden: c.Hidden()}
		}
		resp.Rows = make([][]string, len(resp.Records))
		for i, rec := range resp.Records {
			row := make([]string, len(cols))
			for j, c := range cols {
				row[j] = c.Render(rec)
			}
			resp.Rows[i] = row
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// presetFromQuery reads ad hoc narrowing parameters. It returns nil when
// none are present so the session order is kept untouched.
func presetFromQuery(q url.Values) (*config.ViewPreset, error) {
	get := func(key string) string { return strings.TrimSpace(q.Get(key)) }

	p := &config.ViewPreset{
		Filter: config.ViewFilter{
			Text: get("search"),
			Glob: get("glob"),
			Node: get("node"),
			Pool: get("pool"),
		},
		Sort: config.ViewSort{Column: get("sort")},
	}
	for _, t := range strings.Split(get("type"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			p.Filter.Types = append(p.Filter.Types, viewsync.ResourceType(t))
		}
	}
	if raw := get("templates"); raw != "" {
		show, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("templates must be a boolean")
		}
		p.Filter.ExcludeTemplates = !show
	}
	if raw := get("desc"); raw != "" {
		desc, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("desc must be a boolean")
		}
		p.Sort.Descending = desc
	}

	if p.Filter.Text == "" && p.Filter.Glob == "" && p.Filter.Node == "" && p.Filter.Pool == "" &&
		len(p.Filter.Types) == 0 && !p.Filter.ExcludeTemplates && p.Sort.Column == "" {
		return nil, nil
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// narrowRecords filters a copied view and, when a sort column is given,
// reorders it. Ties keep the session order.
func narrowRecords(records []viewsync.Record, p *config.ViewPreset) []viewsync.Record {
	filter := p.BuildFilter()
	out := make([]viewsync.Record, 0, len(records))
	for _, rec := range records {
		if filter(rec) {
			out = append(out, rec)
		}
	}
	if p.Sort.Column != "" {
		if compare := p.BuildComparator(); compare != nil {
			slices.SortStableFunc(out, func(a, b viewsync.Record) int { return compare(a, b) })
		}
	}
	return out
}

func (r *Router) handleTree(w http.ResponseWriter, req *http.Request) {
	if !allowMethods(w, req, http.MethodGet) {
		return
	}
	if id := strings.TrimSpace(req.URL.Query().Get("id")); id != "" {
		parents, ok := r.session.ParentsOf(id)
		if !ok {
			writeErrorResponse(w, http.StatusNotFound, "not_found", "Resource is not in the view", map[string]string{"id": id})
			return
		}
		if parents == nil {
			parents = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session": r.session.ID(),
			"id":      id,
			"parents": parents,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session": r.session.ID(),
		"groups":  r.session.Tree(),
	})
}

func (r *Router) handleColumns(w http.ResponseWriter, req *http.Request) {
	if !allowMethods(w, req, http.MethodGet) {
		return
	}
	all := resources.Columns()
	out := make([]ColumnInfo, len(all))
	for i, c := range all {
		out[i] = ColumnInfo{Key: c.String(), Header: c.Header(), Hidden: c.Hidden()}
	}
	defaults := make([]string, 0, len(resources.DefaultColumns()))
	for _, c := range resources.DefaultColumns() {
		defaults = append(defaults, c.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{"columns": out, "default": defaults})
}

func (r *Router) handleView(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"preset": r.session.Preset()})
	case http.MethodPut:
		r.updateView(w, req)
	default:
		w.Header().Set("Allow", "GET, PUT")
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
	}
}

func (r *Router) updateView(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, maxViewBody)
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()

	var preset *config.ViewPreset
	if err := dec.Decode(&preset); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid view preset", map[string]string{"reason": err.Error()})
		return
	}

	update, err := r.session.SetView(preset)
	if err != nil {
		if errors.Is(err, session.ErrClosed) {
			writeErrorResponse(w, http.StatusServiceUnavailable, "session_closed", "View is shutting down", nil)
			return
		}
		writeErrorResponse(w, http.StatusBadRequest, "invalid_view", err.Error(), nil)
		return
	}

	name := ""
	if preset != nil {
		name = preset.Name
	}
	logger := logging.FromContext(logging.WithSessionID(req.Context(), update.SessionID))
	logger.Info().Str("preset", name).Int("total", update.Total).Msg("View preset changed via API")
	if !update.Empty() {
		r.publish(update)
	}
	writeJSON(w, http.StatusOK, update)
}

func allowMethods(w http.ResponseWriter, req *http.Request, methods ...string) bool {
	if slices.Contains(methods, req.Method) {
		return true
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", nil)
	return false
}
