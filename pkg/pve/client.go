// Package pve is a small Proxmox VE API client covering what the resource
// view needs: ticket and API-token authentication, ticket renewal and the
// cluster resource listing.
package pve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	apierrors "github.com/rcourtman/pveview/internal/errors"
	"github.com/rcourtman/pveview/pkg/tlsutil"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	defaultPort = "8006"

	// TicketLifetime is how long the server accepts a ticket after issue.
	TicketLifetime = 2 * time.Hour
)

// ClientConfig holds connection and credential settings.
type ClientConfig struct {
	// Host is one endpoint or a comma-separated list of cluster endpoints.
	Host        string
	User        string // user@realm, required for password auth
	Password    string
	TokenID     string // user@realm!tokenname
	TokenSecret string
	Fingerprint string
	VerifySSL   bool
	Timeout     time.Duration
}

// Ticket is the result of a password or ticket login.
type Ticket struct {
	Username  string
	Value     string
	CSRFToken string
	IssuedAt  time.Time
}

// Client talks to one cluster, failing over between its endpoints.
type Client struct {
	httpClient *http.Client
	config     ClientConfig

	mu        sync.RWMutex
	endpoints []string
	current   int
	ticket    *Ticket

	renewals singleflight.Group
	now      func() time.Time
}

// NewClient validates cfg and prepares a client. It does not log in.
func NewClient(cfg ClientConfig) (*Client, error) {
	endpoints, err := parseEndpoints(cfg.Host)
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.TokenID != "" || cfg.TokenSecret != "":
		if cfg.TokenID == "" || cfg.TokenSecret == "" {
			return nil, fmt.Errorf("token authentication requires both token id and secret")
		}
		if !strings.Contains(cfg.TokenID, "!") || !strings.Contains(cfg.TokenID, "@") {
			return nil, fmt.Errorf("invalid token id %q, expected user@realm!tokenname", cfg.TokenID)
		}
	default:
		if !strings.Contains(cfg.User, "@") {
			return nil, fmt.Errorf("invalid user format, expected user@realm")
		}
	}

	return &Client{
		httpClient: tlsutil.NewHTTPClient(tlsutil.ClientOptions{
			VerifySSL:   cfg.VerifySSL,
			Fingerprint: cfg.Fingerprint,
			Timeout:     cfg.Timeout,
		}),
		config:    cfg,
		endpoints: endpoints,
		now:       time.Now,
	}, nil
}

func parseEndpoints(hosts string) ([]string, error) {
	var endpoints []string
	for _, raw := range strings.Split(hosts, ",") {
		host := strings.TrimSpace(raw)
		if host == "" {
			continue
		}
		if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
			host = "https://" + host
		}
		u, err := url.Parse(host)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid host %q", raw)
		}
		if u.Port() == "" {
			u.Host = net.JoinHostPort(u.Hostname(), defaultPort)
		}
		if u.Scheme == "http" {
			log.Warn().Str("host", u.Host).Msg("Using plain HTTP for the cluster API")
		}
		endpoints = append(endpoints, u.Scheme+"://"+u.Host+"/api2/json")
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no host configured")
	}
	return endpoints, nil
}

// UsesToken reports whether the client authenticates with an API token.
func (c *Client) UsesToken() bool {
	return c.config.TokenID != ""
}

// Endpoint returns the base URL currently in use.
func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoints[c.current]
}

// Ticket returns a copy of the active ticket, or nil when logged out.
func (c *Client) Ticket() *Ticket {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ticket == nil {
		return nil
	}
	t := *c.ticket
	return &t
}

// Authenticated reports whether requests can be sent without logging in.
func (c *Client) Authenticated() bool {
	if c.UsesToken() {
		return true
	}
	t := c.Ticket()
	return t != nil && c.now().Sub(t.IssuedAt) < TicketLifetime
}

// NeedsRenewal reports whether the ticket is older than interval.
func (c *Client) NeedsRenewal(interval time.Duration) bool {
	if c.UsesToken() {
		return false
	}
	t := c.Ticket()
	return t != nil && c.now().Sub(t.IssuedAt) >= interval
}

// Login obtains a fresh ticket with the configured password. Concurrent
// logins share a single request, but never join a renewal in flight.
func (c *Client) Login(ctx context.Context) error {
	if c.UsesToken() {
		return nil
	}
	_, err, _ := c.renewals.Do("login", func() (any, error) {
		return nil, c.requestTicket(ctx, "login", c.config.User, c.config.Password)
	})
	return err
}

// RenewTicket exchanges the current ticket for a new one, the way the web
// console keeps a session alive without asking for the password again.
// Concurrent callers share a single request.
func (c *Client) RenewTicket(ctx context.Context) error {
	if c.UsesToken() {
		return nil
	}
	current := c.Ticket()
	if current == nil {
		return apierrors.WrapAuthError("renew_ticket", c.Endpoint(), errors.New("no ticket to renew"))
	}
	_, err, _ := c.renewals.Do("renew", func() (any, error) {
		return nil, c.requestTicket(ctx, "renew_ticket", current.Username, current.Value)
	})
	return err
}

// Logout forgets the ticket. The server has no logout endpoint; tickets
// simply expire.
func (c *Client) Logout() {
	c.mu.Lock()
	c.ticket = nil
	c.mu.Unlock()
}

func (c *Client) requestTicket(ctx context.Context, op, username, password string) error {
	form := url.Values{"username": {username}, "password": {password}}

	var result struct {
		Data struct {
			Username            string `json:"username"`
			Ticket              string `json:"ticket"`
			CSRFPreventionToken string `json:"CSRFPreventionToken"`
		} `json:"data"`
	}
	if err := c.do(ctx, op, http.MethodPost, "/access/ticket", form, false, &result); err != nil {
		var apiErr *apierrors.APIError
		if errors.As(err, &apiErr) && apiErr.Kind == apierrors.KindAPI && apiErr.StatusCode < 500 {
			return apierrors.WrapAuthError(op, c.Endpoint(), err)
		}
		return err
	}
	if result.Data.Ticket == "" {
		return apierrors.WrapAuthError(op, c.Endpoint(), errors.New("authentication failed: empty ticket"))
	}

	name := result.Data.Username
	if name == "" {
		name = username
	}
	c.mu.Lock()
	c.ticket = &Ticket{
		Username:  name,
		Value:     result.Data.Ticket,
		CSRFToken: result.Data.CSRFPreventionToken,
		IssuedAt:  c.now(),
	}
	c.mu.Unlock()

	log.Debug().Str("op", op).Str("user", name).Msg("Obtained cluster API ticket")
	return nil
}

// get performs an authenticated GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, op, path string, out any) error {
	return c.do(ctx, op, http.MethodGet, path, nil, true, out)
}

// do sends the request to the current endpoint and fails over to the next
// one on connection errors.
func (c *Client) do(ctx context.Context, op, method, path string, form url.Values, authed bool, out any) error {
	c.mu.RLock()
	attempts := len(c.endpoints)
	c.mu.RUnlock()

	var lastErr error
	for i := 0; i < attempts; i++ {
		endpoint := c.Endpoint()
		err := c.doOnce(ctx, op, endpoint, method, path, form, authed, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if apierrors.KindOf(err) != apierrors.KindConnection || ctx.Err() != nil {
			return err
		}
		c.rotateEndpoint(endpoint)
		log.Warn().Err(err).Str("endpoint", endpoint).Str("next", c.Endpoint()).Msg("Cluster endpoint unreachable, failing over")
	}
	return lastErr
}

func (c *Client) rotateEndpoint(failed string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.endpoints[c.current] == failed {
		c.current = (c.current + 1) % len(c.endpoints)
	}
}

func (c *Client) doOnce(ctx context.Context, op, endpoint, method, path string, form url.Values, authed bool, out any) error {
	host := hostOf(endpoint)

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint+path, body)
	if err != nil {
		return apierrors.New(apierrors.KindValidation, op, host, err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if authed {
		if err := c.authorize(req, op, host); err != nil {
			return err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apierrors.New(apierrors.KindTimeout, op, host, ctxErr)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return apierrors.New(apierrors.KindTimeout, op, host, err)
		}
		return apierrors.WrapConnectionError(op, host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		text := strings.TrimSpace(resp.Status + " " + string(msg))
		return apierrors.WrapAPIError(op, host, fmt.Errorf("api error %d: %s", resp.StatusCode, text), resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierrors.New(apierrors.KindDecode, op, host, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) authorize(req *http.Request, op, host string) error {
	if c.UsesToken() {
		req.Header.Set("Authorization", "PVEAPIToken="+c.config.TokenID+"="+c.config.TokenSecret)
		return nil
	}
	t := c.Ticket()
	if t == nil {
		return apierrors.WrapAuthError(op, host, errors.New("no ticket, login required"))
	}
	req.AddCookie(&http.Cookie{Name: "PVEAuthCookie", Value: t.Value})
	if req.Method != http.MethodGet && t.CSRFToken != "" {
		req.Header.Set("CSRFPreventionToken", t.CSRFToken)
	}
	return nil
}

func hostOf(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil {
		return u.Host
	}
	return endpoint
}
