// Package poller drives the resource view: it fetches the cluster listing
// on a fixed interval, keeps the API ticket fresh and publishes the
// resulting updates.
package poller

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	apierrors "github.com/rcourtman/pveview/internal/errors"
	"github.com/rcourtman/pveview/internal/metrics"
	"github.com/rcourtman/pveview/internal/resources"
	"github.com/rcourtman/pveview/internal/session"
	"github.com/rcourtman/pveview/pkg/pve"
	"github.com/rs/zerolog/log"
)

// Source is the part of the API client the poller needs.
type Source interface {
	Authenticated() bool
	NeedsRenewal(interval time.Duration) bool
	Login(ctx context.Context) error
	RenewTicket(ctx context.Context) error
	Logout()
	GetClusterResources(ctx context.Context, resourceType string) ([]pve.ClusterResource, error)
}

// PublishFunc receives every non-empty update.
type PublishFunc func(*session.Update)

// Options configures a Poller.
type Options struct {
	Interval      time.Duration
	RenewInterval time.Duration
	// OnReset runs after the view was cleared because the cluster session
	// was lost. Clients use it to resync under the new session id.
	OnReset func()
}

// Poller runs at most one poll at a time; ticks that arrive while a poll
// is still in flight are dropped.
type Poller struct {
	source  Source
	session *session.Session
	publish PublishFunc
	opts    Options
	retry   retrySchedule

	polling atomic.Bool
	wg      sync.WaitGroup

	mu          sync.Mutex
	failures    int
	retryAfter  time.Time
	lastSuccess time.Time
	lastErr     error
	now         func() time.Time
}

// New builds a poller. publish may be nil.
func New(source Source, sess *session.Session, publish PublishFunc, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.RenewInterval <= 0 {
		opts.RenewInterval = 15 * time.Minute
	}
	if publish == nil {
		publish = func(*session.Update) {}
	}
	return &Poller{
		source:  source,
		session: sess,
		publish: publish,
		opts:    opts,
		retry:   defaultSchedule,
		now:     time.Now,
	}
}

// Run polls immediately and then on every tick until ctx is done. It waits
// for an in-flight poll before returning.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	defer p.wg.Wait()

	log.Info().Dur("interval", p.opts.Interval).Msg("Resource poller started")
	p.Tick(ctx)

	for {
		select {
		case <-ticker.C:
			p.Tick(ctx)
		case <-ctx.Done():
			log.Info().Msg("Resource poller stopped")
			return nil
		}
	}
}

// Tick starts a poll in the background unless one is already running or
// the poller is backing off after failures.
func (p *Poller) Tick(ctx context.Context) {
	if !p.polling.CompareAndSwap(false, true) {
		metrics.RecordPollSkipped()
		log.Debug().Msg("Previous poll still running, skipping tick")
		return
	}
	if wait := p.backoffRemaining(); wait > 0 {
		p.polling.Store(false)
		log.Debug().Dur("retry_in", wait).Msg("Backing off after poll failures")
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.polling.Store(false)
		_ = p.PollOnce(ctx)
	}()
}

// PollOnce runs one full cycle synchronously: authenticate or renew the
// ticket when due, fetch the listing and apply it to the session.
func (p *Poller) PollOnce(ctx context.Context) error {
	start := p.now()

	if err := p.ensureTicket(ctx); err != nil {
		p.fail(err)
		return err
	}

	list, err := p.source.GetClusterResources(ctx, "")
	if err != nil {
		if apierrors.IsAuthError(err) {
			p.dropSession("cluster rejected the ticket")
		}
		p.fail(err)
		return err
	}

	update, err := p.session.Apply(resources.FromClusterResources(list))
	if errors.Is(err, session.ErrClosed) {
		log.Debug().Msg("View closed, discarding resource snapshot")
		return err
	}
	if err != nil {
		metrics.RecordRefreshError("view")
		log.Error().Err(err).Msg("Failed to apply resource snapshot")
		p.recordErr(err)
		return err
	}

	metrics.RecordRefresh(p.now().Sub(start), metrics.RefreshStats{
		Removed:   len(update.Removed),
		Inserted:  len(update.Inserted),
		Updated:   len(update.Updated),
		Reordered: update.Reordered,
		Total:     update.Total,
	})
	p.succeed()

	if !update.Empty() {
		log.Debug().
			Int("removed", len(update.Removed)).
			Int("inserted", len(update.Inserted)).
			Int("updated", len(update.Updated)).
			Bool("reordered", update.Reordered).
			Str("seq", update.Seq).
			Msg("Resource view changed")
		p.publish(update)
	}
	return nil
}

func (p *Poller) ensureTicket(ctx context.Context) error {
	if !p.source.Authenticated() {
		err := p.source.Login(ctx)
		metrics.RecordTicketRenewal(err == nil)
		if err != nil {
			if apierrors.IsAuthError(err) {
				p.dropSession("login rejected")
			}
			return err
		}
		log.Info().Msg("Logged in to cluster API")
		return nil
	}

	if !p.source.NeedsRenewal(p.opts.RenewInterval) {
		return nil
	}
	err := p.source.RenewTicket(ctx)
	metrics.RecordTicketRenewal(err == nil)
	if err == nil {
		log.Debug().Msg("Renewed cluster API ticket")
		return nil
	}
	if apierrors.IsAuthError(err) {
		p.dropSession("ticket renewal rejected")
		return err
	}
	// A transient failure leaves the current ticket usable until it expires.
	log.Warn().Err(err).Msg("Ticket renewal failed, keeping current ticket")
	return nil
}

// dropSession forgets the ticket and empties the view; the next poll logs
// in again.
func (p *Poller) dropSession(reason string) {
	p.source.Logout()
	if p.session.Len() == 0 {
		return
	}
	update := p.session.Reset()
	log.Warn().Str("reason", reason).Str("session", p.session.ID()).Msg("Cluster session lost, view cleared")
	if !update.Empty() {
		p.publish(update)
	}
	if p.opts.OnReset != nil {
		p.opts.OnReset()
	}
}

// fail records a failed poll. Errors that will not clear on their own wait
// the full backoff ceiling; a lost ticket is retried like a transient error
// because the next poll logs in again.
func (p *Poller) fail(err error) {
	kind := string(apierrors.KindOf(err))
	metrics.RecordRefreshError(kind)
	retryable := apierrors.IsRetryableError(err) || apierrors.IsAuthError(err)

	p.mu.Lock()
	p.failures++
	delay := p.retry.ceiling()
	if retryable {
		delay = p.retry.delay(p.failures, rand.Float64())
	}
	p.retryAfter = p.now().Add(delay)
	p.lastErr = err
	failures := p.failures
	p.mu.Unlock()

	evt := log.Warn()
	switch {
	case errors.Is(err, context.Canceled):
		evt = log.Debug()
	case !retryable:
		evt = log.Error()
	}
	evt.Err(err).
		Str("kind", kind).
		Bool("retryable", retryable).
		Int("failures", failures).
		Dur("retry_in", delay).
		Msg("Resource poll failed")
}

func (p *Poller) recordErr(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func (p *Poller) succeed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		log.Info().Int("failures", p.failures).Msg("Resource polling recovered")
	}
	p.failures = 0
	p.retryAfter = time.Time{}
	p.lastSuccess = p.now()
	p.lastErr = nil
}

func (p *Poller) backoffRemaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retryAfter.IsZero() {
		return 0
	}
	return p.retryAfter.Sub(p.now())
}

// Status is a summary for health checks.
type Status struct {
	LastSuccess time.Time `json:"lastSuccess"`
	Failures    int       `json:"failures"`
	LastError   string    `json:"lastError,omitempty"`
	Polling     bool      `json:"polling"`
}

// Status reports recent poll outcomes.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{LastSuccess: p.lastSuccess, Failures: p.failures, Polling: p.polling.Load()}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}
