package tlsutil

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

const defaultDNSRefresh = 5 * time.Minute

var (
	sharedResolver     *dnscache.Resolver
	sharedResolverOnce sync.Once
)

// resolver returns the process-wide caching resolver. The cluster API is
// polled every few seconds, so uncached lookups would hit DNS just as often.
func resolver() *dnscache.Resolver {
	sharedResolverOnce.Do(func() {
		sharedResolver = &dnscache.Resolver{}
		go refreshLoop(sharedResolver, defaultDNSRefresh)
	})
	return sharedResolver
}

func refreshLoop(r *dnscache.Resolver, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		r.Refresh(true)
		log.Debug().Dur("interval", every).Msg("DNS cache refreshed")
	}
}

// dialWithCache resolves the host through the shared cache and dials the
// first returned address.
func dialWithCache(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := resolver().LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
}
