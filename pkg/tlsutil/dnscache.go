package tlsutil

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

var (
	resolverOnce sync.Once
	resolver     *dnscache.Resolver

	resolverMu         sync.Mutex
	resolverRefreshTTL = 5 * time.Minute
)

// DNSResolver returns the process-wide caching resolver. Report generation
// issues one chart request per item against the same host, so lookups are
// cached and refreshed in the background.
func DNSResolver() *dnscache.Resolver {
	resolverOnce.Do(func() {
		resolverMu.Lock()
		ttl := resolverRefreshTTL
		resolverMu.Unlock()

		resolver = &dnscache.Resolver{}
		log.Debug().Dur("ttl", ttl).Msg("Initializing DNS resolver cache")

		go func() {
			ticker := time.NewTicker(ttl)
			defer ticker.Stop()
			for range ticker.C {
				resolver.Refresh(true)
			}
		}()
	})
	return resolver
}

// SetDNSCacheTTL must be called before the first client is created.
func SetDNSCacheTTL(ttl time.Duration) {
	resolverMu.Lock()
	defer resolverMu.Unlock()
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	resolverRefreshTTL = ttl
}

// DialContextWithCache dials address after resolving its host through the cache.
func DialContextWithCache(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	if ip := net.ParseIP(host); ip != nil {
		return dialer.DialContext(ctx, network, address)
	}

	ips, err := DNSResolver().LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
	}

	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
