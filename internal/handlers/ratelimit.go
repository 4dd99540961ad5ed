package handlers

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/certmint/certmint/internal/config"
)

const rateLimiterEntries = 10000

// ipRateLimiter keeps one token bucket per client IP. The LRU bounds memory
// when many distinct addresses show up.
type ipRateLimiter struct {
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

// newIPRateLimiter returns nil, which allows everything, when perMinute <= 0.
func newIPRateLimiter(perMinute, size int) *ipRateLimiter {
	if perMinute <= 0 {
		return nil
	}
	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil
	}
	return &ipRateLimiter{
		limiters: cache,
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
	}
}

func (l *ipRateLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	limiter, ok := l.limiters.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		if existing, found, _ := l.limiters.PeekOrAdd(ip, limiter); found {
			limiter = existing
		}
	}
	return limiter.Allow()
}

// RateLimit throttles claim portal endpoints per client IP.
func (h *Handlers) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := h.proxies.clientAddr(r)
		if !h.limiter.Allow(client) {
			h.loggerFromContext(r.Context()).Warn("rate limit exceeded", "client", client, "remote_ip", clientIP(r))
			w.Header().Set("Retry-After", strconv.Itoa(60))
			h.writeJSON(w, r, http.StatusTooManyRequests, errorResponse{Error: "too many requests", Code: codeRateLimited})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// trustedProxies decides when forwarding headers may name the client. Only a
// peer inside one of the prefixes is allowed to speak for someone else.
type trustedProxies []netip.Prefix

func parseTrustedProxies(entries []string) (trustedProxies, error) {
	proxies := make(trustedProxies, 0, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		prefix, err := config.ParseProxyPrefix(entry)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, prefix)
	}
	return proxies, nil
}

func (p trustedProxies) contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range p {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// clientAddr returns the address a request is accounted to. X-Forwarded-For
// is walked from the nearest hop and the first address that is not a trusted
// proxy wins; without a trusted peer the header is ignored.
func (p trustedProxies) clientAddr(r *http.Request) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(peer); err == nil {
		peer = host
	}
	peerAddr, err := netip.ParseAddr(peer)
	if err != nil || !p.contains(peerAddr) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	client := peerAddr
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		client = hop.Unmap()
		if !p.contains(client) {
			break
		}
	}
	return client.String()
}
