package tailnet

import (
	"context"
	"sync"
	"time"
)

// expiryMargin is how long before the recorded expiry a cached token stops
// being served, so a token is never used while it is about to lapse mid-call.
const expiryMargin = 60 * time.Second

// accessToken is the cached OAuth access token for the tailnet API.
type accessToken struct {
	token     string
	expiresAt int64 // unix seconds
}

// tokenCache holds at most one access token, shared across requests. A stale
// or absent token triggers a fetch; concurrent callers may each fetch (the
// extra exchanges are harmless) but each install replaces the slot whole, so
// readers never see a torn value.
type tokenCache struct {
	mu  sync.RWMutex
	cur *accessToken
}

// get returns a cached token that is still at least expiryMargin away from
// expiry, or invokes fetch and installs its result.
func (c *tokenCache) get(ctx context.Context, fetch func(context.Context) (accessToken, error)) (string, error) {
	now := time.Now().Unix()

	c.mu.RLock()
	cur := c.cur
	c.mu.RUnlock()
	if cur != nil && cur.expiresAt > now+int64(expiryMargin/time.Second) {
		return cur.token, nil
	}

	fresh, err := fetch(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cur = &fresh
	c.mu.Unlock()
	return fresh.token, nil
}
