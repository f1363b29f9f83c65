package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// DefaultCertsURL is Google's published JWKS endpoint for ID token signing keys.
const DefaultCertsURL = "https://www.googleapis.com/oauth2/v3/certs"

// keySetMaxAge bounds how long a fetched key set is trusted. Google rotates
// its signing keys, so a snapshot older than this must be refetched before
// any further verification.
const keySetMaxAge = 24 * time.Hour

// SigningKey is one RSA public key from the remote key set.
type SigningKey struct {
	KeyID    string
	Modulus  []byte // big-endian, decoded from the JWK "n" field
	Exponent []byte // big-endian, decoded from the JWK "e" field
}

// KeySet is an immutable snapshot of the remote signing keys. Snapshots are
// replaced wholesale on refresh, never mutated in place.
type KeySet struct {
	FetchedAt time.Time
	Keys      []SigningKey
}

// ByID returns the key with the given key ID, or nil if absent.
func (ks *KeySet) ByID(kid string) *SigningKey {
	for i := range ks.Keys {
		if ks.Keys[i].KeyID == kid {
			return &ks.Keys[i]
		}
	}
	return nil
}

// KeySetCache holds one snapshot of the remote key set and refreshes it
// synchronously once it is older than 24 hours. A fetch failure is always
// reported to the caller; a stale snapshot is never silently served, because
// key rotation must become observable promptly.
type KeySetCache struct {
	url    string
	client *http.Client

	mu      sync.RWMutex
	current *KeySet
}

// NewKeySetCache creates a cache fetching from certsURL. An empty certsURL
// selects Google's default endpoint.
func NewKeySetCache(certsURL string) *KeySetCache {
	if certsURL == "" {
		certsURL = DefaultCertsURL
	}
	return &KeySetCache{
		url:    certsURL,
		client: &http.Client{Timeout: 20 * time.Second},
	}
}

// Get returns the current key set, fetching a fresh one first if no snapshot
// exists or the snapshot has aged out. Concurrent callers that observe a
// stale snapshot may each fetch; each install replaces the snapshot as a
// whole, so readers never see a partial set. No lock is held across the
// network fetch.
func (c *KeySetCache) Get(ctx context.Context) (*KeySet, error) {
	c.mu.RLock()
	cur := c.current
	c.mu.RUnlock()
	if cur != nil && time.Since(cur.FetchedAt) < keySetMaxAge {
		return cur, nil
	}

	fresh, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.current = fresh
	c.mu.Unlock()
	return fresh, nil
}

// jwksDocument mirrors the subset of the JWKS response we care about.
// Extra fields (kty, use, alg, ...) are ignored.
type jwksDocument struct {
	Keys []struct {
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (c *KeySetCache) fetch(ctx context.Context) (*KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build key set request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch key set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch key set: unexpected status %d: %s", resp.StatusCode, body)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode key set: %w", err)
	}

	ks := &KeySet{FetchedAt: time.Now(), Keys: make([]SigningKey, 0, len(doc.Keys))}
	for _, k := range doc.Keys {
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("decode modulus for kid %q: %w", k.Kid, err)
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("decode exponent for kid %q: %w", k.Kid, err)
		}
		ks.Keys = append(ks.Keys, SigningKey{KeyID: k.Kid, Modulus: n, Exponent: e})
	}
	return ks, nil
}
