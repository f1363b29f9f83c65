package google

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// testKey is a shared RSA key for signing test tokens; generating one per
// test is needlessly slow.
var testKey = mustGenerateKey()

func mustGenerateKey() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
}

// jwksBody renders a JWKS document for the given kid/key pairs.
func jwksBody(keys map[string]*rsa.PublicKey) string {
	body := `{"keys":[`
	first := true
	for kid, pub := range keys {
		if !first {
			body += ","
		}
		first = false
		n := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
		e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
		body += fmt.Sprintf(`{"kty":"RSA","use":"sig","alg":"RS256","kid":%q,"n":%q,"e":%q}`, kid, n, e)
	}
	return body + `]}`
}

// newJWKSServer serves the given keys and counts fetches.
func newJWKSServer(t *testing.T, keys map[string]*rsa.PublicKey) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var fetches atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, jwksBody(keys))
	}))
	t.Cleanup(ts.Close)
	return ts, &fetches
}

func TestKeySetFetchAndReuse(t *testing.T) {
	ts, fetches := newJWKSServer(t, map[string]*rsa.PublicKey{"k1": &testKey.PublicKey})
	cache := NewKeySetCache(ts.URL)

	ks, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(ks.Keys) != 1 || ks.Keys[0].KeyID != "k1" {
		t.Fatalf("unexpected key set: %+v", ks)
	}
	if ks.ByID("k1") == nil {
		t.Fatal("ByID(k1) returned nil")
	}
	if ks.ByID("other") != nil {
		t.Fatal("ByID(other) should return nil")
	}

	// A fresh snapshot is reused without refetching.
	for i := 0; i < 5; i++ {
		again, err := cache.Get(context.Background())
		if err != nil {
			t.Fatalf("Get #%d: %v", i, err)
		}
		if again != ks {
			t.Fatalf("Get #%d returned a different snapshot", i)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Fatalf("expected 1 fetch, got %d", n)
	}
}

func TestKeySetRefreshAfterMaxAge(t *testing.T) {
	ts, fetches := newJWKSServer(t, map[string]*rsa.PublicKey{"k1": &testKey.PublicKey})
	cache := NewKeySetCache(ts.URL)

	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("Get: %v", err)
	}

	// Age the snapshot past the freshness window.
	cache.mu.Lock()
	cache.current.FetchedAt = time.Now().Add(-keySetMaxAge - time.Minute)
	cache.mu.Unlock()

	ks, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get after aging: %v", err)
	}
	if n := fetches.Load(); n != 2 {
		t.Fatalf("expected exactly 2 fetches, got %d", n)
	}
	if time.Since(ks.FetchedAt) > time.Minute {
		t.Fatal("refreshed snapshot kept the old fetch time")
	}
}

func TestKeySetFetchErrorPropagates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	cache := NewKeySetCache(ts.URL)
	if _, err := cache.Get(context.Background()); err == nil {
		t.Fatal("expected error from failing fetch")
	}
}

func TestKeySetStaleSnapshotIsNotServedOnFetchFailure(t *testing.T) {
	ts, _ := newJWKSServer(t, map[string]*rsa.PublicKey{"k1": &testKey.PublicKey})
	cache := NewKeySetCache(ts.URL)

	if _, err := cache.Get(context.Background()); err != nil {
		t.Fatalf("Get: %v", err)
	}

	cache.mu.Lock()
	cache.current.FetchedAt = time.Now().Add(-keySetMaxAge - time.Minute)
	cache.mu.Unlock()
	ts.Close()

	if _, err := cache.Get(context.Background()); err == nil {
		t.Fatal("expected error, got stale snapshot")
	}
}

func TestKeySetRejectsBadEncoding(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"keys":[{"kid":"k1","n":"!!not-base64url!!","e":"AQAB"}]}`)
	}))
	t.Cleanup(ts.Close)

	cache := NewKeySetCache(ts.URL)
	if _, err := cache.Get(context.Background()); err == nil {
		t.Fatal("expected error for undecodable modulus")
	}
}
