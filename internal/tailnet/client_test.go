package tailnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// fakeAPI is an httptest stand-in for the tailnet control plane.
type fakeAPI struct {
	ts *httptest.Server

	exchanges atomic.Int64
	creates   atomic.Int64

	expiresIn   int64
	tokenStatus int
	keyStatus   int
	keyBody     string

	lastKeyRequest createKeyRequest
	lastAuth       string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{expiresIn: 3600, tokenStatus: http.StatusOK, keyStatus: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.exchanges.Add(1)
		if err := r.ParseForm(); err != nil || r.PostForm.Get("client_secret") != "ts-secret" {
			http.Error(w, "bad client_secret", http.StatusUnauthorized)
			return
		}
		if f.tokenStatus != http.StatusOK {
			http.Error(w, "denied", f.tokenStatus)
			return
		}
		fmt.Fprintf(w, `{"access_token":"at-%d","expires_in":%d,"token_type":"Bearer"}`, f.exchanges.Load(), f.expiresIn)
	})
	mux.HandleFunc("/tailnet/-/keys", func(w http.ResponseWriter, r *http.Request) {
		f.creates.Add(1)
		f.lastAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&f.lastKeyRequest)
		if f.keyStatus != http.StatusOK {
			http.Error(w, "api error", f.keyStatus)
			return
		}
		if f.keyBody != "" {
			fmt.Fprint(w, f.keyBody)
			return
		}
		fmt.Fprint(w, `{"id":"k123","key":"tskey-auth-xyz"}`)
	})
	f.ts = httptest.NewServer(mux)
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fakeAPI) client(tags ...string) *Client {
	if tags == nil {
		tags = []string{"tag:member"}
	}
	return NewClient(f.ts.URL, func() (string, error) { return "ts-secret", nil }, tags)
}

func TestCreateAuthKey(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client("tag:member", "tag:dev")

	key, err := c.CreateAuthKey(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("CreateAuthKey: %v", err)
	}
	if key != "tskey-auth-xyz" {
		t.Errorf("key = %q", key)
	}
	if api.lastAuth != "Bearer at-1" {
		t.Errorf("authorization = %q", api.lastAuth)
	}

	req := api.lastKeyRequest
	create := req.Capabilities.Devices.Create
	if !create.Reusable || create.Ephemeral || !create.Preauthorized {
		t.Errorf("capabilities = %+v", create)
	}
	if len(create.Tags) != 2 || create.Tags[0] != "tag:member" {
		t.Errorf("tags = %v", create.Tags)
	}
	if req.ExpirySeconds != 7200 {
		t.Errorf("expirySeconds = %d, want 7200", req.ExpirySeconds)
	}
	if req.Description != "Auth key for user alice-example-com" {
		t.Errorf("description = %q", req.Description)
	}
}

func TestAccessTokenIsCachedAcrossCalls(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client()

	for i := 0; i < 3; i++ {
		if _, err := c.CreateAuthKey(context.Background(), "alice@example.com"); err != nil {
			t.Fatalf("CreateAuthKey #%d: %v", i, err)
		}
	}
	if n := api.exchanges.Load(); n != 1 {
		t.Errorf("token exchanges = %d, want 1", n)
	}
	if n := api.creates.Load(); n != 3 {
		t.Errorf("key creations = %d, want 3", n)
	}
}

func TestAccessTokenRefreshedNearExpiry(t *testing.T) {
	api := newFakeAPI(t)
	// Tokens that live less than the 60s margin are never served from cache.
	api.expiresIn = 30
	c := api.client()

	for i := 0; i < 2; i++ {
		if _, err := c.CreateAuthKey(context.Background(), "alice@example.com"); err != nil {
			t.Fatalf("CreateAuthKey #%d: %v", i, err)
		}
	}
	if n := api.exchanges.Load(); n != 2 {
		t.Errorf("token exchanges = %d, want 2", n)
	}
}

func TestCreateAuthKeyAuthFailure(t *testing.T) {
	api := newFakeAPI(t)
	api.tokenStatus = http.StatusForbidden
	c := api.client()

	_, err := c.CreateAuthKey(context.Background(), "alice@example.com")
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("got %v, want ErrAuthFailed", err)
	}
	if n := api.creates.Load(); n != 0 {
		t.Errorf("key creation attempted despite failed auth (%d calls)", n)
	}
}

func TestCreateAuthKeyRequestFailure(t *testing.T) {
	api := newFakeAPI(t)
	api.keyStatus = http.StatusInternalServerError
	c := api.client()

	if _, err := c.CreateAuthKey(context.Background(), "alice@example.com"); !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("got %v, want ErrRequestFailed", err)
	}
}

func TestCreateAuthKeyInvalidResponse(t *testing.T) {
	api := newFakeAPI(t)
	api.keyBody = "not json"
	c := api.client()

	if _, err := c.CreateAuthKey(context.Background(), "alice@example.com"); !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("got %v, want ErrInvalidResponse", err)
	}
}

func TestSecretSourceFailure(t *testing.T) {
	api := newFakeAPI(t)
	c := NewClient(api.ts.URL, func() (string, error) {
		return "", errors.New("no such file")
	}, nil)

	if _, err := c.CreateAuthKey(context.Background(), "alice@example.com"); err == nil {
		t.Fatal("expected error from failing secret source")
	}
	if n := api.exchanges.Load(); n != 0 {
		t.Errorf("exchange attempted without a secret (%d calls)", n)
	}
}

func TestSanitizeDescription(t *testing.T) {
	cases := map[string]string{
		"alice@example.com":     "alice-example-com",
		"bob.smith+vpn@foo.org": "bob-smith-vpn-foo-org",
		"plain":                 "plain",
	}
	for in, want := range cases {
		if got := sanitizeDescription(in); got != want {
			t.Errorf("sanitizeDescription(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTokenCacheToleratesConcurrentFetches(t *testing.T) {
	var cache tokenCache
	var fetches atomic.Int64

	done := make(chan string, 8)
	for i := 0; i < 8; i++ {
		go func() {
			tok, err := cache.get(context.Background(), func(context.Context) (accessToken, error) {
				n := fetches.Add(1)
				return accessToken{
					token:     fmt.Sprintf("at-%d", n),
					expiresAt: time.Now().Unix() + 3600,
				}, nil
			})
			if err != nil {
				done <- "error"
				return
			}
			done <- tok
		}()
	}
	for i := 0; i < 8; i++ {
		if tok := <-done; tok == "error" {
			t.Fatal("unexpected fetch error")
		}
	}

	// Duplicate fetches are allowed; afterwards a single token is cached
	// and served without further fetches.
	before := fetches.Load()
	tok, err := cache.get(context.Background(), func(context.Context) (accessToken, error) {
		fetches.Add(1)
		return accessToken{}, nil
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetches.Load() != before {
		t.Error("cached token not served")
	}
	if tok == "" {
		t.Error("empty token from cache")
	}
}
