package gate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/lowaccess/tailgate/internal/google"
	"github.com/lowaccess/tailgate/internal/server/db"
)

func newTestGate(t *testing.T) (*Gate, *db.Store) {
	t.Helper()
	store, err := db.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func aliceIdentity() *google.Identity {
	return &google.Identity{
		Subject: "108123456789",
		Email:   "alice@example.com",
		Name:    "Alice Example",
	}
}

func TestAuthorizeCreatesPendingAccount(t *testing.T) {
	g, _ := newTestGate(t)

	acct, err := g.Authorize(aliceIdentity())
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if acct.Status != db.StatusPending {
		t.Errorf("status = %s, want pending", acct.Status)
	}
	if acct.ID != "108123456789" || acct.Email != "alice@example.com" {
		t.Errorf("got %+v", acct)
	}
	if acct.CreatedAt.IsZero() || !acct.CreatedAt.Equal(acct.LastLogin) {
		t.Errorf("created_at/last_login not initialized together: %+v", acct)
	}
}

func TestAuthorizeIsIdempotent(t *testing.T) {
	g, store := newTestGate(t)

	first, err := g.Authorize(aliceIdentity())
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	// Second sight of the same identity updates bookkeeping, no duplicate.
	id := aliceIdentity()
	id.Name = "Alice E."
	time.Sleep(10 * time.Millisecond)
	second, err := g.Authorize(id)
	if err != nil {
		t.Fatalf("Authorize (second): %v", err)
	}

	accounts, err := store.ListAccounts()
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("got %d accounts, want 1", len(accounts))
	}
	if second.Name != "Alice E." {
		t.Errorf("name not refreshed: %q", second.Name)
	}
	if !second.LastLogin.After(first.LastLogin) {
		t.Errorf("last_login not advanced: %v -> %v", first.LastLogin, second.LastLogin)
	}
	if second.Status != db.StatusPending {
		t.Errorf("status = %s, want pending", second.Status)
	}
}

func TestAuthorizeNeverRevertsAdminDecision(t *testing.T) {
	g, store := newTestGate(t)

	if _, err := g.Authorize(aliceIdentity()); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if err := store.SetAccountStatus("alice@example.com", db.StatusApproved); err != nil {
		t.Fatalf("SetAccountStatus: %v", err)
	}

	acct, err := g.Authorize(aliceIdentity())
	if err != nil {
		t.Fatalf("Authorize (after approval): %v", err)
	}
	if acct.Status != db.StatusApproved {
		t.Errorf("status = %s, authorize reverted the approval", acct.Status)
	}

	persisted, err := store.FindAccountByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("FindAccountByEmail: %v", err)
	}
	if persisted.Status != db.StatusApproved {
		t.Errorf("persisted status = %s", persisted.Status)
	}
}

func TestAuthorizeSurvivesBookkeepingWriteFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.db")
	store, err := db.NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := New(store).Authorize(aliceIdentity()); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if err := store.SetAccountStatus("alice@example.com", db.StatusApproved); err != nil {
		t.Fatalf("SetAccountStatus: %v", err)
	}
	store.Close()

	// Reopen read-only: lookups work, the login-time refresh cannot.
	roStore, err := db.NewStore("file:" + path + "?mode=ro")
	if err != nil {
		t.Fatalf("NewStore (read-only): %v", err)
	}
	t.Cleanup(func() { roStore.Close() })

	id := aliceIdentity()
	id.Name = "Alice E."
	acct, err := New(roStore).Authorize(id)
	if err != nil {
		t.Fatalf("Authorize with failing refresh: %v", err)
	}
	if acct.Email != "alice@example.com" || acct.Status != db.StatusApproved {
		t.Errorf("got %+v, want the known approved account", acct)
	}
}

func TestAuthorizeReturnsDeniedAccounts(t *testing.T) {
	g, store := newTestGate(t)

	if _, err := g.Authorize(aliceIdentity()); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if err := store.SetAccountStatus("alice@example.com", db.StatusDenied); err != nil {
		t.Fatalf("SetAccountStatus: %v", err)
	}

	// The gate surfaces the account whatever its status; refusing access
	// is the handler's decision.
	acct, err := g.Authorize(aliceIdentity())
	if err != nil {
		t.Fatalf("Authorize (denied): %v", err)
	}
	if acct.Status != db.StatusDenied {
		t.Errorf("status = %s, want denied", acct.Status)
	}
}
