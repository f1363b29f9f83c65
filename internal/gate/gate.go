// Package gate maps verified identities onto locally governed accounts.
// It decides nothing about approval itself: unknown identities are created
// pending, known ones get their bookkeeping refreshed, and the caller reads
// the resulting status.
package gate

import (
	"time"

	"github.com/lowaccess/tailgate/internal/google"
	"github.com/lowaccess/tailgate/internal/logx"
	"github.com/lowaccess/tailgate/internal/server/db"
)

// Gate looks accounts up by email and keeps their login bookkeeping current.
type Gate struct {
	store *db.Store
}

// New builds a gate over the given account store.
func New(store *db.Store) *Gate {
	return &Gate{store: store}
}

// Authorize returns the account for the verified identity, creating it with
// pending status on first sight. For existing accounts the name and
// last-login time are refreshed best-effort: a failed update is logged and
// the previously known record is still returned, whatever its status. Only
// a failure to read, or to create a brand-new account, aborts.
func (g *Gate) Authorize(id *google.Identity) (*db.Account, error) {
	acct, err := g.store.FindAccountByEmail(id.Email)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if acct != nil {
		acct.Name = id.Name
		acct.LastLogin = now
		if err := g.store.UpsertAccount(acct); err != nil {
			logx.Warnf("failed to update login time for %s: %v", acct.Email, err)
		}
		return acct, nil
	}

	acct = &db.Account{
		ID:        id.Subject,
		Email:     id.Email,
		Name:      id.Name,
		Status:    db.StatusPending,
		CreatedAt: now,
		LastLogin: now,
	}
	if err := g.store.UpsertAccount(acct); err != nil {
		return nil, err
	}

	logx.Infof("new account %s created with pending status", acct.Email)
	return acct, nil
}
