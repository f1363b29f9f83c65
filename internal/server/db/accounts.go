package db

import (
	"database/sql"
	"fmt"
)

// FindAccountByEmail retrieves an account by email, or nil if none exists.
func (s *Store) FindAccountByEmail(email string) (*Account, error) {
	acct := &Account{}
	err := s.db.QueryRow(
		`SELECT id, email, name, status, created_at, last_login
		 FROM accounts WHERE email = ?`, email,
	).Scan(&acct.ID, &acct.Email, &acct.Name, &acct.Status, &acct.CreatedAt, &acct.LastLogin)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("find account", err)
	}
	return acct, nil
}

// UpsertAccount inserts the account or, if a row with the same id already
// exists, updates its email, name and last_login. Status and created_at are
// deliberately excluded from the conflict clause: a login-time write must
// never reset an admin's approval decision, even when the in-memory account
// carries a stale status.
func (s *Store) UpsertAccount(acct *Account) error {
	_, err := s.db.Exec(
		`INSERT INTO accounts (id, email, name, status, created_at, last_login)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			last_login = excluded.last_login`,
		acct.ID, acct.Email, acct.Name, acct.Status, acct.CreatedAt, acct.LastLogin,
	)
	if err != nil {
		return storeError("upsert account", err)
	}
	return nil
}

// SetAccountStatus performs the administrative pending -> approved|denied
// transition for the account with the given email. Any other transition is
// rejected; approved and denied are terminal.
func (s *Store) SetAccountStatus(email string, to Status) error {
	tx, err := s.db.Begin()
	if err != nil {
		return storeError("set status", err)
	}
	defer tx.Rollback()

	var current Status
	err = tx.QueryRow(`SELECT status FROM accounts WHERE email = ?`, email).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %q", ErrNotFound, email)
	}
	if err != nil {
		return storeError("set status", err)
	}

	if current == to {
		return nil
	}
	if !current.CanTransition(to) {
		return fmt.Errorf("%w: %q is %s, cannot become %s", ErrInvalidTransition, email, current, to)
	}

	if _, err := tx.Exec(`UPDATE accounts SET status = ? WHERE email = ?`, to, email); err != nil {
		return storeError("set status", err)
	}
	if err := tx.Commit(); err != nil {
		return storeError("set status", err)
	}
	return nil
}

// ListAccounts returns all accounts ordered by creation time.
func (s *Store) ListAccounts() ([]Account, error) {
	rows, err := s.db.Query(
		`SELECT id, email, name, status, created_at, last_login
		 FROM accounts ORDER BY created_at`,
	)
	if err != nil {
		return nil, storeError("list accounts", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Email, &a.Name, &a.Status, &a.CreatedAt, &a.LastLogin); err != nil {
			return nil, storeError("list accounts", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list accounts", err)
	}
	return accounts, nil
}

// GrantPermission records an extra permission for the account with the given
// email. Granting the same permission twice is a no-op.
func (s *Store) GrantPermission(email, permission string) error {
	res, err := s.db.Exec(
		`INSERT INTO account_permissions (account_id, permission)
		 SELECT id, ? FROM accounts WHERE email = ?
		 ON CONFLICT(account_id, permission) DO NOTHING`,
		permission, email,
	)
	if err != nil {
		return storeError("grant permission", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the account is missing or the permission already exists;
		// only the former is an error worth reporting.
		acct, err := s.FindAccountByEmail(email)
		if err != nil {
			return err
		}
		if acct == nil {
			return fmt.Errorf("%w: %q", ErrNotFound, email)
		}
	}
	return nil
}

// ListPermissions returns the permissions granted to the account with the
// given email.
func (s *Store) ListPermissions(email string) ([]Permission, error) {
	rows, err := s.db.Query(
		`SELECT p.account_id, p.permission, p.granted_at
		 FROM account_permissions p
		 JOIN accounts a ON a.id = p.account_id
		 WHERE a.email = ? ORDER BY p.granted_at`, email,
	)
	if err != nil {
		return nil, storeError("list permissions", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.AccountID, &p.Permission, &p.GrantedAt); err != nil {
			return nil, storeError("list permissions", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list permissions", err)
	}
	return perms, nil
}
