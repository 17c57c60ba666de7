package db

import (
	"database/sql"
	"time"
)

// =============================================================================
// Account Operations
// =============================================================================

// CreateAccount creates a new connected account
func (db *DB) CreateAccount(a *Account) error {
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	query := `
		INSERT INTO accounts (id, provider, workspace_id, access_token, refresh_token, token_expiry, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		a.ID,
		a.Provider,
		a.WorkspaceID,
		a.AccessToken,
		a.RefreshToken,
		a.TokenExpiry,
		a.CreatedAt,
		a.UpdatedAt,
	)
	return err
}

// GetAccount retrieves an account by ID
func (db *DB) GetAccount(id string) (*Account, error) {
	a := &Account{}

	query := `
		SELECT id, provider, workspace_id, access_token, refresh_token, token_expiry, created_at, updated_at
		FROM accounts
		WHERE id = ?
	`

	err := db.QueryRow(query, id).Scan(
		&a.ID,
		&a.Provider,
		&a.WorkspaceID,
		&a.AccessToken,
		&a.RefreshToken,
		&a.TokenExpiry,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return a, nil
}

// UpdateAccountTokens stores refreshed OAuth credentials
func (db *DB) UpdateAccountTokens(id, accessToken string, refreshToken *string, expiry *time.Time) error {
	query := `
		UPDATE accounts
		SET access_token = ?, refresh_token = COALESCE(?, refresh_token), token_expiry = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := db.Exec(query, accessToken, refreshToken, expiry, time.Now(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
