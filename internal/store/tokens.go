package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spigotd/spigot/internal/model"
)

// CreateRefreshToken inserts a new refresh-chain link. The ID and CreatedAt
// fields on t are populated after a successful insert.
func (s *Store) CreateRefreshToken(ctx context.Context, t *model.RefreshToken) error {
	t.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO refresh_tokens
		(chain_id, seq, token_hash, user_id, consumed, revoked, expires_at, created_at)
		VALUES
		(:chain_id, :seq, :token_hash, :user_id, :consumed, :revoked, :expires_at, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, t)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get refresh token id: %w", err)
	}
	t.ID = id
	return nil
}

// GetRefreshTokenByHash looks up a refresh-chain link by its SHA-256 hash.
func (s *Store) GetRefreshTokenByHash(ctx context.Context, hash string) (*model.RefreshToken, error) {
	var t model.RefreshToken
	if err := s.db.GetContext(ctx, &t, "SELECT * FROM refresh_tokens WHERE token_hash = ?", hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get refresh token by hash: %w", err)
	}
	return &t, nil
}

// RotateRefreshToken consumes the link with the given ID and inserts its
// successor in one transaction. The consume is a compare-and-swap: it only
// succeeds if the link is still unconsumed and unrevoked, so two writers
// racing on the same link cannot both rotate it. The loser gets ErrConflict.
func (s *Store) RotateRefreshToken(ctx context.Context, oldID int64, next *model.RefreshToken) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	result, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET consumed = 1 WHERE id = ? AND consumed = 0 AND revoked = 0", oldID)
	if err != nil {
		return fmt.Errorf("consume refresh token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume refresh token rows affected: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}

	next.CreatedAt = time.Now().UTC()
	const q = `INSERT INTO refresh_tokens
		(chain_id, seq, token_hash, user_id, consumed, revoked, expires_at, created_at)
		VALUES
		(:chain_id, :seq, :token_hash, :user_id, :consumed, :revoked, :expires_at, :created_at)`

	insertResult, err := tx.NamedExecContext(ctx, q, next)
	if err != nil {
		return fmt.Errorf("insert successor refresh token: %w", err)
	}
	id, err := insertResult.LastInsertId()
	if err != nil {
		return fmt.Errorf("get successor refresh token id: %w", err)
	}
	next.ID = id

	return tx.Commit()
}

// RevokeRefreshChain marks every link in a chain revoked. Subsequent rotate
// attempts against any link of the chain fail.
func (s *Store) RevokeRefreshChain(ctx context.Context, chainID string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1 WHERE chain_id = ?", chainID); err != nil {
		return fmt.Errorf("revoke refresh chain: %w", err)
	}
	return nil
}

// ListRefreshChain returns every link of a chain ordered by sequence number.
func (s *Store) ListRefreshChain(ctx context.Context, chainID string) ([]model.RefreshToken, error) {
	var tokens []model.RefreshToken
	if err := s.db.SelectContext(ctx, &tokens,
		"SELECT * FROM refresh_tokens WHERE chain_id = ? ORDER BY seq", chainID); err != nil {
		return nil, fmt.Errorf("list refresh chain: %w", err)
	}
	return tokens, nil
}

// PruneRefreshTokens deletes links that expired before the cutoff. Returns
// the number of rows removed.
func (s *Store) PruneRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune refresh tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune refresh tokens rows affected: %w", err)
	}
	return n, nil
}
