package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sobun/chat/internal/logger"
	"github.com/sobun/chat/internal/model"
)

// UserRepository resolves user ids. Account management lives in the profile
// service; the chat subsystem only needs existence checks and basic rows.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, nickname, role, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Nickname, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// ExistingIDs returns the subset of ids that resolve to user rows.
func (r *UserRepository) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	defer logger.DeferLogDuration("user.ExistingIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM users WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.ExistingIDs query: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("userRepo.ExistingIDs scan: %w", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.ExistingIDs rows: %w", err)
	}
	return found, nil
}
