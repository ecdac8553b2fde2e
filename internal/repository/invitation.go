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

type InvitationRepository struct {
	pool *pgxpool.Pool
}

func NewInvitationRepository(pool *pgxpool.Pool) *InvitationRepository {
	return &InvitationRepository{pool: pool}
}

func (r *InvitationRepository) Create(ctx context.Context, inv *model.Invitation) error {
	defer logger.DeferLogDuration("invitation.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO invitations (id, room_id, inviter_id, invitee_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		inv.ID, inv.RoomID, inv.InviterID, inv.InviteeID, inv.Status, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("invitationRepo.Create: %w", err)
	}
	return nil
}

func (r *InvitationRepository) GetByID(ctx context.Context, id string) (*model.Invitation, error) {
	defer logger.DeferLogDuration("invitation.GetByID", time.Now())()
	inv := &model.Invitation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, room_id, inviter_id, invitee_id, status, created_at
		 FROM invitations WHERE id = $1`, id,
	).Scan(&inv.ID, &inv.RoomID, &inv.InviterID, &inv.InviteeID, &inv.Status, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invitationRepo.GetByID: %w", err)
	}
	return inv, nil
}

// UpdateStatus resolves a pending invitation. Returns ErrNotFound when the
// invitation does not exist or was already resolved.
func (r *InvitationRepository) UpdateStatus(ctx context.Context, id string, status model.InvitationStatus) error {
	defer logger.DeferLogDuration("invitation.UpdateStatus", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE invitations SET status = $1 WHERE id = $2 AND status = 'pending'`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("invitationRepo.UpdateStatus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HasPending reports whether a pending invitation already exists for the
// (room, invitee) pair, to avoid duplicate invites.
func (r *InvitationRepository) HasPending(ctx context.Context, roomID, inviteeID string) (bool, error) {
	defer logger.DeferLogDuration("invitation.HasPending", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM invitations WHERE room_id = $1 AND invitee_id = $2 AND status = 'pending')`,
		roomID, inviteeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("invitationRepo.HasPending: %w", err)
	}
	return exists, nil
}
