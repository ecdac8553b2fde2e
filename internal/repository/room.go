package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sobun/chat/internal/logger"
	"github.com/sobun/chat/internal/model"
)

type RoomRepository struct {
	pool *pgxpool.Pool
}

func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

const roomColumns = `id, title, room_type, owner_id, linked_post_id, status, closed_at, expire_at, created_at, updated_at`

func scanRoom(row pgx.Row) (*model.Room, error) {
	rm := &model.Room{}
	err := row.Scan(&rm.ID, &rm.Title, &rm.Type, &rm.OwnerID, &rm.LinkedPostID,
		&rm.Status, &rm.ClosedAt, &rm.ExpireAt, &rm.CreatedAt, &rm.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return rm, nil
}

// Create inserts the room row and one active membership row per member in a
// single transaction. memberIDs must already be deduplicated and validated.
func (r *RoomRepository) Create(ctx context.Context, room *model.Room, memberIDs []string) error {
	defer logger.DeferLogDuration("room.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("roomRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO rooms (id, title, room_type, owner_id, linked_post_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		room.ID, room.Title, room.Type, room.OwnerID, room.LinkedPostID, room.Status, room.CreatedAt, room.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.Create room: %w", err)
	}
	for _, uid := range memberIDs {
		_, err = tx.Exec(ctx,
			`INSERT INTO room_members (id, room_id, user_id, status, joined_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New().String(), room.ID, uid, model.MemberStatusActive, room.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("roomRepo.Create member %s: %w", uid, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("roomRepo.Create commit: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetByID(ctx context.Context, id string) (*model.Room, error) {
	defer logger.DeferLogDuration("room.GetByID", time.Now())()
	room, err := scanRoom(r.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetByID: %w", err)
	}
	return room, nil
}

// GetUserRooms returns the rooms where the user has an active membership,
// newest first.
func (r *RoomRepository) GetUserRooms(ctx context.Context, userID string) ([]model.Room, error) {
	defer logger.DeferLogDuration("room.GetUserRooms", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+roomColumnsPrefixed("r")+`
		 FROM rooms r
		 JOIN room_members m ON m.room_id = r.id
		 WHERE m.user_id = $1 AND m.status = 'active'
		 ORDER BY r.created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetUserRooms query: %w", err)
	}
	defer rows.Close()

	rooms := make([]model.Room, 0, 16)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("roomRepo.GetUserRooms scan: %w", err)
		}
		rooms = append(rooms, *room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.GetUserRooms rows: %w", err)
	}
	return rooms, nil
}

func roomColumnsPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.title, ` + alias + `.room_type, ` + alias + `.owner_id, ` +
		alias + `.linked_post_id, ` + alias + `.status, ` + alias + `.closed_at, ` + alias + `.expire_at, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}

// IsMember reports whether the user currently has an active membership.
func (r *RoomRepository) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	defer logger.DeferLogDuration("room.IsMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2 AND status = 'active')`,
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("roomRepo.IsMember: %w", err)
	}
	return exists, nil
}

// AddMember inserts an active membership row, reactivating a previous "left"
// row if one exists (room_id, user_id is unique).
func (r *RoomRepository) AddMember(ctx context.Context, roomID, userID string, at time.Time) error {
	defer logger.DeferLogDuration("room.AddMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO room_members (id, room_id, user_id, status, joined_at)
		 VALUES ($1, $2, $3, 'active', $4)
		 ON CONFLICT (room_id, user_id)
		 DO UPDATE SET status = 'active', joined_at = EXCLUDED.joined_at`,
		uuid.New().String(), roomID, userID, at,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.AddMember: %w", err)
	}
	return nil
}

// RemoveMember soft-transitions the membership to "left". Rows are only
// hard-deleted by room reclamation.
func (r *RoomRepository) RemoveMember(ctx context.Context, roomID, userID string) error {
	defer logger.DeferLogDuration("room.RemoveMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE room_members SET status = 'left' WHERE room_id = $1 AND user_id = $2 AND status = 'active'`,
		roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.RemoveMember: %w", err)
	}
	return nil
}

func (r *RoomRepository) GetMembers(ctx context.Context, roomID string) ([]model.RoomMember, error) {
	defer logger.DeferLogDuration("room.GetMembers", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, room_id, user_id, status, last_read_message_id, last_read_at, joined_at
		 FROM room_members WHERE room_id = $1 ORDER BY joined_at`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.GetMembers query: %w", err)
	}
	defer rows.Close()

	members := make([]model.RoomMember, 0, 8)
	for rows.Next() {
		var m model.RoomMember
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Status, &m.LastReadMessageID, &m.LastReadAt, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("roomRepo.GetMembers scan: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.GetMembers rows: %w", err)
	}
	return members, nil
}

// UpdateMemberLastRead records the newest message the member has seen.
func (r *RoomRepository) UpdateMemberLastRead(ctx context.Context, roomID, userID, messageID string, at time.Time) error {
	defer logger.DeferLogDuration("room.UpdateMemberLastRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE room_members SET last_read_message_id = $1, last_read_at = $2
		 WHERE room_id = $3 AND user_id = $4 AND status = 'active'`,
		messageID, at, roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.UpdateMemberLastRead: %w", err)
	}
	return nil
}

// Close transitions the room to closed and stamps the reclamation deadline.
func (r *RoomRepository) Close(ctx context.Context, roomID string, closedAt, expireAt time.Time) error {
	defer logger.DeferLogDuration("room.Close", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE rooms SET status = 'closed', closed_at = $1, expire_at = $2, updated_at = $1
		 WHERE id = $3 AND status = 'open'`,
		closedAt, expireAt, roomID,
	)
	if err != nil {
		return fmt.Errorf("roomRepo.Close: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindExpired returns ids of closed rooms whose grace period has elapsed.
func (r *RoomRepository) FindExpired(ctx context.Context, now time.Time) ([]string, error) {
	defer logger.DeferLogDuration("room.FindExpired", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM rooms WHERE status = 'closed' AND expire_at < $1`, now,
	)
	if err != nil {
		return nil, fmt.Errorf("roomRepo.FindExpired query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("roomRepo.FindExpired scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("roomRepo.FindExpired rows: %w", err)
	}
	return ids, nil
}

// DeleteMembers hard-deletes membership and invitation rows for the given
// rooms. Part of reclamation only; idempotent across retries.
func (r *RoomRepository) DeleteMembers(ctx context.Context, roomIDs []string) error {
	defer logger.DeferLogDuration("room.DeleteMembers", time.Now())()
	if len(roomIDs) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM room_members WHERE room_id = ANY($1)`, roomIDs,
	); err != nil {
		return fmt.Errorf("roomRepo.DeleteMembers: %w", err)
	}
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM invitations WHERE room_id = ANY($1)`, roomIDs,
	); err != nil {
		return fmt.Errorf("roomRepo.DeleteMembers invitations: %w", err)
	}
	return nil
}

// DeleteRooms hard-deletes room metadata rows. Part of reclamation only.
func (r *RoomRepository) DeleteRooms(ctx context.Context, roomIDs []string) error {
	defer logger.DeferLogDuration("room.DeleteRooms", time.Now())()
	if len(roomIDs) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM rooms WHERE id = ANY($1)`, roomIDs,
	); err != nil {
		return fmt.Errorf("roomRepo.DeleteRooms: %w", err)
	}
	return nil
}
