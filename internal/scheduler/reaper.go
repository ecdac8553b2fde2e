// Package scheduler runs the daily room reclamation pass. Closed rooms whose
// grace period has elapsed are purged from both stores: message documents
// first, metadata rows last, so a failed purge is retried on the next pass.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sobun/chat/internal/logger"
)

// RoomReclaimer is the relational side of reclamation. RoomRepository
// implements it.
type RoomReclaimer interface {
	FindExpired(ctx context.Context, now time.Time) ([]string, error)
	DeleteMembers(ctx context.Context, roomIDs []string) error
	DeleteRooms(ctx context.Context, roomIDs []string) error
}

// LogPurger is the document side. messagelog.Store implements it.
type LogPurger interface {
	DeleteRoom(ctx context.Context, roomID string) error
}

type Reaper struct {
	rooms RoomReclaimer
	logs  LogPurger
	hour  int

	// running guards against overlapping passes when one runs long.
	running sync.Mutex

	// now is swapped in tests.
	now func() time.Time
}

// NewReaper builds a reaper that fires daily at the given local hour (0-23).
func NewReaper(rooms RoomReclaimer, logs LogPurger, hour int) *Reaper {
	if hour < 0 || hour > 23 {
		hour = 3
	}
	return &Reaper{rooms: rooms, logs: logs, hour: hour, now: time.Now}
}

// Run blocks, firing a reclamation pass once a day until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	logger.Infof("reaper: scheduled daily at %02d:00", r.hour)
	for {
		wait := time.Until(r.nextRunAt(r.now()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := r.RunOnce(ctx); err != nil {
				logger.Errorf("reaper: pass failed: %v", err)
			}
		}
	}
}

// RunOnce executes a single reclamation pass. If a previous pass is still
// running it returns immediately. Safe to call from an admin hook as well
// as the timer loop.
func (r *Reaper) RunOnce(ctx context.Context) error {
	if !r.running.TryLock() {
		logger.Info("reaper: previous pass still running, skipping")
		return nil
	}
	defer r.running.Unlock()
	defer logger.DeferLogDuration("reaper.RunOnce", time.Now())()

	expired, err := r.rooms.FindExpired(ctx, r.now().UTC())
	if err != nil {
		return fmt.Errorf("reaper: find expired: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}
	logger.Infof("reaper: reclaiming %d room(s)", len(expired))

	if err := r.rooms.DeleteMembers(ctx, expired); err != nil {
		return fmt.Errorf("reaper: delete members: %w", err)
	}

	// One room's purge failure must not block the rest. Rooms whose log
	// purge failed keep their metadata row, so FindExpired picks them up
	// again tomorrow.
	purged := make([]string, 0, len(expired))
	for _, roomID := range expired {
		if err := r.logs.DeleteRoom(ctx, roomID); err != nil {
			logger.Errorf("reaper: purge messages room=%s: %v", roomID, err)
			continue
		}
		purged = append(purged, roomID)
	}

	if err := r.rooms.DeleteRooms(ctx, purged); err != nil {
		return fmt.Errorf("reaper: delete rooms: %w", err)
	}
	logger.Infof("reaper: reclaimed %d of %d room(s)", len(purged), len(expired))
	return nil
}

// nextRunAt returns the next local occurrence of the configured hour.
func (r *Reaper) nextRunAt(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), r.hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
