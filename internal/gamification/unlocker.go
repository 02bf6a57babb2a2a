package gamification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Unlocker creates achievement records, at most one per (user, definition).
type Unlocker struct {
	store  AchievementStore
	logger *slog.Logger
	now    func() time.Time
}

func NewUnlocker(store AchievementStore, logger *slog.Logger, now func() time.Time) *Unlocker {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Unlocker{store: store, logger: logger, now: now}
}

// Unlock returns the user's achievement for def, creating it if needed.
// created reports whether this call wrote the record.
//
// The lookup before the insert only saves a write. The store's unique
// (user, definition) constraint decides races: a duplicate on create means
// another session unlocked first, and its record is returned.
func (u *Unlocker) Unlock(ctx context.Context, userID string, def *Definition, action ActionData) (a *Achievement, created bool, err error) {
	existing, err := u.store.FindAchievement(ctx, userID, def.ID)
	switch {
	case err == nil:
		u.logger.Info("achievement already unlocked", "user", userID, "easter_egg", def.Name)
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		return nil, false, fmt.Errorf("find achievement: %w", err)
	}

	metadata := action.metadata()
	metadata["icon"] = def.Icon
	metadata["category"] = def.Category
	metadata["difficulty"] = string(def.Difficulty)

	a = &Achievement{
		ID:           uuid.NewString(),
		UserID:       userID,
		DefinitionID: def.ID,
		DisplayName:  def.DisplayName,
		Category:     def.Category,
		Points:       def.Points,
		UnlockedAt:   u.now(),
		IsNew:        true,
		Metadata:     metadata,
	}
	if a.DisplayName == "" {
		a.DisplayName = def.Name
	}

	if err := u.store.CreateAchievement(ctx, a); err != nil {
		if !errors.Is(err, ErrDuplicate) {
			return nil, false, fmt.Errorf("create achievement: %w", err)
		}
		u.logger.Info("achievement unlocked concurrently", "user", userID, "easter_egg", def.Name)
		existing, err := u.store.FindAchievement(ctx, userID, def.ID)
		if err != nil {
			return nil, false, fmt.Errorf("find achievement after conflict: %w", err)
		}
		return existing, false, nil
	}

	u.logger.Info("achievement unlocked", "user", userID, "easter_egg", def.Name, "points", def.Points)
	return a, true, nil
}
