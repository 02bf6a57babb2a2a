package gamification

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by a Store when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned by a Store when a uniqueness constraint rejects a create.
	ErrDuplicate = errors.New("duplicate")
	// ErrNotAuthenticated means no current user could be resolved.
	ErrNotAuthenticated = errors.New("User not authenticated")
	// ErrDefinitionNotFound means a trigger name has no active definition.
	ErrDefinitionNotFound = errors.New("Easter egg definition not found")
	// ErrNegativeDuration rejects time_based actions that would rewind progress.
	ErrNegativeDuration = errors.New("duration must not be negative")
)

// SortOrder for achievement listings.
type SortOrder string

const (
	SortNewest SortOrder = "newest"
	SortPoints SortOrder = "points"
	SortName   SortOrder = "name"
)

// AchievementQuery filters a user's achievements.
type AchievementQuery struct {
	UserID   string
	OnlyNew  bool
	Category string
	Sort     SortOrder
}

type DefinitionStore interface {
	// ListActiveDefinitions returns definitions with is_active set, sorted by name.
	ListActiveDefinitions(ctx context.Context) ([]*Definition, error)
}

type ProgressStore interface {
	FindProgress(ctx context.Context, userID, definitionID string) (*Progress, error)
	CreateProgress(ctx context.Context, p *Progress) error
	UpdateProgress(ctx context.Context, p *Progress) error
}

type AchievementStore interface {
	FindAchievement(ctx context.Context, userID, definitionID string) (*Achievement, error)
	CreateAchievement(ctx context.Context, a *Achievement) error
	ListAchievements(ctx context.Context, q AchievementQuery) ([]*Achievement, error)
	MarkAchievementSeen(ctx context.Context, userID, achievementID string) error
	MarkAllAchievementsSeen(ctx context.Context, userID string) (int64, error)
	MarkAchievementNotified(ctx context.Context, achievementID string, at time.Time) error
}

// NotificationStore reports ErrDuplicate when a notification id already exists.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error
}

// Store is the remote record store the engine runs against.
type Store interface {
	DefinitionStore
	ProgressStore
	AchievementStore
	NotificationStore
}

// Publisher fans notifications out after they are stored.
type Publisher interface {
	PublishNotification(ctx context.Context, n *Notification) error
}
