// Package gamification tracks easter-egg actions, unlocks achievements and
// emits the notifications that announce them.
//
// An Engine owns one Registry, Tracker, Unlocker and Dispatcher. Callers
// construct it explicitly, call Initialize once, and ClearCache on logout.
package gamification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	logger    *slog.Logger
	now       func() time.Time
	publisher Publisher
}

// WithLogger sets the logger used by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// WithPublisher fans stored notifications out through p.
func WithPublisher(p Publisher) Option {
	return func(o *engineOptions) { o.publisher = p }
}

// Engine is the single entry point for callers.
type Engine struct {
	users      UserSource
	registry   *Registry
	tracker    *Tracker
	unlocker   *Unlocker
	dispatcher *Dispatcher
	store      AchievementStore
	logger     *slog.Logger
	now        func() time.Time

	// settled holds completed pairs whose achievement and notification
	// are both known to be stored.
	mu      sync.Mutex
	settled map[progressKey]bool
}

// NewEngine wires the engine components over store.
func NewEngine(store Store, users UserSource, opts ...Option) *Engine {
	o := engineOptions{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	registry := NewRegistry(store, o.logger)
	return &Engine{
		users:      users,
		registry:   registry,
		tracker:    NewTracker(registry, store, o.logger, o.now),
		unlocker:   NewUnlocker(store, o.logger, o.now),
		dispatcher: NewDispatcher(store, o.publisher, o.logger, o.now),
		store:      store,
		logger:     o.logger,
		now:        o.now,
		settled:    make(map[progressKey]bool),
	}
}

// Initialize loads the definitions. Unlike Registry.Initialize it returns
// the load error.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.registry.Load(ctx); err != nil {
		return fmt.Errorf("initialize gamification: %w", err)
	}
	return nil
}

// Dispatcher exposes the notification dispatcher for ad-hoc notifications.
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// TrackEasterEggAction records an action by the current user against the
// named easter egg. Every failure is reported in the result.
func (e *Engine) TrackEasterEggAction(ctx context.Context, name string, action ActionData) TrackingResult {
	user := e.users.CurrentUser()
	if user == nil {
		return TrackingResult{Error: ErrNotAuthenticated.Error()}
	}

	out, err := e.tracker.TrackAction(ctx, user.ID, name, action)
	if err != nil {
		e.logger.Error("track easter egg action", "name", name, "user", user.ID, "error", err)
		return TrackingResult{Error: err.Error()}
	}

	def := e.registry.Definition(name)
	if out.AlreadyCompleted && def != nil {
		return e.trackCompleted(ctx, user.ID, def, action, out.Progress)
	}
	if !out.Completed {
		if def != nil {
			e.nudge(ctx, user.ID, def, out.Progress)
		}
		return TrackingResult{
			Success:  true,
			Progress: out.Progress,
			Message:  "Action tracked successfully",
		}
	}

	if def == nil {
		return TrackingResult{Completed: true, Error: ErrDefinitionNotFound.Error()}
	}

	achievement, _, err := e.settle(ctx, user.ID, def, action)
	if err != nil {
		e.logger.Error("unlock achievement", "name", name, "user", user.ID, "error", err)
		return TrackingResult{Error: err.Error()}
	}

	return TrackingResult{
		Success:     true,
		Completed:   true,
		Achievement: achievement,
		Progress:    out.Progress,
		Message:     fmt.Sprintf("Achievement unlocked: %s", achievement.DisplayName),
	}
}

// trackCompleted handles an action on progress that was already complete.
// Until the pair is settled it retries the unlock and its notification, so
// a failure after the progress write is repaired by the next action.
func (e *Engine) trackCompleted(ctx context.Context, userID string, def *Definition, action ActionData, p *Progress) TrackingResult {
	tracked := TrackingResult{Success: true, Progress: p, Message: "Action tracked successfully"}
	if e.isSettled(userID, def.ID) {
		return tracked
	}

	achievement, created, err := e.settle(ctx, userID, def, action)
	if err != nil {
		e.logger.Error("settle completed easter egg", "name", def.Name, "user", userID, "error", err)
		return TrackingResult{Error: err.Error()}
	}
	if !created {
		return tracked
	}
	return TrackingResult{
		Success:     true,
		Completed:   true,
		Achievement: achievement,
		Progress:    p,
		Message:     fmt.Sprintf("Achievement unlocked: %s", achievement.DisplayName),
	}
}

// settle makes sure the user's achievement for def exists and has been
// announced exactly once.
func (e *Engine) settle(ctx context.Context, userID string, def *Definition, action ActionData) (*Achievement, bool, error) {
	a, created, err := e.unlocker.Unlock(ctx, userID, def, action)
	if err != nil {
		return nil, false, err
	}
	if a.NotifiedAt == nil {
		if _, err := e.dispatcher.AchievementNotification(ctx, userID, a); err != nil {
			return nil, false, fmt.Errorf("achievement notification: %w", err)
		}
		now := e.now()
		if err := e.store.MarkAchievementNotified(ctx, a.ID, now); err != nil {
			return nil, false, fmt.Errorf("mark achievement notified: %w", err)
		}
		a.NotifiedAt = &now
	}

	e.mu.Lock()
	e.settled[progressKey{UserID: userID, DefinitionID: def.ID}] = true
	e.mu.Unlock()
	return a, created, nil
}

func (e *Engine) isSettled(userID, definitionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settled[progressKey{UserID: userID, DefinitionID: definitionID}]
}

func (e *Engine) nudge(ctx context.Context, userID string, def *Definition, p *Progress) {
	if p == nil || p.CurrentValue == 0 {
		return
	}
	if _, err := e.dispatcher.ProgressNotification(ctx, userID, def.Name, p.CurrentValue, targetValue(def.Trigger)); err != nil {
		e.logger.Warn("progress notification", "name", def.Name, "user", userID, "error", err)
	}
}

// AchievementOptions filter and order UserAchievements.
type AchievementOptions struct {
	OnlyNew  bool
	Category string
	Sort     SortOrder
}

// UserAchievements lists the current user's achievements, newest first by
// default.
func (e *Engine) UserAchievements(ctx context.Context, opts AchievementOptions) ([]*Achievement, error) {
	user := e.users.CurrentUser()
	if user == nil {
		return nil, nil
	}
	if opts.Sort == "" {
		opts.Sort = SortNewest
	}
	list, err := e.store.ListAchievements(ctx, AchievementQuery{
		UserID:   user.ID,
		OnlyNew:  opts.OnlyNew,
		Category: opts.Category,
		Sort:     opts.Sort,
	})
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	return list, nil
}

// Stats aggregates a user's achievements.
type Stats struct {
	Total        int            `json:"total"`
	NewCount     int            `json:"new_count"`
	TotalPoints  int            `json:"total_points"`
	ByCategory   map[string]int `json:"by_category"`
	ByDifficulty map[string]int `json:"by_difficulty"`
}

// UserStats aggregates the current user's achievements.
func (e *Engine) UserStats(ctx context.Context) (Stats, error) {
	stats := Stats{ByCategory: map[string]int{}, ByDifficulty: map[string]int{}}
	list, err := e.UserAchievements(ctx, AchievementOptions{})
	if err != nil {
		return stats, err
	}
	for _, a := range list {
		stats.Total++
		stats.TotalPoints += a.Points
		if a.IsNew {
			stats.NewCount++
		}
		if a.Category != "" {
			stats.ByCategory[a.Category]++
		}
		if d := a.Difficulty(); d != "" {
			stats.ByDifficulty[string(d)]++
		}
	}
	return stats, nil
}

// MarkAchievementAsSeen clears the new flag on one of the current user's
// achievements. It reports false when nobody is signed in.
func (e *Engine) MarkAchievementAsSeen(ctx context.Context, achievementID string) (bool, error) {
	user := e.users.CurrentUser()
	if user == nil {
		return false, nil
	}
	if err := e.store.MarkAchievementSeen(ctx, user.ID, achievementID); err != nil {
		return false, fmt.Errorf("mark achievement seen: %w", err)
	}
	return true, nil
}

// MarkAllAchievementsAsSeen clears the new flag on all of the current
// user's achievements and returns how many changed.
func (e *Engine) MarkAllAchievementsAsSeen(ctx context.Context) (int64, error) {
	user := e.users.CurrentUser()
	if user == nil {
		return 0, nil
	}
	n, err := e.store.MarkAllAchievementsSeen(ctx, user.ID)
	if err != nil {
		return 0, fmt.Errorf("mark all achievements seen: %w", err)
	}
	return n, nil
}

// HasAchievement reports whether the current user unlocked the definition
// with the given id.
func (e *Engine) HasAchievement(ctx context.Context, definitionID string) (bool, error) {
	user := e.users.CurrentUser()
	if user == nil {
		return false, nil
	}
	_, err := e.store.FindAchievement(ctx, user.ID, definitionID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("find achievement: %w", err)
	}
}

// UserTotalPoints sums the points of the current user's achievements.
func (e *Engine) UserTotalPoints(ctx context.Context) (int, error) {
	stats, err := e.UserStats(ctx)
	return stats.TotalPoints, err
}

// AvailableEasterEggs returns the loaded definitions sorted by name.
func (e *Engine) AvailableEasterEggs() []*Definition {
	return e.registry.Definitions()
}

// EasterEggDefinition returns the named definition, or nil.
func (e *Engine) EasterEggDefinition(name string) *Definition {
	return e.registry.Definition(name)
}

// EasterEggsByType returns the loaded definitions with trigger type t.
func (e *Engine) EasterEggsByType(t TriggerType) []*Definition {
	return e.registry.DefinitionsByType(t)
}

// ReloadEasterEggs reloads the definitions from the store.
func (e *Engine) ReloadEasterEggs(ctx context.Context) error {
	return e.registry.Reload(ctx)
}

// ClearCache forgets all cached progress. Call it on logout.
func (e *Engine) ClearCache() {
	e.tracker.ClearCache()
	e.mu.Lock()
	e.settled = make(map[progressKey]bool)
	e.mu.Unlock()
}

// SortAchievements orders list in place the way the store orders a query.
// Stores without server-side sorting can use it.
func SortAchievements(list []*Achievement, order SortOrder) {
	switch order {
	case SortPoints:
		sort.SliceStable(list, func(i, j int) bool { return list[i].Points > list[j].Points })
	case SortName:
		sort.SliceStable(list, func(i, j int) bool { return list[i].DisplayName < list[j].DisplayName })
	default:
		sort.SliceStable(list, func(i, j int) bool { return list[i].UnlockedAt.After(list[j].UnlockedAt) })
	}
}
