package gamification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxSequenceHistory bounds the keys kept for sequence matching.
const maxSequenceHistory = 20

// TrackOutcome is the result of a single tracked action.
type TrackOutcome struct {
	Completed        bool
	// AlreadyCompleted is set when the progress was complete before the call.
	AlreadyCompleted bool
	Progress         *Progress
}

type progressKey struct {
	UserID       string
	DefinitionID string
}

// progressCache holds the last known state of each (user, definition) pair.
// Entries only leave through clear.
type progressCache struct {
	mu      sync.Mutex
	entries map[progressKey]*Progress
}

func (c *progressCache) get(k progressKey) (*Progress, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

func (c *progressCache) put(k progressKey, p *Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[progressKey]*Progress)
	}
	c.entries[k] = p.clone()
}

func (c *progressCache) clear() {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
}

func (c *progressCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (p *Progress) clone() *Progress {
	cp := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	if p.SessionData.LastActionAt != nil {
		t := *p.SessionData.LastActionAt
		cp.SessionData.LastActionAt = &t
	}
	cp.SessionData.ActionHistory = append([]KeyPress(nil), p.SessionData.ActionHistory...)
	cp.SessionData.ComboActions = append([]ComboAction(nil), p.SessionData.ComboActions...)
	return &cp
}

// Tracker runs the trigger algorithms and persists progress.
type Tracker struct {
	registry *Registry
	store    ProgressStore
	logger   *slog.Logger
	now      func() time.Time
	cache    progressCache
}

// NewTracker creates a tracker resolving definitions through registry.
func NewTracker(registry *Registry, store ProgressStore, logger *slog.Logger, now func() time.Time) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{registry: registry, store: store, logger: logger, now: now}
}

// TrackAction records one action by userID against the named definition.
//
// Completed progress is never touched again: the call returns the stored
// state with Completed false, so unlock side effects run once.
func (t *Tracker) TrackAction(ctx context.Context, userID, name string, action ActionData) (TrackOutcome, error) {
	def := t.registry.Definition(name)
	if def == nil {
		t.logger.Warn("easter egg definition not found", "name", name)
		return TrackOutcome{Progress: &Progress{}}, nil
	}

	current, err := t.load(ctx, userID, def.ID)
	if err != nil {
		return TrackOutcome{}, err
	}
	if current.IsCompleted {
		return TrackOutcome{AlreadyCompleted: true, Progress: current}, nil
	}

	now := t.now()
	next := current.clone()
	next.Attempts++
	completed, err := advance(def.Trigger, next, action, now)
	if err != nil {
		return TrackOutcome{}, fmt.Errorf("track %s: %w", def.Name, err)
	}
	if completed {
		next.IsCompleted = true
		next.CompletedAt = &now
	}
	next.UpdatedAt = now

	if err := t.store.UpdateProgress(ctx, next); err != nil {
		return TrackOutcome{}, fmt.Errorf("update progress: %w", err)
	}
	t.cache.put(progressKey{UserID: userID, DefinitionID: def.ID}, next)

	return TrackOutcome{Completed: completed, Progress: next}, nil
}

// ClearCache drops every cached progress entry, e.g. on logout.
func (t *Tracker) ClearCache() {
	t.cache.clear()
}

func (t *Tracker) load(ctx context.Context, userID, definitionID string) (*Progress, error) {
	key := progressKey{UserID: userID, DefinitionID: definitionID}
	if p, ok := t.cache.get(key); ok {
		return p, nil
	}

	p, err := t.store.FindProgress(ctx, userID, definitionID)
	if errors.Is(err, ErrNotFound) {
		now := t.now()
		p = &Progress{
			ID:           uuid.NewString(),
			UserID:       userID,
			DefinitionID: definitionID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		err = t.store.CreateProgress(ctx, p)
		if errors.Is(err, ErrDuplicate) {
			// Another session created the row first.
			p, err = t.store.FindProgress(ctx, userID, definitionID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}

	t.cache.put(key, p)
	return p.clone(), nil
}

// advance applies one action to p and reports whether the trigger is satisfied.
func advance(cfg TriggerConfig, p *Progress, action ActionData, now time.Time) (bool, error) {
	switch c := cfg.(type) {
	case ClicksConfig:
		return advanceClicks(c, p, now), nil
	case SequenceConfig:
		return advanceSequence(c, p, action, now), nil
	case TimeBasedConfig:
		if action.Duration < 0 {
			return false, fmt.Errorf("%w: %d", ErrNegativeDuration, action.Duration)
		}
		return advanceTimeBased(c, p, action, now), nil
	case ComboConfig:
		return advanceCombo(c, p, action, now), nil
	default:
		return false, fmt.Errorf("unsupported trigger config %T", cfg)
	}
}

func advanceClicks(c ClicksConfig, p *Progress, now time.Time) bool {
	last := p.SessionData.LastActionAt
	if c.ResetOnDelay && last != nil && now.Sub(*last) > c.Window() {
		p.CurrentValue = 1
	} else {
		p.CurrentValue++
	}
	p.SessionData.LastActionAt = &now
	return p.CurrentValue >= int64(c.RequiredClicks)
}

// advanceSequence matches the newest len(Sequence) keys against the
// sequence from the oldest of them forward, stopping at the first mismatch.
// Each key ages out on its own timestamp.
func advanceSequence(c SequenceConfig, p *Progress, action ActionData, now time.Time) bool {
	history := append(p.SessionData.ActionHistory, KeyPress{Key: action.Key, Timestamp: now})

	kept := history[:0]
	for _, k := range history {
		if now.Sub(k.Timestamp) <= c.Window() {
			kept = append(kept, k)
		}
	}
	if len(kept) > maxSequenceHistory {
		kept = kept[len(kept)-maxSequenceHistory:]
	}
	p.SessionData.ActionHistory = kept

	recent := kept
	if len(recent) > len(c.Sequence) {
		recent = recent[len(recent)-len(c.Sequence):]
	}
	var matched int64
	for i, k := range recent {
		if k.Key != c.Sequence[i] {
			break
		}
		matched++
	}
	p.CurrentValue = matched
	return matched == int64(len(c.Sequence))
}

func advanceTimeBased(c TimeBasedConfig, p *Progress, action ActionData, now time.Time) bool {
	p.CurrentValue += action.Duration
	p.SessionData.LastActionAt = &now
	return p.CurrentValue >= int64(c.TimeWindow)
}

func advanceCombo(c ComboConfig, p *Progress, action ActionData, now time.Time) bool {
	actions := append(p.SessionData.ComboActions, ComboAction{Action: action.Action, Timestamp: now})

	kept := actions[:0]
	for _, a := range actions {
		if now.Sub(a.Timestamp) <= c.Window() {
			kept = append(kept, a)
		}
	}
	p.SessionData.ComboActions = kept
	p.CurrentValue = int64(len(kept))
	return p.CurrentValue >= int64(c.RequiredClicks)
}

// targetValue is the current_value at which cfg completes.
func targetValue(cfg TriggerConfig) int64 {
	switch c := cfg.(type) {
	case ClicksConfig:
		return int64(c.RequiredClicks)
	case SequenceConfig:
		return int64(len(c.Sequence))
	case TimeBasedConfig:
		return int64(c.TimeWindow)
	case ComboConfig:
		return int64(c.RequiredClicks)
	default:
		return 0
	}
}
