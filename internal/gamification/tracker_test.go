package gamification

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestTracker(t *testing.T, defs ...*Definition) (*Tracker, *memStore, *fakeClock) {
	t.Helper()
	store := newMemStore(defs...)
	clock := newFakeClock()
	registry := NewRegistry(store, nil)
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return NewTracker(registry, store, nil, clock.Now), store, clock
}

type step struct {
	after     time.Duration
	action    ActionData
	wantValue int64
	wantDone  bool
}

func runSteps(t *testing.T, tr *Tracker, clock *fakeClock, name string, steps []step) {
	t.Helper()
	ctx := context.Background()
	for i, s := range steps {
		clock.Advance(s.after)
		out, err := tr.TrackAction(ctx, "user-1", name, s.action)
		if err != nil {
			t.Fatalf("step %d: track: %v", i, err)
		}
		if out.Progress.CurrentValue != s.wantValue {
			t.Errorf("step %d: current_value = %d, want %d", i, out.Progress.CurrentValue, s.wantValue)
		}
		if out.Completed != s.wantDone {
			t.Errorf("step %d: completed = %v, want %v", i, out.Completed, s.wantDone)
		}
	}
}

func TestTrackClicks(t *testing.T) {
	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "three clicks inside the window complete",
			steps: []step{
				{0, ActionData{}, 1, false},
				{400 * time.Millisecond, ActionData{}, 2, false},
				{500 * time.Millisecond, ActionData{}, 3, true},
			},
		},
		{
			name: "gap longer than the window resets the streak",
			steps: []step{
				{0, ActionData{}, 1, false},
				{300 * time.Millisecond, ActionData{}, 2, false},
				{1500 * time.Millisecond, ActionData{}, 1, false},
				{200 * time.Millisecond, ActionData{}, 2, false},
				{200 * time.Millisecond, ActionData{}, 3, true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _, clock := newTestTracker(t, clicksDef("clicky", 3, 1000, DifficultyMedium))
			runSteps(t, tr, clock, "clicky", tt.steps)
		})
	}
}

func TestTrackClicksWithoutReset(t *testing.T) {
	def := clicksDef("patient", 3, 1000, DifficultyEasy)
	def.Trigger = ClicksConfig{RequiredClicks: 3, TimeWindow: 1000}
	tr, _, clock := newTestTracker(t, def)

	runSteps(t, tr, clock, "patient", []step{
		{0, ActionData{}, 1, false},
		{time.Hour, ActionData{}, 2, false},
		{time.Hour, ActionData{}, 3, true},
	})
}

func TestTrackSequence(t *testing.T) {
	key := func(k string) ActionData { return ActionData{Key: k} }
	ms := time.Millisecond

	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "keys in order complete",
			steps: []step{
				{0, key("a"), 1, false},
				{100 * ms, key("b"), 2, false},
				{100 * ms, key("c"), 3, true},
			},
		},
		{
			name: "mismatch stops the prefix",
			steps: []step{
				{0, key("a"), 1, false},
				{100 * ms, key("x"), 1, false},
				{100 * ms, key("c"), 1, false},
				{100 * ms, key("c"), 0, false},
			},
		},
		{
			name: "replaying the prefix after a mismatch completes",
			steps: []step{
				{0, key("a"), 1, false},
				{100 * ms, key("x"), 1, false},
				{100 * ms, key("a"), 1, false},
				{100 * ms, key("b"), 0, false},
				{100 * ms, key("c"), 3, true},
			},
		},
		{
			name: "keys older than the window are forgotten",
			steps: []step{
				{0, key("a"), 1, false},
				{100 * ms, key("b"), 2, false},
				{6 * time.Second, key("c"), 0, false},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _, clock := newTestTracker(t, sequenceDef("konami", []string{"a", "b", "c"}, 5000))
			runSteps(t, tr, clock, "konami", tt.steps)
		})
	}
}

func TestTrackSequenceCapsHistory(t *testing.T) {
	tr, _, clock := newTestTracker(t, sequenceDef("long", []string{"q", "w", "e"}, 60000))
	ctx := context.Background()

	var out TrackOutcome
	var err error
	for i := 0; i < 30; i++ {
		clock.Advance(10 * time.Millisecond)
		out, err = tr.TrackAction(ctx, "user-1", "long", ActionData{Key: "z"})
		if err != nil {
			t.Fatalf("track: %v", err)
		}
	}
	if got := len(out.Progress.SessionData.ActionHistory); got != maxSequenceHistory {
		t.Errorf("history length = %d, want %d", got, maxSequenceHistory)
	}
	if out.Progress.Attempts != 30 {
		t.Errorf("attempts = %d, want 30", out.Progress.Attempts)
	}
}

func TestTrackTimeBased(t *testing.T) {
	def := &Definition{
		ID:          "def-reader",
		Name:        "reader",
		TriggerType: TriggerTimeBased,
		Trigger:     TimeBasedConfig{TimeWindow: 1000},
		IsActive:    true,
	}
	tr, _, clock := newTestTracker(t, def)

	runSteps(t, tr, clock, "reader", []step{
		{0, ActionData{Duration: 400}, 400, false},
		{time.Minute, ActionData{}, 400, false},
		{time.Minute, ActionData{Duration: 400}, 800, false},
		{time.Minute, ActionData{Duration: 300}, 1100, true},
	})
}

func TestTrackTimeBasedRejectsNegativeDuration(t *testing.T) {
	def := &Definition{
		ID:          "def-reader",
		Name:        "reader",
		TriggerType: TriggerTimeBased,
		Trigger:     TimeBasedConfig{TimeWindow: 1000},
		IsActive:    true,
	}
	tr, store, _ := newTestTracker(t, def)
	ctx := context.Background()

	if _, err := tr.TrackAction(ctx, "user-1", "reader", ActionData{Duration: 600}); err != nil {
		t.Fatal(err)
	}
	_, err := tr.TrackAction(ctx, "user-1", "reader", ActionData{Duration: -600})
	if !errors.Is(err, ErrNegativeDuration) {
		t.Fatalf("err = %v, want %v", err, ErrNegativeDuration)
	}
	p := store.progress[progressKey{"user-1", def.ID}]
	if p.CurrentValue != 600 || p.Attempts != 1 {
		t.Errorf("stored progress = %d after %d attempts, want 600 after 1", p.CurrentValue, p.Attempts)
	}
}

func TestTrackCombo(t *testing.T) {
	def := &Definition{
		ID:          "def-combo",
		Name:        "combo",
		TriggerType: TriggerCombo,
		Trigger:     ComboConfig{TimeWindow: 1000, RequiredClicks: 3},
		IsActive:    true,
	}
	tr, _, clock := newTestTracker(t, def)
	act := func(a string) ActionData { return ActionData{Action: a} }

	runSteps(t, tr, clock, "combo", []step{
		{0, act("jump"), 1, false},
		{200 * time.Millisecond, act("jump"), 2, false},
		{1500 * time.Millisecond, act("duck"), 1, false},
		{100 * time.Millisecond, act("jump"), 2, false},
		{100 * time.Millisecond, act("duck"), 3, true},
	})
}

func TestTrackCompletedProgressIsFrozen(t *testing.T) {
	tr, store, clock := newTestTracker(t, clicksDef("clicky", 2, 1000, DifficultyEasy))
	ctx := context.Background()

	runSteps(t, tr, clock, "clicky", []step{
		{0, ActionData{}, 1, false},
		{100 * time.Millisecond, ActionData{}, 2, true},
	})
	updates := store.callCount("UpdateProgress")

	for i := 0; i < 5; i++ {
		clock.Advance(100 * time.Millisecond)
		out, err := tr.TrackAction(ctx, "user-1", "clicky", ActionData{})
		if err != nil {
			t.Fatalf("track: %v", err)
		}
		if out.Completed || !out.AlreadyCompleted {
			t.Fatalf("repeat %d: completed=%v already=%v", i, out.Completed, out.AlreadyCompleted)
		}
		if out.Progress.Attempts != 2 {
			t.Errorf("attempts = %d, want 2", out.Progress.Attempts)
		}
		if !out.Progress.IsCompleted || out.Progress.CompletedAt == nil {
			t.Errorf("progress lost its completion: %+v", out.Progress)
		}
	}
	if got := store.callCount("UpdateProgress"); got != updates {
		t.Errorf("UpdateProgress calls = %d, want %d", got, updates)
	}

	// A fresh tracker reading the stored row must also see it as frozen.
	tr.ClearCache()
	out, err := tr.TrackAction(ctx, "user-1", "clicky", ActionData{})
	if err != nil {
		t.Fatalf("track after clear: %v", err)
	}
	if out.Completed || out.Progress.Attempts != 2 {
		t.Errorf("after clear: completed=%v attempts=%d", out.Completed, out.Progress.Attempts)
	}
}

func TestTrackUnknownDefinition(t *testing.T) {
	tr, store, _ := newTestTracker(t)
	before := store.totalCalls()

	out, err := tr.TrackAction(context.Background(), "user-1", "missing", ActionData{})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if out.Completed {
		t.Error("unknown definition reported completed")
	}
	if out.Progress == nil || out.Progress.ID != "" {
		t.Errorf("progress = %+v, want empty", out.Progress)
	}
	if got := store.totalCalls(); got != before {
		t.Errorf("store calls = %d, want %d", got, before)
	}
}

func TestTrackCachesProgress(t *testing.T) {
	tr, store, clock := newTestTracker(t, clicksDef("clicky", 5, 1000, DifficultyEasy))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Millisecond)
		if _, err := tr.TrackAction(ctx, "user-1", "clicky", ActionData{}); err != nil {
			t.Fatalf("track: %v", err)
		}
	}
	if got := store.callCount("FindProgress"); got != 1 {
		t.Errorf("FindProgress calls = %d, want 1", got)
	}
	if got := store.callCount("CreateProgress"); got != 1 {
		t.Errorf("CreateProgress calls = %d, want 1", got)
	}
	if got := tr.cache.size(); got != 1 {
		t.Errorf("cache size = %d, want 1", got)
	}

	tr.ClearCache()
	if got := tr.cache.size(); got != 0 {
		t.Errorf("cache size after clear = %d, want 0", got)
	}

	clock.Advance(10 * time.Millisecond)
	out, err := tr.TrackAction(ctx, "user-1", "clicky", ActionData{})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if out.Progress.CurrentValue != 4 {
		t.Errorf("current_value = %d, want 4", out.Progress.CurrentValue)
	}
	if got := store.callCount("FindProgress"); got != 2 {
		t.Errorf("FindProgress calls after clear = %d, want 2", got)
	}
}

func TestTrackKeepsUsersApart(t *testing.T) {
	tr, _, clock := newTestTracker(t, clicksDef("clicky", 2, 1000, DifficultyEasy))
	ctx := context.Background()

	if _, err := tr.TrackAction(ctx, "user-1", "clicky", ActionData{}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(10 * time.Millisecond)
	out, err := tr.TrackAction(ctx, "user-2", "clicky", ActionData{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Completed || out.Progress.CurrentValue != 1 {
		t.Errorf("user-2 progress = %d completed=%v, want 1 false", out.Progress.CurrentValue, out.Completed)
	}
}

func TestTrackPropagatesStoreErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*memStore)
	}{
		{"create", func(s *memStore) { s.createErr = errStoreDown }},
		{"update", func(s *memStore) { s.updateErr = errStoreDown }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, store, _ := newTestTracker(t, clicksDef("clicky", 2, 1000, DifficultyEasy))
			tt.setup(store)
			_, err := tr.TrackAction(context.Background(), "user-1", "clicky", ActionData{})
			if !errors.Is(err, errStoreDown) {
				t.Errorf("err = %v, want %v", err, errStoreDown)
			}
		})
	}
}

func TestTrackUsesExistingProgress(t *testing.T) {
	def := clicksDef("clicky", 3, 1000, DifficultyEasy)
	tr, store, clock := newTestTracker(t, def)

	last := clock.Now()
	store.progress[progressKey{"user-1", def.ID}] = &Progress{
		ID:           "p-1",
		UserID:       "user-1",
		DefinitionID: def.ID,
		CurrentValue: 2,
		Attempts:     2,
		SessionData:  SessionData{LastActionAt: &last},
	}

	clock.Advance(100 * time.Millisecond)
	out, err := tr.TrackAction(context.Background(), "user-1", "clicky", ActionData{})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if !out.Completed || out.Progress.ID != "p-1" || out.Progress.Attempts != 3 {
		t.Errorf("outcome = %+v", out)
	}
	if got := store.callCount("CreateProgress"); got != 0 {
		t.Errorf("CreateProgress calls = %d, want 0", got)
	}
}

func TestTargetValue(t *testing.T) {
	tests := []struct {
		cfg  TriggerConfig
		want int64
	}{
		{ClicksConfig{RequiredClicks: 7}, 7},
		{SequenceConfig{Sequence: []string{"a", "b"}}, 2},
		{TimeBasedConfig{TimeWindow: 60000}, 60000},
		{ComboConfig{RequiredClicks: 4}, 4},
		{nil, 0},
	}
	for _, tt := range tests {
		if got := targetValue(tt.cfg); got != tt.want {
			t.Errorf("targetValue(%T) = %d, want %d", tt.cfg, got, tt.want)
		}
	}
}
