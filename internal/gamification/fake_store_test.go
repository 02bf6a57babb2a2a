package gamification

import (
	"context"
	"errors"
	"sync"
	"time"
)

// memStore is an in-memory Store that counts calls and enforces the same
// uniqueness rules as the Postgres schema.
type memStore struct {
	mu            sync.Mutex
	definitions   []*Definition
	progress      map[progressKey]*Progress
	achievements  []*Achievement
	notifications []*Notification
	calls         map[string]int

	listErr        error
	createErr      error
	updateErr      error
	achievementErr error
	notifyErr      error
	markErr        error
	skipLookup     bool // FindAchievement misses once, to force create conflicts
}

func newMemStore(defs ...*Definition) *memStore {
	return &memStore{
		definitions: defs,
		progress:    make(map[progressKey]*Progress),
		calls:       make(map[string]int),
	}
}

func (s *memStore) count(name string) {
	s.calls[name]++
}

func (s *memStore) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *memStore) callCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *memStore) ListActiveDefinitions(ctx context.Context) ([]*Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("ListActiveDefinitions")
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*Definition
	for _, d := range s.definitions {
		if d.IsActive {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memStore) FindProgress(ctx context.Context, userID, definitionID string) (*Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("FindProgress")
	p, ok := s.progress[progressKey{userID, definitionID}]
	if !ok {
		return nil, ErrNotFound
	}
	return p.clone(), nil
}

func (s *memStore) CreateProgress(ctx context.Context, p *Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("CreateProgress")
	if s.createErr != nil {
		return s.createErr
	}
	key := progressKey{p.UserID, p.DefinitionID}
	if _, ok := s.progress[key]; ok {
		return ErrDuplicate
	}
	s.progress[key] = p.clone()
	return nil
}

func (s *memStore) UpdateProgress(ctx context.Context, p *Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("UpdateProgress")
	if s.updateErr != nil {
		return s.updateErr
	}
	key := progressKey{p.UserID, p.DefinitionID}
	if _, ok := s.progress[key]; !ok {
		return ErrNotFound
	}
	s.progress[key] = p.clone()
	return nil
}

func (s *memStore) FindAchievement(ctx context.Context, userID, definitionID string) (*Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("FindAchievement")
	if s.skipLookup {
		s.skipLookup = false
		return nil, ErrNotFound
	}
	for _, a := range s.achievements {
		if a.UserID == userID && a.DefinitionID == definitionID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) CreateAchievement(ctx context.Context, a *Achievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("CreateAchievement")
	if s.achievementErr != nil {
		return s.achievementErr
	}
	for _, existing := range s.achievements {
		if existing.UserID == a.UserID && existing.DefinitionID == a.DefinitionID {
			return ErrDuplicate
		}
	}
	cp := *a
	s.achievements = append(s.achievements, &cp)
	return nil
}

func (s *memStore) ListAchievements(ctx context.Context, q AchievementQuery) ([]*Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("ListAchievements")
	var out []*Achievement
	for _, a := range s.achievements {
		if a.UserID != q.UserID {
			continue
		}
		if q.OnlyNew && !a.IsNew {
			continue
		}
		if q.Category != "" && a.Category != q.Category {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	SortAchievements(out, q.Sort)
	return out, nil
}

func (s *memStore) MarkAchievementSeen(ctx context.Context, userID, achievementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("MarkAchievementSeen")
	for _, a := range s.achievements {
		if a.ID == achievementID && a.UserID == userID {
			a.IsNew = false
			return nil
		}
	}
	return ErrNotFound
}

func (s *memStore) MarkAllAchievementsSeen(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("MarkAllAchievementsSeen")
	var n int64
	for _, a := range s.achievements {
		if a.UserID == userID && a.IsNew {
			a.IsNew = false
			n++
		}
	}
	return n, nil
}

func (s *memStore) MarkAchievementNotified(ctx context.Context, achievementID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("MarkAchievementNotified")
	if s.markErr != nil {
		return s.markErr
	}
	for _, a := range s.achievements {
		if a.ID == achievementID {
			a.NotifiedAt = &at
			return nil
		}
	}
	return ErrNotFound
}

func (s *memStore) CreateNotification(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count("CreateNotification")
	if s.notifyErr != nil {
		return s.notifyErr
	}
	for _, existing := range s.notifications {
		if existing.ID == n.ID {
			return ErrDuplicate
		}
	}
	cp := *n
	s.notifications = append(s.notifications, &cp)
	return nil
}

func (s *memStore) achievementsFor(userID, definitionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.achievements {
		if a.UserID == userID && a.DefinitionID == definitionID {
			n++
		}
	}
	return n
}

func (s *memStore) notificationsOfType(t NotificationType) []*Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Notification
	for _, n := range s.notifications {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []*Notification
	err       error
}

func (p *recordingPublisher) PublishNotification(ctx context.Context, n *Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, n)
	return nil
}

var errStoreDown = errors.New("store unavailable")

func clicksDef(name string, required, windowMs int, difficulty Difficulty) *Definition {
	return &Definition{
		ID:          "def-" + name,
		Name:        name,
		DisplayName: name,
		Icon:        "🖱️",
		TriggerType: TriggerClicks,
		Trigger:     ClicksConfig{RequiredClicks: required, TimeWindow: windowMs, ResetOnDelay: true},
		Points:      10,
		Category:    "ui",
		Difficulty:  difficulty,
		IsActive:    true,
	}
}

func sequenceDef(name string, seq []string, windowMs int) *Definition {
	return &Definition{
		ID:          "def-" + name,
		Name:        name,
		DisplayName: name,
		TriggerType: TriggerSequence,
		Trigger:     SequenceConfig{Sequence: seq, TimeWindow: windowMs},
		Points:      25,
		Category:    "keyboard",
		Difficulty:  DifficultyHard,
		IsActive:    true,
	}
}
