package gamification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
)

var animations = map[Difficulty]string{
	DifficultyEasy:      "bounce",
	DifficultyMedium:    "shake",
	DifficultyHard:      "glow",
	DifficultyLegendary: "confetti",
}

// Animation returns the unlock animation for d, bounce when d is unknown.
func Animation(d Difficulty) string {
	if a, ok := animations[d]; ok {
		return a
	}
	return "bounce"
}

// Progress nudges are only sent at these percentages.
var milestones = map[int]bool{50: true, 75: true, 90: true}

// NotifyOptions override the defaults of a generic notification.
type NotifyOptions struct {
	Icon      string
	Animation string
	Priority  Priority
	Metadata  map[string]any
}

// Dispatcher turns unlocks and milestones into notification records.
type Dispatcher struct {
	store     NotificationStore
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. publisher may be nil.
func NewDispatcher(store NotificationStore, publisher Publisher, logger *slog.Logger, now func() time.Time) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{store: store, publisher: publisher, logger: logger, now: now}
}

// AchievementNotification announces an unlocked achievement to its owner.
// The notification id is derived from the achievement, so repeating the call
// after a partial failure stores and publishes it at most once.
func (d *Dispatcher) AchievementNotification(ctx context.Context, userID string, a *Achievement) (*Notification, error) {
	icon, _ := a.Metadata["icon"].(string)
	if icon == "" {
		icon = "🏆"
	}
	n := &Notification{
		ID:          achievementNotificationID(a.ID),
		RecipientID: userID,
		SenderID:    userID,
		Type:        NotificationAchievement,
		Title:       "Achievement unlocked!",
		Content:     fmt.Sprintf("You discovered %q and earned %d points.", a.DisplayName, a.Points),
		Icon:        icon,
		Animation:   Animation(a.Difficulty()),
		Priority:    PriorityHigh,
		Metadata: map[string]any{
			"achievement_id": a.ID,
			"definition_id":  a.DefinitionID,
			"points":         a.Points,
		},
	}
	return n, d.send(ctx, n)
}

// ProgressNotification sends an "almost there" nudge when current/required
// rounds to 50, 75 or 90 percent. Any other value sends nothing and
// returns a nil notification.
func (d *Dispatcher) ProgressNotification(ctx context.Context, userID, name string, current, required int64) (*Notification, error) {
	if required <= 0 {
		return nil, nil
	}
	pct := int(math.Round(100 * float64(current) / float64(required)))
	if !milestones[pct] {
		return nil, nil
	}
	n := &Notification{
		RecipientID: userID,
		SenderID:    userID,
		Type:        NotificationInfo,
		Title:       "Almost there!",
		Content:     fmt.Sprintf("You are %d%% of the way to a secret achievement.", pct),
		Icon:        "🎯",
		Animation:   "bounce",
		Priority:    PriorityLow,
		Metadata: map[string]any{
			"easter_egg": name,
			"percentage": pct,
		},
	}
	return n, d.send(ctx, n)
}

// GamificationNotification sends an ad-hoc notification.
func (d *Dispatcher) GamificationNotification(ctx context.Context, userID, title, content string, opts NotifyOptions) (*Notification, error) {
	n := &Notification{
		RecipientID: userID,
		SenderID:    userID,
		Type:        NotificationInfo,
		Title:       title,
		Content:     content,
		Icon:        opts.Icon,
		Animation:   opts.Animation,
		Priority:    opts.Priority,
		Metadata:    opts.Metadata,
	}
	if n.Icon == "" {
		n.Icon = "🎮"
	}
	if n.Animation == "" {
		n.Animation = "bounce"
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	return n, d.send(ctx, n)
}

func achievementNotificationID(achievementID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("achievement:"+achievementID)).String()
}

// send stores n, then publishes it. Publishing is best effort once the
// record exists. A notification whose id is already stored was sent before
// and is not published again.
func (d *Dispatcher) send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = d.now()
	err := d.store.CreateNotification(ctx, n)
	if errors.Is(err, ErrDuplicate) {
		d.logger.Info("notification already stored", "id", n.ID, "recipient", n.RecipientID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	if d.publisher == nil {
		return nil
	}
	if err := d.publisher.PublishNotification(ctx, n); err != nil {
		d.logger.Error("publish notification", "id", n.ID, "recipient", n.RecipientID, "error", err)
	}
	return nil
}
