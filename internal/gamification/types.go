package gamification

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// TriggerType names the matching algorithm a definition uses.
type TriggerType string

const (
	TriggerClicks    TriggerType = "clicks"
	TriggerSequence  TriggerType = "sequence"
	TriggerTimeBased TriggerType = "time_based"
	TriggerCombo     TriggerType = "combo"
)

// Difficulty of an easter egg. Drives the notification animation.
type Difficulty string

const (
	DifficultyEasy      Difficulty = "easy"
	DifficultyMedium    Difficulty = "medium"
	DifficultyHard      Difficulty = "hard"
	DifficultyLegendary Difficulty = "legendary"
)

// TriggerConfig is implemented only by the four config variants below.
// The tracker switches over them exhaustively.
type TriggerConfig interface {
	Type() TriggerType
	sealed()
}

// ClicksConfig counts repeated actions, optionally resetting the streak
// when the gap between two actions exceeds TimeWindow.
type ClicksConfig struct {
	RequiredClicks int  `json:"requiredClicks" validate:"gt=0"`
	TimeWindow     int  `json:"timeWindow" validate:"gte=0"`
	ResetOnDelay   bool `json:"resetOnDelay"`
}

// SequenceConfig matches the most recent keys against an ordered list.
type SequenceConfig struct {
	Sequence   []string `json:"sequence" validate:"min=1,dive,required"`
	TimeWindow int      `json:"timeWindow" validate:"gt=0"`
}

// TimeBasedConfig accumulates reported durations. TimeWindow is the
// required total in milliseconds.
type TimeBasedConfig struct {
	TimeWindow int `json:"timeWindow" validate:"gt=0"`
}

// ComboConfig counts actions inside a sliding window, regardless of order.
type ComboConfig struct {
	TimeWindow     int `json:"timeWindow" validate:"gt=0"`
	RequiredClicks int `json:"requiredClicks" validate:"gt=0"`
}

func (ClicksConfig) Type() TriggerType    { return TriggerClicks }
func (SequenceConfig) Type() TriggerType  { return TriggerSequence }
func (TimeBasedConfig) Type() TriggerType { return TriggerTimeBased }
func (ComboConfig) Type() TriggerType     { return TriggerCombo }

func (ClicksConfig) sealed()    {}
func (SequenceConfig) sealed()  {}
func (TimeBasedConfig) sealed() {}
func (ComboConfig) sealed()     {}

func (c ClicksConfig) Window() time.Duration    { return ms(c.TimeWindow) }
func (c SequenceConfig) Window() time.Duration  { return ms(c.TimeWindow) }
func (c TimeBasedConfig) Window() time.Duration { return ms(c.TimeWindow) }
func (c ComboConfig) Window() time.Duration     { return ms(c.TimeWindow) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

var validate = validator.New()

// DecodeTriggerConfig builds the config variant for t from its JSON form
// and validates it.
func DecodeTriggerConfig(t TriggerType, raw []byte) (TriggerConfig, error) {
	var cfg TriggerConfig
	var err error
	switch t {
	case TriggerClicks:
		var c ClicksConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case TriggerSequence:
		var c SequenceConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case TriggerTimeBased:
		var c TimeBasedConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	case TriggerCombo:
		var c ComboConfig
		err = json.Unmarshal(raw, &c)
		cfg = c
	default:
		return nil, fmt.Errorf("unknown trigger type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s trigger config: %w", t, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid %s trigger config: %w", t, err)
	}
	return cfg, nil
}

// Definition is a declarative easter-egg rule. The engine only reads it.
type Definition struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	DisplayName string        `json:"display_name"`
	Description string        `json:"description,omitempty"`
	Icon        string        `json:"icon,omitempty"`
	TriggerType TriggerType   `json:"trigger_type"`
	Trigger     TriggerConfig `json:"-"`
	Points      int           `json:"points"`
	Category    string        `json:"category"`
	Difficulty  Difficulty    `json:"difficulty"`
	IsActive    bool          `json:"is_active"`
}

// KeyPress is one entry of the sequence history.
type KeyPress struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
}

// ComboAction is one entry of the combo window.
type ComboAction struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionData holds whatever history the matching algorithm needs between
// calls. It is persisted as JSON.
type SessionData struct {
	LastActionAt  *time.Time    `json:"last_action_at,omitempty"`
	ActionHistory []KeyPress    `json:"action_history,omitempty"`
	ComboActions  []ComboAction `json:"combo_actions,omitempty"`
}

// Progress is the per (user, definition) tracking state.
type Progress struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	DefinitionID string      `json:"definition_id"`
	CurrentValue int64       `json:"current_value"`
	SessionData  SessionData `json:"session_data"`
	IsCompleted  bool        `json:"is_completed"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	Attempts     int         `json:"attempts"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Achievement is the permanent record of a satisfied trigger.
type Achievement struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	DefinitionID string         `json:"definition_id"`
	DisplayName  string         `json:"display_name"`
	Category     string         `json:"category"`
	Points       int            `json:"points"`
	UnlockedAt   time.Time      `json:"unlocked_at"`
	IsNew        bool           `json:"is_new"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	NotifiedAt   *time.Time     `json:"notified_at,omitempty"`
}

// Difficulty returns the difficulty recorded in the metadata at unlock time.
func (a *Achievement) Difficulty() Difficulty {
	if d, ok := a.Metadata["difficulty"].(string); ok {
		return Difficulty(d)
	}
	return ""
}

type NotificationType string

const (
	NotificationAchievement NotificationType = "achievement"
	NotificationInfo        NotificationType = "info"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is a user-facing side effect. The engine never reads it back.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipient_id"`
	SenderID    string           `json:"sender_id"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Content     string           `json:"content"`
	Icon        string           `json:"icon"`
	Animation   string           `json:"animation"`
	Priority    Priority         `json:"priority"`
	Read        bool             `json:"read"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// ActionData is what a caller reports alongside a tracked action.
// Duration is in milliseconds and only used by time_based triggers.
type ActionData struct {
	Key      string         `json:"key,omitempty"`
	Action   string         `json:"action,omitempty"`
	Duration int64          `json:"duration,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

func (a ActionData) metadata() map[string]any {
	m := make(map[string]any, len(a.Extra)+3)
	for k, v := range a.Extra {
		m[k] = v
	}
	if a.Key != "" {
		m["key"] = a.Key
	}
	if a.Action != "" {
		m["action"] = a.Action
	}
	if a.Duration != 0 {
		m["duration"] = a.Duration
	}
	return m
}

// User is the signed-in principal.
type User struct {
	ID string
}

// UserSource resolves the current user, or nil when nobody is signed in.
type UserSource interface {
	CurrentUser() *User
}

// StaticUser always reports the same user. An empty id means signed out.
type StaticUser string

func (s StaticUser) CurrentUser() *User {
	if s == "" {
		return nil
	}
	return &User{ID: string(s)}
}

// TrackingResult is returned by Engine.TrackEasterEggAction on every path.
type TrackingResult struct {
	Success     bool         `json:"success"`
	Completed   bool         `json:"completed"`
	Progress    *Progress    `json:"progress,omitempty"`
	Achievement *Achievement `json:"achievement,omitempty"`
	Message     string       `json:"message,omitempty"`
	Error       string       `json:"error,omitempty"`
}
