// Package pgstore implements gamification.Store on PostgreSQL.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sbenjam1n/eggsync/internal/gamification"
)

// Store reads and writes the easter egg tables.
type Store struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

var _ gamification.Store = (*Store)(nil)

// New creates a Store on an open pool. logger may be nil.
func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

const definitionColumns = `id, name, display_name, description, icon, trigger_type,
	trigger_config, points, category, difficulty, is_active`

// definitionRows is the part of pgx.Rows that collectDefinitions reads.
type definitionRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// collectDefinitions scans every row. A row whose trigger config does not
// decode is logged and skipped so the rest of the catalogue still loads.
func (s *Store) collectDefinitions(rows definitionRows) ([]*gamification.Definition, error) {
	var defs []*gamification.Definition
	for rows.Next() {
		var d gamification.Definition
		var raw []byte
		err := rows.Scan(&d.ID, &d.Name, &d.DisplayName, &d.Description, &d.Icon, &d.TriggerType,
			&raw, &d.Points, &d.Category, &d.Difficulty, &d.IsActive)
		if err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		cfg, err := gamification.DecodeTriggerConfig(d.TriggerType, raw)
		if err != nil {
			s.logger.Warn("skipping invalid easter egg definition", "id", d.ID, "name", d.Name, "error", err)
			continue
		}
		d.Trigger = cfg
		defs = append(defs, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	return defs, nil
}

func (s *Store) ListActiveDefinitions(ctx context.Context) ([]*gamification.Definition, error) {
	return s.listDefinitions(ctx, true)
}

// ListDefinitions returns every definition, active or not, sorted by name.
func (s *Store) ListDefinitions(ctx context.Context) ([]*gamification.Definition, error) {
	return s.listDefinitions(ctx, false)
}

func (s *Store) listDefinitions(ctx context.Context, activeOnly bool) ([]*gamification.Definition, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+definitionColumns+`
		FROM easter_egg_definitions
		WHERE is_active OR NOT $1
		ORDER BY name
	`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("query definitions: %w", err)
	}
	defer rows.Close()

	return s.collectDefinitions(rows)
}

// UpsertDefinition inserts or replaces a definition by name and returns its id.
func (s *Store) UpsertDefinition(ctx context.Context, d *gamification.Definition) (string, error) {
	raw, err := json.Marshal(d.Trigger)
	if err != nil {
		return "", fmt.Errorf("marshal trigger config: %w", err)
	}
	var id string
	err = s.db.QueryRow(ctx, `
		INSERT INTO easter_egg_definitions
			(name, display_name, description, icon, trigger_type, trigger_config,
			 points, category, difficulty, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (name) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description,
			icon = EXCLUDED.icon,
			trigger_type = EXCLUDED.trigger_type,
			trigger_config = EXCLUDED.trigger_config,
			points = EXCLUDED.points,
			category = EXCLUDED.category,
			difficulty = EXCLUDED.difficulty,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id
	`, d.Name, d.DisplayName, d.Description, d.Icon, string(d.TriggerType), raw,
		d.Points, d.Category, string(d.Difficulty), d.IsActive).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert definition %s: %w", d.Name, err)
	}
	return id, nil
}

func (s *Store) FindProgress(ctx context.Context, userID, definitionID string) (*gamification.Progress, error) {
	var p gamification.Progress
	var session []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, definition_id, current_value, session_data,
		       is_completed, completed_at, attempts, created_at, updated_at
		FROM easter_egg_progress
		WHERE user_id = $1 AND definition_id = $2
	`, userID, definitionID).Scan(
		&p.ID, &p.UserID, &p.DefinitionID, &p.CurrentValue, &session,
		&p.IsCompleted, &p.CompletedAt, &p.Attempts, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gamification.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch progress: %w", err)
	}
	if err := json.Unmarshal(session, &p.SessionData); err != nil {
		return nil, fmt.Errorf("unmarshal session_data for progress %s: %w", p.ID, err)
	}
	return &p, nil
}

func (s *Store) CreateProgress(ctx context.Context, p *gamification.Progress) error {
	session, err := json.Marshal(p.SessionData)
	if err != nil {
		return fmt.Errorf("marshal session_data: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO easter_egg_progress
			(id, user_id, definition_id, current_value, session_data, is_completed, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, definition_id) DO NOTHING
	`, p.ID, p.UserID, p.DefinitionID, p.CurrentValue, session, p.IsCompleted, p.Attempts, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gamification.ErrDuplicate
	}
	return nil
}

func (s *Store) UpdateProgress(ctx context.Context, p *gamification.Progress) error {
	session, err := json.Marshal(p.SessionData)
	if err != nil {
		return fmt.Errorf("marshal session_data: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE easter_egg_progress
		SET current_value = $1, session_data = $2, is_completed = $3,
		    completed_at = $4, attempts = $5, updated_at = $6
		WHERE id = $7
	`, p.CurrentValue, session, p.IsCompleted, p.CompletedAt, p.Attempts, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update progress %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return gamification.ErrNotFound
	}
	return nil
}

const achievementColumns = `id, user_id, definition_id, display_name, category, points, unlocked_at, is_new, metadata, notified_at`

func scanAchievement(row pgx.Row) (*gamification.Achievement, error) {
	var a gamification.Achievement
	var meta []byte
	if err := row.Scan(&a.ID, &a.UserID, &a.DefinitionID, &a.DisplayName, &a.Category,
		&a.Points, &a.UnlockedAt, &a.IsNew, &meta, &a.NotifiedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &a.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata for achievement %s: %w", a.ID, err)
	}
	return &a, nil
}

func (s *Store) FindAchievement(ctx context.Context, userID, definitionID string) (*gamification.Achievement, error) {
	a, err := scanAchievement(s.db.QueryRow(ctx, `
		SELECT `+achievementColumns+`
		FROM user_achievements
		WHERE user_id = $1 AND definition_id = $2
	`, userID, definitionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, gamification.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch achievement: %w", err)
	}
	return a, nil
}

// CreateAchievement inserts a, or reports ErrDuplicate when the user already
// holds an achievement for the definition.
func (s *Store) CreateAchievement(ctx context.Context, a *gamification.Achievement) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO user_achievements
			(id, user_id, definition_id, display_name, category, points, unlocked_at, is_new, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, definition_id) DO NOTHING
	`, a.ID, a.UserID, a.DefinitionID, a.DisplayName, a.Category, a.Points, a.UnlockedAt, a.IsNew, meta)
	if err != nil {
		return fmt.Errorf("insert achievement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gamification.ErrDuplicate
	}
	return nil
}

// achievementQuery builds the listing SQL for q.
func achievementQuery(q gamification.AchievementQuery) (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT " + achievementColumns + " FROM user_achievements WHERE user_id = $1")
	args := []any{q.UserID}
	if q.OnlyNew {
		sb.WriteString(" AND is_new")
	}
	if q.Category != "" {
		args = append(args, q.Category)
		fmt.Fprintf(&sb, " AND category = $%d", len(args))
	}
	switch q.Sort {
	case gamification.SortPoints:
		sb.WriteString(" ORDER BY points DESC, unlocked_at DESC")
	case gamification.SortName:
		sb.WriteString(" ORDER BY display_name, unlocked_at DESC")
	default:
		sb.WriteString(" ORDER BY unlocked_at DESC")
	}
	return sb.String(), args
}

func (s *Store) ListAchievements(ctx context.Context, q gamification.AchievementQuery) ([]*gamification.Achievement, error) {
	sql, args := achievementQuery(q)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query achievements: %w", err)
	}
	defer rows.Close()

	var out []*gamification.Achievement
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) MarkAchievementSeen(ctx context.Context, userID, achievementID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE user_achievements SET is_new = FALSE
		WHERE id = $1 AND user_id = $2
	`, achievementID, userID)
	if err != nil {
		return fmt.Errorf("mark achievement %s seen: %w", achievementID, err)
	}
	if tag.RowsAffected() == 0 {
		return gamification.ErrNotFound
	}
	return nil
}

// MarkAchievementNotified records that the unlock notification is stored.
func (s *Store) MarkAchievementNotified(ctx context.Context, achievementID string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE user_achievements SET notified_at = $1
		WHERE id = $2 AND notified_at IS NULL
	`, at, achievementID)
	if err != nil {
		return fmt.Errorf("mark achievement %s notified: %w", achievementID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_achievements WHERE id = $1)`, achievementID).Scan(&exists); err != nil {
			return fmt.Errorf("check achievement %s: %w", achievementID, err)
		}
		if !exists {
			return gamification.ErrNotFound
		}
	}
	return nil
}

func (s *Store) MarkAllAchievementsSeen(ctx context.Context, userID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE user_achievements SET is_new = FALSE
		WHERE user_id = $1 AND is_new
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark achievements seen: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) CreateNotification(ctx context.Context, n *gamification.Notification) error {
	var meta []byte
	if n.Metadata != nil {
		var err error
		if meta, err = json.Marshal(n.Metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO notifications
			(id, recipient_id, sender_id, type, title, content, icon, animation, priority, read, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`, n.ID, n.RecipientID, n.SenderID, string(n.Type), n.Title, n.Content, n.Icon,
		n.Animation, string(n.Priority), n.Read, meta, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return gamification.ErrDuplicate
	}
	return nil
}
