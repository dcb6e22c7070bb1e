package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sidekick/internal/config"
	"sidekick/internal/domain"
	"sidekick/internal/events"
	"sidekick/internal/intent"
	"sidekick/internal/repo"
)

// Engine wires the classifier, the dispatch queue and the transcript stores
// together. The classifier is pure and needs no synchronization; all queue
// mutations go through single conditional statements in repo, so the engine
// holds no locks of its own.
type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Classifier *intent.Classifier
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     events.Writer{DB: db},
		Config:     cfg,
		Classifier: intent.New(cfg.Vocabulary),
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// Parse classifies text without recording anything.
func (e Engine) Parse(text string) domain.Intent {
	return e.Classifier.Classify(text)
}

// InteractionOptions are parameters for recording a transcript entry.
// Intent is optional; a user interaction without one is classified from its
// text before storing.
type InteractionOptions struct {
	Role    string
	Text    string
	Intent  *domain.Intent
	ActorID string
}

// RecordInteraction stores the transcript row and, when the intent is
// actionable, enqueues a pending device action in the same transaction.
// Returns the stored interaction and the enqueued action, if any.
func (e Engine) RecordInteraction(ctx context.Context, opts InteractionOptions) (domain.Interaction, *domain.DeviceAction, error) {
	if opts.Role != "user" && opts.Role != "assistant" {
		return domain.Interaction{}, nil, fmt.Errorf("invalid role %q", opts.Role)
	}
	if opts.Text == "" {
		return domain.Interaction{}, nil, errors.New("text is required")
	}
	in := opts.Intent
	if in == nil && opts.Role == "user" {
		classified := e.Classifier.Classify(opts.Text)
		in = &classified
	}
	now := e.nowString()
	it := domain.Interaction{
		ID:        uuid.NewString(),
		Role:      opts.Role,
		Text:      opts.Text,
		CreatedAt: now,
	}
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return domain.Interaction{}, nil, fmt.Errorf("marshal intent: %w", err)
		}
		s := string(b)
		it.IntentJSON = &s
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Interaction{}, nil, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertInteraction(ctx, tx, it); err != nil {
		return domain.Interaction{}, nil, err
	}
	if err := e.Events.Append(ctx, tx, "interaction.created", "interaction", it.ID, opts.ActorID, events.EventPayload{"role": it.Role}); err != nil {
		return domain.Interaction{}, nil, err
	}
	var action *domain.DeviceAction
	if in != nil {
		if action = intent.ToAction(*in); action != nil {
			action.CreatedAt = now
			action.UpdatedAt = now
			if err := e.Repo.InsertAction(ctx, tx, *action); err != nil {
				return domain.Interaction{}, nil, err
			}
			if err := e.Events.Append(ctx, tx, "action.enqueued", "action", action.ID, opts.ActorID, events.EventPayload{
				"kind":   action.Kind,
				"target": action.Target,
			}); err != nil {
				return domain.Interaction{}, nil, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Interaction{}, nil, err
	}
	return it, action, nil
}

func (e Engine) ListInteractions(ctx context.Context, limit int) ([]domain.Interaction, error) {
	return e.Repo.ListInteractions(ctx, limit)
}

// NextAction claims the oldest pending action for deviceID. Returns nil with
// no error when the queue is empty; that is the normal idle-poll outcome.
func (e Engine) NextAction(ctx context.Context, deviceID string) (*domain.DeviceAction, error) {
	if deviceID == "" {
		return nil, errors.New("device_id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	a, err := e.Repo.ClaimNextAction(ctx, tx, deviceID, e.nowString())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "action.reserved", "action", a.ID, deviceID, events.EventPayload{"kind": a.Kind, "target": a.Target}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &a, nil
}

// CompleteAction records a device's terminal report for an action. Status
// must be completed or failed. Duplicate reports with identical status and
// result are accepted; conflicting ones surface as an invalid transition.
func (e Engine) CompleteAction(ctx context.Context, id, status string, result map[string]any, actorID string) (domain.DeviceAction, error) {
	if status != "completed" && status != "failed" {
		return domain.DeviceAction{}, fmt.Errorf("invalid status %q", status)
	}
	if id == "" {
		return domain.DeviceAction{}, errors.New("action id is required")
	}
	var resultJSON *string
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return domain.DeviceAction{}, fmt.Errorf("marshal result: %w", err)
		}
		s := string(b)
		resultJSON = &s
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DeviceAction{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.CompleteAction(ctx, tx, id, status, resultJSON, e.nowString())
	if err != nil {
		return domain.DeviceAction{}, err
	}
	if err := e.Events.Append(ctx, tx, "action."+status, "action", a.ID, actorID, events.EventPayload{"kind": a.Kind, "target": a.Target}); err != nil {
		return domain.DeviceAction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DeviceAction{}, err
	}
	return a, nil
}

func (e Engine) GetAction(ctx context.Context, id string) (domain.DeviceAction, error) {
	return e.Repo.GetAction(ctx, id)
}

func (e Engine) ListActions(ctx context.Context, f repo.ActionFilters) ([]domain.DeviceAction, error) {
	return e.Repo.ListActions(ctx, f)
}

// SetEmotion stores a new emotion record. Arousal defaults to 5 and mood to
// neutral, mirroring the record returned when nothing is stored yet.
func (e Engine) SetEmotion(ctx context.Context, s domain.EmotionState, actorID string) (domain.EmotionState, error) {
	if s.Mood == "" {
		s.Mood = "neutral"
	}
	if s.Arousal == 0 {
		s.Arousal = 5
	}
	if s.Arousal < 1 || s.Arousal > 10 {
		return domain.EmotionState{}, fmt.Errorf("arousal must be between 1 and 10, got %d", s.Arousal)
	}
	s.ID = uuid.NewString()
	s.CreatedAt = e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.EmotionState{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertEmotion(ctx, tx, s); err != nil {
		return domain.EmotionState{}, err
	}
	if err := e.Events.Append(ctx, tx, "emotion.recorded", "emotion", s.ID, actorID, events.EventPayload{"mood": s.Mood, "arousal": s.Arousal}); err != nil {
		return domain.EmotionState{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EmotionState{}, err
	}
	return s, nil
}

// LatestEmotion returns the most recent emotion record, or the neutral
// default when none exists.
func (e Engine) LatestEmotion(ctx context.Context) (domain.EmotionState, error) {
	s, err := e.Repo.LatestEmotion(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.EmotionState{Mood: "neutral", Arousal: 5}, nil
	}
	return s, err
}

// CreateAPIKey mints a raw device key, stores its hash, and returns both.
// The raw key is only available here; it is never persisted.
func (e Engine) CreateAPIKey(ctx context.Context, deviceID, name string) (domain.APIKey, string, error) {
	if deviceID == "" {
		return domain.APIKey{}, "", errors.New("device_id is required")
	}
	raw := uuid.NewString() + uuid.NewString()
	key := domain.APIKey{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}
