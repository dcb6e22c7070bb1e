package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"sidekick/internal/config"
	"sidekick/internal/db"
	"sidekick/internal/domain"
	"sidekick/internal/migrate"
	"sidekick/internal/repo"
)

func newTestEngine(t *testing.T) Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(conn, config.Default())
}

// fakeClock yields a strictly increasing timestamp per call so queue ordering
// is deterministic even within one wall-clock second.
func fakeClock() func() time.Time {
	var mu sync.Mutex
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		base = base.Add(time.Second)
		return base
	}
}

func TestRecordInteractionEnqueuesAction(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	it, action, err := e.RecordInteraction(ctx, InteractionOptions{Role: "user", Text: "turn on wifi", ActorID: "phone-1"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if it.ID == "" || it.IntentJSON == nil {
		t.Fatalf("expected stored interaction with intent, got %+v", it)
	}
	if !strings.Contains(*it.IntentJSON, `"toggle_setting"`) {
		t.Fatalf("intent json = %s", *it.IntentJSON)
	}
	if action == nil {
		t.Fatal("expected an enqueued action")
	}
	if action.Kind != "toggle" || action.Target != "wifi" || action.Status != "pending" {
		t.Fatalf("unexpected action %+v", action)
	}

	stored, err := e.GetAction(ctx, action.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if stored.Status != "pending" {
		t.Fatalf("status = %s, want pending", stored.Status)
	}
}

func TestRecordInteractionUnknownTextEnqueuesNothing(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	it, action, err := e.RecordInteraction(ctx, InteractionOptions{Role: "user", Text: "do a barrel roll"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if action != nil {
		t.Fatalf("expected no action for unknown intent, got %+v", action)
	}
	if it.IntentJSON == nil || !strings.Contains(*it.IntentJSON, `"unknown"`) {
		t.Fatalf("expected stored unknown intent, got %v", it.IntentJSON)
	}

	actions, err := e.ListActions(ctx, repo.ActionFilters{})
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 0 {
		t.Fatalf("queue should be empty, got %d actions", len(actions))
	}
}

func TestRecordInteractionAssistantNotClassified(t *testing.T) {
	e := newTestEngine(t)

	it, action, err := e.RecordInteraction(context.Background(), InteractionOptions{Role: "assistant", Text: "turning on wifi now"})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if it.IntentJSON != nil {
		t.Fatalf("assistant turns are not classified, got intent %s", *it.IntentJSON)
	}
	if action != nil {
		t.Fatalf("assistant turns never enqueue actions, got %+v", action)
	}
}

func TestRecordInteractionValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, _, err := e.RecordInteraction(ctx, InteractionOptions{Role: "robot", Text: "hi"}); err == nil {
		t.Fatal("expected invalid role error")
	}
	if _, _, err := e.RecordInteraction(ctx, InteractionOptions{Role: "user"}); err == nil {
		t.Fatal("expected missing text error")
	}
}

func TestNextActionEmptyQueue(t *testing.T) {
	e := newTestEngine(t)

	a, err := e.NextAction(context.Background(), "phone-1")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if a != nil {
		t.Fatalf("empty queue should yield nil, got %+v", a)
	}
}

func TestNextActionClaimsOldestFirst(t *testing.T) {
	e := newTestEngine(t)
	e.Now = fakeClock()
	ctx := context.Background()

	var ids []string
	for _, text := range []string{"open camera", "turn on bluetooth", "increase volume to 50%"} {
		_, action, err := e.RecordInteraction(ctx, InteractionOptions{Role: "user", Text: text})
		if err != nil {
			t.Fatalf("record %q: %v", text, err)
		}
		if action == nil {
			t.Fatalf("expected action for %q", text)
		}
		ids = append(ids, action.ID)
	}

	for i, want := range ids {
		a, err := e.NextAction(ctx, "phone-1")
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if a == nil || a.ID != want {
			t.Fatalf("claim %d: got %+v, want id %s", i, a, want)
		}
		if a.Status != "reserved" {
			t.Fatalf("claim %d: status = %s, want reserved", i, a.Status)
		}
		if a.DeviceID == nil || *a.DeviceID != "phone-1" {
			t.Fatalf("claim %d: device = %v", i, a.DeviceID)
		}
	}

	a, err := e.NextAction(ctx, "phone-1")
	if err != nil || a != nil {
		t.Fatalf("drained queue should yield nil, got %+v, %v", a, err)
	}
}

func TestCompleteActionLifecycle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, enqueued, err := e.RecordInteraction(ctx, InteractionOptions{Role: "user", Text: "open camera"})
	if err != nil || enqueued == nil {
		t.Fatalf("record: %v action=%v", err, enqueued)
	}
	claimed, err := e.NextAction(ctx, "phone-1")
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v action=%v", err, claimed)
	}

	done, err := e.CompleteAction(ctx, claimed.ID, "completed", map[string]any{"ok": true}, "phone-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != "completed" || !done.Terminal() {
		t.Fatalf("status = %s", done.Status)
	}
	if done.ResultJSON == nil || !strings.Contains(*done.ResultJSON, `"ok":true`) {
		t.Fatalf("result = %v", done.ResultJSON)
	}
}

func TestCompleteActionIdempotentRepeat(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, enqueued, _ := e.RecordInteraction(ctx, InteractionOptions{Role: "user", Text: "open camera"})
	if _, err := e.CompleteAction(ctx, enqueued.ID, "failed", map[string]any{"reason": "timeout"}, "phone-1"); err != nil {
		t.Fatalf("first complete: %v", err)
	}

	// Same status and result again is a no-op.
	a, err := e.CompleteAction(ctx, enqueued.ID, "failed", map[string]any{"reason": "timeout"}, "phone-1")
	if err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if a.Status != "failed" {
		t.Fatalf("status = %s", a.Status)
	}

	// Conflicting terminal status is an invalid transition.
	_, err = e.CompleteAction(ctx, enqueued.ID, "completed", nil, "phone-1")
	var ite repo.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.From != "failed" || ite.To != "completed" {
		t.Fatalf("transition %s -> %s", ite.From, ite.To)
	}
}

func TestCompleteActionUnknownID(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.CompleteAction(context.Background(), "no-such-action", "completed", nil, "phone-1")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompleteActionValidation(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.CompleteAction(context.Background(), "x", "reserved", nil, "d"); err == nil {
		t.Fatal("expected invalid status error")
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, enqueued, err := e.RecordInteraction(ctx, InteractionOptions{Role: "user", Text: "turn on wifi"})
	if err != nil || enqueued == nil {
		t.Fatalf("record: %v action=%v", err, enqueued)
	}

	const devices = 8
	results := make([]*string, devices)
	errs := make([]error, devices)
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := e.NextAction(ctx, "device-"+string(rune('a'+i)))
			errs[i] = err
			if a != nil {
				results[i] = &a.ID
			}
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < devices; i++ {
		if errs[i] != nil {
			t.Fatalf("claim %d: %v", i, errs[i])
		}
		if results[i] != nil {
			winners++
			if *results[i] != enqueued.ID {
				t.Fatalf("claim %d got wrong action %s", i, *results[i])
			}
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestEmotionDefaultsAndLatest(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	s, err := e.LatestEmotion(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if s.Mood != "neutral" || s.Arousal != 5 {
		t.Fatalf("default = %+v", s)
	}

	if _, err := e.SetEmotion(ctx, domain.EmotionState{Mood: "happy", Arousal: 8}, "phone-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	s, err = e.LatestEmotion(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if s.Mood != "happy" || s.Arousal != 8 {
		t.Fatalf("latest = %+v", s)
	}

	if _, err := e.SetEmotion(ctx, domain.EmotionState{Mood: "stressed", Arousal: 11}, "phone-1"); err == nil {
		t.Fatal("expected arousal range error")
	}
}

func TestEventTrail(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, enqueued, _ := e.RecordInteraction(ctx, InteractionOptions{Role: "user", Text: "open camera", ActorID: "phone-1"})
	claimed, _ := e.NextAction(ctx, "phone-1")
	if claimed == nil {
		t.Fatal("expected claim")
	}
	if _, err := e.CompleteAction(ctx, enqueued.ID, "completed", nil, "phone-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	events, err := e.Repo.LatestEvents(ctx, 10, "", "action", enqueued.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var types []string
	for _, evt := range events {
		types = append(types, evt.Type)
	}
	want := []string{"action.completed", "action.reserved", "action.enqueued"}
	if len(types) != len(want) {
		t.Fatalf("event types = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}
}

func TestCreateAPIKey(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	key, raw, err := e.CreateAPIKey(ctx, "phone-1", "test key")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if raw == "" || key.KeyHash == raw {
		t.Fatal("raw key must be returned and never stored verbatim")
	}
	got, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.DeviceID != "phone-1" {
		t.Fatalf("device = %s", got.DeviceID)
	}
}
