package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"sidekick/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// InvalidTransitionError reports an attempt to move an action outside the
// pending -> reserved -> completed/failed state machine. It is surfaced to
// callers rather than masked, so duplicate dispatch and duplicate completion
// stay visible.
type InvalidTransitionError struct {
	ID   string
	From string
	To   string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("action %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

type scanner interface {
	Scan(dest ...any) error
}

const actionColumns = `id,kind,target,action,value,status,device_id,result_json,created_at,updated_at`

func scanAction(s scanner) (domain.DeviceAction, error) {
	var a domain.DeviceAction
	var action, deviceID, result sql.NullString
	var value sql.NullInt64
	err := s.Scan(&a.ID, &a.Kind, &a.Target, &action, &value, &a.Status, &deviceID, &result, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if action.Valid {
		a.Action = &action.String
	}
	if value.Valid {
		v := int(value.Int64)
		a.Value = &v
	}
	if deviceID.Valid {
		a.DeviceID = &deviceID.String
	}
	if result.Valid {
		a.ResultJSON = &result.String
	}
	return a, nil
}

func (r Repo) InsertAction(ctx context.Context, tx *sql.Tx, a domain.DeviceAction) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO device_actions(`+actionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Kind, a.Target, nullableStringPtr(a.Action), nullableIntPtr(a.Value), a.Status,
		nullableStringPtr(a.DeviceID), nullableStringPtr(a.ResultJSON), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAction(ctx context.Context, id string) (domain.DeviceAction, error) {
	return scanAction(r.DB.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM device_actions WHERE id=?`, id))
}

func (r Repo) getActionTx(ctx context.Context, tx *sql.Tx, id string) (domain.DeviceAction, error) {
	return scanAction(tx.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM device_actions WHERE id=?`, id))
}

// ClaimNextAction atomically reserves the oldest pending action for deviceID.
// The select and the status flip are a single conditional UPDATE guarded on
// status='pending', so two devices polling at once can never both reserve the
// same row. Returns ErrNotFound when nothing is pending.
//
// A reserved action that is never completed stays reserved; there is no
// lease expiry or requeue.
func (r Repo) ClaimNextAction(ctx context.Context, tx *sql.Tx, deviceID, now string) (domain.DeviceAction, error) {
	row := tx.QueryRowContext(ctx, `UPDATE device_actions
SET status='reserved', device_id=?, updated_at=?
WHERE id=(
    SELECT id FROM device_actions WHERE status='pending' ORDER BY created_at ASC, id ASC LIMIT 1
) AND status='pending'
RETURNING `+actionColumns, deviceID, now)
	return scanAction(row)
}

// CompleteAction moves a non-terminal action to completed or failed. A repeat
// call with the identical terminal status and result is a no-op; any other
// repeat, or completing an action that was never enqueued here, is an
// InvalidTransitionError. Returns ErrNotFound for an unknown id.
func (r Repo) CompleteAction(ctx context.Context, tx *sql.Tx, id, status string, resultJSON *string, now string) (domain.DeviceAction, error) {
	res, err := tx.ExecContext(ctx, `UPDATE device_actions SET status=?, result_json=?, updated_at=?
WHERE id=? AND status IN ('pending','reserved')`,
		status, nullableStringPtr(resultJSON), now, id)
	if err != nil {
		return domain.DeviceAction{}, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return r.getActionTx(ctx, tx, id)
	}
	a, err := r.getActionTx(ctx, tx, id)
	if err != nil {
		return domain.DeviceAction{}, err
	}
	if a.Status == status && equalStringPtr(a.ResultJSON, resultJSON) {
		// Idempotent repeat of the same completion report.
		return a, nil
	}
	return domain.DeviceAction{}, InvalidTransitionError{ID: id, From: a.Status, To: status}
}

type ActionFilters struct {
	Status   string
	DeviceID string
	Limit    int
}

func (r Repo) ListActions(ctx context.Context, f ActionFilters) ([]domain.DeviceAction, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.DeviceID != "" {
		clauses = append(clauses, "device_id=?")
		args = append(args, f.DeviceID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + actionColumns + ` FROM device_actions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DeviceAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) InsertInteraction(ctx context.Context, tx *sql.Tx, it domain.Interaction) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO interactions(id,role,text,intent_json,created_at) VALUES (?,?,?,?,?)`,
		it.ID, it.Role, it.Text, nullableStringPtr(it.IntentJSON), it.CreatedAt)
	return err
}

func (r Repo) ListInteractions(ctx context.Context, limit int) ([]domain.Interaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,role,text,intent_json,created_at FROM interactions ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Interaction
	for rows.Next() {
		var it domain.Interaction
		var intentJSON sql.NullString
		if err := rows.Scan(&it.ID, &it.Role, &it.Text, &intentJSON, &it.CreatedAt); err != nil {
			return nil, err
		}
		if intentJSON.Valid {
			it.IntentJSON = &intentJSON.String
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) InsertEmotion(ctx context.Context, tx *sql.Tx, s domain.EmotionState) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO emotion_states(id,mood,arousal,notes,created_at) VALUES (?,?,?,?,?)`,
		s.ID, s.Mood, s.Arousal, nullableStringPtr(s.Notes), s.CreatedAt)
	return err
}

func (r Repo) LatestEmotion(ctx context.Context) (domain.EmotionState, error) {
	var s domain.EmotionState
	var notes sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,mood,arousal,notes,created_at FROM emotion_states ORDER BY created_at DESC, id DESC LIMIT 1`).
		Scan(&s.ID, &s.Mood, &s.Arousal, &notes, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if notes.Valid {
		s.Notes = &notes.String
	}
	return s, err
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events `+where+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// TableCounts returns per-table row counts for the diagnostics endpoint.
func (r Repo) TableCounts(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	for _, table := range []string{"device_actions", "interactions", "emotion_states", "events", "api_keys"} {
		var n int
		if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM `+table).Scan(&n); err != nil {
			return nil, err
		}
		counts[table] = n
	}
	return counts, nil
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
