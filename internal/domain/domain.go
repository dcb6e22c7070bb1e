package domain

// Intent is the structured result of classifying one free-form command.
// Type "unknown" is a valid outcome, not an error; when Type is anything
// else, Target and Action are set.
type Intent struct {
	Type    string  `json:"type" enum:"open_app,toggle_setting,adjust_setting,unknown"`
	Target  *string `json:"target,omitempty"`
	Action  *string `json:"action,omitempty" enum:"open,on,off,increase,decrease,set"`
	Value   *int    `json:"value,omitempty"`
	RawText string  `json:"raw_text,omitempty"`
}

// Actionable reports whether the intent should produce a device action.
func (i Intent) Actionable() bool {
	return i.Type != "" && i.Type != "unknown"
}

// DeviceAction is one unit of dispatchable work. Kind, Target, Action and
// Value are fixed at creation; Status moves pending -> reserved ->
// completed/failed and never back.
type DeviceAction struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind" enum:"open_app,toggle,adjust"`
	Target     string  `json:"target"`
	Action     *string `json:"action,omitempty"`
	Value      *int    `json:"value,omitempty"`
	Status     string  `json:"status" enum:"pending,reserved,completed,failed"`
	DeviceID   *string `json:"device_id,omitempty"`
	ResultJSON *string `json:"result_json,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

// Terminal reports whether the action reached a final status.
func (a DeviceAction) Terminal() bool {
	return a.Status == "completed" || a.Status == "failed"
}

type Interaction struct {
	ID         string  `json:"id"`
	Role       string  `json:"role" enum:"user,assistant"`
	Text       string  `json:"text"`
	IntentJSON *string `json:"intent_json,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type EmotionState struct {
	ID        string  `json:"id,omitempty"`
	Mood      string  `json:"mood" enum:"happy,neutral,sad,stressed,calm,excited,tired"`
	Arousal   int     `json:"arousal" minimum:"1" maximum:"10"`
	Notes     *string `json:"notes,omitempty"`
	CreatedAt string  `json:"created_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	DeviceID  string `json:"device_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
