package server

import (
	"encoding/json"

	"sidekick/internal/domain"
)

// Request payloads

type ParseRequest struct {
	Text string `json:"text"`
}

type CreateInteractionRequest struct {
	Role   string         `json:"role" enum:"user,assistant"`
	Text   string         `json:"text"`
	Intent *domain.Intent `json:"intent,omitempty"`
}

type SetEmotionRequest struct {
	Mood    string  `json:"mood,omitempty" enum:"happy,neutral,sad,stressed,calm,excited,tired"`
	Arousal int     `json:"arousal,omitempty" minimum:"1" maximum:"10"`
	Notes   *string `json:"notes,omitempty"`
}

type NextActionRequest struct {
	DeviceID string `json:"device_id,omitempty"`
}

type CompleteActionRequest struct {
	Status string         `json:"status,omitempty" enum:"completed,failed"`
	Result map[string]any `json:"result,omitempty"`
}

type DevLoginRequest struct {
	DeviceID string `json:"device_id"`
}

// Response payloads

type ActionResponse struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind" enum:"open_app,toggle,adjust"`
	Target    string         `json:"target"`
	Action    *string        `json:"action,omitempty"`
	Value     *int           `json:"value,omitempty"`
	Status    string         `json:"status" enum:"pending,reserved,completed,failed"`
	DeviceID  *string        `json:"device_id,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type InteractionResponse struct {
	ID        string         `json:"id"`
	Role      string         `json:"role" enum:"user,assistant"`
	Text      string         `json:"text"`
	Intent    *domain.Intent `json:"intent,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type InteractionCreatedResponse struct {
	Interaction InteractionResponse `json:"interaction"`
	Action      *ActionResponse     `json:"action,omitempty"`
}

// NextActionResponse carries a null action when the queue is empty; idle
// polls are a normal outcome, not an error.
type NextActionResponse struct {
	Action *ActionResponse `json:"action"`
}

type APIKeyCreatedResponse struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	Name     string `json:"name,omitempty"`
	Key      string `json:"key"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func actionResponse(a domain.DeviceAction) ActionResponse {
	res := ActionResponse{
		ID:        a.ID,
		Kind:      a.Kind,
		Target:    a.Target,
		Action:    a.Action,
		Value:     a.Value,
		Status:    a.Status,
		DeviceID:  a.DeviceID,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
	if a.ResultJSON != nil {
		var m map[string]any
		if err := json.Unmarshal([]byte(*a.ResultJSON), &m); err == nil {
			res.Result = m
		}
	}
	return res
}

func actionResponses(actions []domain.DeviceAction) []ActionResponse {
	res := make([]ActionResponse, 0, len(actions))
	for _, a := range actions {
		res = append(res, actionResponse(a))
	}
	return res
}

func interactionResponse(it domain.Interaction) InteractionResponse {
	res := InteractionResponse{
		ID:        it.ID,
		Role:      it.Role,
		Text:      it.Text,
		CreatedAt: it.CreatedAt,
	}
	if it.IntentJSON != nil {
		var in domain.Intent
		if err := json.Unmarshal([]byte(*it.IntentJSON), &in); err == nil {
			res.Intent = &in
		}
	}
	return res
}
