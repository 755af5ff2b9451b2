package models

import "github.com/google/uuid"

// MatchAction is one entry of a match's action log, as queued for the historian.
type MatchAction struct {
	MatchID       uuid.UUID              `json:"match_id"`
	Game          string                 `json:"game"`
	ActionIndex   int                    `json:"action_index"`
	ActorUserID   uuid.UUID              `json:"actor_user_id"`
	ActionType    string                 `json:"action_type"`
	ActionPayload map[string]interface{} `json:"action_payload"`
	Timestamp     int64                  `json:"timestamp"`
}
