package lobby

import "github.com/google/uuid"

// Inbound events.
const (
	EventChatMessage    = "chat-message"
	EventCreateGame     = "create-game"
	EventCancelGame     = "cancel-game"
	EventJoinGame       = "join-game"
	EventPlayMove       = "play-move"
	EventRequestExit    = "request-exit"
	EventRequestRematch = "request-rematch"
	EventForfeit        = "forfeit"
)

// Outbound events.
const (
	EventGameList        = "game-list"
	EventAvailableGames  = "available-games-list"
	EventAvailableNew    = "available-new-game"
	EventUpdateGameState = "update-game-state"
	EventChatLobby       = "chat-message-lobby"
	EventChatMatch       = "chat-message-match"
	EventUserExit        = "user-exit"
	EventRematchRequest  = "rematch-request"
	EventForceDisconnect = "force-disconnect"
)

// CancelPayload withdraws a listing from the browsers of a game's lobby.
type CancelPayload struct {
	ID uuid.UUID `json:"id"`
}

// ChatPayload is a chat line as relayed to other participants.
type ChatPayload struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

// ExitPayload names the participant who left an ended match.
type ExitPayload struct {
	Name string `json:"name"`
}

// RematchPayload lists who has agreed to a rematch so far.
type RematchPayload struct {
	Players []string `json:"players"`
}
