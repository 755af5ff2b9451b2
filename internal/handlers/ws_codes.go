package handlers

import "github.com/coder/websocket"

// Custom close codes. They give the client a more specific reason than the
// standard ones.
const (
	BadSubprotocolError websocket.StatusCode = 3000 // Client connected without the gameroom subprotocol.
	ReplacedError       websocket.StatusCode = 3002 // The same participant connected again elsewhere.
)
