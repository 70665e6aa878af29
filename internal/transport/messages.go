package transport

// Client→server message types.
const (
	TypeStart = "start"
	TypeAudio = "audio"
	TypeStop  = "stop"
)

// Server→client message types.
const (
	TypeTranscription = "transcription"
	TypeStatus        = "status"
	TypeError         = "error"
)

// Status values carried by status messages.
const (
	StatusConnected = "connected"
	StatusReady     = "ready"
	StatusStopped   = "stopped"
)

// ClientMessage is the frame sent to the transcription service. Audio
// payloads are base64-encoded PCM, one frame per captured chunk.
type ClientMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
}

// ServerMessage is the frame received from the transcription service.
type ServerMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"isFinal,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}
