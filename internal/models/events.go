package models

// WebSocket message types
const (
	EventState          = "state"
	EventUploadProgress = "upload_progress"
	EventAudioStop      = "audio_stop"
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type UploadProgress struct {
	Progress int `json:"progress"`
}

type LanguageRequest struct {
	Language string `json:"language"`
}
