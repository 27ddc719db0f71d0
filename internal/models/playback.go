package models

type AudioStatus string

const (
	AudioIdle    AudioStatus = "idle"
	AudioLoading AudioStatus = "loading"
	AudioPlaying AudioStatus = "playing"
	AudioError   AudioStatus = "error"
)

// AudioPlaybackState is a single finite-state value; Message is only set in the error state.
type AudioPlaybackState struct {
	Status  AudioStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

// UploadState describes the image being read. Progress is nil once the preview is ready.
type UploadState struct {
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	Size       int64  `json:"size"`
	Progress   *int   `json:"progress"`
	PreviewURL string `json:"preview_url,omitempty"`
}
