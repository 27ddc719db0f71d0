package websocket

import (
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cropdoc-backend/internal/audio"
	"cropdoc-backend/internal/models"
)

// sink plays buffers by shipping them to the browser as WAV binary frames.
type sink struct {
	hub       *Hub
	sessionID uuid.UUID
}

func (s *sink) Schedule(buf *audio.Buffer) (audio.Source, error) {
	if s.hub.broadcast(s.sessionID, websocket.BinaryMessage, buf.WAV()) == 0 {
		return nil, errNoClients
	}
	return audio.NewTimedSource(buf.Duration(), func() {
		s.hub.SendToSession(s.sessionID, models.WSMessage{Type: models.EventAudioStop})
	}), nil
}
