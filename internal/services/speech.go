package services

import (
	"context"
	"errors"
	"strings"

	"cropdoc-backend/internal/gemini"
	"cropdoc-backend/internal/i18n"
)

const (
	DefaultSpeechModel = "gemini-2.5-flash-preview-tts"

	// SpeechSampleRate and SpeechChannels describe the PCM payload returned by Synthesize.
	SpeechSampleRate = 24000
	SpeechChannels   = 1

	msgSpeechFailed = "An error occurred while generating audio. Please try again."
)

// SpeechError is the single failure kind of the speech pathway.
type SpeechError struct {
	Message string
	Err     error
}

func (e *SpeechError) Error() string {
	if e.Err != nil {
		return "speech: " + e.Message + ": " + e.Err.Error()
	}
	return "speech: " + e.Message
}

func (e *SpeechError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown next to the speaker button.
func (e *SpeechError) UserMessage() string {
	return e.Message
}

type speechGenerator interface {
	GenerateContent(ctx context.Context, model string, req *gemini.Request) (*gemini.Response, error)
}

type SpeechService struct {
	client speechGenerator
	model  string
	gate   *RateGate
}

func NewSpeechService(client *gemini.Client, model string, gate *RateGate) *SpeechService {
	if model == "" {
		model = DefaultSpeechModel
	}
	return &SpeechService{client: client, model: model, gate: gate}
}

func voiceFor(lang i18n.Language) string {
	if lang == i18n.Bengali {
		return "Kore"
	}
	return "Zephyr"
}

// Synthesize returns base64 PCM16 audio at SpeechSampleRate, mono.
func (s *SpeechService) Synthesize(ctx context.Context, text string, lang i18n.Language) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", &SpeechError{Message: "nothing to narrate"}
	}

	if err := s.gate.Acquire(ctx); err != nil {
		return "", &SpeechError{Message: msgSpeechFailed, Err: err}
	}
	defer s.gate.Release()

	resp, err := s.client.GenerateContent(ctx, s.model, &gemini.Request{
		Contents: []gemini.Content{{Parts: []gemini.Part{{Text: text}}}},
		GenerationConfig: &gemini.GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &gemini.SpeechConfig{
				VoiceConfig: &gemini.VoiceConfig{
					PrebuiltVoiceConfig: &gemini.PrebuiltVoiceConfig{VoiceName: voiceFor(lang)},
				},
			},
		},
	})
	if err != nil {
		return "", &SpeechError{Message: msgSpeechFailed, Err: err}
	}

	data := resp.FirstInlineData()
	if data == nil || data.Data == "" {
		return "", &SpeechError{Message: msgSpeechFailed, Err: errors.New("could not retrieve audio data from the API")}
	}
	return data.Data, nil
}
