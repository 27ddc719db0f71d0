// Package orchestrator holds the per-browser diagnosis flow: image selection,
// analysis, the follow-up chat and narrated playback.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"cropdoc-backend/internal/audio"
	"cropdoc-backend/internal/i18n"
	"cropdoc-backend/internal/markup"
	"cropdoc-backend/internal/models"
)

type Phase string

const (
	PhaseNoImage    Phase = "no_image"
	PhaseUploading  Phase = "uploading"
	PhaseReady      Phase = "ready"
	PhaseAnalyzing  Phase = "analyzing"
	PhaseHealthy    Phase = "healthy"
	PhaseDiseased   Phase = "diseased"
	PhaseIrrelevant Phase = "irrelevant"
	PhaseError      Phase = "error"
)

var (
	ErrBusy             = errors.New("operation already in progress")
	ErrNoImage          = errors.New("no image selected")
	ErrNoConversation   = errors.New("no active conversation")
	ErrEmptyMessage     = errors.New("message must not be empty")
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrFileRead         = errors.New("image could not be read")
	ErrNothingToNarrate = errors.New("no result to narrate")
	ErrInvalidLanguage  = errors.New("unsupported language")
	ErrClosed           = errors.New("session closed")
)

const defaultAudioErrorClear = 5 * time.Second

type Diagnoser interface {
	Analyze(ctx context.Context, image []byte, mimeType string, lang i18n.Language) (*models.DiagnosisResult, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string, lang i18n.Language) (string, error)
}

type Conversation interface {
	Send(ctx context.Context, text string) models.ConversationTurn
	Reset()
	Transcript() []models.ConversationTurn
}

// ConversationFactory opens the follow-up chat for a diseased result.
type ConversationFactory func(result models.DiagnosisResult, lang i18n.Language) (Conversation, error)

type Publisher interface {
	Publish(ctx context.Context, sessionID string, msg models.WSMessage)
}

type Deps struct {
	Diagnoser       Diagnoser
	Synthesizer     Synthesizer
	Conversations   ConversationFactory
	Publisher       Publisher
	Language        i18n.Language
	AudioErrorClear time.Duration
}

// Session owns all state of one browser session. Remote calls run outside the lock;
// generation counters discard results that arrive after the state moved on.
type Session struct {
	id       string
	deps     Deps
	audioCtx *audio.Context

	mu         sync.Mutex
	closed     bool
	version    int64
	lastActive time.Time
	lang       i18n.Language
	phase      Phase

	gen       int
	image     []byte
	upload    *models.UploadState
	result    *models.DiagnosisResult
	errState  *models.ErrorState
	analyzing bool

	conv        Conversation
	chatPending bool

	audioState models.AudioPlaybackState
	audioGen   int
	source     audio.Source
	clearTimer *time.Timer
}

func NewSession(id string, deps Deps) *Session {
	if !deps.Language.Valid() {
		deps.Language = i18n.Bengali
	}
	if deps.AudioErrorClear <= 0 {
		deps.AudioErrorClear = defaultAudioErrorClear
	}
	if deps.Publisher == nil {
		deps.Publisher = discardPublisher{}
	}
	return &Session{
		id:         id,
		deps:       deps,
		audioCtx:   audio.NewContext(),
		lastActive: time.Now(),
		lang:       deps.Language,
		phase:      PhaseNoImage,
		audioState: models.AudioPlaybackState{Status: models.AudioIdle},
	}
}

func (s *Session) ID() string {
	return s.id
}

// Touch marks the session as in use without changing its state.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// SelectImage stops playback, clears the previous flow and reads the new image,
// publishing progress until the preview is ready.
func (s *Session) SelectImage(r io.Reader, size int64, fileName, mimeType string) error {
	declared := normalizeMimeType(mimeType)
	if !acceptsDeclaredType(declared) {
		return fmt.Errorf("%w: %s", ErrUnsupportedImage, declared)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.touchLocked()
	s.stopAudioLocked()
	s.clearFlowLocked()
	s.gen++
	gen := s.gen
	zero := 0
	s.upload = &models.UploadState{FileName: fileName, MimeType: declared, Size: size, Progress: &zero}
	s.phase = PhaseUploading
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publishState(snap)

	data, err := readWithProgress(r, size, func(pct int) { s.reportProgress(gen, pct) })

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return nil
	}

	var result error
	mt, ok := detectImageType(data, declared)
	switch {
	case err != nil:
		log.Printf("File reading error: %v", err)
		s.upload = nil
		s.errState = &models.ErrorState{TitleKey: "errorFileRead", MessageKey: "errorFileReadMessage", Category: models.CategoryGeneric}
		s.phase = PhaseError
		result = fmt.Errorf("%w: %v", ErrFileRead, err)
	case !ok:
		s.upload = nil
		s.phase = PhaseNoImage
		result = ErrUnsupportedImage
	default:
		s.image = data
		s.upload.MimeType = mt
		s.upload.Size = int64(len(data))
		s.upload.Progress = nil
		s.upload.PreviewURL = dataURL(mt, data)
		s.errState = nil
		s.phase = PhaseReady
	}
	snap = s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
	return result
}

func (s *Session) reportProgress(gen, pct int) {
	s.mu.Lock()
	if s.gen != gen || s.upload == nil {
		s.mu.Unlock()
		return
	}
	p := pct
	s.upload.Progress = &p
	s.mu.Unlock()

	s.deps.Publisher.Publish(context.Background(), s.id, models.WSMessage{
		Type:    models.EventUploadProgress,
		Payload: models.UploadProgress{Progress: pct},
	})
}

// Analyze runs the diagnosis for the selected image. Without an image it raises the
// NoImage error panel and returns ErrNoImage; while an upload or analysis is running
// it returns ErrBusy.
func (s *Session) Analyze(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.touchLocked()
	if s.analyzing || s.phase == PhaseUploading {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.image == nil {
		s.errState = &models.ErrorState{TitleKey: "errorNoImage", MessageKey: "errorNoImageMessage", Category: models.CategoryGeneric}
		s.phase = PhaseError
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.publishState(snap)
		return ErrNoImage
	}

	s.stopAudioLocked()
	s.result = nil
	s.errState = nil
	s.conv = nil
	s.chatPending = false
	s.analyzing = true
	s.phase = PhaseAnalyzing
	gen, image, mimeType, lang := s.gen, s.image, s.upload.MimeType, s.lang
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publishState(snap)

	result, err := s.deps.Diagnoser.Analyze(ctx, image, mimeType, lang)

	var conv Conversation
	var convErr error
	if err == nil && result.Status == models.StatusDiseased {
		conv, convErr = s.deps.Conversations(*result, lang)
	}

	s.mu.Lock()
	if s.gen != gen || !s.analyzing {
		s.mu.Unlock()
		log.Printf("Dropping stale analysis for session %s", s.id)
		return nil
	}
	s.analyzing = false

	switch {
	case err != nil:
		s.applyDiagnosisFailureLocked(err, lang)
	case convErr != nil:
		log.Printf("Failed to initialize chat: %v", convErr)
		s.result = result
		s.errState = &models.ErrorState{TitleKey: "errorChatInit", MessageKey: "errorChatInitMessage", Category: models.CategoryGeneric}
		s.phase = PhaseError
	default:
		s.result = result
		s.conv = conv
		s.phase = phaseForStatus(result.Status)
	}
	snap = s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
	return nil
}

func phaseForStatus(status models.DiagnosisStatus) Phase {
	switch status {
	case models.StatusHealthy:
		return PhaseHealthy
	case models.StatusDiseased:
		return PhaseDiseased
	default:
		return PhaseIrrelevant
	}
}

// applyDiagnosisFailureLocked maps a failed analysis onto the UI. Named failures that
// carry a message are shown as an irrelevant-style result; anything else is a hard panel.
func (s *Session) applyDiagnosisFailureLocked(err error, lang i18n.Language) {
	var derr *models.DiagnosisError
	if !errors.As(err, &derr) {
		log.Printf("Unexpected analysis error: %v", err)
		s.errState = &models.ErrorState{TitleKey: "errorUnexpected", MessageKey: "errorUnexpected", Category: models.CategoryGeneric}
		s.phase = PhaseError
		return
	}

	var titleKey string
	var category models.ErrorCategory
	switch derr.Kind {
	case models.ContentBlocked:
		titleKey, category = "errorContentBlocked", models.CategoryContent
	case models.NoAnalysis:
		titleKey, category = "errorAnalysisFailed", models.CategoryAnalysis
	case models.InvalidResponse:
		titleKey, category = "errorInvalidResponse", models.CategoryParsing
	default:
		titleKey, category = "errorConnection", models.CategoryNetwork
	}

	if derr.Message != "" {
		s.result = &models.DiagnosisResult{
			Status:      models.StatusIrrelevant,
			DiseaseName: i18n.T(lang, titleKey),
			Description: derr.Message,
		}
		s.phase = PhaseIrrelevant
		return
	}

	s.errState = &models.ErrorState{TitleKey: titleKey, MessageKey: "errorUnexpected", Category: category}
	s.phase = PhaseError
}

// SendChat forwards one user message to the active conversation.
func (s *Session) SendChat(ctx context.Context, text string) (models.ConversationTurn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ConversationTurn{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.ConversationTurn{}, ErrClosed
	}
	s.touchLocked()
	if s.conv == nil {
		s.mu.Unlock()
		return models.ConversationTurn{}, ErrNoConversation
	}
	if s.chatPending {
		s.mu.Unlock()
		return models.ConversationTurn{}, ErrBusy
	}
	s.chatPending = true
	conv := s.conv
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publishState(snap)

	turn := conv.Send(ctx, text)

	s.mu.Lock()
	if s.conv != conv {
		s.mu.Unlock()
		return turn, nil
	}
	s.chatPending = false
	snap = s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
	return turn, nil
}

// ClearChat resets the transcript to the greeting and reopens the remote chat.
func (s *Session) ClearChat() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.touchLocked()
	if s.conv == nil || s.result == nil || s.result.Status != models.StatusDiseased {
		s.mu.Unlock()
		return ErrNoConversation
	}
	// a turn still in flight keeps the chat guard; its reply is dropped by the conversation
	s.conv.Reset()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
	return nil
}

// ToggleAudio drives the narration button: idle starts playback, playing stops it,
// loading ignores the press.
func (s *Session) ToggleAudio(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.touchLocked()

	switch s.audioState.Status {
	case models.AudioLoading:
		s.mu.Unlock()
		return nil
	case models.AudioPlaying:
		s.stopAudioLocked()
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.publishState(snap)
		return nil
	}

	text := narrationText(s.result, s.lang)
	if text == "" {
		s.mu.Unlock()
		return ErrNothingToNarrate
	}

	if !s.audioCtx.Ready() {
		s.setAudioErrorLocked(i18n.T(s.lang, "audioContextNotReady"))
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.publishState(snap)
		return nil
	}

	s.cancelClearTimerLocked()
	s.audioGen++
	g := s.audioGen
	lang := s.lang
	s.audioState = models.AudioPlaybackState{Status: models.AudioLoading}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publishState(snap)

	payload, err := s.deps.Synthesizer.Synthesize(ctx, text, lang)
	var buf *audio.Buffer
	if err == nil {
		buf, err = audio.DecodeBase64PCM(payload, speechSampleRate, speechChannels)
	}

	s.mu.Lock()
	if s.audioGen != g {
		s.mu.Unlock()
		return nil
	}

	if err != nil {
		log.Printf("Audio playback failed for session %s: %v", s.id, err)
		s.setAudioErrorLocked(audioErrorMessage(err, lang))
	} else if src, playErr := s.audioCtx.Play(buf); playErr != nil {
		log.Printf("Audio playback failed for session %s: %v", s.id, playErr)
		if errors.Is(playErr, audio.ErrContextNotReady) {
			s.setAudioErrorLocked(i18n.T(lang, "audioContextNotReady"))
		} else {
			s.setAudioErrorLocked(i18n.T(lang, "audioError"))
		}
	} else {
		s.source = src
		s.audioState = models.AudioPlaybackState{Status: models.AudioPlaying}
		go s.watchSource(g, src)
	}
	snap = s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
	return nil
}

const (
	speechSampleRate = 24000
	speechChannels   = 1
)

type userMessager interface {
	UserMessage() string
}

func audioErrorMessage(err error, lang i18n.Language) string {
	var um userMessager
	if errors.As(err, &um) && um.UserMessage() != "" {
		return um.UserMessage()
	}
	return i18n.T(lang, "audioError")
}

// watchSource returns the audio state to idle when src finishes on its own, provided
// it is still the registered source.
func (s *Session) watchSource(g int, src audio.Source) {
	<-src.Done()

	s.mu.Lock()
	if s.audioGen != g || s.source != src {
		s.mu.Unlock()
		return
	}
	s.audioCtx.Release(src)
	s.source = nil
	s.audioState = models.AudioPlaybackState{Status: models.AudioIdle}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
}

func (s *Session) stopAudioLocked() {
	s.cancelClearTimerLocked()
	s.audioGen++
	if s.source != nil {
		s.audioCtx.Stop()
		s.source = nil
	}
	s.audioState = models.AudioPlaybackState{Status: models.AudioIdle}
}

func (s *Session) setAudioErrorLocked(message string) {
	s.cancelClearTimerLocked()
	s.audioGen++
	g := s.audioGen
	s.audioState = models.AudioPlaybackState{Status: models.AudioError, Message: message}

	s.clearTimer = time.AfterFunc(s.deps.AudioErrorClear, func() {
		s.mu.Lock()
		if s.audioGen != g || s.audioState.Status != models.AudioError {
			s.mu.Unlock()
			return
		}
		s.clearTimer = nil
		s.audioState = models.AudioPlaybackState{Status: models.AudioIdle}
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.publishState(snap)
	})
}

func (s *Session) cancelClearTimerLocked() {
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
}

// InitAudio attaches the client's playback sink; it is the user gesture that makes
// the output context usable.
func (s *Session) InitAudio(sink audio.Sink) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	ok := s.audioCtx.Init(sink)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
	return ok
}

// DetachAudio stops playback and drops the sink once the client is gone.
func (s *Session) DetachAudio() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.audioState.Status == models.AudioPlaying || s.audioState.Status == models.AudioLoading {
		s.stopAudioLocked()
	}
	s.audioCtx.Detach()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
}

// Reset returns to the initial state, keeping the language and the audio context.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.touchLocked()
	s.stopAudioLocked()
	s.clearFlowLocked()
	s.gen++
	s.phase = PhaseNoImage
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
	return nil
}

// SetLanguage switches prompts, voices and texts for subsequent operations. An open
// conversation keeps the language it was created with.
func (s *Session) SetLanguage(lang i18n.Language) error {
	if !lang.Valid() {
		return ErrInvalidLanguage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.touchLocked()
	s.lang = lang
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
	return nil
}

// Close disposes the audio context and drops the conversation for good.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.stopAudioLocked()
	s.clearFlowLocked()
	s.gen++
	s.audioCtx.Close()
	s.closed = true
}

func (s *Session) clearFlowLocked() {
	s.image = nil
	s.upload = nil
	s.result = nil
	s.errState = nil
	s.analyzing = false
	s.conv = nil
	s.chatPending = false
}

func (s *Session) touchLocked() {
	s.lastActive = time.Now()
}

// TurnView is a transcript entry with assistant markup pre-parsed.
type TurnView struct {
	models.ConversationTurn
	Blocks []markup.Block `json:"blocks,omitempty"`
}

// Snapshot is an immutable view of the session for the browser. Version grows with
// every change so clients can drop updates that arrive out of order.
type Snapshot struct {
	SessionID   string                    `json:"session_id"`
	Version     int64                     `json:"version"`
	Language    i18n.Language             `json:"language"`
	Phase       Phase                     `json:"phase"`
	Upload      *models.UploadState       `json:"upload,omitempty"`
	Result      *models.DiagnosisResult   `json:"result,omitempty"`
	Error       *models.ErrorState        `json:"error,omitempty"`
	Chat        []TurnView                `json:"chat,omitempty"`
	ChatPending bool                      `json:"chat_pending"`
	Analyzing   bool                      `json:"analyzing"`
	Audio       models.AudioPlaybackState `json:"audio"`
	AudioReady  bool                      `json:"audio_ready"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	s.version++
	snap := Snapshot{
		SessionID:   s.id,
		Version:     s.version,
		Language:    s.lang,
		Phase:       s.phase,
		ChatPending: s.chatPending,
		Analyzing:   s.analyzing,
		Audio:       s.audioState,
		AudioReady:  s.audioCtx.Ready(),
	}

	if s.upload != nil {
		u := *s.upload
		if u.Progress != nil {
			p := *u.Progress
			u.Progress = &p
		}
		snap.Upload = &u
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	if s.errState != nil {
		e := *s.errState
		e.Title = i18n.T(s.lang, e.TitleKey)
		e.Message = i18n.T(s.lang, e.MessageKey)
		snap.Error = &e
	}
	if s.conv != nil {
		for _, turn := range s.conv.Transcript() {
			view := TurnView{ConversationTurn: turn}
			if turn.Role == models.RoleAssistant {
				view.Blocks = markup.Parse(turn.Text)
			}
			snap.Chat = append(snap.Chat, view)
		}
	}
	return snap
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, string, models.WSMessage) {}

func (s *Session) publishState(snap Snapshot) {
	s.deps.Publisher.Publish(context.Background(), s.id, models.WSMessage{
		Type:    models.EventState,
		Payload: snap,
	})
}
