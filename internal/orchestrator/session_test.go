package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"cropdoc-backend/internal/audio"
	"cropdoc-backend/internal/gemini"
	"cropdoc-backend/internal/i18n"
	"cropdoc-backend/internal/models"
	"cropdoc-backend/internal/services"
)

// --- stubs ---

type stubDiagnoser struct {
	mu      sync.Mutex
	calls   int
	result  *models.DiagnosisResult
	err     error
	started chan struct{}
	release chan struct{}
}

func (d *stubDiagnoser) Analyze(ctx context.Context, image []byte, mimeType string, lang i18n.Language) (*models.DiagnosisResult, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	if d.started != nil {
		d.started <- struct{}{}
	}
	if d.release != nil {
		<-d.release
	}
	return d.result, d.err
}

func (d *stubDiagnoser) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type stubSynth struct {
	mu      sync.Mutex
	calls   int
	texts   []string
	payload string
	err     error
	release chan struct{}
}

func (s *stubSynth) Synthesize(ctx context.Context, text string, lang i18n.Language) (string, error) {
	s.mu.Lock()
	s.calls++
	s.texts = append(s.texts, text)
	s.mu.Unlock()

	if s.release != nil {
		<-s.release
	}
	return s.payload, s.err
}

func (s *stubSynth) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testSource struct {
	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	stopped bool
}

func (t *testSource) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.finish()
}

func (t *testSource) finish() {
	t.once.Do(func() { close(t.done) })
}

func (t *testSource) Done() <-chan struct{} { return t.done }

func (t *testSource) wasStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type testSink struct {
	mu      sync.Mutex
	sources []*testSource
}

func (k *testSink) Schedule(buf *audio.Buffer) (audio.Source, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	src := &testSource{done: make(chan struct{})}
	k.sources = append(k.sources, src)
	return src, nil
}

func (k *testSink) last() *testSource {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.sources) == 0 {
		return nil
	}
	return k.sources[len(k.sources)-1]
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []models.WSMessage
}

func (p *recordingPublisher) Publish(ctx context.Context, sessionID string, msg models.WSMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
}

func (p *recordingPublisher) states() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Snapshot
	for _, m := range p.messages {
		if snap, ok := m.Payload.(Snapshot); ok {
			out = append(out, snap)
		}
	}
	return out
}

func (p *recordingPublisher) progress() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []int
	for _, m := range p.messages {
		if u, ok := m.Payload.(models.UploadProgress); ok {
			out = append(out, u.Progress)
		}
	}
	return out
}

type stubChat struct {
	resp *gemini.Response
	err  error
}

func (c *stubChat) SendMessage(ctx context.Context, text string) (*gemini.Response, error) {
	return c.resp, c.err
}

// gatedReader blocks its first Read until release is closed.
type gatedReader struct {
	started chan struct{}
	release chan struct{}
	r       io.Reader
	once    sync.Once
}

func (g *gatedReader) Read(p []byte) (int, error) {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return g.r.Read(p)
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("disk gone") }

// --- helpers ---

var pngImage = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 100000)...)

// four zero bytes: two silent mono frames
const silentPCM = "AAAAAA=="

func lateBlight() *models.DiagnosisResult {
	return &models.DiagnosisResult{
		Status:          models.StatusDiseased,
		DiseaseName:     "Late Blight",
		Description:     "Dark, water-soaked lesions on leaves",
		ControlMeasures: []string{"Apply fungicide X", "Remove infected leaves", "Improve drainage"},
	}
}

type fixture struct {
	session   *Session
	diagnoser *stubDiagnoser
	synth     *stubSynth
	pub       *recordingPublisher
	chat      *stubChat
	sink      *testSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		diagnoser: &stubDiagnoser{result: lateBlight()},
		synth:     &stubSynth{payload: silentPCM},
		pub:       &recordingPublisher{},
		chat:      &stubChat{resp: &gemini.Response{Candidates: []gemini.Candidate{{Content: gemini.Content{Parts: []gemini.Part{{Text: "ok"}}}}}}},
		sink:      &testSink{},
	}
	factory := func(system string) services.ChatSender { return f.chat }

	f.session = NewSession("sess-1", Deps{
		Diagnoser:   f.diagnoser,
		Synthesizer: f.synth,
		Conversations: func(result models.DiagnosisResult, lang i18n.Language) (Conversation, error) {
			return services.NewConversationSession(result, lang, factory, nil)
		},
		Publisher:       f.pub,
		Language:        i18n.English,
		AudioErrorClear: 30 * time.Millisecond,
	})
	t.Cleanup(f.session.Close)
	return f
}

func (f *fixture) selectImage(t *testing.T) {
	t.Helper()
	if err := f.session.SelectImage(bytes.NewReader(pngImage), int64(len(pngImage)), "leaf.png", "image/png"); err != nil {
		t.Fatalf("SelectImage: %v", err)
	}
}

func (f *fixture) analyze(t *testing.T) {
	t.Helper()
	f.selectImage(t)
	if err := f.session.Analyze(context.Background()); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// --- image selection ---

func TestSelectImage_ProgressAndPreview(t *testing.T) {
	f := newFixture(t)
	f.selectImage(t)

	snap := f.session.Snapshot()
	if snap.Phase != PhaseReady {
		t.Fatalf("expected ready, got %s", snap.Phase)
	}
	if snap.Upload == nil || snap.Upload.Progress != nil {
		t.Fatalf("expected finished upload without progress, got %#v", snap.Upload)
	}
	if !strings.HasPrefix(snap.Upload.PreviewURL, "data:image/png;base64,") {
		t.Fatalf("unexpected preview url prefix %q", snap.Upload.PreviewURL[:30])
	}

	progress := f.pub.progress()
	if len(progress) < 2 || progress[len(progress)-1] != 100 {
		t.Fatalf("expected progress ending at 100, got %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress went backwards: %v", progress)
		}
	}
}

func TestSelectImage_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		mimeType string
		want     error
	}{
		{"declared pdf", []byte("%PDF-1.4"), "application/pdf", ErrUnsupportedImage},
		{"sniffed text", []byte("just some text"), "", ErrUnsupportedImage},
		{"empty file", nil, "image/png", ErrUnsupportedImage},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			err := f.session.SelectImage(bytes.NewReader(tc.data), int64(len(tc.data)), "file", tc.mimeType)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if snap := f.session.Snapshot(); snap.Phase != PhaseNoImage || snap.Upload != nil {
				t.Fatalf("unexpected state %s %#v", snap.Phase, snap.Upload)
			}
		})
	}
}

func TestSelectImage_ReadFailureShowsPanel(t *testing.T) {
	f := newFixture(t)

	err := f.session.SelectImage(errReader{}, 1000, "leaf.png", "image/png")
	if !errors.Is(err, ErrFileRead) {
		t.Fatalf("expected ErrFileRead, got %v", err)
	}

	snap := f.session.Snapshot()
	if snap.Phase != PhaseError || snap.Error == nil || snap.Error.TitleKey != "errorFileRead" {
		t.Fatalf("unexpected state %s %#v", snap.Phase, snap.Error)
	}
	if snap.Error.Title != i18n.T(i18n.English, "errorFileRead") {
		t.Fatalf("expected localized title, got %q", snap.Error.Title)
	}
}

func TestSelectImage_StopsPlayingAudioFirst(t *testing.T) {
	f := newFixture(t)
	f.session.InitAudio(f.sink)
	f.analyze(t)

	if err := f.session.ToggleAudio(context.Background()); err != nil {
		t.Fatalf("ToggleAudio: %v", err)
	}
	if got := f.session.Snapshot().Audio.Status; got != models.AudioPlaying {
		t.Fatalf("expected playing, got %s", got)
	}
	src := f.sink.last()
	before := len(f.pub.states())

	f.selectImage(t)

	if !src.wasStopped() {
		t.Fatalf("expected the playing source to be stopped")
	}
	states := f.pub.states()[before:]
	if states[0].Phase != PhaseUploading || states[0].Audio.Status != models.AudioIdle {
		t.Fatalf("first update after selection should be uploading with idle audio, got %s/%s", states[0].Phase, states[0].Audio.Status)
	}
	final := f.session.Snapshot()
	if final.Result != nil || final.Chat != nil || final.Phase != PhaseReady {
		t.Fatalf("previous flow not cleared: %#v", final)
	}
}

// --- analysis ---

func TestAnalyze_NoImage(t *testing.T) {
	f := newFixture(t)

	if err := f.session.Analyze(context.Background()); !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if f.diagnoser.callCount() != 0 {
		t.Fatalf("diagnosis client must not be called without an image")
	}
	snap := f.session.Snapshot()
	if snap.Phase != PhaseError || snap.Error.TitleKey != "errorNoImage" || snap.Error.Category != models.CategoryGeneric {
		t.Fatalf("unexpected state %s %#v", snap.Phase, snap.Error)
	}
}

func TestAnalyze_DiseasedSeedsConversation(t *testing.T) {
	f := newFixture(t)
	f.analyze(t)

	snap := f.session.Snapshot()
	if snap.Phase != PhaseDiseased {
		t.Fatalf("expected diseased, got %s", snap.Phase)
	}
	if len(snap.Chat) != 1 || snap.Chat[0].Role != models.RoleAssistant || snap.Chat[0].Text != i18n.T(i18n.English, "chatInitialMessage") {
		t.Fatalf("expected single greeting, got %#v", snap.Chat)
	}
	if len(snap.Chat[0].Blocks) != 1 {
		t.Fatalf("expected parsed markup on assistant turns")
	}
}

func TestAnalyze_HealthyHasNoConversation(t *testing.T) {
	f := newFixture(t)
	f.diagnoser.result = &models.DiagnosisResult{Status: models.StatusHealthy, DiseaseName: "Healthy Plant", Description: "Fine."}
	f.analyze(t)

	snap := f.session.Snapshot()
	if snap.Phase != PhaseHealthy || snap.Chat != nil {
		t.Fatalf("unexpected state %s chat=%v", snap.Phase, snap.Chat)
	}
	if _, err := f.session.SendChat(context.Background(), "hi"); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
}

func TestAnalyze_NamedFailuresBecomeSoftResults(t *testing.T) {
	tests := []struct {
		kind     models.DiagnosisErrorKind
		titleKey string
	}{
		{models.ContentBlocked, "errorContentBlocked"},
		{models.NoAnalysis, "errorAnalysisFailed"},
		{models.InvalidResponse, "errorInvalidResponse"},
		{models.APIFailure, "errorConnection"},
	}

	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			f := newFixture(t)
			f.diagnoser.err = &models.DiagnosisError{Kind: tc.kind, Message: "explained failure"}
			f.analyze(t)

			snap := f.session.Snapshot()
			if snap.Phase != PhaseIrrelevant || snap.Error != nil {
				t.Fatalf("expected soft irrelevant result, got %s %#v", snap.Phase, snap.Error)
			}
			if snap.Result.DiseaseName != i18n.T(i18n.English, tc.titleKey) || snap.Result.Description != "explained failure" {
				t.Fatalf("unexpected soft result %#v", snap.Result)
			}
		})
	}
}

func TestAnalyze_FailuresWithoutMessageShowPanel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		titleKey string
		category models.ErrorCategory
	}{
		{"content", &models.DiagnosisError{Kind: models.ContentBlocked}, "errorContentBlocked", models.CategoryContent},
		{"analysis", &models.DiagnosisError{Kind: models.NoAnalysis}, "errorAnalysisFailed", models.CategoryAnalysis},
		{"parsing", &models.DiagnosisError{Kind: models.InvalidResponse}, "errorInvalidResponse", models.CategoryParsing},
		{"network", &models.DiagnosisError{Kind: models.APIFailure}, "errorConnection", models.CategoryNetwork},
		{"unknown", errors.New("boom"), "errorUnexpected", models.CategoryGeneric},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.diagnoser.err = tc.err
			f.analyze(t)

			snap := f.session.Snapshot()
			if snap.Phase != PhaseError || snap.Result != nil {
				t.Fatalf("expected error panel, got %s %#v", snap.Phase, snap.Result)
			}
			if snap.Error.TitleKey != tc.titleKey || snap.Error.Category != tc.category {
				t.Fatalf("unexpected error state %#v", snap.Error)
			}
		})
	}
}

func TestAnalyze_SingleFlight(t *testing.T) {
	f := newFixture(t)
	f.diagnoser.started = make(chan struct{}, 1)
	f.diagnoser.release = make(chan struct{})
	f.selectImage(t)

	done := make(chan error, 1)
	go func() { done <- f.session.Analyze(context.Background()) }()
	<-f.diagnoser.started

	if err := f.session.Analyze(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if got := f.session.Snapshot().Phase; got != PhaseAnalyzing {
		t.Fatalf("expected analyzing, got %s", got)
	}

	close(f.diagnoser.release)
	if err := <-done; err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if f.diagnoser.callCount() != 1 {
		t.Fatalf("expected a single diagnosis call, got %d", f.diagnoser.callCount())
	}
}

func TestAnalyze_StaleResultIsDropped(t *testing.T) {
	f := newFixture(t)
	f.diagnoser.started = make(chan struct{}, 1)
	f.diagnoser.release = make(chan struct{})
	f.selectImage(t)

	done := make(chan error, 1)
	go func() { done <- f.session.Analyze(context.Background()) }()
	<-f.diagnoser.started

	f.selectImage(t)
	close(f.diagnoser.release)
	<-done

	snap := f.session.Snapshot()
	if snap.Phase != PhaseReady || snap.Result != nil || snap.Chat != nil {
		t.Fatalf("stale analysis leaked into the new image: %s %#v", snap.Phase, snap.Result)
	}
}

// --- chat ---

func TestSendChat_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.chat.resp = &gemini.Response{Candidates: []gemini.Candidate{{
		Content: gemini.Content{Parts: []gemini.Part{{Text: "### Suppliers\n* **Agro Shop**, Dhaka"}}},
		GroundingMetadata: &gemini.GroundingMetadata{GroundingChunks: []gemini.GroundingChunk{
			{Web: &gemini.WebSource{URI: "https://agro.example", Title: "Agro Shop"}},
		}},
	}}}
	f.analyze(t)

	turn, err := f.session.SendChat(context.Background(), "Where can I buy fungicide X?")
	if err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	if turn.Role != models.RoleAssistant || len(turn.Citations) != 1 {
		t.Fatalf("unexpected reply %#v", turn)
	}

	chat := f.session.Snapshot().Chat
	if len(chat) != 3 {
		t.Fatalf("expected greeting + user + assistant, got %d turns", len(chat))
	}
	if chat[1].Role != models.RoleUser || chat[1].Text != "Where can I buy fungicide X?" || chat[1].Blocks != nil {
		t.Fatalf("unexpected user turn %#v", chat[1])
	}
	if chat[2].Role != models.RoleAssistant || chat[2].Citations[0].URI != "https://agro.example" {
		t.Fatalf("unexpected assistant turn %#v", chat[2])
	}
	if len(chat[2].Blocks) != 2 || chat[2].Blocks[0].Level != 3 {
		t.Fatalf("expected heading and list blocks, got %#v", chat[2].Blocks)
	}
}

func TestSendChat_Preconditions(t *testing.T) {
	f := newFixture(t)

	if _, err := f.session.SendChat(context.Background(), "hi"); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}

	f.analyze(t)
	if _, err := f.session.SendChat(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

type blockingConversation struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingConversation) Send(ctx context.Context, text string) models.ConversationTurn {
	b.started <- struct{}{}
	<-b.release
	return models.ConversationTurn{Role: models.RoleAssistant, Text: "late"}
}

func (b *blockingConversation) Reset() {}

func (b *blockingConversation) Transcript() []models.ConversationTurn { return nil }

func TestSendChat_SingleFlight(t *testing.T) {
	f := newFixture(t)
	conv := &blockingConversation{started: make(chan struct{}, 1), release: make(chan struct{})}
	f.session.deps.Conversations = func(models.DiagnosisResult, i18n.Language) (Conversation, error) { return conv, nil }
	f.analyze(t)

	done := make(chan struct{})
	go func() {
		f.session.SendChat(context.Background(), "first")
		close(done)
	}()
	<-conv.started

	if _, err := f.session.SendChat(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if !f.session.Snapshot().ChatPending {
		t.Fatalf("expected chat_pending while a turn is in flight")
	}

	close(conv.release)
	<-done
	if f.session.Snapshot().ChatPending {
		t.Fatalf("chat_pending should clear after the reply")
	}
}

func TestClearChat_KeepsGuardWhileTurnInFlight(t *testing.T) {
	f := newFixture(t)
	conv := &blockingConversation{started: make(chan struct{}, 1), release: make(chan struct{})}
	f.session.deps.Conversations = func(models.DiagnosisResult, i18n.Language) (Conversation, error) { return conv, nil }
	f.analyze(t)

	done := make(chan struct{})
	go func() {
		f.session.SendChat(context.Background(), "first")
		close(done)
	}()
	<-conv.started

	if err := f.session.ClearChat(); err != nil {
		t.Fatalf("ClearChat: %v", err)
	}
	if !f.session.Snapshot().ChatPending {
		t.Fatalf("chat_pending must survive a clear while a turn is in flight")
	}
	if _, err := f.session.SendChat(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy after clear, got %v", err)
	}

	close(conv.release)
	<-done
	if f.session.Snapshot().ChatPending {
		t.Fatalf("chat_pending should clear once the first turn returns")
	}
	select {
	case <-conv.started:
		t.Fatalf("second turn must not have reached the conversation")
	default:
	}
}

func TestClearChat_AlwaysSingleGreeting(t *testing.T) {
	f := newFixture(t)
	f.analyze(t)

	for i := 0; i < 4; i++ {
		if _, err := f.session.SendChat(context.Background(), "question"); err != nil {
			t.Fatalf("SendChat: %v", err)
		}
	}
	if err := f.session.ClearChat(); err != nil {
		t.Fatalf("ClearChat: %v", err)
	}

	chat := f.session.Snapshot().Chat
	if len(chat) != 1 || chat[0].Text != i18n.T(i18n.English, "chatInitialMessage") {
		t.Fatalf("expected one greeting, got %#v", chat)
	}
}

func TestClearChat_RequiresDiseasedResult(t *testing.T) {
	f := newFixture(t)
	f.diagnoser.result = &models.DiagnosisResult{Status: models.StatusIrrelevant, DiseaseName: "Irrelevant Image", Description: "A cat."}
	f.analyze(t)

	if err := f.session.ClearChat(); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
}

// --- audio ---

func TestToggleAudio_ContextNotReadyAutoClears(t *testing.T) {
	f := newFixture(t)
	f.analyze(t)

	if err := f.session.ToggleAudio(context.Background()); err != nil {
		t.Fatalf("ToggleAudio: %v", err)
	}
	a := f.session.Snapshot().Audio
	if a.Status != models.AudioError || a.Message != "Audio context not ready. Please click on the page first and try again." {
		t.Fatalf("unexpected audio state %#v", a)
	}
	if f.synth.callCount() != 0 {
		t.Fatalf("synthesis must not run without an output context")
	}

	waitFor(t, "audio error to clear", func() bool {
		return f.session.Snapshot().Audio.Status == models.AudioIdle
	})
}

func TestToggleAudio_PlayThenStop(t *testing.T) {
	f := newFixture(t)
	f.session.InitAudio(f.sink)
	f.analyze(t)

	if err := f.session.ToggleAudio(context.Background()); err != nil {
		t.Fatalf("ToggleAudio: %v", err)
	}
	if got := f.session.Snapshot().Audio.Status; got != models.AudioPlaying {
		t.Fatalf("expected playing, got %s", got)
	}

	want := "Identified Disease. Late Blight. Description. Dark, water-soaked lesions on leaves. Control Measures. Apply fungicide X. Remove infected leaves. Improve drainage"
	if f.synth.texts[0] != want {
		t.Fatalf("unexpected narration\n got: %q\nwant: %q", f.synth.texts[0], want)
	}

	if err := f.session.ToggleAudio(context.Background()); err != nil {
		t.Fatalf("ToggleAudio: %v", err)
	}
	if got := f.session.Snapshot().Audio.Status; got != models.AudioIdle {
		t.Fatalf("expected idle after stop, got %s", got)
	}
	if !f.sink.last().wasStopped() {
		t.Fatalf("expected the source to be stopped")
	}
}

func TestToggleAudio_LoadingIsNoop(t *testing.T) {
	f := newFixture(t)
	f.synth.release = make(chan struct{})
	f.session.InitAudio(f.sink)
	f.analyze(t)

	done := make(chan error, 1)
	go func() { done <- f.session.ToggleAudio(context.Background()) }()
	waitFor(t, "loading", func() bool { return f.session.Snapshot().Audio.Status == models.AudioLoading })

	if err := f.session.ToggleAudio(context.Background()); err != nil {
		t.Fatalf("ToggleAudio while loading: %v", err)
	}
	if got := f.session.Snapshot().Audio.Status; got != models.AudioLoading {
		t.Fatalf("expected still loading, got %s", got)
	}

	close(f.synth.release)
	if err := <-done; err != nil {
		t.Fatalf("ToggleAudio: %v", err)
	}
	if f.synth.callCount() != 1 {
		t.Fatalf("expected exactly one synthesis call, got %d", f.synth.callCount())
	}
}

func TestToggleAudio_CompletionReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	f.session.InitAudio(f.sink)
	f.analyze(t)

	if err := f.session.ToggleAudio(context.Background()); err != nil {
		t.Fatalf("ToggleAudio: %v", err)
	}
	f.sink.last().finish()

	waitFor(t, "idle after completion", func() bool {
		return f.session.Snapshot().Audio.Status == models.AudioIdle
	})
}

func TestToggleAudio_SynthesisFailure(t *testing.T) {
	f := newFixture(t)
	f.synth.err = &services.SpeechError{Message: "An error occurred while generating audio. Please try again."}
	f.session.InitAudio(f.sink)
	f.analyze(t)

	if err := f.session.ToggleAudio(context.Background()); err != nil {
		t.Fatalf("ToggleAudio: %v", err)
	}
	a := f.session.Snapshot().Audio
	if a.Status != models.AudioError || a.Message != "An error occurred while generating audio. Please try again." {
		t.Fatalf("unexpected audio state %#v", a)
	}
	waitFor(t, "audio error to clear", func() bool {
		return f.session.Snapshot().Audio.Status == models.AudioIdle
	})
}

func TestToggleAudio_DecodeFailure(t *testing.T) {
	f := newFixture(t)
	f.synth.payload = "AA==" // a single byte, half a sample
	f.session.InitAudio(f.sink)
	f.analyze(t)

	if err := f.session.ToggleAudio(context.Background()); err != nil {
		t.Fatalf("ToggleAudio: %v", err)
	}
	a := f.session.Snapshot().Audio
	if a.Status != models.AudioError || a.Message != i18n.T(i18n.English, "audioError") {
		t.Fatalf("unexpected audio state %#v", a)
	}
}

func TestToggleAudio_NothingToNarrate(t *testing.T) {
	f := newFixture(t)
	if err := f.session.ToggleAudio(context.Background()); !errors.Is(err, ErrNothingToNarrate) {
		t.Fatalf("expected ErrNothingToNarrate, got %v", err)
	}
}

func TestDetachAudio_StopsPlayback(t *testing.T) {
	f := newFixture(t)
	f.session.InitAudio(f.sink)
	f.analyze(t)
	f.session.ToggleAudio(context.Background())

	f.session.DetachAudio()

	snap := f.session.Snapshot()
	if snap.AudioReady || snap.Audio.Status != models.AudioIdle {
		t.Fatalf("unexpected audio after detach: ready=%v %#v", snap.AudioReady, snap.Audio)
	}
	if !f.sink.last().wasStopped() {
		t.Fatalf("expected playback to stop on detach")
	}
}

// --- reset & language ---

func TestReset(t *testing.T) {
	f := newFixture(t)
	f.session.InitAudio(f.sink)
	f.analyze(t)
	f.session.ToggleAudio(context.Background())

	if err := f.session.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	snap := f.session.Snapshot()
	if snap.Phase != PhaseNoImage || snap.Upload != nil || snap.Result != nil || snap.Error != nil || snap.Chat != nil {
		t.Fatalf("reset left state behind: %#v", snap)
	}
	if snap.Audio.Status != models.AudioIdle || !f.sink.last().wasStopped() {
		t.Fatalf("reset must stop audio")
	}
	if !snap.AudioReady {
		t.Fatalf("reset keeps the output context")
	}
}

func TestSetLanguage(t *testing.T) {
	f := newFixture(t)

	if err := f.session.SetLanguage(i18n.Language("fr")); !errors.Is(err, ErrInvalidLanguage) {
		t.Fatalf("expected ErrInvalidLanguage, got %v", err)
	}
	if err := f.session.SetLanguage(i18n.Bengali); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}

	f.session.Analyze(context.Background())
	snap := f.session.Snapshot()
	if snap.Language != i18n.Bengali || snap.Error.Title != i18n.T(i18n.Bengali, "errorNoImage") {
		t.Fatalf("expected bengali texts, got %#v", snap.Error)
	}
}

func TestClosedSessionRejectsOperations(t *testing.T) {
	f := newFixture(t)
	f.session.Close()

	if err := f.session.Analyze(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if f.session.InitAudio(f.sink) {
		t.Fatalf("closed session must not accept a sink")
	}
}

func TestSnapshotVersionIncreases(t *testing.T) {
	f := newFixture(t)
	first := f.session.Snapshot().Version
	f.selectImage(t)
	if f.session.Snapshot().Version <= first {
		t.Fatalf("expected version to grow")
	}
}

func TestAnalyze_BusyWhileUploading(t *testing.T) {
	f := newFixture(t)
	gate := &gatedReader{started: make(chan struct{}), release: make(chan struct{}), r: bytes.NewReader(pngImage)}

	done := make(chan error, 1)
	go func() {
		done <- f.session.SelectImage(gate, int64(len(pngImage)), "leaf.png", "image/png")
	}()
	<-gate.started

	if err := f.session.Analyze(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy during upload, got %v", err)
	}
	if snap := f.session.Snapshot(); snap.Error != nil || snap.Phase != PhaseUploading {
		t.Fatalf("upload state must be untouched, got phase=%s error=%+v", snap.Phase, snap.Error)
	}

	close(gate.release)
	if err := <-done; err != nil {
		t.Fatalf("SelectImage: %v", err)
	}
	snap := f.session.Snapshot()
	if snap.Phase != PhaseReady || snap.Error != nil {
		t.Fatalf("expected clean ready state, got phase=%s error=%+v", snap.Phase, snap.Error)
	}
	if f.diagnoser.calls != 0 {
		t.Fatalf("diagnoser must not be called during upload")
	}
}
