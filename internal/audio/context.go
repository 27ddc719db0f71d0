package audio

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrContextNotReady = errors.New("audio: output context not initialized")
	ErrContextClosed   = errors.New("audio: output context disposed")
)

// Source is a scheduled buffer. Done is closed when playback completes or is stopped.
type Source interface {
	Stop()
	Done() <-chan struct{}
}

// Sink renders decoded buffers on the playback platform.
type Sink interface {
	Schedule(buf *Buffer) (Source, error)
}

type contextState int

const (
	stateUninitialized contextState = iota
	stateReady
	stateDisposed
)

// Context is the shared output context of one client. It only becomes usable after
// the client performed a gesture (Init) and keeps at most one source registered.
type Context struct {
	mu      sync.Mutex
	state   contextState
	sink    Sink
	current Source
}

func NewContext() *Context {
	return &Context{}
}

// Init attaches the sink. It reports false when the context was already ready or disposed.
func (c *Context) Init(sink Sink) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateUninitialized || sink == nil {
		return false
	}
	c.sink = sink
	c.state = stateReady
	return true
}

func (c *Context) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateReady
}

// Play schedules buf, hard-stopping any source that is still registered.
func (c *Context) Play(buf *Buffer) (Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateUninitialized:
		return nil, ErrContextNotReady
	case stateDisposed:
		return nil, ErrContextClosed
	}

	if c.current != nil {
		c.current.Stop()
		c.current = nil
	}

	src, err := c.sink.Schedule(buf)
	if err != nil {
		return nil, err
	}
	c.current = src
	return src, nil
}

// Stop hard-stops the registered source, if any.
func (c *Context) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Stop()
		c.current = nil
	}
}

// Release unregisters src after it finished on its own.
func (c *Context) Release(src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == src {
		c.current = nil
	}
}

// Detach drops the sink and returns to the uninitialized state; a new gesture is
// needed before the next Play.
func (c *Context) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Stop()
		c.current = nil
	}
	if c.state == stateReady {
		c.state = stateUninitialized
	}
	c.sink = nil
}

// Close disposes the context for good.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Stop()
		c.current = nil
	}
	c.sink = nil
	c.state = stateDisposed
}

// TimedSource completes after a fixed duration unless stopped first.
type TimedSource struct {
	once   sync.Once
	done   chan struct{}
	timer  *time.Timer
	onStop func()
}

// NewTimedSource starts the completion timer. onStop runs only on an explicit Stop.
func NewTimedSource(d time.Duration, onStop func()) *TimedSource {
	s := &TimedSource{
		done:   make(chan struct{}),
		onStop: onStop,
	}
	s.timer = time.AfterFunc(d, s.finish)
	return s
}

func (s *TimedSource) finish() {
	s.once.Do(func() { close(s.done) })
}

func (s *TimedSource) Stop() {
	if !s.timer.Stop() {
		// already completed or completing
		return
	}
	if s.onStop != nil {
		s.onStop()
	}
	s.finish()
}

func (s *TimedSource) Done() <-chan struct{} {
	return s.done
}
