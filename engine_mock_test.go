package roombridge

import (
	"context"
	"fmt"
	"sync"
)

// mockRemoteTrack is a hand-rolled RemoteTrack with inline frame delivery.
type mockRemoteTrack struct {
	sid       string
	publisher string
	kind      TrackKind

	mu     sync.Mutex
	sinks  []FrameSink
	closed bool
}

func (t *mockRemoteTrack) SID() string         { return t.sid }
func (t *mockRemoteTrack) PublisherID() string { return t.publisher }
func (t *mockRemoteTrack) Kind() TrackKind     { return t.kind }

func (t *mockRemoteTrack) AddSink(s FrameSink) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		s.OnClose()
		return
	}
	t.sinks = append(t.sinks, s)
	t.mu.Unlock()
}

func (t *mockRemoteTrack) RemoveSink(s FrameSink) {
	t.mu.Lock()
	removed := false
	for i, existing := range t.sinks {
		if existing == s {
			t.sinks = append(t.sinks[:i], t.sinks[i+1:]...)
			removed = true
			break
		}
	}
	t.mu.Unlock()
	if removed {
		s.OnClose()
	}
}

// deliver pushes one frame to every sink, the way an engine delivery
// goroutine would.
func (t *mockRemoteTrack) deliver(f *VideoFrame) {
	t.mu.Lock()
	sinks := append([]FrameSink(nil), t.sinks...)
	t.mu.Unlock()
	for _, s := range sinks {
		s.OnFrame(f)
	}
}

func (t *mockRemoteTrack) teardown() {
	t.mu.Lock()
	t.closed = true
	sinks := t.sinks
	t.sinks = nil
	t.mu.Unlock()
	for _, s := range sinks {
		s.OnClose()
	}
}

func (t *mockRemoteTrack) sinkCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sinks)
}

type mockPublication struct{ sid string }

func (p *mockPublication) SID() string { return p.sid }

// mockSession scripts Session behavior. Scheduled functions queue up until
// the test pumps them with runOps, mimicking an engine main loop.
type mockSession struct {
	mu sync.Mutex

	connectErrs  []error // popped per Connect call; nil entry means success
	connectCalls int
	blockConnect bool

	publishErr  error
	published   []*LocalVideoTrack
	unpublished []Publication

	remote map[string][]RemoteTrack

	events chan SessionEvent
	ops    []func()
	closed bool
}

func newMockSession() *mockSession {
	return &mockSession{
		events: make(chan SessionEvent, 16),
		remote: make(map[string][]RemoteTrack),
	}
}

func (s *mockSession) Connect(ctx context.Context, url, token string) error {
	s.mu.Lock()
	s.connectCalls++
	var err error
	if len(s.connectErrs) > 0 {
		err = s.connectErrs[0]
		s.connectErrs = s.connectErrs[1:]
	}
	block := s.blockConnect
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (s *mockSession) Disconnect() {
	s.emit(SessionEvent{Kind: EventDisconnected})
}

func (s *mockSession) emit(ev SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

func (s *mockSession) PublishVideoTrack(ctx context.Context, track *LocalVideoTrack) (Publication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return nil, s.publishErr
	}
	s.published = append(s.published, track)
	return &mockPublication{sid: fmt.Sprintf("PUB_%d", len(s.published))}, nil
}

func (s *mockSession) Unpublish(pub Publication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unpublished = append(s.unpublished, pub)
	return nil
}

func (s *mockSession) RemoteVideoTracks(participantID string) []RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RemoteTrack(nil), s.remote[participantID]...)
}

func (s *mockSession) Events() <-chan SessionEvent { return s.events }

func (s *mockSession) Schedule(fn func()) {
	s.mu.Lock()
	s.ops = append(s.ops, fn)
	s.mu.Unlock()
}

// runOps drains the scheduled queue, including functions scheduled by the
// ones it runs.
func (s *mockSession) runOps() {
	for {
		s.mu.Lock()
		if len(s.ops) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.ops[0]
		s.ops = s.ops[1:]
		s.mu.Unlock()
		fn()
	}
}

func (s *mockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

type mockEngine struct {
	session  *mockSession
	displays []*Display
}

func (e *mockEngine) NewSession() (Session, error) { return e.session, nil }

func (e *mockEngine) DisplaySources(ctx context.Context) ([]*Display, error) {
	return e.displays, nil
}

func (e *mockEngine) NewScreenShareTrack(display *Display) (*LocalVideoTrack, error) {
	source := NewTestPatternSource(TestPatternConfig{
		Width:   display.Width,
		Height:  display.Height,
		FPS:     5,
		Pattern: PatternMovingBox,
	})
	return NewLocalVideoTrack("screen:"+display.Name, source, VideoCodecVP8), nil
}

func newTestTrack() *LocalVideoTrack {
	source := NewTestPatternSource(TestPatternConfig{Width: 64, Height: 64, FPS: 5})
	return NewLocalVideoTrack("test", source, VideoCodecVP8)
}
