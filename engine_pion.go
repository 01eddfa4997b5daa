// Production engine built on pion/webrtc with websocket signaling. All
// session state transitions funnel through a serialized ops goroutine that
// doubles as the engine main loop exposed through Session.Schedule.

package roombridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// Session state errors.
var (
	ErrSessionClosed    = errors.New("session is closed")
	ErrAlreadyConnected = errors.New("session is already connected")
	ErrNoParticipant    = errors.New("no local participant: room is not connected")
)

// PionEngineConfig configures the pion-backed engine.
type PionEngineConfig struct {
	// ICEServers used for connectivity. Empty means host candidates only.
	ICEServers []webrtc.ICEServer

	// ScreenShareFPS is the capture rate for screen-share tracks (default 30).
	ScreenShareFPS int

	// LoggerFactory for engine components (default: pion's default factory).
	LoggerFactory logging.LoggerFactory
}

// PionEngine implements Engine on pion/webrtc.
type PionEngine struct {
	config PionEngineConfig
	log    logging.LeveledLogger
}

// NewPionEngine creates an engine with the given configuration.
func NewPionEngine(config PionEngineConfig) *PionEngine {
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if config.ScreenShareFPS <= 0 {
		config.ScreenShareFPS = 30
	}
	return &PionEngine{
		config: config,
		log:    config.LoggerFactory.NewLogger("engine"),
	}
}

// NewSession creates a disconnected session.
func (e *PionEngine) NewSession() (Session, error) {
	s := &pionSession{
		engine:  e,
		log:     e.config.LoggerFactory.NewLogger("session"),
		events:  make(chan SessionEvent, 32),
		ops:     make(chan func(), 64),
		stopped: make(chan struct{}),
		remote:  make(map[string]*pionRemoteTrack),
		pubs:    make(map[*pionPublication]struct{}),
	}
	go s.run()
	return s, nil
}

// DisplaySources enumerates displays through the platform provider.
func (e *PionEngine) DisplaySources(ctx context.Context) ([]*Display, error) {
	return ListDisplays(ctx)
}

// NewScreenShareTrack wraps a display into a local video track. Capture
// starts when the track is published.
func (e *PionEngine) NewScreenShareTrack(display *Display) (*LocalVideoTrack, error) {
	if display == nil {
		return nil, fmt.Errorf("nil display")
	}
	config := SourceConfig{
		Width:      display.Width,
		Height:     display.Height,
		FPS:        e.config.ScreenShareFPS,
		Format:     PixelFormatI420,
		SourceType: SourceTypeScreen,
	}
	if config.Width <= 0 || config.Height <= 0 {
		config.Width, config.Height = 1280, 720
	}
	source, err := newScreenSource(display, config)
	if err != nil {
		return nil, fmt.Errorf("screen source for %s: %w", display.ID, err)
	}
	return NewLocalVideoTrack("screen:"+display.Name, source, VideoCodecVP8), nil
}

// pionSession is one engine-side room session.
type pionSession struct {
	engine *PionEngine
	log    logging.LeveledLogger

	events  chan SessionEvent
	ops     chan func()
	stopped chan struct{}

	// emitMu serializes emitters against Close. Emitters hold the read
	// lock for the whole send; Close takes the write lock only after
	// stopped is closed, so a parked emitter always unblocks first.
	emitMu       sync.RWMutex
	eventsClosed bool

	mu          sync.Mutex
	signal      *signalClient
	pc          *webrtc.PeerConnection
	connected   bool
	closed      bool
	remote      map[string]*pionRemoteTrack // keyed by track sid
	pubs        map[*pionPublication]struct{}
	pendingICE  []webrtc.ICECandidateInit
	connectedCh chan struct{}
	failedCh    chan struct{}
}

// run is the serialized engine main loop.
func (s *pionSession) run() {
	for {
		select {
		case fn := <-s.ops:
			fn()
		case <-s.stopped:
			// Drain whatever was already queued so scheduled detaches
			// still observe their OnClose.
			for {
				select {
				case fn := <-s.ops:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Schedule implements Session.
func (s *pionSession) Schedule(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.stopped:
	}
}

// Events implements Session.
func (s *pionSession) Events() <-chan SessionEvent { return s.events }

func (s *pionSession) emit(ev SessionEvent) {
	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.stopped:
	}
}

// Connect implements Session. It dials the signaling server, negotiates the
// peer connection, and blocks until media is flowing or ctx ends.
func (s *pionSession) Connect(ctx context.Context, url, token string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.connected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	signal := newSignalClient(s, s.engine.config.LoggerFactory.NewLogger("signal"))
	s.signal = signal
	s.connectedCh = make(chan struct{})
	s.failedCh = make(chan struct{})
	s.pendingICE = nil
	connectedCh, failedCh := s.connectedCh, s.failedCh
	s.mu.Unlock()

	if err := signal.Dial(ctx, url, token); err != nil {
		s.clearSignal(signal)
		return err
	}

	pc, err := s.newPeerConnection()
	if err != nil {
		signal.Close()
		s.clearSignal(signal)
		return fmt.Errorf("create peer connection: %w", err)
	}

	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()

	if err := s.sendOffer(); err != nil {
		s.teardown(false)
		return fmt.Errorf("negotiate: %w", err)
	}

	select {
	case <-ctx.Done():
		s.teardown(false)
		return ctx.Err()
	case <-failedCh:
		s.teardown(false)
		return fmt.Errorf("connection failed")
	case <-connectedCh:
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *pionSession) newPeerConnection() (*webrtc.PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   s.engine.config.ICEServers,
		BundlePolicy: webrtc.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, err
	}

	// Receive-only transceivers; local tracks replace them on publish.
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		idx := 0
		if init.SDPMLineIndex != nil {
			idx = int(*init.SDPMLineIndex)
		}
		mid := ""
		if init.SDPMid != nil {
			mid = *init.SDPMid
		}
		s.withSignal(func(sig *signalClient) {
			sig.SendICECandidate(init.Candidate, mid, idx)
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Debugf("peer connection state: %s", state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			s.mu.Lock()
			ch := s.connectedCh
			s.mu.Unlock()
			if ch != nil {
				select {
				case <-ch:
				default:
					close(ch)
				}
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			s.mu.Lock()
			ch := s.failedCh
			wasConnected := s.connected
			s.mu.Unlock()
			if ch != nil {
				select {
				case <-ch:
				default:
					close(ch)
				}
			}
			if wasConnected {
				go s.teardown(true)
			}
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.handleRemoteTrack(track)
	})

	return pc, nil
}

// sendOffer runs one offer/answer round, with the local side as offerer.
func (s *pionSession) sendOffer() error {
	s.mu.Lock()
	pc, sig := s.pc, s.signal
	s.mu.Unlock()
	if pc == nil || sig == nil {
		return ErrSessionClosed
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	sig.SendOffer(offer.SDP)
	return nil
}

// withSignal runs fn on the current signal client, if any.
func (s *pionSession) withSignal(fn func(*signalClient)) {
	s.mu.Lock()
	sig := s.signal
	s.mu.Unlock()
	if sig != nil {
		fn(sig)
	}
}

// clearSignal forgets sig if it is still current.
func (s *pionSession) clearSignal(sig *signalClient) {
	s.mu.Lock()
	if s.signal == sig {
		s.signal = nil
	}
	s.mu.Unlock()
}

// Disconnect implements Session. The transition is reported asynchronously
// through an EventDisconnected once teardown completes.
func (s *pionSession) Disconnect() {
	go s.teardown(true)
}

// teardown closes the peer connection and signaling link, tears down remote
// tracks and publications, and emits EventDisconnected when a connected
// session transitioned. Safe to call repeatedly.
func (s *pionSession) teardown(report bool) {
	s.mu.Lock()
	pc, sig := s.pc, s.signal
	s.pc, s.signal = nil, nil
	wasConnected := s.connected
	s.connected = false
	remote := s.remote
	s.remote = make(map[string]*pionRemoteTrack)
	pubs := s.pubs
	s.pubs = make(map[*pionPublication]struct{})
	s.mu.Unlock()

	for pub := range pubs {
		pub.stopPump()
	}
	for _, t := range remote {
		t.close()
	}
	if sig != nil {
		sig.SendLeave()
		sig.Close()
	}
	if pc != nil {
		pc.Close()
	}

	if report && wasConnected {
		s.emit(SessionEvent{Kind: EventDisconnected})
	}
}

// Close implements Session.
func (s *pionSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopped)
	s.teardown(true)

	// In-flight emitters hold emitMu.RLock and cannot stay parked now
	// that stopped is closed. Once the write lock is acquired none are
	// left inside emit, and latecomers see eventsClosed.
	s.emitMu.Lock()
	s.eventsClosed = true
	s.emitMu.Unlock()
	close(s.events)
	return nil
}

// PublishVideoTrack implements Session. The track is borrowed: the caller
// keeps ownership whatever the outcome.
func (s *pionSession) PublishVideoTrack(ctx context.Context, track *LocalVideoTrack) (Publication, error) {
	if track == nil || track.Source() == nil {
		return nil, fmt.Errorf("nil track")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if !s.connected || s.pc == nil {
		s.mu.Unlock()
		return nil, ErrNoParticipant
	}
	pc := s.pc
	s.mu.Unlock()

	codec := track.Codec()
	if codec == VideoCodecUnknown {
		codec = VideoCodecVP8
	}
	config := track.Source().Config()
	encConfig := DefaultVideoEncoderConfig(codec, config.Width, config.Height)
	if config.FPS > 0 {
		encConfig.FPS = config.FPS
	}
	encoder, err := NewEncoder(encConfig)
	if err != nil {
		return nil, err
	}

	out, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: codec.MimeType(), ClockRate: codec.ClockRate()},
		track.ID(),
		"local-"+uuid.NewString(),
	)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create local track: %w", err)
	}

	sender, err := pc.AddTrack(out)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("add track: %w", err)
	}

	if err := s.sendOffer(); err != nil {
		pc.RemoveTrack(sender)
		encoder.Close()
		return nil, fmt.Errorf("renegotiate: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	if err := track.Source().Start(pumpCtx); err != nil {
		cancel()
		pc.RemoveTrack(sender)
		encoder.Close()
		return nil, fmt.Errorf("start source: %w", err)
	}

	pub := &pionPublication{
		sid:     track.ID(),
		session: s,
		sender:  sender,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.pumpLocalTrack(pumpCtx, pub, track, encoder, out)

	s.withSignal(func(sig *signalClient) {
		sig.SendAddTrack(track.ID(), track.Label(), TrackKindVideo.String())
	})

	s.mu.Lock()
	s.pubs[pub] = struct{}{}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		s.Unpublish(pub)
		return nil, err
	}
	return pub, nil
}

// pumpLocalTrack encodes source frames and writes them to the wire until the
// publication stops.
func (s *pionSession) pumpLocalTrack(ctx context.Context, pub *pionPublication, track *LocalVideoTrack, encoder VideoEncoder, out *webrtc.TrackLocalStaticSample) {
	defer close(pub.done)
	defer encoder.Close()
	defer track.Source().Stop()

	fps := track.Source().Config().FPS
	if fps <= 0 {
		fps = 30
	}
	frameDuration := time.Second / time.Duration(fps)

	for {
		frame, err := track.Source().ReadFrame(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warnf("read frame for %s: %v", pub.sid, err)
			}
			return
		}
		encoded, err := encoder.Encode(frame)
		if err != nil {
			s.log.Warnf("encode for %s: %v", pub.sid, err)
			continue
		}
		if encoded == nil {
			continue
		}
		if err := out.WriteSample(media.Sample{Data: encoded.Data, Duration: frameDuration}); err != nil {
			s.log.Warnf("write sample for %s: %v", pub.sid, err)
			return
		}
	}
}

// Unpublish implements Session. Best-effort.
func (s *pionSession) Unpublish(p Publication) error {
	pub, ok := p.(*pionPublication)
	if !ok || pub == nil {
		return fmt.Errorf("foreign publication")
	}

	s.mu.Lock()
	_, mine := s.pubs[pub]
	delete(s.pubs, pub)
	pc := s.pc
	s.mu.Unlock()
	if !mine {
		return nil
	}

	pub.stopPump()
	s.withSignal(func(sig *signalClient) {
		sig.SendRemoveTrack(pub.sid)
	})
	if pc != nil && pub.sender != nil {
		if err := pc.RemoveTrack(pub.sender); err != nil {
			return fmt.Errorf("remove track: %w", err)
		}
	}
	return nil
}

// RemoteVideoTracks implements Session.
func (s *pionSession) RemoteVideoTracks(participantID string) []RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RemoteTrack
	for _, t := range s.remote {
		if t.publisherID == participantID && t.kind == TrackKindVideo {
			out = append(out, t)
		}
	}
	return out
}

// handleRemoteTrack wires a newly received pion track and reports the
// subscription. The publisher identity rides on the track's stream id; the
// track id is its session id.
func (s *pionSession) handleRemoteTrack(tr *webrtc.TrackRemote) {
	kind := TrackKindUnknown
	switch tr.Kind() {
	case webrtc.RTPCodecTypeVideo:
		kind = TrackKindVideo
	case webrtc.RTPCodecTypeAudio:
		kind = TrackKindAudio
	}

	t := &pionRemoteTrack{
		session:     s,
		track:       tr,
		sid:         tr.ID(),
		publisherID: tr.StreamID(),
		kind:        kind,
	}

	s.mu.Lock()
	s.remote[t.sid] = t
	s.mu.Unlock()

	go t.readLoop()

	s.emit(SessionEvent{
		Kind:        EventTrackSubscribed,
		PublisherID: t.publisherID,
		TrackID:     t.sid,
		TrackKind:   kind,
		Track:       t,
	})
}

// removeRemoteTrack tears one remote track down and reports the
// unsubscription.
func (s *pionSession) removeRemoteTrack(sid string) {
	s.mu.Lock()
	t := s.remote[sid]
	delete(s.remote, sid)
	s.mu.Unlock()
	if t == nil {
		return
	}
	t.close()
	s.emit(SessionEvent{
		Kind:        EventTrackUnsubscribed,
		PublisherID: t.publisherID,
		TrackID:     t.sid,
		TrackKind:   t.kind,
	})
}

// signalHandler implementation. Callbacks arrive on the signal read loop.

func (s *pionSession) OnOffer(sdp string) {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: sdp,
	}); err != nil {
		s.log.Warnf("set remote offer: %v", err)
		return
	}
	s.flushPendingICE(pc)
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		s.log.Warnf("create answer: %v", err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		s.log.Warnf("set local answer: %v", err)
		return
	}
	s.withSignal(func(sig *signalClient) {
		sig.SendAnswer(answer.SDP)
	})
}

func (s *pionSession) OnAnswer(sdp string) {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: sdp,
	}); err != nil {
		s.log.Warnf("set remote answer: %v", err)
		return
	}
	s.flushPendingICE(pc)
}

func (s *pionSession) OnRemoteICECandidate(candidate, sdpMid string, sdpMLineIndex int) {
	idx := uint16(sdpMLineIndex)
	init := webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        &sdpMid,
		SDPMLineIndex: &idx,
	}

	s.mu.Lock()
	pc := s.pc
	if pc == nil || pc.RemoteDescription() == nil {
		s.pendingICE = append(s.pendingICE, init)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := pc.AddICECandidate(init); err != nil {
		s.log.Warnf("add ice candidate: %v", err)
	}
}

func (s *pionSession) flushPendingICE(pc *webrtc.PeerConnection) {
	s.mu.Lock()
	pending := s.pendingICE
	s.pendingICE = nil
	s.mu.Unlock()
	for _, init := range pending {
		if err := pc.AddICECandidate(init); err != nil {
			s.log.Warnf("add pending ice candidate: %v", err)
		}
	}
}

func (s *pionSession) OnTrackPublished(participantID, trackID, kind string) {
	// Media arrival (OnTrack) is authoritative for subscriptions; the
	// announcement is informational.
	s.log.Debugf("track published: participant=%s track=%s kind=%s", participantID, trackID, kind)
}

func (s *pionSession) OnTrackUnpublished(participantID, trackID string) {
	s.removeRemoteTrack(trackID)
}

func (s *pionSession) OnSignalClosed(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	wasConnected := s.connected
	s.mu.Unlock()
	if wasConnected {
		go s.teardown(true)
	}
}

// pionPublication records one outgoing track.
type pionPublication struct {
	sid     string
	session *pionSession
	sender  *webrtc.RTPSender
	cancel  context.CancelFunc
	done    chan struct{}

	stopOnce sync.Once
}

// SID implements Publication.
func (p *pionPublication) SID() string { return p.sid }

func (p *pionPublication) stopPump() {
	p.stopOnce.Do(func() {
		p.cancel()
		<-p.done
	})
}

// pionRemoteTrack adapts one webrtc.TrackRemote to the RemoteTrack boundary.
type pionRemoteTrack struct {
	session     *pionSession
	track       *webrtc.TrackRemote
	sid         string
	publisherID string
	kind        TrackKind

	mu     sync.Mutex
	sinks  []FrameSink
	closed bool
}

// SID implements RemoteTrack.
func (t *pionRemoteTrack) SID() string { return t.sid }

// PublisherID implements RemoteTrack.
func (t *pionRemoteTrack) PublisherID() string { return t.publisherID }

// Kind implements RemoteTrack.
func (t *pionRemoteTrack) Kind() TrackKind { return t.kind }

// AddSink implements RemoteTrack. Adding a sink to a torn-down track closes
// the sink immediately so its teardown signal still fires.
func (t *pionRemoteTrack) AddSink(s FrameSink) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		s.OnClose()
		return
	}
	t.sinks = append(t.sinks, s)
	t.mu.Unlock()
}

// RemoveSink implements RemoteTrack. Idempotent; the sink's OnClose fires
// once if it was attached.
func (t *pionRemoteTrack) RemoveSink(s FrameSink) {
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

// close tears down all sinks. Called on track teardown.
func (t *pionRemoteTrack) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	sinks := t.sinks
	t.sinks = nil
	t.mu.Unlock()
	for _, s := range sinks {
		s.OnClose()
	}
}

// readLoop drains RTP, reassembles access units, decodes, and fans frames
// out to the attached sinks. Runs on its own goroutine per track; frame
// delivery is synchronous from here.
func (t *pionRemoteTrack) readLoop() {
	codec := CodecFromMimeType(t.track.Codec().MimeType)

	var (
		depacketizer *videoDepacketizer
		decoder      VideoDecoder
	)
	if t.kind == TrackKindVideo && codec != VideoCodecUnknown {
		var err error
		if depacketizer, err = newVideoDepacketizer(codec); err != nil {
			t.session.log.Debugf("track %s: %v", t.sid, err)
		}
		if decoder, err = NewDecoder(codec); err != nil {
			// No decoder registered: keep draining RTP but deliver nothing.
			t.session.log.Debugf("track %s: %v", t.sid, err)
		}
	}
	if decoder != nil {
		defer decoder.Close()
	}

	for {
		pkt, _, err := t.track.ReadRTP()
		if err != nil {
			t.close()
			return
		}
		if depacketizer == nil || decoder == nil {
			continue
		}
		unit, err := depacketizer.Push(pkt)
		if err != nil || unit == nil {
			continue
		}
		frame, err := decoder.Decode(unit.Data)
		if err != nil {
			t.session.log.Warnf("decode %s: %v", t.sid, err)
			continue
		}
		if frame == nil {
			continue
		}
		t.deliver(frame)
	}
}

// deliver pushes one frame to every sink. A sink returning false is
// scheduled for removal on the session main loop; it receives no further
// frames in the meantime (the sink enforces that itself).
func (t *pionRemoteTrack) deliver(frame *VideoFrame) {
	t.mu.Lock()
	sinks := make([]FrameSink, len(t.sinks))
	copy(sinks, t.sinks)
	t.mu.Unlock()

	for _, s := range sinks {
		if !s.OnFrame(frame) {
			sink := s
			t.session.Schedule(func() {
				t.RemoveSink(sink)
			})
		}
	}
}
