// WebSocket signaling client for the pion engine. The wire protocol is a
// flat JSON envelope: JOIN authenticates with the room token, the server
// relays SDP/ICE between the client and the media node, and TRACK_* messages
// announce remote publications.

package roombridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

const signalPingInterval = 15 * time.Second

// signalMessage is the generic WebSocket message envelope.
type signalMessage struct {
	Method        string `json:"method"`
	Code          *int   `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
	Token         string `json:"token,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	TrackID       string `json:"trackId,omitempty"`
	TrackKind     string `json:"trackKind,omitempty"`
	TrackLabel    string `json:"trackLabel,omitempty"`
	SDPType       string `json:"sdpType,omitempty"`
	SDP           string `json:"sdp,omitempty"`
	Candidate     string `json:"candidate,omitempty"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex *int   `json:"sdpMLineIndex,omitempty"`
}

// signalHandler receives relayed messages from the read loop.
type signalHandler interface {
	OnAnswer(sdp string)
	OnOffer(sdp string)
	OnRemoteICECandidate(candidate, sdpMid string, sdpMLineIndex int)
	OnTrackPublished(participantID, trackID, kind string)
	OnTrackUnpublished(participantID, trackID string)
	OnSignalClosed(err error)
}

// signalClient manages the WebSocket connection to the signaling server.
type signalClient struct {
	handler signalHandler
	log     logging.LeveledLogger

	mu     sync.Mutex
	conn   *websocket.Conn
	joinCh chan signalMessage
	closed chan struct{}
}

func newSignalClient(handler signalHandler, log logging.LeveledLogger) *signalClient {
	return &signalClient{
		handler: handler,
		log:     log,
		joinCh:  make(chan signalMessage, 1),
		closed:  make(chan struct{}),
	}
}

// Dial connects to the signaling server, authenticates with token, and
// starts the read and ping loops. It blocks until the server accepts or
// rejects the join, or ctx ends.
func (c *signalClient) Dial(ctx context.Context, url, token string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop()
	go c.pingLoop()

	c.sendJSON(signalMessage{Method: "JOIN", Token: token})

	select {
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	case <-c.closed:
		return fmt.Errorf("signaling connection closed during join")
	case resp := <-c.joinCh:
		if resp.Code != nil && *resp.Code != 0 {
			c.Close()
			if resp.Message != "" {
				return fmt.Errorf("%s", resp.Message)
			}
			return fmt.Errorf("join rejected: code %d", *resp.Code)
		}
		return nil
	}
}

// Close shuts down the WebSocket connection. Safe to call multiple times.
func (c *signalClient) Close() {
	select {
	case <-c.closed:
		return
	default:
		close(c.closed)
	}
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
}

func (c *signalClient) sendJSON(msg signalMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Errorf("marshal %s: %v", msg.Method, err)
		return
	}
	c.log.Tracef(">>> %s", string(data))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Warnf("write %s: %v", msg.Method, err)
	}
}

// SendOffer relays a local SDP offer.
func (c *signalClient) SendOffer(sdp string) {
	c.sendJSON(signalMessage{Method: "OFFER", SDPType: "offer", SDP: sdp})
}

// SendAnswer relays a local SDP answer.
func (c *signalClient) SendAnswer(sdp string) {
	c.sendJSON(signalMessage{Method: "ANSWER", SDPType: "answer", SDP: sdp})
}

// SendICECandidate relays a local ICE candidate.
func (c *signalClient) SendICECandidate(candidate, sdpMid string, sdpMLineIndex int) {
	c.sendJSON(signalMessage{
		Method:        "ICE",
		Candidate:     candidate,
		SDPMid:        sdpMid,
		SDPMLineIndex: &sdpMLineIndex,
	})
}

// SendAddTrack announces a local track publication.
func (c *signalClient) SendAddTrack(trackID, label, kind string) {
	c.sendJSON(signalMessage{
		Method:     "ADD_TRACK",
		TrackID:    trackID,
		TrackLabel: label,
		TrackKind:  kind,
	})
}

// SendRemoveTrack withdraws a local track publication.
func (c *signalClient) SendRemoveTrack(trackID string) {
	c.sendJSON(signalMessage{Method: "REMOVE_TRACK", TrackID: trackID})
}

// SendLeave announces a clean departure before closing.
func (c *signalClient) SendLeave() {
	c.sendJSON(signalMessage{Method: "LEAVE"})
}

func (c *signalClient) readLoop() {
	var loopErr error
	defer func() {
		c.Close()
		c.handler.OnSignalClosed(loopErr)
	}()

	for {
		select {
		case <-c.closed:
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				loopErr = err
				c.log.Warnf("read: %v", err)
			}
			return
		}

		c.log.Tracef("<<< %s", string(data))

		var msg signalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warnf("unmarshal: %v", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *signalClient) dispatch(msg signalMessage) {
	switch msg.Method {
	case "JOIN_RESPONSE":
		select {
		case c.joinCh <- msg:
		default:
		}

	case "OFFER":
		c.handler.OnOffer(msg.SDP)

	case "ANSWER":
		c.handler.OnAnswer(msg.SDP)

	case "ICE":
		idx := 0
		if msg.SDPMLineIndex != nil {
			idx = *msg.SDPMLineIndex
		}
		c.handler.OnRemoteICECandidate(msg.Candidate, msg.SDPMid, idx)

	case "TRACK_PUBLISHED":
		c.handler.OnTrackPublished(msg.ParticipantID, msg.TrackID, msg.TrackKind)

	case "TRACK_UNPUBLISHED":
		c.handler.OnTrackUnpublished(msg.ParticipantID, msg.TrackID)

	case "ADD_TRACK_RESPONSE", "REMOVE_TRACK_RESPONSE", "LEAVE_RESPONSE":
		// no-op

	default:
		c.log.Debugf("unhandled method: %s", msg.Method)
	}
}

func (c *signalClient) pingLoop() {
	ticker := time.NewTicker(signalPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			var err error
			if conn != nil {
				err = conn.WriteControl(
					websocket.PingMessage,
					[]byte{},
					time.Now().Add(5*time.Second),
				)
			}
			c.mu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.log.Warnf("ping: %v", err)
				}
				return
			}
		}
	}
}
