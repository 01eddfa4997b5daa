package roombridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

type recordingSignalHandler struct {
	offers      chan string
	answers     chan string
	candidates  chan string
	published   chan [3]string
	unpublished chan [2]string
	closedErrs  chan error
}

func newRecordingSignalHandler() *recordingSignalHandler {
	return &recordingSignalHandler{
		offers:      make(chan string, 4),
		answers:     make(chan string, 4),
		candidates:  make(chan string, 4),
		published:   make(chan [3]string, 4),
		unpublished: make(chan [2]string, 4),
		closedErrs:  make(chan error, 4),
	}
}

func (h *recordingSignalHandler) OnAnswer(sdp string) { h.answers <- sdp }
func (h *recordingSignalHandler) OnOffer(sdp string)  { h.offers <- sdp }
func (h *recordingSignalHandler) OnRemoteICECandidate(candidate, sdpMid string, sdpMLineIndex int) {
	h.candidates <- candidate
}
func (h *recordingSignalHandler) OnTrackPublished(participantID, trackID, kind string) {
	h.published <- [3]string{participantID, trackID, kind}
}
func (h *recordingSignalHandler) OnTrackUnpublished(participantID, trackID string) {
	h.unpublished <- [2]string{participantID, trackID}
}
func (h *recordingSignalHandler) OnSignalClosed(err error) { h.closedErrs <- err }

// startSignalServer runs a WebSocket server that answers the JOIN with the
// given code and message, then hands the connection to after.
func startSignalServer(t *testing.T, joinCode int, joinMessage string, after func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var join signalMessage
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		if join.Method != "JOIN" {
			t.Errorf("first message = %s, want JOIN", join.Method)
			return
		}
		code := joinCode
		conn.WriteJSON(signalMessage{Method: "JOIN_RESPONSE", Code: &code, Message: joinMessage})

		if after != nil {
			after(conn)
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testSignalLogger() logging.LeveledLogger {
	return logging.NewDefaultLoggerFactory().NewLogger("signal-test")
}

func TestSignalJoinSuccess(t *testing.T) {
	url := startSignalServer(t, 0, "", nil)
	client := newSignalClient(newRecordingSignalHandler(), testSignalLogger())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Dial(ctx, url, "token"); err != nil {
		t.Fatalf("Dial: %v", err)
	}
}

func TestSignalJoinRejectedVerbatim(t *testing.T) {
	url := startSignalServer(t, 401, "invalid access token", nil)
	client := newSignalClient(newRecordingSignalHandler(), testSignalLogger())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := client.Dial(ctx, url, "bad")
	if err == nil {
		t.Fatal("rejected join reported success")
	}
	if err.Error() != "invalid access token" {
		t.Fatalf("error = %q, want the server message verbatim", err)
	}
}

func TestSignalTrackAnnouncements(t *testing.T) {
	url := startSignalServer(t, 0, "", func(conn *websocket.Conn) {
		conn.WriteJSON(signalMessage{Method: "TRACK_PUBLISHED", ParticipantID: "alice", TrackID: "TR_1", TrackKind: "video"})
		conn.WriteJSON(signalMessage{Method: "TRACK_UNPUBLISHED", ParticipantID: "alice", TrackID: "TR_1"})
	})

	handler := newRecordingSignalHandler()
	client := newSignalClient(handler, testSignalLogger())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Dial(ctx, url, "token"); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	select {
	case got := <-handler.published:
		if got != [3]string{"alice", "TR_1", "video"} {
			t.Fatalf("published = %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("TRACK_PUBLISHED never dispatched")
	}
	select {
	case got := <-handler.unpublished:
		if got != [2]string{"alice", "TR_1"} {
			t.Fatalf("unpublished = %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("TRACK_UNPUBLISHED never dispatched")
	}
}

func TestSignalRelay(t *testing.T) {
	url := startSignalServer(t, 0, "", func(conn *websocket.Conn) {
		// Echo an answer for the client's offer, then push an ICE
		// candidate.
		var offer signalMessage
		if err := conn.ReadJSON(&offer); err != nil {
			return
		}
		if offer.Method != "OFFER" || offer.SDP != "sdp-offer" {
			return
		}
		conn.WriteJSON(signalMessage{Method: "ANSWER", SDPType: "answer", SDP: "sdp-answer"})
		idx := 0
		conn.WriteJSON(signalMessage{Method: "ICE", Candidate: "candidate:1", SDPMid: "0", SDPMLineIndex: &idx})
	})

	handler := newRecordingSignalHandler()
	client := newSignalClient(handler, testSignalLogger())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Dial(ctx, url, "token"); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	client.SendOffer("sdp-offer")

	select {
	case sdp := <-handler.answers:
		if sdp != "sdp-answer" {
			t.Fatalf("answer sdp = %q", sdp)
		}
	case <-time.After(time.Second):
		t.Fatal("answer never dispatched")
	}
	select {
	case cand := <-handler.candidates:
		if cand != "candidate:1" {
			t.Fatalf("candidate = %q", cand)
		}
	case <-time.After(time.Second):
		t.Fatal("candidate never dispatched")
	}
}

func TestSignalServerDropReported(t *testing.T) {
	url := startSignalServer(t, 0, "", func(conn *websocket.Conn) {
		conn.Close()
	})

	handler := newRecordingSignalHandler()
	client := newSignalClient(handler, testSignalLogger())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Dial(ctx, url, "token"); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	select {
	case err := <-handler.closedErrs:
		if err == nil {
			t.Fatal("server drop reported as clean close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnSignalClosed never fired")
	}
}
