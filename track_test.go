package roombridge

import (
	"context"
	"testing"
	"time"
)

func TestLocalVideoTrackIdentity(t *testing.T) {
	first := newTestTrack()
	second := newTestTrack()
	defer first.Close()
	defer second.Close()

	if first.ID() == "" || first.ID() == second.ID() {
		t.Errorf("track ids not unique: %q vs %q", first.ID(), second.ID())
	}
	if first.Label() != "test" {
		t.Errorf("Label() = %q", first.Label())
	}
	if first.Codec() != VideoCodecVP8 {
		t.Errorf("Codec() = %v", first.Codec())
	}
	if first.Source() == nil {
		t.Error("Source() = nil")
	}
}

func TestRemoteVideoTrackFramesChannel(t *testing.T) {
	track := &mockRemoteTrack{sid: "TR_v", publisher: "alice", kind: TrackKindVideo}
	sess := newMockSession()
	remote := newRemoteVideoTrack(track, sess)

	if remote.SID() != "TR_v" || remote.PublisherID() != "alice" {
		t.Fatalf("identity = %s/%s", remote.SID(), remote.PublisherID())
	}

	ctx, cancel := context.WithCancel(context.Background())
	frames, err := remote.Frames(ctx, 4)
	if err != nil {
		t.Fatalf("Frames: %v", err)
	}

	src := NewI420Frame(64, 64)
	src.Data[0][0] = 9
	track.deliver(src)

	select {
	case frame := <-frames:
		if frame.Data[0][0] != 9 {
			t.Fatal("frame contents lost")
		}
		// The channel frame must be a copy, safe to keep after delivery.
		src.Data[0][0] = 1
		if frame.Data[0][0] != 9 {
			t.Fatal("channel frame shares memory with the delivery frame")
		}
	case <-time.After(time.Second):
		t.Fatal("frame never arrived")
	}

	// Cancelling the context detaches the internal renderer and closes
	// the channel.
	cancel()
	track.deliver(src)
	sess.runOps()

	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("channel never closed after cancel")
		}
	}
}

func TestRemoteVideoTrackSingleRenderer(t *testing.T) {
	track := &mockRemoteTrack{sid: "TR_v", kind: TrackKindVideo}
	sess := newMockSession()
	remote := newRemoteVideoTrack(track, sess)

	r := NewVideoRenderer(nil, nil)
	if err := remote.AddRenderer(r); err != nil {
		t.Fatalf("AddRenderer: %v", err)
	}
	if err := remote.AddRenderer(r); err != ErrRendererAttached {
		t.Fatalf("second AddRenderer = %v, want ErrRendererAttached", err)
	}
	if track.sinkCount() != 1 {
		t.Fatalf("sinkCount = %d, want 1", track.sinkCount())
	}
}
