package roombridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPionEngineDefaults(t *testing.T) {
	engine := NewPionEngine(PionEngineConfig{})
	if engine.config.LoggerFactory == nil {
		t.Error("LoggerFactory not defaulted")
	}
	if engine.config.ScreenShareFPS != 30 {
		t.Errorf("ScreenShareFPS = %d, want 30", engine.config.ScreenShareFPS)
	}
}

func TestPionEngineScreenShareTrack(t *testing.T) {
	engine := NewPionEngine(PionEngineConfig{})

	if _, err := engine.NewScreenShareTrack(nil); err == nil {
		t.Error("nil display accepted")
	}

	track, err := engine.NewScreenShareTrack(&Display{ID: "1", Name: "Main"})
	if err != nil {
		t.Fatalf("NewScreenShareTrack: %v", err)
	}
	defer track.Close()

	config := track.Source().Config()
	if config.Width != 1280 || config.Height != 720 {
		t.Errorf("zero-sized display not defaulted: %dx%d", config.Width, config.Height)
	}
	if track.Codec() != VideoCodecVP8 {
		t.Errorf("Codec() = %v", track.Codec())
	}
}

func TestPionSessionScheduleRuns(t *testing.T) {
	engine := NewPionEngine(PionEngineConfig{})
	session, err := engine.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer session.Close()

	ran := make(chan struct{})
	session.Schedule(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("scheduled function never ran")
	}
}

func TestPionSessionPublishRequiresConnection(t *testing.T) {
	engine := NewPionEngine(PionEngineConfig{})
	session, err := engine.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer session.Close()

	_, err = session.PublishVideoTrack(context.Background(), newTestTrack())
	if !errors.Is(err, ErrNoParticipant) {
		t.Fatalf("publish on disconnected session = %v, want ErrNoParticipant", err)
	}
}

func TestPionSessionConnectDialFailure(t *testing.T) {
	engine := NewPionEngine(PionEngineConfig{})
	session, err := engine.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := session.Connect(ctx, "ws://127.0.0.1:1/ws", "token"); err == nil {
		t.Fatal("connect to an unreachable server succeeded")
	}
}

func TestPionSessionCloseClosesEvents(t *testing.T) {
	engine := NewPionEngine(PionEngineConfig{})
	session, err := engine.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case _, ok := <-session.Events():
		if ok {
			t.Fatal("event emitted by a session that was never connected")
		}
	case <-time.After(time.Second):
		t.Fatal("events channel not closed")
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestPionSessionCloseDuringEmit(t *testing.T) {
	engine := NewPionEngine(PionEngineConfig{})
	session, err := engine.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	sess := session.(*pionSession)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range sess.Events() {
		}
	}()

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 200; j++ {
				sess.emit(SessionEvent{Kind: EventDisconnected})
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		sess.Disconnect()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		if err := sess.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	close(start)
	wg.Wait()

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("events channel not closed")
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
