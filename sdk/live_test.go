package warmline

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/warmline/warmline/pkg/core/persona"
	"github.com/warmline/warmline/pkg/gateway/live/protocol"
)

type fakeStreamSource struct {
	frames   chan []byte
	stopOnce sync.Once
	mu       sync.Mutex
	started  int
	stopped  int
}

func newFakeStreamSource() *fakeStreamSource {
	return &fakeStreamSource{frames: make(chan []byte, 16)}
}

func (s *fakeStreamSource) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	return nil
}

func (s *fakeStreamSource) Frames() <-chan []byte { return s.frames }

func (s *fakeStreamSource) Stop() {
	s.mu.Lock()
	s.stopped++
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.frames) })
}

type fakeStreamPlayer struct {
	mu      sync.Mutex
	chunks  [][]byte
	flushes int
}

func (p *fakeStreamPlayer) Enqueue(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, pcm)
	return nil
}

func (p *fakeStreamPlayer) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	p.chunks = nil
}

func (p *fakeStreamPlayer) chunkCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chunks)
}

func (p *fakeStreamPlayer) flushCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushes
}

var liveTestUpgrader = websocket.Upgrader{}

// startLiveTestServer runs handler as the gateway side of one websocket
// session and returns a client pointed at it.
func startLiveTestServer(t *testing.T, handler func(*websocket.Conn)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/live" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-live" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := liveTestUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return NewClient(WithBaseURL(srv.URL), WithToken("tok-live"))
}

// acceptHello consumes the opening frame and answers ready.
func acceptHello(t *testing.T, conn *websocket.Conn) protocol.ClientHello {
	t.Helper()
	var hello protocol.ClientHello
	if err := conn.ReadJSON(&hello); err != nil {
		t.Errorf("read hello: %v", err)
		return hello
	}
	if hello.Type != "hello" || hello.ProtocolVersion != protocol.ProtocolVersion1 {
		t.Errorf("bad hello: %+v", hello)
	}
	if err := conn.WriteJSON(protocol.NewReady("live_test")); err != nil {
		t.Errorf("write ready: %v", err)
	}
	return hello
}

func waitChunks(t *testing.T, player *fakeStreamPlayer, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if player.chunkCount() >= want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("player has %d chunks, want %d", player.chunkCount(), want)
}

func TestLiveSessionFlow(t *testing.T) {
	upAudio := make(chan []byte, 1)
	client := startLiveTestServer(t, func(conn *websocket.Conn) {
		hello := acceptHello(t, conn)
		if hello.PersonaID != "haruka" {
			t.Errorf("persona = %q", hello.PersonaID)
		}

		// Uplink: one mic slice arrives base64-encoded.
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read audio: %v", err)
			return
		}
		msg, err := protocol.DecodeClientMessage(raw)
		if err != nil {
			t.Errorf("decode audio: %v", err)
			return
		}
		audio, ok := msg.(protocol.ClientAudio)
		if !ok {
			t.Errorf("got %T, want audio", msg)
			return
		}
		pcm, _ := base64.StdEncoding.DecodeString(audio.Data)
		upAudio <- pcm

		// Downlink: a short reply that never reaches the buffer
		// threshold, then turn_complete.
		conn.WriteJSON(protocol.NewReplyText("right here with you", true))
		conn.WriteJSON(protocol.NewAudio(base64.StdEncoding.EncodeToString([]byte("reply-pcm"))))
		conn.WriteJSON(protocol.NewTurnComplete())

		// Clean close on client end.
		_, raw, err = conn.ReadMessage()
		if err != nil {
			t.Errorf("read end: %v", err)
			return
		}
		if msg, _ := protocol.DecodeClientMessage(raw); msg != (protocol.ClientEnd{Type: "end"}) {
			t.Errorf("got %v, want end", msg)
		}
		conn.WriteJSON(protocol.NewGoodbye("client_end", 3))
	})

	source := newFakeStreamSource()
	player := &fakeStreamPlayer{}
	var (
		mu        sync.Mutex
		readyID   string
		replyText string
		turnDone  bool
		goodbye   string
	)
	call, err := client.StartLive(context.Background(), source, player, LiveConfig{
		Persona:             persona.Haruka,
		PlaybackBufferBytes: 1 << 20,
	}, LiveCallbacks{
		OnReady:     func(id string) { mu.Lock(); readyID = id; mu.Unlock() },
		OnReplyText: func(text string, final bool) { mu.Lock(); replyText = text; mu.Unlock() },
		OnTurnComplete: func() {
			mu.Lock()
			turnDone = true
			mu.Unlock()
		},
		OnGoodbye: func(reason string, _ int) { mu.Lock(); goodbye = reason; mu.Unlock() },
	})
	if err != nil {
		t.Fatalf("StartLive: %v", err)
	}

	source.frames <- []byte("mic-slice")
	if got := <-upAudio; string(got) != "mic-slice" {
		t.Fatalf("uplink audio = %q", got)
	}

	// turn_complete flushes the sub-threshold buffer to the player.
	waitChunks(t, player, 1)
	player.mu.Lock()
	first := string(player.chunks[0])
	player.mu.Unlock()
	if first != "reply-pcm" {
		t.Fatalf("played %q, want reply-pcm", first)
	}

	call.End()
	select {
	case <-call.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session never finished")
	}

	mu.Lock()
	defer mu.Unlock()
	if readyID != "live_test" {
		t.Fatalf("ready session id = %q", readyID)
	}
	if replyText != "right here with you" {
		t.Fatalf("reply text = %q", replyText)
	}
	if !turnDone {
		t.Fatal("turn_complete callback never fired")
	}
	if goodbye != "client_end" {
		t.Fatalf("goodbye reason = %q", goodbye)
	}
	if gb := call.Goodbye(); gb == nil || gb.Seconds != 3 {
		t.Fatalf("goodbye frame = %+v", gb)
	}
	if err := call.Err(); err != nil {
		t.Fatalf("session error = %v", err)
	}
}

func TestLivePlaybackStartsAtThreshold(t *testing.T) {
	release := make(chan struct{})
	client := startLiveTestServer(t, func(conn *websocket.Conn) {
		acceptHello(t, conn)
		// Two chunks below threshold, a third that crosses it.
		conn.WriteJSON(protocol.NewAudio(base64.StdEncoding.EncodeToString(make([]byte, 100))))
		conn.WriteJSON(protocol.NewAudio(base64.StdEncoding.EncodeToString(make([]byte, 100))))
		conn.WriteJSON(protocol.NewAudio(base64.StdEncoding.EncodeToString(make([]byte, 100))))
		<-release
		conn.WriteJSON(protocol.NewGoodbye("client_end", 1))
	})

	source := newFakeStreamSource()
	player := &fakeStreamPlayer{}
	call, err := client.StartLive(context.Background(), source, player, LiveConfig{
		Persona:             persona.Jules,
		PlaybackBufferBytes: 250,
		SegmentTimeout:      time.Hour,
	}, LiveCallbacks{})
	if err != nil {
		t.Fatalf("StartLive: %v", err)
	}
	defer call.Close()

	// Nothing plays until the buffered bytes cross 250; then all three
	// queued chunks drain in order.
	waitChunks(t, player, 3)
	close(release)
}

func TestLiveInterruptionFlushesPlayback(t *testing.T) {
	release := make(chan struct{})
	client := startLiveTestServer(t, func(conn *websocket.Conn) {
		acceptHello(t, conn)
		conn.WriteJSON(protocol.NewAudio(base64.StdEncoding.EncodeToString(make([]byte, 300))))
		conn.WriteJSON(protocol.NewInterrupted())
		<-release
		conn.WriteJSON(protocol.NewGoodbye("client_end", 1))
	})

	source := newFakeStreamSource()
	player := &fakeStreamPlayer{}
	interrupted := make(chan struct{})
	call, err := client.StartLive(context.Background(), source, player, LiveConfig{
		Persona:             persona.Jules,
		PlaybackBufferBytes: 200,
	}, LiveCallbacks{
		OnInterrupted: func() { close(interrupted) },
	})
	if err != nil {
		t.Fatalf("StartLive: %v", err)
	}
	defer call.Close()

	select {
	case <-interrupted:
	case <-time.After(2 * time.Second):
		t.Fatal("interruption never surfaced")
	}
	if player.flushCount() == 0 {
		t.Fatal("interruption did not flush the player")
	}
	close(release)
}

func TestLiveSegmentTimeoutForcesPlayback(t *testing.T) {
	release := make(chan struct{})
	client := startLiveTestServer(t, func(conn *websocket.Conn) {
		acceptHello(t, conn)
		// A sliver of audio, then silence: no turn_complete, no more
		// chunks. Only the segment timer can unstick it.
		conn.WriteJSON(protocol.NewAudio(base64.StdEncoding.EncodeToString([]byte("sliver"))))
		<-release
		conn.WriteJSON(protocol.NewGoodbye("client_end", 1))
	})

	source := newFakeStreamSource()
	player := &fakeStreamPlayer{}
	call, err := client.StartLive(context.Background(), source, player, LiveConfig{
		Persona:             persona.Haruka,
		PlaybackBufferBytes: 1 << 20,
		SegmentTimeout:      30 * time.Millisecond,
	}, LiveCallbacks{})
	if err != nil {
		t.Fatalf("StartLive: %v", err)
	}
	defer call.Close()

	waitChunks(t, player, 1)
	close(release)
}

func TestLiveFatalErrorEndsSession(t *testing.T) {
	client := startLiveTestServer(t, func(conn *websocket.Conn) {
		acceptHello(t, conn)
		conn.WriteJSON(protocol.NewError("upstream_error", "model connection lost", true))
	})

	source := newFakeStreamSource()
	player := &fakeStreamPlayer{}
	var (
		mu    sync.Mutex
		fatal bool
	)
	call, err := client.StartLive(context.Background(), source, player, LiveConfig{
		Persona: persona.Haruka,
	}, LiveCallbacks{
		OnError: func(_ error, f bool) { mu.Lock(); fatal = f; mu.Unlock() },
	})
	if err != nil {
		t.Fatalf("StartLive: %v", err)
	}

	select {
	case <-call.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session never ended after fatal error")
	}
	mu.Lock()
	defer mu.Unlock()
	if !fatal {
		t.Fatal("error callback did not mark the error fatal")
	}
	if call.Err() == nil || !strings.Contains(call.Err().Error(), "model connection lost") {
		t.Fatalf("session error = %v", call.Err())
	}
}

func TestLiveNonWebsocketRejectionSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"too many concurrent live sessions"}}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL), WithToken("tok-live"))
	_, err := client.StartLive(context.Background(), newFakeStreamSource(), &fakeStreamPlayer{}, LiveConfig{
		Persona: persona.Haruka,
	}, LiveCallbacks{})
	if err == nil || !strings.Contains(err.Error(), "too many concurrent live sessions") {
		t.Fatalf("err = %v, want rate limit message", err)
	}
}
