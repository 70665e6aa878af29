package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestService runs handler for each websocket connection and
// returns the ws:// URL.
func newTestService(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// expectStart consumes the buffered start control every session opens with.
func expectStart(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var msg ClientMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Errorf("reading start control: %v", err)
		return
	}
	if msg.Type != TypeStart {
		t.Errorf("first message type = %q, want %q", msg.Type, TypeStart)
	}
}

// linger keeps the server side open until the client disconnects.
func linger(conn *websocket.Conn) {
	var msg ClientMessage
	for {
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
	}
}

func nextEvent(t *testing.T, st *Stream) Event {
	t.Helper()
	select {
	case ev, ok := <-st.Events():
		if !ok {
			t.Fatal("events channel closed early")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func waitClosed(t *testing.T, st *Stream) []Event {
	t.Helper()
	var evs []Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-st.Events():
			if !ok {
				return evs
			}
			evs = append(evs, ev)
		case <-deadline:
			t.Fatal("events channel never closed")
		}
	}
}

func TestConnectSendsBufferedStart(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		expectStart(t, conn)
		conn.WriteJSON(ServerMessage{Type: TypeStatus, Status: StatusConnected})
		linger(conn)
	})

	st := NewStream(Config{URL: url, Logger: testLogger()})
	if got := st.State(); got != StateDisconnected {
		t.Fatalf("initial state = %s, want disconnected", got)
	}
	if err := st.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer st.Close()

	if got := st.State(); got != StateOpen {
		t.Fatalf("state after connect = %s, want open", got)
	}
	if ev := nextEvent(t, st); ev.Status != StatusConnected {
		t.Errorf("first event = %+v, want status %q", ev, StatusConnected)
	}
}

func TestTranscriptionEventsCarrySequence(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		expectStart(t, conn)
		conn.WriteJSON(ServerMessage{Type: TypeTranscription, Text: "partial words"})
		conn.WriteJSON(ServerMessage{Type: TypeTranscription, Text: "partial words done.", IsFinal: true})
		linger(conn)
	})

	st := NewStream(Config{URL: url, Logger: testLogger()})
	if err := st.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer st.Close()

	first := nextEvent(t, st)
	if first.Fragment == nil || first.Fragment.Text != "partial words" || first.Fragment.Final {
		t.Fatalf("first event = %+v, want interim fragment", first)
	}
	if first.Fragment.Seq != 1 {
		t.Errorf("first fragment seq = %d, want 1", first.Fragment.Seq)
	}

	second := nextEvent(t, st)
	if second.Fragment == nil || !second.Fragment.Final {
		t.Fatalf("second event = %+v, want final fragment", second)
	}
	if second.Fragment.Seq != 2 {
		t.Errorf("second fragment seq = %d, want 2", second.Fragment.Seq)
	}
}

func TestSendEncodesAudioAsBase64(t *testing.T) {
	payload := make(chan []byte, 1)
	url := newTestService(t, func(conn *websocket.Conn) {
		expectStart(t, conn)
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Errorf("reading audio frame: %v", err)
			return
		}
		if msg.Type != TypeAudio {
			t.Errorf("message type = %q, want %q", msg.Type, TypeAudio)
		}
		raw, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			t.Errorf("audio payload not base64: %v", err)
		}
		payload <- raw
		linger(conn)
	})

	st := NewStream(Config{URL: url, Logger: testLogger()})
	if err := st.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer st.Close()

	chunk := []byte{0x01, 0x02, 0x03, 0x04}
	if err := st.Send(chunk); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case got := <-payload:
		if string(got) != string(chunk) {
			t.Errorf("decoded payload = %v, want %v", got, chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the audio frame")
	}
}

func TestStopDrainsTrailingEvents(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		expectStart(t, conn)
		var msg ClientMessage
		for {
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == TypeStop {
				conn.WriteJSON(ServerMessage{Type: TypeTranscription, Text: "trailing words.", IsFinal: true})
				conn.WriteJSON(ServerMessage{Type: TypeStatus, Status: StatusStopped})
				return
			}
		}
	})

	st := NewStream(Config{URL: url, StopGrace: 300 * time.Millisecond, Logger: testLogger()})
	if err := st.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := st.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := st.State(); got != StateClosed {
		t.Errorf("state after stop = %s, want closed", got)
	}

	evs := waitClosed(t, st)
	var sawTrailing, sawStopped bool
	for _, ev := range evs {
		if ev.Fragment != nil && ev.Fragment.Text == "trailing words." {
			sawTrailing = true
		}
		if ev.Status == StatusStopped {
			sawStopped = true
		}
	}
	if !sawTrailing {
		t.Errorf("trailing fragment lost during grace period: %+v", evs)
	}
	if !sawStopped {
		t.Errorf("stopped status lost during grace period: %+v", evs)
	}
}

func TestStopIdempotent(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		expectStart(t, conn)
		linger(conn)
	})

	st := NewStream(Config{URL: url, StopGrace: 50 * time.Millisecond, Logger: testLogger()})
	if err := st.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := st.Stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := st.Stop(); err != nil {
		t.Errorf("second stop: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("close after stop: %v", err)
	}
}

func TestServerErrorEndsStream(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		expectStart(t, conn)
		conn.WriteJSON(ServerMessage{Type: TypeError, Message: "quota exceeded"})
		linger(conn)
	})

	st := NewStream(Config{URL: url, Logger: testLogger()})
	if err := st.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	evs := waitClosed(t, st)
	if len(evs) == 0 || evs[len(evs)-1].Err == nil {
		t.Fatalf("no terminal error event: %+v", evs)
	}
	terr := evs[len(evs)-1].Err
	if terr.Kind != KindServer {
		t.Errorf("error kind = %s, want server", terr.Kind)
	}
	if !strings.Contains(terr.Error(), "quota exceeded") {
		t.Errorf("error text %q lacks server message", terr.Error())
	}
	if got := st.State(); got != StateErrored {
		t.Errorf("state = %s, want errored", got)
	}
}

func TestMalformedMessageIsProtocolError(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		expectStart(t, conn)
		conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		linger(conn)
	})

	st := NewStream(Config{URL: url, Logger: testLogger()})
	if err := st.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	evs := waitClosed(t, st)
	if len(evs) == 0 || evs[len(evs)-1].Err == nil {
		t.Fatalf("no terminal error event: %+v", evs)
	}
	if kind := evs[len(evs)-1].Err.Kind; kind != KindProtocol {
		t.Errorf("error kind = %s, want protocol", kind)
	}
}

func TestUnexpectedTypeIsProtocolError(t *testing.T) {
	url := newTestService(t, func(conn *websocket.Conn) {
		expectStart(t, conn)
		conn.WriteJSON(ServerMessage{Type: "bogus"})
		linger(conn)
	})

	st := NewStream(Config{URL: url, Logger: testLogger()})
	if err := st.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	evs := waitClosed(t, st)
	if len(evs) == 0 || evs[len(evs)-1].Err == nil {
		t.Fatalf("no terminal error event: %+v", evs)
	}
	if kind := evs[len(evs)-1].Err.Kind; kind != KindProtocol {
		t.Errorf("error kind = %s, want protocol", kind)
	}
}

func TestDialFailureIsConnectionError(t *testing.T) {
	st := NewStream(Config{URL: "ws://127.0.0.1:1", ConnectTimeout: time.Second, Logger: testLogger()})
	err := st.Connect(context.Background())
	if err == nil {
		t.Fatal("connect succeeded against a closed port")
	}
	var terr *Error
	if !errors.As(err, &terr) || terr.Kind != KindConnection {
		t.Fatalf("error = %v, want connection-kind transport error", err)
	}
	if got := st.State(); got != StateErrored {
		t.Errorf("state = %s, want errored", got)
	}
	waitClosed(t, st)
}

func TestConnectTimesOutOnSilentPeer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			// hold the connection open without answering the handshake
			defer conn.Close()
		}
	}()

	st := NewStream(Config{
		URL:            "ws://" + ln.Addr().String(),
		ConnectTimeout: 200 * time.Millisecond,
		Logger:         testLogger(),
	})
	start := time.Now()
	err = st.Connect(context.Background())
	if err == nil {
		t.Fatal("connect succeeded against a silent peer")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("connect blocked %v, want prompt timeout", elapsed)
	}
	if got := st.State(); got != StateErrored {
		t.Errorf("state = %s, want errored", got)
	}
}

func TestSendBeforeConnect(t *testing.T) {
	st := NewStream(Config{URL: "ws://unused", Logger: testLogger()})
	if err := st.Send([]byte{1}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("send error = %v, want ErrNotOpen", err)
	}
}

func TestCloseBeforeConnect(t *testing.T) {
	st := NewStream(Config{URL: "ws://unused", Logger: testLogger()})
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := st.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
	// channel closes so consumers never hang
	waitClosed(t, st)
}
