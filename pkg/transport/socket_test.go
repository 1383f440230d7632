package transport

import (
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"simgym/pkg/protocol"
)

// dialAndAccept wires a test peer into the socket and returns its side of
// the connection.
func dialAndAccept(t *testing.T, s *Socket) net.Conn {
	t.Helper()

	dialed := make(chan net.Conn, 1)
	go func() {
		conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port())))
		if err != nil {
			dialed <- nil
			return
		}
		dialed <- conn
	}()

	if err := s.Accept(5 * time.Second); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	conn := <-dialed
	if conn == nil {
		t.Fatal("test peer failed to dial")
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func listen(t *testing.T) *Socket {
	t.Helper()
	s, err := Listen(0, zerolog.Nop())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReceiveReassemblesPartialArrivals(t *testing.T) {
	s := listen(t)
	peer := dialAndAccept(t, s)

	frame := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	go func() {
		// Dribble the frame in three writes.
		peer.Write(frame[:3])
		time.Sleep(10 * time.Millisecond)
		peer.Write(frame[3:5])
		time.Sleep(10 * time.Millisecond)
		peer.Write(frame[5:])
	}()

	got, err := s.Receive(len(frame))
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(got) != string(frame) {
		t.Fatalf("got %v, want %v", got, frame)
	}
}

func TestReceivePreservesFrameOrder(t *testing.T) {
	s := listen(t)
	peer := dialAndAccept(t, s)

	first := []byte{1, 1, 1, 1}
	second := []byte{2, 2, 2, 2}
	if _, err := peer.Write(append(append([]byte{}, first...), second...)); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	got, err := s.Receive(4)
	if err != nil {
		t.Fatalf("first Receive: %v", err)
	}
	if string(got) != string(first) {
		t.Fatalf("first frame = %v, want %v", got, first)
	}
	got, err = s.Receive(4)
	if err != nil {
		t.Fatalf("second Receive: %v", err)
	}
	if string(got) != string(second) {
		t.Fatalf("second frame = %v, want %v", got, second)
	}
}

func TestReceiveCleanEOFIsSentinel(t *testing.T) {
	s := listen(t)
	peer := dialAndAccept(t, s)

	peer.Close()

	got, err := s.Receive(8)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got != nil {
		t.Fatalf("got %v, want empty sentinel payload", got)
	}
}

func TestReceiveMidFrameEOFIsFramingError(t *testing.T) {
	s := listen(t)
	peer := dialAndAccept(t, s)

	if _, err := peer.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	peer.Close()

	if _, err := s.Receive(8); !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("got %v, want ErrFraming", err)
	}
}

func TestAcceptTimeout(t *testing.T) {
	s := listen(t)

	start := time.Now()
	err := s.Accept(50 * time.Millisecond)
	if !errors.Is(err, ErrAcceptTimeout) {
		t.Fatalf("got %v, want ErrAcceptTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Accept blocked %s past its timeout", elapsed)
	}
}

func TestSendBeforeAccept(t *testing.T) {
	s := listen(t)

	if err := s.Send([]byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
	if _, err := s.Receive(1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := listen(t)
	dialAndAccept(t, s)

	s.Close()
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.Send([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after Close = %v, want ErrClosed", err)
	}
	if _, err := s.Receive(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("Receive after Close = %v, want ErrClosed", err)
	}
}
