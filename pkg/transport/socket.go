// Package transport owns the byte-stream channel between the environment
// wrapper and its simulation peer. The socket is a server: it binds a
// local port, accepts exactly one inbound connection, and from then on
// moves whole frames. It carries no simulation semantics.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"simgym/pkg/protocol"
)

// Error conditions surfaced by the socket. All of them are fatal for the
// current episode; the peer is not re-establishable mid-episode.
var (
	// ErrNotConnected reports a send or receive before the peer dialed in.
	ErrNotConnected = errors.New("peer not connected")

	// ErrClosed reports an operation on a closed socket.
	ErrClosed = errors.New("socket closed")

	// ErrAcceptTimeout reports that no peer connected within the accept
	// timeout.
	ErrAcceptTimeout = errors.New("timed out waiting for peer connection")
)

// Socket is the single-peer server side of the channel. It is not safe
// for concurrent use; the protocol is strictly alternating request and
// response from one caller.
type Socket struct {
	listener net.Listener
	conn     net.Conn
	log      zerolog.Logger
	closed   bool
}

// Listen binds the local port and starts listening for the simulation
// peer. Port 0 picks an ephemeral port; the bound port is available via
// Port and must be handed to the peer before it can dial back.
func Listen(port int, log zerolog.Logger) (*Socket, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("bind port %d: %w", port, err)
	}

	s := &Socket{listener: ln, log: log}
	s.log.Debug().Int("port", s.Port()).Msg("Listening for simulation peer")
	return s, nil
}

// Port returns the locally bound port.
func (s *Socket) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Accept blocks until the simulation peer connects. A timeout of zero or
// less waits indefinitely; debug sessions rely on that to let a human
// start the peer by hand.
func (s *Socket) Accept(timeout time.Duration) error {
	if s.closed {
		return ErrClosed
	}
	if s.conn != nil {
		return nil
	}

	if timeout > 0 {
		if tcp, ok := s.listener.(*net.TCPListener); ok {
			if err := tcp.SetDeadline(time.Now().Add(timeout)); err != nil {
				return fmt.Errorf("accept deadline: %w", err)
			}
		}
	}

	conn, err := s.listener.Accept()
	if err != nil {
		if s.closed {
			return ErrClosed
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w after %s", ErrAcceptTimeout, timeout)
		}
		return fmt.Errorf("accept: %w", err)
	}

	s.conn = conn
	s.log.Debug().Str("peer", conn.RemoteAddr().String()).Msg("Simulation peer connected")
	return nil
}

// Send writes one whole frame to the peer.
func (s *Socket) Send(frame []byte) error {
	if s.closed {
		return ErrClosed
	}
	if s.conn == nil {
		return ErrNotConnected
	}

	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// Receive blocks until exactly one frame of the given size has been
// assembled, looping on partial arrivals from the underlying stream. A
// clean end of stream at a frame boundary is the end-of-simulation
// sentinel and yields an empty payload; end of stream inside a frame is
// a framing error.
func (s *Socket) Receive(size int) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.conn == nil {
		return nil, ErrNotConnected
	}

	buf := make([]byte, size)
	n, err := io.ReadFull(s.conn, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.EOF):
		// Peer closed the stream between frames: zero-length sentinel.
		return nil, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("%w: stream ended after %d of %d bytes", protocol.ErrFraming, n, size)
	default:
		return nil, fmt.Errorf("receive frame: %w", err)
	}
}

// Close releases the connection and the listening port. Safe to call
// multiple times; a pending Accept or Receive is unblocked with an error.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	if lerr := s.listener.Close(); err == nil {
		err = lerr
	}
	if err != nil {
		// The peer side often wins the teardown race.
		s.log.Debug().Err(err).Msg("Socket did not close cleanly")
	}
	return err
}
