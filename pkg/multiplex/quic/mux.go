package quic

import (
	"context"
	"net"

	"github.com/quic-go/quic-go"
	"github.com/uole/virga/pkg/multiplex"
)

const (
	errorCodeNoError = 0
)

type (
	Listener struct {
		l *quic.Listener
	}

	Session struct {
		conn quic.Connection
	}

	// Stream closes only its send side; the receive side stays readable so the
	// writer can wait for the peer's FIN.
	Stream struct {
		quic.Stream
	}
)

func (s *Stream) Close() error {
	return s.Stream.Close()
}

func (sess *Session) Addr() net.Addr {
	return sess.conn.RemoteAddr()
}

func (sess *Session) OpenStream(ctx context.Context) (multiplex.Stream, error) {
	if stream, err := sess.conn.OpenStreamSync(ctx); err == nil {
		return &Stream{Stream: stream}, nil
	} else {
		return nil, err
	}
}

func (sess *Session) AcceptStream(ctx context.Context) (multiplex.Stream, error) {
	if stream, err := sess.conn.AcceptStream(ctx); err == nil {
		return &Stream{Stream: stream}, nil
	} else {
		return nil, err
	}
}

func (sess *Session) IsClosed() bool {
	return sess.conn.Context().Err() != nil
}

func (sess *Session) Close() error {
	return sess.conn.CloseWithError(errorCodeNoError, "")
}

func (mux *Listener) Accept(ctx context.Context) (multiplex.Session, error) {
	if conn, err := mux.l.Accept(ctx); err == nil {
		return &Session{conn: conn}, nil
	} else {
		return nil, err
	}
}

func (mux *Listener) Addr() net.Addr {
	return mux.l.Addr()
}

func (mux *Listener) Close() error {
	return mux.l.Close()
}
