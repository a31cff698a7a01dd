package multiplex

import (
	"context"
	"fmt"
	"net"

	"github.com/uole/virga/pkg/stream"
)

// NewSession layers a multiplexing session of the configured kind over a
// reliable, ordered connection. The server flag fixes the session role.
func NewSession(conn net.Conn, server bool, opts *Options) (Session, error) {
	var (
		cbs []stream.Option
	)
	if opts == nil {
		opts = NewOptions()
	}
	if opts.Compress {
		cbs = append(cbs, stream.WithCompress())
	}
	if len(opts.Key) > 0 {
		cbs = append(cbs, stream.WithEncrypt(opts.Key))
	}
	conn = stream.Wrap(conn, cbs...)
	switch opts.Mux {
	case MuxYamux, "":
		if sess, err := newYamuxSession(conn, server, opts); err == nil {
			return sess, nil
		} else {
			return nil, err
		}
	case MuxSmux:
		if sess, err := newSmuxSession(conn, server, opts); err == nil {
			return sess, nil
		} else {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMux, opts.Mux)
	}
}

// StreamListener turns accepted raw connections into server sessions.
type StreamListener struct {
	l    net.Listener
	opts *Options
}

func NewStreamListener(l net.Listener, opts *Options) *StreamListener {
	if opts == nil {
		opts = NewOptions()
	}
	return &StreamListener{l: l, opts: opts}
}

func (l *StreamListener) Accept(ctx context.Context) (Session, error) {
	var (
		err  error
		conn net.Conn
		sess Session
	)
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	if conn, err = l.l.Accept(); err != nil {
		return nil, err
	}
	if sess, err = NewSession(conn, true, l.opts); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return sess, nil
}

func (l *StreamListener) Addr() net.Addr {
	return l.l.Addr()
}

func (l *StreamListener) Close() (err error) {
	return l.l.Close()
}
