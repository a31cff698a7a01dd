package multiplex

import (
	"context"
	"net"
	"time"

	"github.com/hashicorp/yamux"
	"github.com/uole/virga/internal/log"
)

type yamuxSession struct {
	conn net.Conn
	sess *yamux.Session
}

func yamuxConfig(opts *Options) *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.AcceptBacklog = opts.Backlog
	cfg.EnableKeepAlive = opts.KeepAlive > 0
	if opts.KeepAlive > 0 {
		cfg.KeepAliveInterval = opts.KeepAlive
	}
	if opts.MaxStreamWindowSize >= 256*1024 {
		cfg.MaxStreamWindowSize = opts.MaxStreamWindowSize
	}
	cfg.ConnectionWriteTimeout = 10 * time.Second
	cfg.LogOutput = log.Writer()
	return cfg
}

func newYamuxSession(conn net.Conn, server bool, opts *Options) (sess *yamuxSession, err error) {
	var (
		mux *yamux.Session
	)
	if server {
		mux, err = yamux.Server(conn, yamuxConfig(opts))
	} else {
		mux, err = yamux.Client(conn, yamuxConfig(opts))
	}
	if err != nil {
		return nil, err
	}
	return &yamuxSession{conn: conn, sess: mux}, nil
}

func (sess *yamuxSession) Addr() net.Addr {
	return sess.conn.RemoteAddr()
}

func (sess *yamuxSession) OpenStream(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := sess.sess.OpenStream()
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (sess *yamuxSession) AcceptStream(ctx context.Context) (Stream, error) {
	stream, err := sess.sess.AcceptStreamWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (sess *yamuxSession) IsClosed() bool {
	return sess.sess.IsClosed()
}

func (sess *yamuxSession) Close() error {
	return sess.sess.Close()
}
