package multiplex

import (
	"context"
	"errors"
	"io"
	"net"
	"time"
)

const (
	MuxYamux = "yamux"
	MuxSmux  = "smux"
)

var (
	ErrUnsupportedMux = errors.New("unsupported multiplexer")
)

type (
	Listener interface {
		Accept(ctx context.Context) (Session, error)
		Addr() net.Addr
		Close() (err error)
	}

	// Session is one point-to-point connection carrying many logical streams.
	// OpenStream always creates a new outbound stream; AcceptStream waits for
	// the next stream opened by the peer.
	Session interface {
		Addr() net.Addr
		OpenStream(ctx context.Context) (Stream, error)
		AcceptStream(ctx context.Context) (Stream, error)
		IsClosed() bool
		Close() error
	}

	// Stream is a logical stream. Close half-closes the write side: the peer
	// reads the remaining data followed by io.EOF, and local reads keep working
	// until the peer closes its own side.
	Stream interface {
		io.ReadWriteCloser
	}

	Option func(o *Options)

	Options struct {
		Mux                 string
		Key                 []byte
		Compress            bool
		Backlog             int
		KeepAlive           time.Duration
		MaxStreamWindowSize uint32
	}
)

func WithMux(mux string) Option {
	return func(o *Options) {
		o.Mux = mux
	}
}

func WithKey(key []byte) Option {
	return func(o *Options) {
		o.Key = key
	}
}

func WithCompress(compress bool) Option {
	return func(o *Options) {
		o.Compress = compress
	}
}

func WithBacklog(n int) Option {
	return func(o *Options) {
		o.Backlog = n
	}
}

func WithKeepAlive(d time.Duration) Option {
	return func(o *Options) {
		o.KeepAlive = d
	}
}

func WithMaxStreamWindowSize(n uint32) Option {
	return func(o *Options) {
		o.MaxStreamWindowSize = n
	}
}

func NewOptions(cbs ...Option) *Options {
	opts := &Options{
		Mux:                 MuxYamux,
		Backlog:             256,
		KeepAlive:           30 * time.Second,
		MaxStreamWindowSize: 512 * 1024,
	}
	for _, cb := range cbs {
		cb(opts)
	}
	return opts
}
