package quic

import (
	"context"
	"crypto/tls"
	"os"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/uole/virga/pkg/multiplex"
)

const (
	nextProto = "virga/1"
)

func init() {
	_ = os.Setenv("QUIC_GO_DISABLE_RECEIVE_BUFFER_WARNING", "true")
}

func config(opts *multiplex.Options) *quic.Config {
	cfg := &quic.Config{
		MaxIdleTimeout:        time.Second * 80,
		MaxIncomingStreams:    int64(opts.Backlog),
		MaxIncomingUniStreams: -1,
	}
	if opts.KeepAlive > 0 {
		cfg.KeepAlivePeriod = opts.KeepAlive
	}
	if opts.MaxStreamWindowSize > 0 {
		cfg.InitialStreamReceiveWindow = uint64(opts.MaxStreamWindowSize)
	}
	return cfg
}

// Listen starts a QUIC listener with a throwaway self-signed certificate.
// QUIC multiplexes natively, so the Mux, Key and Compress options are ignored.
func Listen(addr string, cbs ...multiplex.Option) (multiplex.Listener, error) {
	var (
		err    error
		cert   tls.Certificate
		listen *quic.Listener
	)
	opts := multiplex.NewOptions(cbs...)
	if cert, err = selfSignedCertificate(); err != nil {
		return nil, err
	}
	if listen, err = quic.ListenAddr(addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{nextProto},
	}, config(opts)); err != nil {
		return nil, err
	}
	return &Listener{l: listen}, nil
}

func Dial(ctx context.Context, addr string, cbs ...multiplex.Option) (multiplex.Session, error) {
	var (
		err  error
		conn quic.Connection
	)
	opts := multiplex.NewOptions(cbs...)
	if conn, err = quic.DialAddr(ctx, addr, &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{nextProto},
	}, config(opts)); err != nil {
		return nil, err
	}
	return &Session{conn: conn}, nil
}
