package kcp

import (
	"context"
	"net"

	"github.com/uole/virga/pkg/multiplex"
	kcp "github.com/xtaci/kcp-go"
)

const (
	dataShards   = 10
	parityShards = 3
)

func blockCrypt(key []byte) (kcp.BlockCrypt, error) {
	if len(key) == 0 {
		return nil, nil
	}
	return kcp.NewSimpleXORBlockCrypt(key)
}

// tune switches the session into low latency mode, the stream muxer on top
// provides the framing.
func tune(sess *kcp.UDPSession) {
	sess.SetStreamMode(true)
	sess.SetNoDelay(1, 10, 2, 1)
	sess.SetWindowSize(1024, 1024)
}

type listener struct {
	l    *kcp.Listener
	opts *multiplex.Options
}

func (l *listener) Accept(ctx context.Context) (multiplex.Session, error) {
	var (
		err  error
		conn *kcp.UDPSession
		sess multiplex.Session
	)
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	if conn, err = l.l.AcceptKCP(); err != nil {
		return nil, err
	}
	tune(conn)
	if sess, err = multiplex.NewSession(conn, true, l.opts); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return sess, nil
}

func (l *listener) Addr() net.Addr {
	return l.l.Addr()
}

func (l *listener) Close() error {
	return l.l.Close()
}

// Listen opens a KCP listener. The key is consumed by KCP's own packet
// crypt instead of the stream wrapper.
func Listen(addr string, cbs ...multiplex.Option) (multiplex.Listener, error) {
	var (
		err    error
		listen *kcp.Listener
		block  kcp.BlockCrypt
	)
	opts := multiplex.NewOptions(cbs...)
	if block, err = blockCrypt(opts.Key); err != nil {
		return nil, err
	}
	opts.Key = nil
	if listen, err = kcp.ListenWithOptions(addr, block, dataShards, parityShards); err != nil {
		return nil, err
	}
	return &listener{l: listen, opts: opts}, nil
}

func Dial(ctx context.Context, addr string, cbs ...multiplex.Option) (multiplex.Session, error) {
	var (
		err   error
		conn  *kcp.UDPSession
		block kcp.BlockCrypt
		sess  multiplex.Session
	)
	opts := multiplex.NewOptions(cbs...)
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	if block, err = blockCrypt(opts.Key); err != nil {
		return nil, err
	}
	opts.Key = nil
	if conn, err = kcp.DialWithOptions(addr, block, dataShards, parityShards); err != nil {
		return nil, err
	}
	tune(conn)
	if sess, err = multiplex.NewSession(conn, false, opts); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return sess, nil
}
