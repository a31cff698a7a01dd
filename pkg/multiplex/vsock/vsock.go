// Package vsock carries multiplexed sessions over AF_VSOCK, the virtio socket
// between a guest VM and its host.
package vsock

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"
	"github.com/uole/virga/pkg/multiplex"
)

const (
	// CIDAny binds every local context id.
	CIDAny = 0xFFFFFFFF
)

// ParseAddr splits a "cid:port" address.
func ParseAddr(addr string) (cid, port uint32, err error) {
	var (
		n    uint64
		host string
		ps   string
	)
	pos := strings.LastIndexByte(addr, ':')
	if pos < 0 {
		return 0, 0, fmt.Errorf("invalid vsock address %q", addr)
	}
	host, ps = addr[:pos], addr[pos+1:]
	if n, err = strconv.ParseUint(host, 10, 32); err != nil {
		return 0, 0, fmt.Errorf("invalid vsock cid %q: %w", host, err)
	}
	cid = uint32(n)
	if n, err = strconv.ParseUint(ps, 10, 32); err != nil {
		return 0, 0, fmt.Errorf("invalid vsock port %q: %w", ps, err)
	}
	port = uint32(n)
	return
}

// Listen binds cid:port. A cid of CIDAny listens on every local context id.
func Listen(addr string, cbs ...multiplex.Option) (multiplex.Listener, error) {
	var (
		err    error
		cid    uint32
		port   uint32
		listen *vsock.Listener
	)
	if cid, port, err = ParseAddr(addr); err != nil {
		return nil, err
	}
	opts := multiplex.NewOptions(cbs...)
	if cid == CIDAny {
		listen, err = vsock.Listen(port, nil)
	} else {
		listen, err = vsock.ListenContextID(cid, port, nil)
	}
	if err != nil {
		return nil, err
	}
	return multiplex.NewStreamListener(listen, opts), nil
}

// Dial connects to cid:port. The vsock dial itself is not cancellable, so ctx
// only bounds the wait.
func Dial(ctx context.Context, addr string, cbs ...multiplex.Option) (multiplex.Session, error) {
	var (
		err  error
		cid  uint32
		port uint32
		sess multiplex.Session
	)
	if cid, port, err = ParseAddr(addr); err != nil {
		return nil, err
	}
	opts := multiplex.NewOptions(cbs...)
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := vsock.Dial(cid, port, nil)
		if err != nil {
			ch <- result{err: err}
			return
		}
		ch <- result{conn: conn}
	}()
	var res result
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.err != nil {
		return nil, res.err
	}
	if sess, err = multiplex.NewSession(res.conn, false, opts); err != nil {
		_ = res.conn.Close()
		return nil, err
	}
	return sess, nil
}
