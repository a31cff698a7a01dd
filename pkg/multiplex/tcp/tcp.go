package tcp

import (
	"context"
	"net"

	"github.com/uole/virga/pkg/multiplex"
)

func Listen(addr string, cbs ...multiplex.Option) (multiplex.Listener, error) {
	var (
		err    error
		listen net.Listener
	)
	opts := multiplex.NewOptions(cbs...)
	if listen, err = net.Listen("tcp", addr); err != nil {
		return nil, err
	}
	return multiplex.NewStreamListener(listen, opts), nil
}

func Dial(ctx context.Context, addr string, cbs ...multiplex.Option) (multiplex.Session, error) {
	var (
		err    error
		conn   net.Conn
		sess   multiplex.Session
		dialer net.Dialer
	)
	opts := multiplex.NewOptions(cbs...)
	if conn, err = dialer.DialContext(ctx, "tcp", addr); err != nil {
		return nil, err
	}
	if sess, err = multiplex.NewSession(conn, false, opts); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return sess, nil
}
