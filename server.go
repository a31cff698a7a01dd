package virga

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/uole/virga/config"
	"github.com/uole/virga/internal/log"
	"github.com/uole/virga/pkg/multiplex"
	"github.com/uole/virga/pkg/multiplex/kcp"
	"github.com/uole/virga/pkg/multiplex/quic"
	"github.com/uole/virga/pkg/multiplex/tcp"
	"github.com/uole/virga/pkg/multiplex/vsock"
	"github.com/uole/virga/pkg/packet"
	"go.uber.org/multierr"
)

var (
	errServerStarted = errors.New("server already started")
)

// Server is the accepting end of a channel, handed out by
// ServerManager.Accept already connected.
type Server struct {
	adapter
	channel *MultiplexedChannel
}

// ID returns the id the client announced in its hello.
func (s *Server) ID() string {
	if s.channel.peer == nil {
		return ""
	}
	return s.channel.peer.ID
}

func (s *Server) RemoteAddr() net.Addr {
	return s.channel.RemoteAddr()
}

type ServerManager struct {
	ctx        context.Context
	cancelFunc context.CancelFunc
	Uptime     time.Time
	cfg        *config.Config
	listener   multiplex.Listener
	waitGroup  conc.WaitGroup
	servers    chan *Server
	startFlag  int32
	closeFlag  int32
}

func listen(cfg *config.Config, ep Endpoint) (multiplex.Listener, error) {
	addr := ep.String()
	switch cfg.Proto {
	case config.ProtoTCP:
		return tcp.Listen(addr, cfg.Options()...)
	case config.ProtoKCP:
		return kcp.Listen(addr, cfg.Options()...)
	case config.ProtoQUIC:
		return quic.Listen(addr, cfg.Options()...)
	case config.ProtoVsock, "":
		return vsock.Listen(addr, cfg.Options()...)
	default:
		return nil, fmt.Errorf("%w: unsupported proto %q", config.ErrInvalidConfig, cfg.Proto)
	}
}

func (m *ServerManager) reply(stream io.Writer, seq uint16, res *packet.HelloResponse) error {
	return packet.WriteFrame(stream, packet.NewFrame(packet.TypeHelloResponse, seq, res))
}

// handshake answers the hello on the first stream of sess. A rejected peer
// gets its reply and is waited for until it closes the stream.
func (m *ServerManager) handshake(ctx context.Context, sess multiplex.Session) (req *packet.HelloRequest, err error) {
	var (
		stream multiplex.Stream
		frame  *packet.Frame
	)
	if m.cfg.HandshakeTimeout > 0 {
		var cancelFunc context.CancelFunc
		ctx, cancelFunc = context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
		defer cancelFunc()
	}
	if stream, err = acquireStream(ctx, sess, streamInbound); err != nil {
		return
	}
	defer func() {
		_ = stream.Close()
		drain(stream)
	}()
	stop := context.AfterFunc(ctx, func() {
		_ = sess.Close()
	})
	defer func() {
		if !stop() && err == nil {
			err = ctx.Err()
		}
	}()
	if frame, err = packet.ReadFrame(stream); err != nil {
		return
	}
	if frame.Type != packet.TypeHelloRequest {
		return nil, fmt.Errorf("%w: unexpected frame type %0x", ErrHandshake, frame.Type)
	}
	req = &packet.HelloRequest{}
	if err = frame.Decode(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrHandshake, err.Error())
	}
	if req.Version != packet.ProtocolVersion {
		reason := fmt.Sprintf("unsupported protocol version %q", req.Version)
		if err = m.reply(stream, frame.Sequence, &packet.HelloResponse{Reason: reason}); err == nil {
			_, _ = io.Copy(io.Discard, stream)
		}
		return nil, fmt.Errorf("%w: %s", ErrHandshake, reason)
	}
	if err = m.reply(stream, frame.Sequence, &packet.HelloResponse{ID: req.ID, Success: true}); err != nil {
		return nil, err
	}
	return req, nil
}

func (m *ServerManager) serve(sess multiplex.Session) {
	req, err := m.handshake(m.ctx, sess)
	if err != nil {
		log.Debugf("session %s handshake error: %s", sess.Addr(), err.Error())
		_ = sess.Close()
		return
	}
	ch := newServerChannel(m.cfg, sess, req)
	srv := &Server{
		adapter: adapter{channel: ch, connected: true},
		channel: ch,
	}
	log.Debugf("channel %s accepted from %s (peer %s)", ch.ID(), sess.Addr(), req.ID)
	select {
	case m.servers <- srv:
	case <-m.ctx.Done():
		_ = ch.Disconnect()
	}
}

func (m *ServerManager) acceptLoop() {
	for {
		sess, err := m.listener.Accept(m.ctx)
		if err != nil {
			if m.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warnf("accept error: %s", err.Error())
			select {
			case <-time.After(time.Millisecond * 50):
			case <-m.ctx.Done():
				return
			}
			continue
		}
		m.waitGroup.Go(func() {
			m.serve(sess)
		})
	}
}

func (m *ServerManager) Addr() net.Addr {
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Start binds cfg.ServerAddress and begins accepting connections.
func (m *ServerManager) Start() (err error) {
	var (
		ep Endpoint
	)
	if !atomic.CompareAndSwapInt32(&m.startFlag, 0, 1) {
		return errServerStarted
	}
	if ep, err = ParseEndpoint(m.cfg.ServerAddress); err != nil {
		return fmt.Errorf("%w: %s", config.ErrInvalidConfig, err.Error())
	}
	if m.listener, err = listen(m.cfg, ep); err != nil {
		return transportError("listen", err)
	}
	m.Uptime = time.Now()
	m.waitGroup.Go(m.acceptLoop)
	log.Infof("server listening on %s via %s", m.listener.Addr(), m.cfg.Proto)
	return
}

func (m *ServerManager) Accept() (*Server, error) {
	return m.AcceptContext(context.Background())
}

// AcceptContext waits for the next connection that completed the handshake.
func (m *ServerManager) AcceptContext(ctx context.Context) (*Server, error) {
	select {
	case srv := <-m.servers:
		return srv, nil
	case <-m.ctx.Done():
		return nil, ErrServerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop closes the listener, waits for the accept loop and drops every
// connection that was never accepted.
func (m *ServerManager) Stop() (err error) {
	if !atomic.CompareAndSwapInt32(&m.closeFlag, 0, 1) {
		return
	}
	m.cancelFunc()
	if m.listener != nil {
		err = multierr.Append(err, m.listener.Close())
	}
	m.waitGroup.Wait()
	for {
		select {
		case srv := <-m.servers:
			err = multierr.Append(err, srv.channel.Disconnect())
		default:
			return
		}
	}
}

func NewServerManager(cfg *config.Config) *ServerManager {
	if cfg == nil {
		cfg = config.New()
	}
	backlog := cfg.Backlog
	if backlog <= 0 {
		backlog = config.DefaultBacklog
	}
	m := &ServerManager{
		cfg:     cfg,
		servers: make(chan *Server, backlog),
	}
	m.ctx, m.cancelFunc = context.WithCancel(context.Background())
	return m
}
