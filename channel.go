package virga

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/uole/virga/config"
	"github.com/uole/virga/internal/log"
	"github.com/uole/virga/internal/pool"
	"github.com/uole/virga/internal/sequence"
	"github.com/uole/virga/pkg/multiplex"
	"github.com/uole/virga/pkg/multiplex/kcp"
	"github.com/uole/virga/pkg/multiplex/quic"
	"github.com/uole/virga/pkg/multiplex/tcp"
	"github.com/uole/virga/pkg/multiplex/vsock"
	"github.com/uole/virga/pkg/packet"
)

// MessageChannel moves whole messages between two endpoints. Send and Recv
// block until the message is fully written or read.
type MessageChannel interface {
	Connect(ctx context.Context, ep Endpoint) error
	Disconnect() error
	Send(ctx context.Context, msg []byte) (int, error)
	Recv(ctx context.Context) ([]byte, error)
	IsConnected() bool
}

type streamDirection int

const (
	streamOutbound streamDirection = iota
	streamInbound
)

const (
	stateDisconnected int32 = iota
	stateConnected
)

const (
	drainBufferSize = 16 * 1024
)

// MultiplexedChannel carries every message on its own logical stream of a
// multiplexed session: the sender opens, writes and half-closes, the receiver
// accepts and reads to EOF. Stream handles are never reused.
type MultiplexedChannel struct {
	id           string
	cfg          *config.Config
	state        int32
	connectMutex sync.Mutex
	mutex        sync.RWMutex
	session      multiplex.Session
	peer         *packet.HelloRequest
	sequence     sequence.Counter
	// sent messages the peer has not finished reading yet
	pending []<-chan struct{}
}

func (ch *MultiplexedChannel) ID() string {
	return ch.id
}

func (ch *MultiplexedChannel) RemoteAddr() net.Addr {
	ch.mutex.RLock()
	defer ch.mutex.RUnlock()
	if ch.session == nil {
		return nil
	}
	return ch.session.Addr()
}

func (ch *MultiplexedChannel) current() (multiplex.Session, error) {
	ch.mutex.RLock()
	defer ch.mutex.RUnlock()
	if atomic.LoadInt32(&ch.state) != stateConnected || ch.session == nil {
		return nil, ErrNotConnected
	}
	return ch.session, nil
}

// acquireStream is the only place streams are obtained: outbound streams
// are opened, inbound ones accepted.
func acquireStream(ctx context.Context, sess multiplex.Session, dir streamDirection) (multiplex.Stream, error) {
	switch dir {
	case streamOutbound:
		return sess.OpenStream(ctx)
	case streamInbound:
		return sess.AcceptStream(ctx)
	default:
		return nil, fmt.Errorf("unknown stream direction %d", dir)
	}
}

// drain reads a half-closed stream until the peer closes its side, which
// happens once the peer has read everything we wrote.
func drain(stream multiplex.Stream) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := pool.GetBytes(drainBufferSize)
		defer pool.PutBytes(buf)
		for {
			if _, err := stream.Read(*buf); err != nil {
				return
			}
		}
	}()
	return done
}

func dial(ctx context.Context, cfg *config.Config, ep Endpoint) (multiplex.Session, error) {
	addr := ep.String()
	switch cfg.Proto {
	case config.ProtoTCP:
		return tcp.Dial(ctx, addr, cfg.Options()...)
	case config.ProtoKCP:
		return kcp.Dial(ctx, addr, cfg.Options()...)
	case config.ProtoQUIC:
		return quic.Dial(ctx, addr, cfg.Options()...)
	case config.ProtoVsock, "":
		return vsock.Dial(ctx, addr, cfg.Options()...)
	default:
		return nil, fmt.Errorf("%w: unsupported proto %q", config.ErrInvalidConfig, cfg.Proto)
	}
}

// hello announces the channel on the first stream of a fresh session.
func (ch *MultiplexedChannel) hello(ctx context.Context, sess multiplex.Session) (err error) {
	var (
		stream multiplex.Stream
		frame  *packet.Frame
	)
	if ch.cfg.HandshakeTimeout > 0 {
		var cancelFunc context.CancelFunc
		ctx, cancelFunc = context.WithTimeout(ctx, ch.cfg.HandshakeTimeout)
		defer cancelFunc()
	}
	if stream, err = acquireStream(ctx, sess, streamOutbound); err != nil {
		return
	}
	defer func() {
		_ = stream.Close()
		drain(stream)
	}()
	// a half-closed stream does not unblock the reply read, so a timeout
	// tears the whole session down.
	stop := context.AfterFunc(ctx, func() {
		_ = sess.Close()
	})
	defer func() {
		if !stop() && err == nil {
			err = ctx.Err()
		}
	}()
	req := &packet.HelloRequest{
		ID:        ch.id,
		Version:   packet.ProtocolVersion,
		ChunkSize: ch.cfg.ChunkSize,
		Ack:       ch.cfg.Ack,
	}
	if frame, err = packet.SendRecv(stream, packet.NewFrame(packet.TypeHelloRequest, ch.sequence.Next(), req)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return
	}
	if frame.Type != packet.TypeHelloResponse {
		return fmt.Errorf("%w: unexpected frame type %0x", ErrHandshake, frame.Type)
	}
	res := &packet.HelloResponse{}
	if err = frame.Decode(res); err != nil {
		return fmt.Errorf("%w: %s", ErrHandshake, err.Error())
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrHandshake, res.Reason)
	}
	return
}

// Connect dials ep with the configured transport and runs the hello
// exchange. The channel is left disconnected on any failure.
func (ch *MultiplexedChannel) Connect(ctx context.Context, ep Endpoint) (err error) {
	var (
		sess multiplex.Session
	)
	ch.connectMutex.Lock()
	defer ch.connectMutex.Unlock()
	if atomic.LoadInt32(&ch.state) == stateConnected {
		return ErrAlreadyConnected
	}
	dialCtx := ctx
	if ch.cfg.DialTimeout > 0 {
		var cancelFunc context.CancelFunc
		dialCtx, cancelFunc = context.WithTimeout(ctx, ch.cfg.DialTimeout)
		defer cancelFunc()
	}
	if sess, err = dial(dialCtx, ch.cfg, ep); err != nil {
		return transportError("connect", err)
	}
	if err = ch.hello(ctx, sess); err != nil {
		_ = sess.Close()
		return transportError("connect", err)
	}
	ch.mutex.Lock()
	ch.session = sess
	atomic.StoreInt32(&ch.state, stateConnected)
	ch.mutex.Unlock()
	log.Debugf("channel %s connected to %s via %s", ch.id, ep.String(), ch.cfg.Proto)
	return
}

// Send writes msg on a fresh outbound stream and half-closes it.
func (ch *MultiplexedChannel) Send(ctx context.Context, msg []byte) (n int, err error) {
	var (
		sess   multiplex.Session
		stream multiplex.Stream
	)
	if sess, err = ch.current(); err != nil {
		return
	}
	if stream, err = acquireStream(ctx, sess, streamOutbound); err != nil {
		return 0, transportError("send", err)
	}
	if len(msg) > 0 {
		if _, err = stream.Write(msg); err != nil {
			_ = stream.Close()
			return 0, transportError("send", err)
		}
	}
	if err = stream.Close(); err != nil {
		return 0, transportError("send", err)
	}
	ch.track(drain(stream))
	log.Debugf("channel %s sent message #%d, %d bytes", ch.id, ch.sequence.Next(), len(msg))
	return len(msg), nil
}

// Recv accepts the next inbound stream and reads it until the peer
// half-closes.
func (ch *MultiplexedChannel) Recv(ctx context.Context) (msg []byte, err error) {
	var (
		sess   multiplex.Session
		stream multiplex.Stream
	)
	if sess, err = ch.current(); err != nil {
		return
	}
	if stream, err = acquireStream(ctx, sess, streamInbound); err != nil {
		return nil, transportError("recv", err)
	}
	defer func() {
		_ = stream.Close()
	}()
	if msg, err = io.ReadAll(stream); err != nil {
		return nil, transportError("recv", err)
	}
	log.Debugf("channel %s received message #%d, %d bytes", ch.id, ch.sequence.Next(), len(msg))
	return msg, nil
}

func (ch *MultiplexedChannel) IsConnected() bool {
	ch.mutex.RLock()
	defer ch.mutex.RUnlock()
	if atomic.LoadInt32(&ch.state) != stateConnected || ch.session == nil {
		return false
	}
	return !ch.session.IsClosed()
}

func (ch *MultiplexedChannel) track(done <-chan struct{}) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()
	pending := ch.pending[:0]
	for _, c := range ch.pending {
		select {
		case <-c:
		default:
			pending = append(pending, c)
		}
	}
	ch.pending = append(pending, done)
}

// linger waits until the peer has read every message sent so far, or until
// the configured linger timeout runs out.
func (ch *MultiplexedChannel) linger(pending []<-chan struct{}) {
	if len(pending) == 0 || ch.cfg.Linger <= 0 {
		return
	}
	timer := time.NewTimer(ch.cfg.Linger)
	defer timer.Stop()
	for i, done := range pending {
		select {
		case <-done:
		case <-timer.C:
			log.Warnf("channel %s closing with %d messages not yet read by the peer", ch.id, len(pending)-i)
			return
		}
	}
}

// Disconnect tears the session down once the peer has read what was sent, or
// after the linger timeout. Calling it on a disconnected channel is a no-op.
func (ch *MultiplexedChannel) Disconnect() (err error) {
	ch.mutex.Lock()
	sess := ch.session
	pending := ch.pending
	ch.session = nil
	ch.pending = nil
	atomic.StoreInt32(&ch.state, stateDisconnected)
	ch.mutex.Unlock()
	if sess == nil {
		return nil
	}
	ch.linger(pending)
	if err = sess.Close(); errors.Is(err, io.ErrClosedPipe) {
		err = nil
	}
	log.Debugf("channel %s disconnected", ch.id)
	return
}

// NewChannel returns a disconnected client channel.
func NewChannel(cfg *config.Config) *MultiplexedChannel {
	if cfg == nil {
		cfg = config.New()
	}
	return &MultiplexedChannel{
		id:  xid.New().String(),
		cfg: cfg,
	}
}

func newServerChannel(cfg *config.Config, sess multiplex.Session, peer *packet.HelloRequest) *MultiplexedChannel {
	return &MultiplexedChannel{
		id:      xid.New().String(),
		cfg:     cfg,
		state:   stateConnected,
		session: sess,
		peer:    peer,
	}
}
