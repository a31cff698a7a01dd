package multiplex

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/xtaci/smux"
)

const (
	smuxChunkHeadSize = 4
	smuxMaxChunkSize  = 1 << 20
)

// smuxSession runs a single accept pump so AcceptStream can honour ctx; smux
// itself only offers an accept deadline that is read once per call.
type smuxSession struct {
	conn       net.Conn
	sess       *smux.Session
	accepts    chan *smux.Stream
	acceptDone chan struct{}
	acceptErr  error
}

func smuxConfig(opts *Options) *smux.Config {
	cfg := smux.DefaultConfig()
	if opts.KeepAlive > 0 {
		cfg.KeepAliveInterval = opts.KeepAlive
		cfg.KeepAliveTimeout = opts.KeepAlive * 3
	} else {
		cfg.KeepAliveDisabled = true
	}
	return cfg
}

func newSmuxSession(conn net.Conn, server bool, opts *Options) (sess *smuxSession, err error) {
	var (
		mux *smux.Session
	)
	if server {
		mux, err = smux.Server(conn, smuxConfig(opts))
	} else {
		mux, err = smux.Client(conn, smuxConfig(opts))
	}
	if err != nil {
		return nil, err
	}
	sess = &smuxSession{
		conn:       conn,
		sess:       mux,
		accepts:    make(chan *smux.Stream),
		acceptDone: make(chan struct{}),
	}
	go sess.acceptLoop()
	return sess, nil
}

func (sess *smuxSession) acceptLoop() {
	defer close(sess.acceptDone)
	for {
		stream, err := sess.sess.AcceptStream()
		if err != nil {
			sess.acceptErr = err
			return
		}
		select {
		case sess.accepts <- stream:
		case <-sess.sess.CloseChan():
			_ = stream.Close()
			sess.acceptErr = io.ErrClosedPipe
			return
		}
	}
}

func (sess *smuxSession) Addr() net.Addr {
	return sess.conn.RemoteAddr()
}

func (sess *smuxSession) OpenStream(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := sess.sess.OpenStream()
	if err != nil {
		return nil, err
	}
	return newSmuxStream(stream), nil
}

func (sess *smuxSession) AcceptStream(ctx context.Context) (Stream, error) {
	select {
	case stream := <-sess.accepts:
		return newSmuxStream(stream), nil
	case <-sess.acceptDone:
		return nil, sess.acceptErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsClosed also reports a session whose peer went away; smux only notices that
// through the read loop.
func (sess *smuxSession) IsClosed() bool {
	if sess.sess.IsClosed() {
		return true
	}
	select {
	case <-sess.acceptDone:
		return true
	default:
		return false
	}
}

func (sess *smuxSession) Close() error {
	return sess.sess.Close()
}

// smuxStream adds half-close to smux, whose Close tears down both directions
// and forgets the stream. Writes travel as length-prefixed chunks and an empty
// chunk marks the end of the writer's data. The smux stream itself is closed
// once both sides have sent their end marker.
type smuxStream struct {
	stream      *smux.Stream
	mutex       sync.Mutex
	remaining   int
	readEOF     bool
	writeClosed bool
}

func newSmuxStream(stream *smux.Stream) *smuxStream {
	return &smuxStream{stream: stream}
}

func (s *smuxStream) Read(p []byte) (n int, err error) {
	if s.remaining == 0 {
		s.mutex.Lock()
		eof := s.readEOF
		s.mutex.Unlock()
		if eof {
			return 0, io.EOF
		}
		var head [smuxChunkHeadSize]byte
		if _, err = io.ReadFull(s.stream, head[:]); err != nil {
			// the peer went away without ending its data
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return
		}
		size := binary.BigEndian.Uint32(head[:])
		if size == 0 {
			s.mutex.Lock()
			s.readEOF = true
			done := s.writeClosed
			s.mutex.Unlock()
			if done {
				_ = s.stream.Close()
			}
			return 0, io.EOF
		}
		s.remaining = int(size)
	}
	if len(p) > s.remaining {
		p = p[:s.remaining]
	}
	n, err = s.stream.Read(p)
	s.remaining -= n
	if err == io.EOF && s.remaining > 0 {
		err = io.ErrUnexpectedEOF
	}
	return
}

func (s *smuxStream) Write(p []byte) (n int, err error) {
	s.mutex.Lock()
	closed := s.writeClosed
	s.mutex.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	var head [smuxChunkHeadSize]byte
	for len(p) > 0 {
		size := len(p)
		if size > smuxMaxChunkSize {
			size = smuxMaxChunkSize
		}
		binary.BigEndian.PutUint32(head[:], uint32(size))
		if _, err = s.stream.Write(head[:]); err != nil {
			return
		}
		if _, err = s.stream.Write(p[:size]); err != nil {
			return
		}
		n += size
		p = p[size:]
	}
	return
}

func (s *smuxStream) Close() (err error) {
	s.mutex.Lock()
	if s.writeClosed {
		s.mutex.Unlock()
		return nil
	}
	s.writeClosed = true
	done := s.readEOF
	s.mutex.Unlock()
	var head [smuxChunkHeadSize]byte
	if _, err = s.stream.Write(head[:]); err != nil || done {
		_ = s.stream.Close()
	}
	return
}
