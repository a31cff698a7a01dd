package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	"github.com/uole/virga/internal/crypto"
	"github.com/uole/virga/internal/pool"
)

const (
	typeEncryption = 0x40
	typeCompress   = 0x80

	Ver = 0xFB

	headLength        = 6
	minCompressLength = 512
	// MaxSegmentSize bounds a single segment so a corrupted header cannot
	// make the reader allocate unbounded memory.
	MaxSegmentSize = 4 * 1024 * 1024
)

var (
	ErrSegmentTooLarge = errors.New("stream segment too large")
)

type (
	// Conn frames every Write into one segment
	// `ver | flag | len u32 | payload`, optionally snappy compressed and xor
	// obfuscated. Read reassembles the payload stream.
	Conn struct {
		opts      *Options
		rw        io.ReadWriter
		buf       bytes.Buffer
		closeFlag int32
	}

	Option func(o *Options)

	Options struct {
		Compress bool
		Cipher   *crypto.XOR
	}
)

func (conn *Conn) tryRead() (err error) {
	var (
		n    int
		flag uint8
		size uint32
		src  []byte
		dst  []byte
		p    []byte
	)
	headBuf := pool.GetBytes(headLength)
	defer pool.PutBytes(headBuf)
	head := *headBuf
	if _, err = io.ReadFull(conn.rw, head); err != nil {
		return
	}
	if head[0] != Ver {
		return fmt.Errorf("invalid stream protocol version 0x%02X", head[0])
	}
	flag = head[1]
	if size = binary.BigEndian.Uint32(head[2:]); size > MaxSegmentSize {
		return ErrSegmentTooLarge
	}
	srcBuf := pool.GetBytes(int(size))
	defer pool.PutBytes(srcBuf)
	src = *srcBuf
	if _, err = io.ReadFull(conn.rw, src); err != nil {
		return
	}
	if flag&typeEncryption != 0 {
		if conn.opts.Cipher == nil {
			return errors.New("stream segment is encrypted but no key configured")
		}
		conn.opts.Cipher.Decrypt(src)
	}
	if flag&typeCompress != 0 {
		if n, err = snappy.DecodedLen(src); err != nil {
			return
		}
		if n > MaxSegmentSize {
			return ErrSegmentTooLarge
		}
		dstBuf := pool.GetBytes(n)
		defer pool.PutBytes(dstBuf)
		dst = *dstBuf
		if p, err = snappy.Decode(dst, src); err != nil {
			return
		}
	} else {
		p = src
	}
	conn.buf.Write(p)
	return
}

func (conn *Conn) Read(b []byte) (n int, err error) {
	if len(b) == 0 {
		return 0, nil
	}
	for conn.buf.Len() == 0 {
		if err = conn.tryRead(); err != nil {
			return
		}
	}
	return conn.buf.Read(b)
}

func (conn *Conn) Write(b []byte) (n int, err error) {
	for len(b) > 0 {
		size := len(b)
		if size > MaxSegmentSize/2 {
			size = MaxSegmentSize / 2
		}
		if err = conn.writeSegment(b[:size]); err != nil {
			return
		}
		n += size
		b = b[size:]
	}
	return
}

func (conn *Conn) writeSegment(b []byte) (err error) {
	var (
		flag uint8
		p    []byte
	)
	length := len(b)
	w := pool.GetBuffer()
	defer pool.PutBuffer(w)
	if conn.opts.Compress && length > minCompressLength {
		flag |= typeCompress
		buf := pool.GetBytes(snappy.MaxEncodedLen(length))
		defer pool.PutBytes(buf)
		p = snappy.Encode(*buf, b)
	} else {
		// copy so obfuscation never touches the caller's slice
		buf := pool.GetBytes(length)
		defer pool.PutBytes(buf)
		p = *buf
		copy(p, b)
	}
	if conn.opts.Cipher != nil {
		flag |= typeEncryption
		conn.opts.Cipher.Encrypt(p)
	}
	//low bits are noise
	flag |= uint8(rand.Int31n(0x3F))
	w.WriteByte(Ver)
	w.WriteByte(flag)
	_ = binary.Write(w, binary.BigEndian, uint32(len(p)))
	w.Write(p)
	expect := int64(w.Len())
	var nw int64
	if nw, err = w.WriteTo(conn.rw); err == nil && nw != expect {
		err = io.ErrShortWrite
	}
	return
}

func (conn *Conn) Close() (err error) {
	if !atomic.CompareAndSwapInt32(&conn.closeFlag, 0, 1) {
		return
	}
	if c, ok := conn.rw.(io.Closer); ok {
		err = c.Close()
	}
	return
}

func (conn *Conn) LocalAddr() net.Addr {
	if c, ok := conn.rw.(net.Conn); ok {
		return c.LocalAddr()
	}
	return nil
}

func (conn *Conn) RemoteAddr() net.Addr {
	if c, ok := conn.rw.(net.Conn); ok {
		return c.RemoteAddr()
	}
	return nil
}

func (conn *Conn) SetDeadline(t time.Time) error {
	if c, ok := conn.rw.(net.Conn); ok {
		return c.SetDeadline(t)
	}
	return nil
}

func (conn *Conn) SetReadDeadline(t time.Time) error {
	if c, ok := conn.rw.(net.Conn); ok {
		return c.SetReadDeadline(t)
	}
	return nil
}

func (conn *Conn) SetWriteDeadline(t time.Time) error {
	if c, ok := conn.rw.(net.Conn); ok {
		return c.SetWriteDeadline(t)
	}
	return nil
}

func WithCompress() Option {
	return func(o *Options) {
		o.Compress = true
	}
}

func WithEncrypt(key []byte) Option {
	return func(o *Options) {
		if len(key) > 0 {
			o.Cipher = crypto.NewXOR(key)
		} else {
			o.Cipher = nil
		}
	}
}

func New(rw io.ReadWriter, cbs ...Option) *Conn {
	opts := &Options{}
	for _, cb := range cbs {
		cb(opts)
	}
	return &Conn{
		rw:   rw,
		opts: opts,
	}
}

// Wrap returns conn unchanged when no option is enabled.
func Wrap(conn net.Conn, cbs ...Option) net.Conn {
	opts := &Options{}
	for _, cb := range cbs {
		cb(opts)
	}
	if !opts.Compress && opts.Cipher == nil {
		return conn
	}
	return &Conn{rw: conn, opts: opts}
}
