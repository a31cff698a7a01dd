package packet

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/uole/virga/internal/pool"
)

const (
	Ver = 0xBB

	frameHeadLength = 6
)

// Frame is a control frame: `ver | type | seq u16 | len u16 | body`.
type Frame struct {
	Ver      uint8
	Type     uint8
	Sequence uint16
	Length   uint16
	Buf      []byte
}

func (f *Frame) Bytes() []byte {
	nl := len(f.Buf)
	buf := make([]byte, frameHeadLength+nl)
	buf[0] = Ver
	buf[1] = f.Type
	f.Length = uint16(nl)
	binary.BigEndian.PutUint16(buf[2:], f.Sequence)
	binary.BigEndian.PutUint16(buf[4:], f.Length)
	copy(buf[6:], f.Buf)
	return buf
}

// Decode unmarshals the JSON body into v.
func (f *Frame) Decode(v any) error {
	if len(f.Buf) == 0 {
		return io.ErrUnexpectedEOF
	}
	return json.Unmarshal(f.Buf, v)
}

// ReadFrame reads exactly one frame and nothing beyond it.
func ReadFrame(r io.Reader) (f *Frame, err error) {
	headBuf := pool.GetBytes(frameHeadLength)
	defer pool.PutBytes(headBuf)
	head := *headBuf
	if _, err = io.ReadFull(r, head); err != nil {
		return
	}
	f = &Frame{
		Ver:  head[0],
		Type: head[1],
	}
	if f.Ver != Ver {
		return nil, fmt.Errorf("invalid frame ver %0x", f.Ver)
	}
	f.Sequence = binary.BigEndian.Uint16(head[2:])
	f.Length = binary.BigEndian.Uint16(head[4:])
	if f.Length > 0 {
		f.Buf = make([]byte, f.Length)
		if _, err = io.ReadFull(r, f.Buf); err != nil {
			return nil, err
		}
	}
	return
}

func WriteFrame(w io.Writer, f *Frame) (err error) {
	var (
		n  int
		nw int64
	)
	n = len(f.Buf)
	if n > math.MaxUint16 {
		return io.ErrShortBuffer
	}
	f.Length = uint16(n)
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	buf.WriteByte(Ver)
	buf.WriteByte(f.Type)
	_ = binary.Write(buf, binary.BigEndian, f.Sequence)
	_ = binary.Write(buf, binary.BigEndian, f.Length)
	buf.Write(f.Buf)
	if nw, err = buf.WriteTo(w); err == nil {
		if nw < int64(frameHeadLength+n) {
			err = io.ErrShortWrite
		}
	}
	return
}

// SendRecv writes f and waits for the reply carrying the same sequence.
func SendRecv(rw io.ReadWriter, f *Frame) (res *Frame, err error) {
	if err = WriteFrame(rw, f); err != nil {
		return
	}
	if res, err = ReadFrame(rw); err != nil {
		return
	}
	if res.Sequence != f.Sequence {
		err = fmt.Errorf("recv frame sequence %v not equal %v", res.Sequence, f.Sequence)
	}
	return
}

func NewFrame(action uint8, seq uint16, v any) *Frame {
	var (
		buf []byte
	)
	if v != nil {
		buf, _ = json.Marshal(v)
	}
	return &Frame{
		Ver:      Ver,
		Type:     action,
		Sequence: seq,
		Buf:      buf,
	}
}
