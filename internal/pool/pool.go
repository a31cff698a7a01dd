package pool

import (
	"bytes"
	"math/bits"
	"sync"
)

const (
	maxPooledSize = 64 * 1024
	// buckets hold power-of-two sized slices from 1B up to 4MB
	maxBytesBits = 22
)

var (
	bufferPool = sync.Pool{
		New: func() any {
			return new(bytes.Buffer)
		},
	}

	bytesPools [maxBytesBits + 1]sync.Pool
)

func init() {
	for i := range bytesPools {
		size := 1 << i
		bytesPools[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
}

func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func PutBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledSize {
		return
	}
	bufferPool.Put(buf)
}

// bucket returns the index of the smallest bucket holding n bytes.
func bucket(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// GetBytes returns a pointer to a slice of length n. Its content is undefined.
// The pointer goes back with PutBytes once the caller is done with it.
func GetBytes(n int) *[]byte {
	i := bucket(n)
	if i > maxBytesBits {
		b := make([]byte, n)
		return &b
	}
	p := bytesPools[i].Get().(*[]byte)
	*p = (*p)[:n]
	return p
}

// PutBytes recycles p. Slices that did not come from GetBytes are dropped.
func PutBytes(p *[]byte) {
	if p == nil {
		return
	}
	c := cap(*p)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	i := bits.Len(uint(c)) - 1
	if i > maxBytesBits {
		return
	}
	*p = (*p)[:c]
	bytesPools[i].Put(p)
}
