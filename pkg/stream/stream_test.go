package stream

import (
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, payload []byte, writerOpts, readerOpts []Option) []byte {
	t.Helper()
	var wire bytes.Buffer
	w := New(&wire, writerOpts...)
	n, err := w.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	r := New(&wire, readerOpts...)
	got := make([]byte, len(payload))
	_, err = io.ReadFull(r, got)
	require.NoError(t, err)
	return got
}

func TestConnPlain(t *testing.T) {
	payload := []byte("hello virga")
	assert.Equal(t, payload, roundTrip(t, payload, nil, nil))
}

func TestConnCompressAndEncrypt(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 4096)
	opts := []Option{WithCompress(), WithEncrypt([]byte("key"))}
	assert.Equal(t, payload, roundTrip(t, payload, opts, opts))
}

func TestConnEncryptDoesNotMutateCaller(t *testing.T) {
	payload := []byte("do not touch")
	orig := append([]byte(nil), payload...)
	var wire bytes.Buffer
	_, err := New(&wire, WithEncrypt([]byte("key"))).Write(payload)
	require.NoError(t, err)
	assert.Equal(t, orig, payload)
	assert.False(t, bytes.Contains(wire.Bytes(), orig))
}

func TestConnEncryptedWithoutKey(t *testing.T) {
	var wire bytes.Buffer
	_, err := New(&wire, WithEncrypt([]byte("key"))).Write([]byte("secret"))
	require.NoError(t, err)

	_, err = New(&wire).Read(make([]byte, 16))
	assert.Error(t, err)
}

func TestConnInvalidVersion(t *testing.T) {
	r := New(bytes.NewReader([]byte{0x00, 0x00, 0, 0, 0, 1, 'x'}))
	_, err := r.Read(make([]byte, 4))
	assert.Error(t, err)
}

func TestConnOversizedSegment(t *testing.T) {
	r := New(bytes.NewReader([]byte{Ver, 0x00, 0xFF, 0xFF, 0xFF, 0xFF}))
	_, err := r.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrSegmentTooLarge)
}

func TestWrapWithoutOptions(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	assert.Equal(t, a, Wrap(a))
	_, ok := Wrap(a, WithCompress()).(*Conn)
	assert.True(t, ok)
}

func TestConnOverPipe(t *testing.T) {
	a, b := net.Pipe()
	left := Wrap(a, WithEncrypt([]byte("k")))
	right := Wrap(b, WithEncrypt([]byte("k")))
	defer left.Close()
	defer right.Close()

	go func() {
		_, _ = left.Write([]byte("ping"))
	}()
	buf := make([]byte, 4)
	_, err := io.ReadFull(right, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}
