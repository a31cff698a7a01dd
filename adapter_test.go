package virga

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	inbox        chan []byte
	sent         [][]byte
	alive        bool
	sendErr      error
	recvErr      error
	disconnected int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{inbox: make(chan []byte, 16), alive: true}
}

func (f *fakeChannel) Connect(ctx context.Context, ep Endpoint) error {
	f.alive = true
	return nil
}

func (f *fakeChannel) Disconnect() error {
	f.disconnected++
	f.alive = false
	return nil
}

func (f *fakeChannel) Send(ctx context.Context, msg []byte) (int, error) {
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), msg...))
	return len(msg), nil
}

func (f *fakeChannel) Recv(ctx context.Context) ([]byte, error) {
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	select {
	case msg := <-f.inbox:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeChannel) IsConnected() bool {
	return f.alive
}

func newTestAdapter() (*adapter, *fakeChannel) {
	ch := newFakeChannel()
	return &adapter{channel: ch, connected: true}, ch
}

type readResult struct {
	n   int
	err error
}

func TestReadSplitsLargeMessage(t *testing.T) {
	a, ch := newTestAdapter()
	ch.inbox <- bytes.Repeat([]byte{0x7f}, 1000)

	buf := make([]byte, 256)
	for _, want := range []int{256, 256, 256, 232} {
		n, err := a.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, err := a.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n, "boundary signal after the message is drained")

	done := make(chan readResult, 1)
	go func() {
		n, err := a.Read(buf)
		done <- readResult{n, err}
	}()
	select {
	case <-done:
		t.Fatal("read after the boundary must wait for the next message")
	case <-time.After(100 * time.Millisecond):
	}
	ch.inbox <- []byte("next")
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 4, res.n)
	assert.Equal(t, "next", string(buf[:4]))
}

func TestReadMessageFitsBuffer(t *testing.T) {
	a, ch := newTestAdapter()
	ch.inbox <- []byte("hello")

	buf := make([]byte, 64)
	n, err := a.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, 5, a.readTotalLen, "boundary still pending")

	n, err = a.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, a.readTotalLen)
}

func TestReadPreservesMessageOrder(t *testing.T) {
	a, ch := newTestAdapter()
	ch.inbox <- []byte("A")
	ch.inbox <- []byte("BB")

	buf := make([]byte, 10)
	var reads []string
	for i := 0; i < 4; i++ {
		n, err := a.Read(buf)
		require.NoError(t, err)
		reads = append(reads, string(buf[:n]))
	}
	assert.Equal(t, []string{"A", "", "BB", ""}, reads)
}

func TestReadFullAcrossBoundaries(t *testing.T) {
	a, ch := newTestAdapter()
	ch.inbox <- []byte{0, 0, 0, 0, 0, 0, 0, 3}
	ch.inbox <- []byte("abc")

	head := make([]byte, 8)
	_, err := io.ReadFull(a, head)
	require.NoError(t, err)
	body := make([]byte, head[7])
	_, err = io.ReadFull(a, body)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(body))
}

func TestZeroLengthMessage(t *testing.T) {
	a, ch := newTestAdapter()
	ch.inbox <- []byte{}
	ch.inbox <- []byte("x")

	buf := make([]byte, 4)
	n, err := a.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, a.readTotalLen, "an empty message leaves no boundary pending")

	n, err = a.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "x", string(buf[:n]))
}

func TestNotConnected(t *testing.T) {
	a := &adapter{channel: newFakeChannel()}

	_, err := a.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = a.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = a.Send([]byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = a.Recv()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, a.IsConnected())
}

func TestWriteIsOneMessage(t *testing.T) {
	a, ch := newTestAdapter()
	n, err := a.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	n, err = a.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, a.Flush())
	assert.Equal(t, [][]byte{[]byte("hello"), nil}, ch.sent)
}

func TestDisconnectWithPendingData(t *testing.T) {
	a, ch := newTestAdapter()
	ch.inbox <- []byte("0123456789abcdefghij")

	buf := make([]byte, 10)
	_, err := a.Read(buf)
	require.NoError(t, err)

	err = a.Disconnect()
	assert.ErrorIs(t, err, ErrPendingDataOnDisconnect)
	var pending *PendingDataError
	require.ErrorAs(t, err, &pending)
	assert.Equal(t, 10, pending.Remaining)
	assert.Zero(t, ch.disconnected)
	assert.True(t, a.IsConnected())

	_, err = a.Read(buf)
	require.NoError(t, err)
	require.NoError(t, a.Disconnect())
	assert.Equal(t, 1, ch.disconnected)
	assert.False(t, a.IsConnected())
}

func TestIsConnectedRequiresBoth(t *testing.T) {
	a, ch := newTestAdapter()
	assert.True(t, a.IsConnected())
	ch.alive = false
	assert.False(t, a.IsConnected())
	ch.alive = true
	a.connected = false
	assert.False(t, a.IsConnected())
}

func TestTransportErrors(t *testing.T) {
	cause := errors.New("connection reset")
	a, ch := newTestAdapter()
	ch.recvErr = cause
	ch.sendErr = cause

	_, err := a.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, cause)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "read", te.Op)

	n, err := a.Write([]byte("abc"))
	assert.Zero(t, n)
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "write", te.Op)

	// an error that already is a transport error is not wrapped twice
	ch.recvErr = &TransportError{Op: "recv", Err: cause}
	_, err = a.Recv()
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "recv", te.Op)
	assert.Same(t, ch.recvErr, err)
}
