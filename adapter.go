package virga

import (
	"context"
)

// adapter turns a MessageChannel into a blocking byte stream. A message
// larger than the caller's buffer is handed out over several Reads; once it
// is drained, one extra Read returns 0, nil to mark the message boundary.
//
// adapter is not safe for concurrent use.
type adapter struct {
	channel      MessageChannel
	connected    bool
	readBuffer   []byte
	readTotalLen int
}

func (a *adapter) Read(p []byte) (n int, err error) {
	var (
		msg []byte
	)
	if !a.connected {
		return 0, ErrNotConnected
	}
	if len(a.readBuffer) > 0 {
		n = copy(p, a.readBuffer)
		a.readBuffer = a.readBuffer[n:]
		if len(a.readBuffer) == 0 {
			a.readBuffer = nil
		}
		return n, nil
	}
	if a.readTotalLen != 0 {
		a.readTotalLen = 0
		return 0, nil
	}
	if msg, err = a.channel.Recv(context.Background()); err != nil {
		return 0, transportError("read", err)
	}
	a.readTotalLen = len(msg)
	n = copy(p, msg)
	if n < len(msg) {
		a.readBuffer = msg[n:]
	}
	return n, nil
}

// Write sends p as exactly one message.
func (a *adapter) Write(p []byte) (n int, err error) {
	if !a.connected {
		return 0, ErrNotConnected
	}
	if n, err = a.channel.Send(context.Background(), p); err != nil {
		return 0, transportError("write", err)
	}
	return n, nil
}

// Flush is a no-op, every Write is sent immediately.
func (a *adapter) Flush() error {
	return nil
}

// Send sends msg as one message, bypassing the read state.
func (a *adapter) Send(msg []byte) (n int, err error) {
	if !a.connected {
		return 0, ErrNotConnected
	}
	if n, err = a.channel.Send(context.Background(), msg); err != nil {
		return 0, transportError("send", err)
	}
	return n, nil
}

// Recv returns the next whole message. Bytes buffered by Read are not
// included.
func (a *adapter) Recv() (msg []byte, err error) {
	if !a.connected {
		return nil, ErrNotConnected
	}
	if msg, err = a.channel.Recv(context.Background()); err != nil {
		return nil, transportError("recv", err)
	}
	return msg, nil
}

// Disconnect refuses to drop unread bytes.
func (a *adapter) Disconnect() (err error) {
	if len(a.readBuffer) > 0 {
		return &PendingDataError{Remaining: len(a.readBuffer)}
	}
	err = a.channel.Disconnect()
	a.connected = false
	a.readTotalLen = 0
	return
}

func (a *adapter) IsConnected() bool {
	return a.connected && a.channel.IsConnected()
}
