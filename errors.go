package virga

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected            = errors.New("channel not connected")
	ErrAlreadyConnected        = errors.New("channel already connected")
	ErrTransport               = errors.New("transport error")
	ErrPendingDataOnDisconnect = errors.New("unread data pending on disconnect")
	ErrServerClosed            = errors.New("server closed")
	ErrHandshake               = errors.New("handshake failed")
)

// TransportError reports a failure of the underlying connection or
// multiplexing session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, ErrTransport.Error(), e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// PendingDataError is returned by Disconnect while received bytes are
// still unread.
type PendingDataError struct {
	Remaining int
}

func (e *PendingDataError) Error() string {
	return fmt.Sprintf("%s: %d bytes", ErrPendingDataOnDisconnect.Error(), e.Remaining)
}

func (e *PendingDataError) Is(target error) bool {
	return target == ErrPendingDataOnDisconnect
}

func transportError(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, ErrNotConnected) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
