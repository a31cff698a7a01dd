package quic

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestDialListen(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	messages := []string{"A", "BB", "CCC"}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sess, err := ln.Accept(gctx)
		if err != nil {
			return err
		}
		defer sess.Close()
		for _, want := range messages {
			st, err := sess.AcceptStream(gctx)
			if err != nil {
				return err
			}
			buf, err := io.ReadAll(st)
			if err != nil {
				return err
			}
			assert.Equal(t, want, string(buf))
			if err = st.Close(); err != nil {
				return err
			}
		}
		return nil
	})

	sess, err := Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer sess.Close()
	assert.False(t, sess.IsClosed())
	for _, msg := range messages {
		st, err := sess.OpenStream(ctx)
		require.NoError(t, err)
		_, err = st.Write([]byte(msg))
		require.NoError(t, err)
		require.NoError(t, st.Close())
	}
	require.NoError(t, g.Wait())
	require.NoError(t, sess.Close())
	assert.True(t, sess.IsClosed())
}

func TestStreamReadAfterClose(t *testing.T) {
	ln, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sess, err := ln.Accept(gctx)
		if err != nil {
			return err
		}
		st, err := sess.AcceptStream(gctx)
		if err != nil {
			return err
		}
		buf, err := io.ReadAll(st)
		if err != nil {
			return err
		}
		if _, err = st.Write(append(buf, '!')); err != nil {
			return err
		}
		return st.Close()
	})

	sess, err := Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer sess.Close()
	st, err := sess.OpenStream(ctx)
	require.NoError(t, err)
	_, err = st.Write([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, st.Close())
	reply, err := io.ReadAll(st)
	require.NoError(t, err)
	assert.Equal(t, "ping!", string(reply))
	require.NoError(t, g.Wait())
}

func TestSelfSignedCertificate(t *testing.T) {
	cert, err := selfSignedCertificate()
	require.NoError(t, err)
	assert.Len(t, cert.Certificate, 1)
	assert.NotNil(t, cert.PrivateKey)
}
