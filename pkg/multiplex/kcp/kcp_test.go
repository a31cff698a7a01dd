package kcp

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uole/virga/pkg/multiplex"
	"golang.org/x/sync/errgroup"
)

func TestDialListen(t *testing.T) {
	cases := map[string][]multiplex.Option{
		"plain":     nil,
		"encrypted": {multiplex.WithKey([]byte("secret"))},
		"smux":      {multiplex.WithMux(multiplex.MuxSmux)},
	}
	for name, cbs := range cases {
		t.Run(name, func(t *testing.T) {
			ln, err := Listen("127.0.0.1:0", cbs...)
			require.NoError(t, err)
			defer ln.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			payload := make([]byte, 64*1024)
			for i := range payload {
				payload[i] = byte(i)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				sess, err := ln.Accept(gctx)
				if err != nil {
					return err
				}
				defer sess.Close()
				st, err := sess.AcceptStream(gctx)
				if err != nil {
					return err
				}
				buf, err := io.ReadAll(st)
				if err != nil {
					return err
				}
				assert.Equal(t, payload, buf)
				return st.Close()
			})

			sess, err := Dial(ctx, ln.Addr().String(), cbs...)
			require.NoError(t, err)
			defer sess.Close()
			st, err := sess.OpenStream(ctx)
			require.NoError(t, err)
			_, err = st.Write(payload)
			require.NoError(t, err)
			require.NoError(t, st.Close())
			require.NoError(t, g.Wait())
		})
	}
}

func TestBlockCrypt(t *testing.T) {
	block, err := blockCrypt(nil)
	require.NoError(t, err)
	assert.Nil(t, block)

	block, err = blockCrypt([]byte("secret"))
	require.NoError(t, err)
	assert.NotNil(t, block)
}
