package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewXORDerivesBlockKey(t *testing.T) {
	x := NewXOR([]byte("secret"))
	require.Len(t, x.Key, BlockSize)

	raw := bytes.Repeat([]byte{0x7f}, BlockSize)
	assert.Equal(t, raw, NewXOR(raw).Key)
}

func TestXORRoundTrip(t *testing.T) {
	x := NewXOR([]byte("secret"))
	for _, size := range []int{0, 1, 100, BlockSize - 1, BlockSize, BlockSize + 1, 5*BlockSize + 17} {
		plain := make([]byte, size)
		for i := range plain {
			plain[i] = byte(i)
		}
		buf := append([]byte(nil), plain...)
		assert.Equal(t, size, x.Apply(buf, buf))
		if size > 16 {
			assert.NotEqual(t, plain, buf, "size %d", size)
		}
		x.Decrypt(buf)
		assert.Equal(t, plain, buf, "size %d", size)
	}
}

func TestXORShortKeyIsNoop(t *testing.T) {
	x := &XOR{Key: []byte("short")}
	buf := []byte("payload")
	assert.Equal(t, 0, x.Apply(buf, buf))
	assert.Equal(t, "payload", string(buf))
}
