package vsock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	cid, port, err := ParseAddr("2:1234")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), cid)
	assert.Equal(t, uint32(1234), port)

	cid, _, err = ParseAddr("4294967295:1234")
	require.NoError(t, err)
	assert.Equal(t, uint32(CIDAny), cid)

	for _, addr := range []string{"", "1234", "a:1", "2:b", "2:99999999999"} {
		_, _, err = ParseAddr(addr)
		assert.Error(t, err, addr)
	}
}
