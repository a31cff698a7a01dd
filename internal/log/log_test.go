package log

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelAndOutput(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	require.NoError(t, SetLevel("WARN"))
	defer SetLevel("info")

	Infof("hidden %d", 1)
	Warnf("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown 2")
	assert.Contains(t, buf.String(), "WARN")

	assert.Error(t, SetLevel("loud"))
}

func TestWriterLogsLines(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	require.NoError(t, SetLevel("debug"))
	defer SetLevel("info")

	n, err := Writer().Write([]byte("first\n\nsecond\n"))
	require.NoError(t, err)
	assert.Equal(t, 14, n)
	assert.Contains(t, buf.String(), "first")
	assert.Contains(t, buf.String(), "second")
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("DEBUG")))
}
