package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	plaintext := bytes.Repeat([]byte("redundant redundant redundant data "), 500)

	compressed, err := Compress(Zstd, plaintext)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(plaintext))

	recovered, err := Decompress(Zstd, compressed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, recovered)
}

func TestCompressNoneIsIdentity(t *testing.T) {
	plaintext := []byte("not compressed")
	out, err := Compress(None, plaintext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)

	back, err := Decompress(None, out)
	require.NoError(t, err)
	assert.Equal(t, plaintext, back)
}

func TestCompressUnknownKindErrors(t *testing.T) {
	_, err := Compress(Kind("lzma"), []byte("x"))
	assert.Error(t, err)
}
