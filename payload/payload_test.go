package payload

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePingPong(t *testing.T) {
	req, resp := Generate(4)

	assert.Equal(t, []byte("ping"), req)
	assert.Equal(t, []byte("pong"), resp)
}

func TestGenerateProperties(t *testing.T) {
	for _, size := range []int{1, 2, 3, 4, 5, 7, 64, 1000, 4096, 65536} {
		req, resp := Generate(size)

		require.Len(t, req, size)
		require.Len(t, resp, size)
		assert.NotEqual(t, req, resp, "size %d", size)

		req2, resp2 := Generate(size)
		assert.Equal(t, req, req2, "size %d not deterministic", size)
		assert.Equal(t, resp, resp2, "size %d not deterministic", size)
	}
}

func TestGenerateSingleByte(t *testing.T) {
	req, resp := Generate(1)

	assert.Equal(t, []byte("i"), req)
	assert.Equal(t, []byte("o"), resp)
}

func TestGenerateNonPositive(t *testing.T) {
	for _, size := range []int{0, -1} {
		req, resp := Generate(size)
		assert.Nil(t, req)
		assert.Nil(t, resp)
	}
}

func TestGenerateReturnsFreshBuffers(t *testing.T) {
	req, _ := Generate(8)
	req[0] = 'x'

	again, _ := Generate(8)
	assert.Equal(t, byte('p'), again[0])
}

func TestPairReply(t *testing.T) {
	p, err := NewPair(6)
	require.NoError(t, err)

	assert.Equal(t, 6, p.Size())
	assert.Equal(t, []byte("pingpi"), p.Request)

	reply, ok := p.Reply(p.Request)
	require.True(t, ok)
	assert.Equal(t, p.Response, reply)

	reply, ok = p.Reply(p.Response)
	require.True(t, ok)
	assert.Equal(t, p.Request, reply)

	_, ok = p.Reply([]byte("garbag"))
	assert.False(t, ok)
}

func TestPairKind(t *testing.T) {
	p, err := NewPair(4)
	require.NoError(t, err)

	tests := []struct {
		msg  []byte
		want Kind
	}{
		{[]byte("ping"), Request},
		{[]byte("pong"), Response},
		{[]byte("pang"), Unknown},
		{[]byte("pin"), Unknown},
		{nil, Unknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Kind(tt.msg), "msg %q", tt.msg)
	}

	assert.Equal(t, "request", Request.String())
	assert.Equal(t, "unknown", Kind(42).String())
}

func TestNewPairRejectsEmpty(t *testing.T) {
	_, err := NewPair(0)
	assert.Error(t, err)
}

func TestPreview(t *testing.T) {
	long := bytes.Repeat([]byte("x"), 100)
	assert.Len(t, Preview(long), 16)
	assert.Equal(t, []byte("ping"), Preview([]byte("ping")))
	assert.Empty(t, Preview(nil))
}
