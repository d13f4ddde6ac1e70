package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodecRoundTripsStartWorkerFrame(t *testing.T) {
	c := jsonCodec{}

	in := &StartWorkerFrame{Header: &Header{
		Name:       "word-count",
		JobID:      "job-1",
		RunID:      3,
		Slots:      4,
		NodeID:     7,
		EnvVars:    map[string]string{"FOO": "bar"},
		BinarySize: 1024,
	}}

	data, err := c.Marshal(in)
	require.NoError(t, err)

	var out StartWorkerFrame
	require.NoError(t, c.Unmarshal(data, &out))

	assert.Equal(t, in.Header.Name, out.Header.Name)
	assert.Equal(t, in.Header.JobID, out.Header.JobID)
	assert.Equal(t, in.Header.RunID, out.Header.RunID)
	assert.Equal(t, in.Header.Slots, out.Header.Slots)
	assert.Equal(t, in.Header.EnvVars, out.Header.EnvVars)
	assert.Equal(t, in.Header.BinarySize, out.Header.BinarySize)
	assert.Nil(t, out.Data)
}

func TestJSONCodecName(t *testing.T) {
	assert.Equal(t, "json", jsonCodec{}.Name())
}

func TestJSONCodecUnmarshalErrorIsWrapped(t *testing.T) {
	var out StartWorkerResp
	err := jsonCodec{}.Unmarshal([]byte("not json"), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc: unmarshal")
}
