package api_test

import (
	"testing"

	"github.com/programme-lv/tuner/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeekHeader(t *testing.T) {
	data, err := api.Encode(api.NewKillRun("b-1", 3))
	require.NoError(t, err)

	h, err := api.PeekHeader(data)
	require.NoError(t, err)
	assert.Equal(t, api.NewHeader("b-1", api.KillRunMsg), h)

	var kill api.KillRun
	require.NoError(t, api.Decode(data, &kill))
	assert.Equal(t, 3, kill.Index)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	var h api.Header
	assert.Error(t, api.Decode([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, &h))
}
