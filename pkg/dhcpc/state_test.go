package dhcpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateText(t *testing.T) {
	for s := StateInit; s <= StateStopped; s++ {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}

	var info Info
	require.NoError(t, json.Unmarshal([]byte(`{"state":"INIT-REBOOT"}`), &info))
	assert.Equal(t, StateInitReboot, info.State)
	assert.Error(t, json.Unmarshal([]byte(`{"state":"DANCING"}`), &info))
	assert.Equal(t, "State(42)", State(42).String())
	assert.True(t, StateRebinding.HasLease())
	assert.False(t, StateRebooting.HasLease())
}
