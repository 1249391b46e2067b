package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostConfigNames(t *testing.T) {
	assert.True(t, IsHostConfig("host0_config.json"))
	assert.True(t, IsHostConfig("host12_config.json"))
	assert.False(t, IsHostConfig("cluster_config.json"))
	assert.False(t, IsHostConfig("host0_config.yaml"))

	id, err := HostIDFromConfigName("host12_config.json")
	require.NoError(t, err)
	assert.Equal(t, 12, id)

	_, err = HostIDFromConfigName("hostX_config.json")
	assert.Error(t, err)
}

func TestHashEdgeIsOrdered(t *testing.T) {
	assert.Equal(t, HashEdge(1, 2), HashEdge(1, 2))
	assert.NotEqual(t, HashEdge(1, 2), HashEdge(2, 1))
}
