package gen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"payout-engine/pkg/config"
)

func TestNewSnowflakeNode(t *testing.T) {
	node, err := NewSnowflakeNode(&config.Config{NodeID: 7})
	require.NoError(t, err)
	a, b := node.Generate(), node.Generate()
	require.NotEqual(t, a, b)
	require.Equal(t, int64(7), a.Node())

	_, err = NewSnowflakeNode(&config.Config{NodeID: 5000})
	require.Error(t, err)
}
