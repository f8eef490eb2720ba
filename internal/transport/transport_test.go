package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQualityFromRTT(t *testing.T) {
	require.Equal(t, 100, QualityFromRTT(0))
	require.Equal(t, 90, QualityFromRTT(100*time.Millisecond))
	require.Equal(t, 0, QualityFromRTT(2*time.Second))
}

func TestConnectionStateString(t *testing.T) {
	require.Equal(t, "connected", StateConnected.String())
	require.Equal(t, "unknown", ConnectionState(99).String())
}
