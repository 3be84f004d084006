package moderation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProfanityChecker(t *testing.T) {
	c := NewProfanityChecker()
	require.True(t, c.IsAllowed("What is the capital of France?"))
	require.False(t, c.IsAllowed("what the fuck is this"))
	require.True(t, AllowAll{}.IsAllowed("anything"))
}
