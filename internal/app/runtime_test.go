package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSkipStartupFollowsTestMode(t *testing.T) {
	require.Equal(t, InTestMode(), SkipStartup("odyssey"))
}
