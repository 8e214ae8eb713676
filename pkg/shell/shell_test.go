package shell

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplaceEnvVars(t *testing.T) {
	t.Setenv("CAMD_SERIAL", "00D1")

	s := ReplaceEnvVars("identity: ${CAMD_SERIAL}\nlisten: ${CAMD_LISTEN::1984}\nkey: ${CAMD_MISSING}")
	require.Equal(t, "identity: 00D1\nlisten: :1984\nkey: ${CAMD_MISSING}", s)
}

func TestWaitSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Nil(t, WaitSignal(ctx))
}
