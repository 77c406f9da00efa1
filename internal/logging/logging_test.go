package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidLevel(t *testing.T) {
	log, err := New("debug")
	require.NoError(t, err)
	require.NotNil(t, log)
	log.Infow("test", "key", "value")
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New("not-a-level")
	require.Error(t, err)
}

func TestNop(t *testing.T) {
	log := Nop()
	require.NotNil(t, log)
	log.Debugw("discarded")
}

func TestWithService(t *testing.T) {
	log := Nop()
	tagged := WithService(log, "mimblenode")
	require.NotNil(t, tagged)
}
