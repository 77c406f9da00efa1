package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mimblenode/node/pkg/pibd"
)

func TestDefaultIsConstructible(t *testing.T) {
	cfg := Default(t.TempDir())
	require.Equal(t, "info", cfg.LogLevel)
	require.True(t, cfg.NRDEnabled)
	require.Equal(t, pibd.DefaultSegmentHeight, cfg.PIBDSegmentHeight)
}

func TestVersionSchedule(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.ForkSchedule = []ForkStep{
		{Height: 0, Version: 1},
		{Height: 100, Version: 2},
		{Height: 500, Version: 3},
	}
	schedule := cfg.versionSchedule()

	require.EqualValues(t, 1, schedule(0))
	require.EqualValues(t, 1, schedule(50))
	require.EqualValues(t, 2, schedule(100))
	require.EqualValues(t, 2, schedule(499))
	require.EqualValues(t, 3, schedule(500))
	require.EqualValues(t, 3, schedule(10_000))
}

func TestVersionScheduleEmptyDefaultsToV4(t *testing.T) {
	cfg := Default(t.TempDir())
	schedule := cfg.versionSchedule()
	require.EqualValues(t, 4, schedule(0))
	require.EqualValues(t, 4, schedule(1_000_000))
}

func TestChainConfigWiresLogAndDir(t *testing.T) {
	cfg := Default(t.TempDir())
	log, err := cfg.Logger()
	require.NoError(t, err)

	cc := cfg.ChainConfig(log)
	require.Contains(t, cc.Dir, "chain")
	require.NotNil(t, cc.Log)
	require.NotNil(t, cc.VersionAt)
}

func TestPoolConfigTranslation(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.MaxPoolSize = 123
	cfg.BaseFee = 7
	pc := cfg.PoolConfig()
	require.Equal(t, 123, pc.MaxPoolSize)
	require.EqualValues(t, 7, pc.BaseFee)
}

func TestPIBDConfigWiresTarget(t *testing.T) {
	cfg := Default(t.TempDir())
	log, err := cfg.Logger()
	require.NoError(t, err)

	target := pibd.Target{OutputSize: 10}
	pc := cfg.PIBDConfig(target, log)
	require.Equal(t, uint64(10), pc.Target.OutputSize)
	require.Contains(t, pc.Dir, "pibd")
}
