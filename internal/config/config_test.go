package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "etcd", cfg.Storage)
	assert.Equal(t, []string{"localhost:2379"}, cfg.EtcdEndpoints)
	assert.Equal(t, time.Hour, cfg.Upkeep.MinWaitPeriod)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.TargetTimeout)
	assert.Equal(t, 1, cfg.Dispatch.Concurrency)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("UPKEEP_STORAGE", "memory")
	t.Setenv("UPKEEP_UPKEEP_MIN_WAIT_PERIOD", "90s")
	t.Setenv("UPKEEP_DISPATCH_CONCURRENCY", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage)
	assert.Equal(t, 90*time.Second, cfg.Upkeep.MinWaitPeriod)
	assert.Equal(t, 8, cfg.Dispatch.Concurrency)
}

func TestDecode_YAML(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
storage: memory
upkeep:
  owner: alice
  driver: keeper
  schedule: "*/10 * * * * *"
dispatch:
  target_timeout: 2s
`)))

	cfg, err := decode(v)
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Upkeep.Owner)
	assert.Equal(t, "keeper", cfg.Upkeep.Driver)
	assert.Equal(t, 2*time.Second, cfg.Dispatch.TargetTimeout)
}

func TestDecode_RejectsInvalid(t *testing.T) {
	cases := map[string]map[string]any{
		"unknown storage":  {"storage": "redis"},
		"zero concurrency": {"dispatch.concurrency": 0},
		"empty owner":      {"upkeep.owner": ""},
		"relative prefix":  {"key_prefix": "upkeep"},
		"negative wait":    {"upkeep.min_wait_period": "-1s"},
		"five field cron":  {"upkeep.schedule": "* * * * *"},
	}
	for name, overrides := range cases {
		t.Run(name, func(t *testing.T) {
			v := viper.New()
			setDefaults(v)
			for k, val := range overrides {
				v.Set(k, val)
			}
			_, err := decode(v)
			assert.Error(t, err)
		})
	}
}
