package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigTerminationConditions(t *testing.T) {
	base := Config{Horizon: 16, StepSize: 3e-4, OptimEpochs: 4, Gamma: 0.99, Lambda: 0.95}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"none set", func(c *Config) {}, false},
		{"iters only", func(c *Config) { c.MaxIters = 10 }, true},
		{"timesteps only", func(c *Config) { c.MaxTimesteps = 1000 }, true},
		{"episodes only", func(c *Config) { c.MaxEpisodes = 50 }, true},
		{"seconds only", func(c *Config) { c.MaxSeconds = 30 }, true},
		{"two set", func(c *Config) { c.MaxIters = 10; c.MaxEpisodes = 50 }, false},
		{"all set", func(c *Config) {
			c.MaxIters = 10
			c.MaxTimesteps = 1000
			c.MaxEpisodes = 50
			c.MaxSeconds = 30
		}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := base
			test.mutate(&cfg)
			err := cfg.Validate()
			if test.ok {
				require.NoError(t, err)
			} else {
				var confErr *ConfigurationError
				require.ErrorAs(t, err, &confErr)
			}
		})
	}
}

func TestConfigSchedule(t *testing.T) {
	cfg := Config{Horizon: 8, MaxIters: 1}

	cfg.Schedule = ""
	require.NoError(t, cfg.Validate())
	cfg.Schedule = ScheduleConstant
	require.NoError(t, cfg.Validate())
	require.Equal(t, 1.0, cfg.LRMult(12345))

	cfg.Schedule = "cosine"
	var confErr *ConfigurationError
	require.ErrorAs(t, cfg.Validate(), &confErr)

	// Linear annealing divides by MaxTimesteps, so that termination
	// condition is mandatory for it.
	cfg.Schedule = ScheduleLinear
	require.ErrorAs(t, cfg.Validate(), &confErr)

	cfg.MaxIters = 0
	cfg.MaxTimesteps = 1000
	require.NoError(t, cfg.Validate())
	require.Equal(t, 1.0, cfg.LRMult(0))
	require.InDelta(t, 0.75, cfg.LRMult(250), 1e-12)
	require.Equal(t, 0.0, cfg.LRMult(2000))
}
