package workerpool

import (
	"runtime"
	"time"
)

// Config bounds the pool's elastic range. MinWorkers is the floor the
// cleaner will not shrink below; MaxWorkers is the ceiling Submit will not
// spawn past.
type Config struct {
	MinWorkers int
	MaxWorkers int

	// CleanInterval is how often the cleaner goroutine looks for an idle
	// worker to retire once the pool is above MinWorkers. Zero uses the
	// package default.
	CleanInterval time.Duration
}

// DefaultConfig sizes the floor to the logical CPU count and caps the
// pool at 100 workers.
func DefaultConfig() Config {
	return Config{
		MinWorkers:    runtime.NumCPU(),
		MaxWorkers:    100,
		CleanInterval: defaultCleanInterval,
	}
}

func (c Config) normalize() Config {
	if c.MinWorkers <= 0 {
		c.MinWorkers = runtime.NumCPU()
		if c.MinWorkers <= 0 {
			c.MinWorkers = 1
		}
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.CleanInterval <= 0 {
		c.CleanInterval = defaultCleanInterval
	}
	return c
}
