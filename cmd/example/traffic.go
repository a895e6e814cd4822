package main

import (
	"math/rand"

	"github.com/peerdash/peerdash/pkg/sample"
)

// simulatedClient produces plausible bandwidth readings for one download
// client instance. Clients with restartEvery > 0 also simulate a process
// restart: the pid changes and the cumulative counters reset to zero, which
// is exactly the case the restart corrector exists for.
type simulatedClient struct {
	id           string
	clientType   string
	baseUp       float64
	baseDown     float64
	restartEvery int

	pid       int64
	ticks     int
	totalUp   float64
	totalDown float64
}

func newSimulatedClient(id, clientType string, baseUp, baseDown float64, restartEvery int) *simulatedClient {
	c := &simulatedClient{
		id:           id,
		clientType:   clientType,
		baseUp:       baseUp,
		baseDown:     baseDown,
		restartEvery: restartEvery,
	}
	if restartEvery > 0 {
		c.pid = 1000 + rand.Int63n(30000)
	}
	return c
}

// nextSample advances the simulation by one tick.
func (c *simulatedClient) nextSample() sample.RawSample {
	c.ticks++
	if c.restartEvery > 0 && c.ticks%c.restartEvery == 0 {
		c.pid = 1000 + rand.Int63n(30000)
		c.totalUp = 0
		c.totalDown = 0
	}

	// Jitter around the base rate, occasionally idle.
	up := c.baseUp * (0.5 + rand.Float64())
	down := c.baseDown * (0.5 + rand.Float64())
	if rand.Float64() < 0.05 {
		up, down = 0, 0
	}

	c.totalUp += up
	c.totalDown += down

	return sample.RawSample{
		InstanceID:    c.id,
		ClientType:    c.clientType,
		UploadSpeed:   up,
		DownloadSpeed: down,
		UploadTotal:   c.totalUp,
		DownloadTotal: c.totalDown,
		PID:           c.pid,
	}
}
