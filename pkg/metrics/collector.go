package metrics

import (
	"time"
)

// Stats is a point-in-time summary of the datastore
type Stats struct {
	ShardsByDatastore map[string]int
	Listeners         int
}

// StatsSource is implemented by the shard manager
type StatsSource interface {
	Stats() Stats
}

// Collector periodically samples gauges from a StatsSource
type Collector struct {
	source   StatsSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source:   source,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	stats := c.source.Stats()

	ShardsTotal.Reset()
	for datastore, count := range stats.ShardsByDatastore {
		ShardsTotal.WithLabelValues(datastore).Set(float64(count))
	}
	ListenersTotal.Set(float64(stats.Listeners))
}
