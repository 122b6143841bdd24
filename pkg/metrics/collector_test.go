package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeStats struct {
	stats Stats
}

func (f *fakeStats) Stats() Stats {
	return f.stats
}

func TestCollectorCollect(t *testing.T) {
	source := &fakeStats{stats: Stats{
		ShardsByDatastore: map[string]int{"config": 3, "operational": 1},
		Listeners:         5,
	}}

	c := NewCollector(source)
	c.collect()

	assert.Equal(t, float64(3), testutil.ToFloat64(ShardsTotal.WithLabelValues("config")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ShardsTotal.WithLabelValues("operational")))
	assert.Equal(t, float64(5), testutil.ToFloat64(ListenersTotal))

	// shrinking topologies drop stale label values
	source.stats = Stats{ShardsByDatastore: map[string]int{"config": 1}}
	c.collect()
	assert.Equal(t, 1, testutil.CollectAndCount(ShardsTotal))
	assert.Equal(t, float64(0), testutil.ToFloat64(ListenersTotal))
}
