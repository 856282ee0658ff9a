package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRefreshSeenEntitiesStatement(t *testing.T) {
	// The cumulative count is recomputed from every retained bucket, not
	// just the recently updated ones; the recency filter only selects
	// which entities to refresh.
	assert.Contains(t, refreshSeenEntitiesSQL, "sum(fb.n_events)")
	assert.Contains(t, refreshSeenEntitiesSQL, "(fb.entity_type, fb.entity_id) IN (")
	recencyFilter := "updated_at >= now()"
	assert.Equal(t, 1, strings.Count(refreshSeenEntitiesSQL, recencyFilter))
	subquery := refreshSeenEntitiesSQL[strings.Index(refreshSeenEntitiesSQL, "IN ("):]
	assert.Contains(t, subquery, recencyFilter)

	// First seen and the total only ever move one way.
	assert.Contains(t, refreshSeenEntitiesSQL, "first_seen   = LEAST(entity_stats.first_seen, EXCLUDED.first_seen)")
	assert.Contains(t, refreshSeenEntitiesSQL, "last_seen    = GREATEST(entity_stats.last_seen, EXCLUDED.last_seen)")
	assert.Contains(t, refreshSeenEntitiesSQL, "total_events = GREATEST(entity_stats.total_events, EXCLUDED.total_events)")
}

func TestIntervalParam(t *testing.T) {
	assert.Equal(t, "300 seconds", intervalParam(5*time.Minute))
	assert.Equal(t, "3600 seconds", intervalParam(time.Hour))
}
