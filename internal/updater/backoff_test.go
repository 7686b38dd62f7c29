package updater

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextFireTime_DailyAnchor(t *testing.T) {
	now := time.Date(2024, 6, 10, 1, 30, 0, 0, time.UTC)

	next := nextFireTime(1, 3, 15, now)
	assert.Equal(t, time.Date(2024, 6, 10, 3, 15, 0, 0, time.UTC), next)

	// anchor already passed today, roll over to tomorrow
	now = time.Date(2024, 6, 10, 4, 0, 0, 0, time.UTC)
	next = nextFireTime(1, 3, 15, now)
	assert.Equal(t, time.Date(2024, 6, 11, 3, 15, 0, 0, time.UTC), next)

	// exactly at the anchor also rolls over
	now = time.Date(2024, 6, 10, 3, 15, 0, 0, time.UTC)
	next = nextFireTime(1, 3, 15, now)
	assert.Equal(t, time.Date(2024, 6, 11, 3, 15, 0, 0, time.UTC), next)
}

func TestNextFireTime_Backoff(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	next := nextFireTime(4, 3, 15, now)
	assert.Equal(t, time.Date(2024, 6, 14, 3, 15, 0, 0, time.UTC), next)

	next = nextFireTime(64, 3, 15, now)
	assert.Equal(t, time.Date(2024, 8, 13, 3, 15, 0, 0, time.UTC), next)
}
