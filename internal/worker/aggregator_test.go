package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPreviousQuarter(t *testing.T) {
	tests := []struct {
		now         time.Time
		wantYear    int
		wantQuarter int
	}{
		{time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC), 2024, 4},
		{time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), 2025, 1},
		{time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC), 2025, 2},
		{time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), 2025, 3},
	}
	for _, tt := range tests {
		year, quarter := previousQuarter(tt.now)
		assert.Equal(t, tt.wantYear, year, tt.now)
		assert.Equal(t, tt.wantQuarter, quarter, tt.now)
	}
}

func TestQuarterRange(t *testing.T) {
	rng := quarterRange(2024, 4)
	assert.Equal(t, time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC), rng.Start)
	assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), rng.End)

	rng = quarterRange(2024, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), rng.Start)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), rng.End)
}
