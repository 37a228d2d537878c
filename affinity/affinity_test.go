package affinity_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-pipeline/affinity"
)

func TestSpreadWraps(t *testing.T) {
	n := runtime.NumCPU()*2 + 1
	cpus := affinity.Spread(n)
	assert.Len(t, cpus, n)
	for i, c := range cpus {
		assert.Equal(t, i%runtime.NumCPU(), c)
	}
}

func TestPinRejectsUnknownCPU(t *testing.T) {
	assert.Error(t, affinity.Pin(-1))
	assert.Error(t, affinity.Pin(runtime.NumCPU()))
}
