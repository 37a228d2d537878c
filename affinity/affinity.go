// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for pinning event loop threads to CPUs. Platform-specific
// implementations are located in separate files guarded by build tags.

package affinity

import (
	"fmt"
	"runtime"
)

// Pin locks the calling goroutine to its OS thread and binds that thread to
// cpuID. The goroutine stays locked even if binding fails.
func Pin(cpuID int) error {
	if cpuID < 0 || cpuID >= runtime.NumCPU() {
		return fmt.Errorf("affinity: cpu %d outside [0, %d)", cpuID, runtime.NumCPU())
	}
	runtime.LockOSThread()
	return setAffinityPlatform(cpuID)
}

// Spread returns cpu ids for n loops, wrapping around the available CPUs.
func Spread(n int) []int {
	cpus := make([]int, n)
	for i := range cpus {
		cpus[i] = i % runtime.NumCPU()
	}
	return cpus
}
