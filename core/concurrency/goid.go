// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "runtime"

// currentGoroutineID parses the id out of the "goroutine N [" stack header.
func currentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	const prefix = len("goroutine ")
	if n <= prefix {
		return 0
	}
	var id int64
	for _, c := range buf[prefix:n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
