//go:build !unix

package introspection

import "time"

// cpuUsage is not available without getrusage; CPU fields stay zero.
func cpuUsage(time.Duration) CPU {
	return CPU{}
}
