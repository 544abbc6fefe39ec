//go:build unix

package introspection

import (
	"runtime"
	"syscall"
	"time"
)

func cpuUsage(uptime time.Duration) CPU {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return CPU{}
	}

	user := time.Duration(ru.Utime.Nano()).Seconds()
	sys := time.Duration(ru.Stime.Nano()).Seconds()

	var util float64
	if wall := uptime.Seconds() * float64(runtime.NumCPU()); wall > 0 {
		util = (user + sys) / wall * 100
	}

	return CPU{UserSeconds: user, SystemSeconds: sys, UtilizationPercent: util}
}
