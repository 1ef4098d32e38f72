package fault

import (
	"syscall"
	"time"
)

// errnoNospc is the errno the SPACE_EXHAUSTION kind fails calls with.
const errnoNospc = syscall.ENOSPC

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
