package tracer

import "runtime"

// goroutineID returns the numeric ID of the calling goroutine, parsed from
// the runtime.Stack header ("goroutine 123 [running]:"). The runtime exposes
// no API for this; parsing the stack header is the established technique for
// goroutine-keyed state. The cost is paid once per Enter/Leave and is part
// of the engine's fixed overhead.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Skip the "goroutine " prefix.
	var id uint64
	for _, c := range buf[10:n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
