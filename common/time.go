package common

import "time"

// NowMillis returns the current time in unix milliseconds, the unit every
// protocol timestamp uses on the wire.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
