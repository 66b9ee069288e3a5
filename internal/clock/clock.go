// Package clock provides the monotonic millisecond timestamps used by
// the gossip failure detector and Raft's election/heartbeat timers.
// Wall-clock time is never compared directly: every "age" check in this
// module subtracts two NowMS() readings instead.
package clock

import "time"

var start = time.Now()

// NowMS returns milliseconds elapsed since process start.
func NowMS() int64 {
	return time.Since(start).Milliseconds()
}
