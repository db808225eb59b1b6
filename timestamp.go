package reactor

import "time"

// Timestamp is an opaque wall-clock instant, stamped onto each readiness
// batch so message callbacks see the time the kernel reported the event.
//
// The original C++ Timestamp::now() used second-granularity time(NULL)
// while storing into a field named microSecondsSinceEpoch_ -- a documented
// inconsistency (see design notes). This type is backed by time.Time
// directly, so it carries the runtime clock's native (sub-microsecond)
// resolution and the micro-granularity the name always promised.
type Timestamp struct {
	t time.Time
}

// Now returns the current Timestamp.
func Now() Timestamp {
	return Timestamp{t: time.Now()}
}

// MicroSecondsSinceEpoch returns the instant as microseconds since the Unix
// epoch, matching the original field's name and unit.
func (ts Timestamp) MicroSecondsSinceEpoch() int64 {
	return ts.t.UnixMicro()
}

// Time returns the underlying time.Time.
func (ts Timestamp) Time() time.Time {
	return ts.t
}

// Before reports whether ts occurred before other.
func (ts Timestamp) Before(other Timestamp) bool {
	return ts.t.Before(other.t)
}

// String renders the timestamp as "2006-01-02 15:04:05.000000".
func (ts Timestamp) String() string {
	return ts.t.Format("2006-01-02 15:04:05.000000")
}
