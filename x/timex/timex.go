package timex

import "time"

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// UnixSeconds returns t as unsigned Unix seconds; times before the epoch map to 0.
func UnixSeconds(t time.Time) uint32 {
	s := t.Unix()
	if s <= 0 {
		return 0
	}
	return uint32(s)
}

// FromUnixSeconds is the inverse of UnixSeconds; 0 maps to the zero Time.
func FromUnixSeconds(s uint32) time.Time {
	if s == 0 {
		return time.Time{}
	}
	return time.Unix(int64(s), 0).UTC()
}

// WholeSeconds truncates d to whole seconds.
func WholeSeconds(d time.Duration) time.Duration { return d.Truncate(time.Second) }
