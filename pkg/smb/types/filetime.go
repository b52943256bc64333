package types

import "time"

// ticks between 1601-01-01 and 1970-01-01 in 100ns units
const filetimeEpochDelta = 116444736000000000

// Filetime converts t to a Windows FILETIME. The zero time maps to 0.
func Filetime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/100) + filetimeEpochDelta
}

// FromFiletime is the inverse of Filetime.
func FromFiletime(ft uint64) time.Time {
	if ft < filetimeEpochDelta {
		return time.Time{}
	}
	return time.Unix(0, int64(ft-filetimeEpochDelta)*100).UTC()
}
