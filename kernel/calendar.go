package kernel

import "time"

// CalendarTime mirrors OSCalendarTime: POSIX tm plus
// milliseconds/microseconds, no DST flag.
type CalendarTime struct {
	Sec  int32
	Min  int32
	Hour int32
	Mday int32
	Mon  int32 // 0-based, like tm_mon
	Year int32 // full year, not years-since-1900
	Wday int32
	Yday int32
	Msec int32
	Usec int32
}

// ToCalendarTime implements OSTicksToCalendarTime, grounded on
// original_source coreinit_time.cpp's conversion from the console's epoch
// tick count to broken-down time. Ticks here are nanoseconds since the
// Unix epoch (1970-01-01 UTC), matching Clock.NowNanos' unit.
func ToCalendarTime(ticksNanos int64) CalendarTime {
	t := time.Unix(0, ticksNanos).UTC()
	return CalendarTime{
		Sec:  int32(t.Second()),
		Min:  int32(t.Minute()),
		Hour: int32(t.Hour()),
		Mday: int32(t.Day()),
		Mon:  int32(t.Month()) - 1,
		Year: int32(t.Year()),
		Wday: int32(t.Weekday()),
		Yday: int32(t.YearDay()) - 1,
		Msec: int32(t.Nanosecond() / int(time.Millisecond)),
		Usec: int32((t.Nanosecond() / int(time.Microsecond)) % 1000),
	}
}

// FromCalendarTime implements OSCalendarTimeToTicks, the inverse
// conversion.
func FromCalendarTime(c CalendarTime) int64 {
	t := time.Date(int(c.Year), time.Month(c.Mon+1), int(c.Mday), int(c.Hour), int(c.Min), int(c.Sec), int(c.Msec)*int(time.Millisecond)+int(c.Usec)*int(time.Microsecond), time.UTC)
	return t.UnixNano()
}

// Now implements OSGetTime: the
// current tick count per the scheduler's injected Clock, so tests can
// freeze or advance it via FakeClock.
func (s *Scheduler) Now() int64 { return s.clock.NowNanos() }
