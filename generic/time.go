package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Civil date with day granularity (no time of day, no zone)
// =============================================================================

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
	clockLayout = "15:04"
)

type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Reason: fmt.Sprintf("expected YYYY-MM-DD, got %q", s)}
	}
	return DateOf(t), nil
}

func (d Date) Time() time.Time { return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC) }
func (d Date) IsZero() bool    { return d.Year == 0 && d.Month == 0 && d.Day == 0 }
func (d Date) String() string  { return d.Time().Format(dateLayout) }

// Comparison
func (d Date) Before(o Date) bool        { return d.Time().Before(o.Time()) }
func (d Date) After(o Date) bool         { return d.Time().After(o.Time()) }
func (d Date) Equal(o Date) bool         { return d == o }
func (d Date) BeforeOrEqual(o Date) bool { return !d.After(o) }

// Arithmetic
func (d Date) AddDays(n int) Date { return DateOf(d.Time().AddDate(0, 0, n)) }
func (d Date) MonthOf() Month     { return Month{Year: d.Year, Month: d.Month} }

func (d Date) Weekday() time.Weekday { return d.Time().Weekday() }
func (d Date) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (d Date) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// MONTH - Accrual bookkeeping granularity
// =============================================================================

type Month struct {
	Year  int
	Month time.Month
}

func NewMonth(year int, month time.Month) Month { return Month{Year: year, Month: month} }

func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return Month{}, &ValidationError{Field: "month", Reason: fmt.Sprintf("expected YYYY-MM, got %q", s)}
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

func (m Month) IsZero() bool   { return m.Year == 0 && m.Month == 0 }
func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }
func (m Month) index() int     { return m.Year*12 + int(m.Month) - 1 }

func (m Month) Before(o Month) bool { return m.index() < o.index() }
func (m Month) After(o Month) bool  { return m.index() > o.index() }

// AddMonths shifts by n months (n may be negative).
func (m Month) AddMonths(n int) Month {
	i := m.index() + n
	return Month{Year: i / 12, Month: time.Month(i%12 + 1)}
}

// MonthsBetween returns the number of whole months from a to b (b - a).
func MonthsBetween(a, b Month) int { return b.index() - a.index() }

func (m Month) FirstDay() Date { return NewDate(m.Year, m.Month, 1) }
func (m Month) DaysIn() int    { return m.AddMonths(1).FirstDay().AddDays(-1).Day }

func (m Month) MarshalText() ([]byte, error) {
	if m.IsZero() {
		return []byte{}, nil
	}
	return []byte(m.String()), nil
}

func (m *Month) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*m = Month{}
		return nil
	}
	parsed, err := ParseMonth(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// =============================================================================
// CLOCK TIME - Wall-clock time of day for pass slips
// =============================================================================

// ClockTime is minutes since midnight.
type ClockTime int

func NewClockTime(hour, minute int) ClockTime { return ClockTime(hour*60 + minute) }

func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("expected HH:MM, got %q", s)}
	}
	return NewClockTime(t.Hour(), t.Minute()), nil
}

func (c ClockTime) Hour() int      { return int(c) / 60 }
func (c ClockTime) Minute() int    { return int(c) % 60 }
func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute()) }

// On combines the clock time with a date in loc.
func (c ClockTime) On(d Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour(), c.Minute(), 0, 0, loc)
}

func (c ClockTime) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// =============================================================================
// CLOCK - Injectable "now"
// =============================================================================

type Clock interface {
	Now() time.Time
}

// SystemClock reports wall time in Location (UTC when nil).
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.Location)
}

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// Today returns the civil date of clock's now.
func Today(clock Clock) Date { return DateOf(clock.Now()) }

// =============================================================================
// HOLIDAY CALENDAR - Agency non-working days
// =============================================================================

// HolidayCalendar reports non-working days that are not weekends.
type HolidayCalendar interface {
	IsHoliday(d Date) bool
}

// HolidaySet is a fixed set of dates. Recurring entries match any year.
type HolidaySet struct {
	dates     map[Date]string
	recurring map[[2]int]string
}

func NewHolidaySet() *HolidaySet {
	return &HolidaySet{dates: make(map[Date]string), recurring: make(map[[2]int]string)}
}

func (h *HolidaySet) Add(d Date, name string, recurring bool) {
	if recurring {
		h.recurring[[2]int{int(d.Month), d.Day}] = name
		return
	}
	h.dates[d] = name
}

func (h *HolidaySet) IsHoliday(d Date) bool {
	if h == nil {
		return false
	}
	if _, ok := h.dates[d]; ok {
		return true
	}
	_, ok := h.recurring[[2]int{int(d.Month), d.Day}]
	return ok
}

// WorkingDays counts Mon-Fri days in the closed range [from, to] that are not
// holidays in cal (cal may be nil).
func WorkingDays(from, to Date, cal HolidayCalendar) int {
	n := 0
	for d := from; d.BeforeOrEqual(to); d = d.AddDays(1) {
		if d.IsWeekend() {
			continue
		}
		if cal != nil && cal.IsHoliday(d) {
			continue
		}
		n++
	}
	return n
}
