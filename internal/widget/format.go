package widget

import "time"

// TimeLayout renders like an en-US short month, numeric day, two-digit
// twelve-hour clock: "Jan 2, 03:04 PM".
const TimeLayout = "Jan 2, 03:04 PM"

// FormatTime renders t in loc. A nil loc means local time.
func FormatTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(TimeLayout)
}
