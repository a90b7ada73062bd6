package session

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// timePattern accepts H:MM or HH:MM with hour 0-23 and minute 0-59.
var timePattern = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)

// ClockTime is a wall-clock time of day with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses a user-supplied HH:MM (24-hour) string.
func ParseClockTime(s string) (ClockTime, error) {
	if !timePattern.MatchString(s) {
		return ClockTime{}, fmt.Errorf("invalid time %q: use the HH:MM 24-hour format", s)
	}

	parts := strings.SplitN(s, ":", 2)
	hour, _ := strconv.Atoi(parts[0])
	minute, _ := strconv.Atoi(parts[1])

	return ClockTime{Hour: hour, Minute: minute}, nil
}

func (t ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// SecondOfDay returns the number of seconds since midnight.
func (t ClockTime) SecondOfDay() int {
	return t.Hour*3600 + t.Minute*60
}

// ClockTimeOf extracts the time of day from a timestamp.
func ClockTimeOf(ts time.Time) ClockTime {
	return ClockTime{Hour: ts.Hour(), Minute: ts.Minute()}
}
