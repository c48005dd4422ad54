// Package schedule validates weekly class schedule entries.
//
// All checks are pure: the set of valid class types is passed in by the
// caller rather than looked up here.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Capacity bounds for a schedule entry.
const (
	MinCapacity     = 1
	MaxCapacity     = 50
	DefaultCapacity = 20
)

// Days are the canonical day-of-week values in week order.
var Days = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

var timePattern = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):[0-5][0-9]$`)

// IsValidTimeFormat reports whether s is a 24-hour H:mm or HH:mm time.
func IsValidTimeFormat(s string) bool {
	return timePattern.MatchString(s)
}

// Minutes converts a valid time string to minutes since midnight.
func Minutes(s string) (int, bool) {
	if !IsValidTimeFormat(s) {
		return 0, false
	}

	hh, mm, _ := strings.Cut(s, ":")
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)

	return h*60 + m, true
}

// NormalizeTime renders a valid time as zero-padded HH:mm so stored values
// sort lexically. Invalid input is returned unchanged.
func NormalizeTime(s string) string {
	minutes, ok := Minutes(s)
	if !ok {
		return s
	}

	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ValidateTimeRange reports whether end is strictly after start on the same
// day. Classes that run past midnight are not supported.
func ValidateTimeRange(start, end string) bool {
	s, ok := Minutes(start)
	if !ok {
		return false
	}

	e, ok := Minutes(end)
	if !ok {
		return false
	}

	return e > s
}

// IsValidDayOfWeek reports whether d names a day, ignoring case.
func IsValidDayOfWeek(d string) bool {
	return DayIndex(d) >= 0
}

// DayIndex returns the position of d in Days, or -1.
func DayIndex(d string) int {
	d = strings.ToLower(d)

	for i, day := range Days {
		if day == d {
			return i
		}
	}

	return -1
}

// ValidateCapacity reports whether capacity is within bounds.
func ValidateCapacity(capacity int) bool {
	return capacity >= MinCapacity && capacity <= MaxCapacity
}

// ValidateParticipants reports whether participants fit in capacity.
func ValidateParticipants(participants, capacity int) bool {
	return participants >= 0 && participants <= capacity
}

// AvailableSpots is capacity minus participants.
func AvailableSpots(capacity, participants int) int {
	return capacity - participants
}
