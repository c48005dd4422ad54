package schedule

import (
	"fmt"
	"slices"
	"strings"
)

// Kind identifies one failed check.
type Kind string

// Violation kinds.
const (
	KindMissingFields Kind = "missing_fields"
	KindTimeFormat    Kind = "time_format"
	KindDayOfWeek     Kind = "day_of_week"
	KindClassType     Kind = "class_type"
	KindTimeOrder     Kind = "time_order"
	KindCapacity      Kind = "capacity"
	KindParticipants  Kind = "participants"
	KindOverlap       Kind = "overlap"
)

// Key is the camelCase name used for the kind in API error payloads.
func (k Kind) Key() string {
	parts := strings.Split(string(k), "_")
	for i := 1; i < len(parts); i++ {
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}

	return strings.Join(parts, "")
}

// Violation describes one failed check.
type Violation struct {
	Kind    Kind     `json:"kind"`
	Fields  []string `json:"fields,omitempty"`
	Message string   `json:"message"`
}

// ValidationError carries every violation found for a candidate.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}

	return "invalid schedule entry: " + strings.Join(msgs, "; ")
}

// Has reports whether a violation of kind k was recorded.
func (e *ValidationError) Has(k Kind) bool {
	return slices.ContainsFunc(e.Violations, func(v Violation) bool {
		return v.Kind == k
	})
}

func (e *ValidationError) add(k Kind, msg string, fields ...string) {
	e.Violations = append(e.Violations, Violation{Kind: k, Fields: fields, Message: msg})
}

// Candidate is a proposed schedule entry.
type Candidate struct {
	ClassName    string
	ClassType    string
	DayOfWeek    string
	StartTime    string
	EndTime      string
	Capacity     int
	Participants int
}

// Validate runs every check against c and returns a *ValidationError
// listing all failures, or nil. activeClassTitles is the set of titles c's
// ClassType must match exactly.
func Validate(c Candidate, activeClassTitles []string) error {
	verr := &ValidationError{}

	var missing []string

	for _, f := range []struct{ name, value string }{
		{"className", c.ClassName},
		{"classType", c.ClassType},
		{"dayOfWeek", c.DayOfWeek},
		{"startTime", c.StartTime},
		{"endTime", c.EndTime},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}

	if len(missing) > 0 {
		verr.add(KindMissingFields,
			"missing required fields: "+strings.Join(missing, ", "), missing...)
	}

	var badTimes []string

	if c.StartTime != "" && !IsValidTimeFormat(c.StartTime) {
		badTimes = append(badTimes, "startTime")
	}

	if c.EndTime != "" && !IsValidTimeFormat(c.EndTime) {
		badTimes = append(badTimes, "endTime")
	}

	if len(badTimes) > 0 {
		verr.add(KindTimeFormat, "times must use 24-hour HH:mm format", badTimes...)
	}

	if c.DayOfWeek != "" && !IsValidDayOfWeek(c.DayOfWeek) {
		verr.add(KindDayOfWeek,
			fmt.Sprintf("invalid day of week %q", c.DayOfWeek), "dayOfWeek")
	}

	if c.ClassType != "" && !slices.Contains(activeClassTitles, c.ClassType) {
		verr.add(KindClassType,
			fmt.Sprintf("class type %q is not an active class", c.ClassType), "classType")
	}

	if IsValidTimeFormat(c.StartTime) && IsValidTimeFormat(c.EndTime) &&
		!ValidateTimeRange(c.StartTime, c.EndTime) {
		verr.add(KindTimeOrder, "end time must be after start time", "startTime", "endTime")
	}

	if !ValidateCapacity(c.Capacity) {
		verr.add(KindCapacity, fmt.Sprintf("capacity must be between %d and %d",
			MinCapacity, MaxCapacity), "capacity")
	}

	if !ValidateParticipants(c.Participants, c.Capacity) {
		verr.add(KindParticipants,
			"participants must be between 0 and capacity", "participants")
	}

	if len(verr.Violations) == 0 {
		return nil
	}

	return verr
}

// Slot is the part of a schedule entry that occupies time.
type Slot struct {
	ID        uint
	ClassName string
	DayOfWeek string
	StartTime string
	EndTime   string
	TrainerID *uint
}

// conflictsWith reports whether two slots on the same day overlap in time
// and share either a trainer or a class name.
func (s Slot) conflictsWith(o Slot) bool {
	if !strings.EqualFold(s.DayOfWeek, o.DayOfWeek) {
		return false
	}

	sStart, ok1 := Minutes(s.StartTime)
	sEnd, ok2 := Minutes(s.EndTime)
	oStart, ok3 := Minutes(o.StartTime)
	oEnd, ok4 := Minutes(o.EndTime)

	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}

	if sStart >= oEnd || oStart >= sEnd {
		return false
	}

	sameTrainer := s.TrainerID != nil && o.TrainerID != nil && *s.TrainerID == *o.TrainerID

	return sameTrainer || strings.EqualFold(s.ClassName, o.ClassName)
}

// FindOverlap returns the first existing slot that conflicts with
// candidate. A slot with the candidate's own non-zero ID is skipped so an
// entry never conflicts with its previous version.
func FindOverlap(candidate Slot, existing []Slot) (Slot, bool) {
	for _, o := range existing {
		if candidate.ID != 0 && o.ID == candidate.ID {
			continue
		}

		if candidate.conflictsWith(o) {
			return o, true
		}
	}

	return Slot{}, false
}

// OverlapError builds the validation error reported for a conflict.
func OverlapError(with Slot) *ValidationError {
	verr := &ValidationError{}
	verr.add(KindOverlap, fmt.Sprintf("overlaps %q on %s %s-%s",
		with.ClassName, with.DayOfWeek, with.StartTime, with.EndTime),
		"dayOfWeek", "startTime", "endTime")

	return verr
}
