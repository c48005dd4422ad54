package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ethpandaops/gymdesk/pkg/api/store"
	"github.com/ethpandaops/gymdesk/pkg/schedule"
)

// scheduleRequest carries a full entry on create and a partial one on
// update; absent fields keep their stored values. A trainerId of 0 clears
// the trainer.
type scheduleRequest struct {
	ClassName    *string `json:"className"`
	ClassType    *string `json:"classType"`
	DayOfWeek    *string `json:"dayOfWeek"`
	StartTime    *string `json:"startTime"`
	EndTime      *string `json:"endTime"`
	TrainerID    *uint   `json:"trainerId"`
	Capacity     *int    `json:"capacity"`
	Participants *int    `json:"participants"`
}

func (req *scheduleRequest) merge(e *store.ScheduleEntry) {
	if req.ClassName != nil {
		e.ClassName = strings.TrimSpace(*req.ClassName)
	}

	if req.ClassType != nil {
		e.ClassType = strings.TrimSpace(*req.ClassType)
	}

	if req.DayOfWeek != nil {
		e.DayOfWeek = strings.TrimSpace(*req.DayOfWeek)
	}

	if req.StartTime != nil {
		e.StartTime = strings.TrimSpace(*req.StartTime)
	}

	if req.EndTime != nil {
		e.EndTime = strings.TrimSpace(*req.EndTime)
	}

	if req.TrainerID != nil {
		if *req.TrainerID == 0 {
			e.TrainerID = nil
		} else {
			id := *req.TrainerID
			e.TrainerID = &id
		}
	}

	if req.Capacity != nil {
		e.Capacity = *req.Capacity
	}

	if req.Participants != nil {
		e.Participants = *req.Participants
	}
}

func candidateOf(e *store.ScheduleEntry) schedule.Candidate {
	return schedule.Candidate{
		ClassName:    e.ClassName,
		ClassType:    e.ClassType,
		DayOfWeek:    e.DayOfWeek,
		StartTime:    e.StartTime,
		EndTime:      e.EndTime,
		Capacity:     e.Capacity,
		Participants: e.Participants,
	}
}

func slotOf(e *store.ScheduleEntry) schedule.Slot {
	return schedule.Slot{
		ID:        e.ID,
		ClassName: e.ClassName,
		DayOfWeek: e.DayOfWeek,
		StartTime: e.StartTime,
		EndTime:   e.EndTime,
		TrainerID: e.TrainerID,
	}
}

// violationErrors renders a validation error as the API errors object,
// keyed by violation kind.
func violationErrors(verr *schedule.ValidationError) map[string]any {
	errs := make(map[string]any, len(verr.Violations))

	for _, v := range verr.Violations {
		if v.Kind == schedule.KindMissingFields {
			errs[v.Kind.Key()] = v.Fields

			continue
		}

		errs[v.Kind.Key()] = v.Message
	}

	return errs
}

// defaultCapacity returns the configured default capacity, falling back
// to schedule.DefaultCapacity when unset or out of range.
func (s *server) defaultCapacity(ctx context.Context) int {
	settings, err := s.store.GetSiteSettings(ctx)
	if err != nil {
		s.log.WithError(err).Debug("Using built-in default capacity")

		return schedule.DefaultCapacity
	}

	if !schedule.ValidateCapacity(settings.DefaultCapacity) {
		return schedule.DefaultCapacity
	}

	return settings.DefaultCapacity
}

// checkScheduleEntry validates e, normalizes it and checks it against the
// other entries of its day. It writes the failure response and returns
// false when e cannot be stored.
func (s *server) checkScheduleEntry(
	w http.ResponseWriter, r *http.Request, e *store.ScheduleEntry,
) bool {
	ctx := r.Context()

	titles, err := s.store.ActiveClassTitles(ctx)
	if err != nil {
		s.writeStoreError(w, r, err, "Class")

		return false
	}

	if err := schedule.Validate(candidateOf(e), titles); err != nil {
		var verr *schedule.ValidationError
		if errors.As(err, &verr) {
			s.writeValidation(w, http.StatusBadRequest, "Validation failed", violationErrors(verr))

			return false
		}

		s.writeInternalError(w, r, err, "Failed to validate schedule entry")

		return false
	}

	if e.TrainerID != nil {
		if _, err := s.store.GetTrainer(ctx, *e.TrainerID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.writeValidation(w, http.StatusBadRequest, "Validation failed",
					map[string]any{"trainerId": "trainer not found"})

				return false
			}

			s.writeStoreError(w, r, err, "Trainer")

			return false
		}
	}

	e.DayOfWeek = strings.ToLower(e.DayOfWeek)
	e.StartTime = schedule.NormalizeTime(e.StartTime)
	e.EndTime = schedule.NormalizeTime(e.EndTime)

	sameDay, err := s.store.ListSchedule(ctx, e.DayOfWeek)
	if err != nil {
		s.writeStoreError(w, r, err, "Schedule")

		return false
	}

	existing := make([]schedule.Slot, 0, len(sameDay))
	for i := range sameDay {
		existing = append(existing, slotOf(&sameDay[i]))
	}

	if with, found := schedule.FindOverlap(slotOf(e), existing); found {
		verr := schedule.OverlapError(with)

		s.writeValidation(w, http.StatusConflict, "Schedule conflict", violationErrors(verr))

		return false
	}

	return true
}

// handleCreateSchedule creates a weekly schedule entry.
func (s *server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")

		return
	}

	entry := &store.ScheduleEntry{}
	if req.Capacity == nil {
		entry.Capacity = s.defaultCapacity(r.Context())
	}

	req.merge(entry)

	if !s.checkScheduleEntry(w, r, entry) {
		return
	}

	if err := s.store.CreateScheduleEntry(r.Context(), entry); err != nil {
		s.writeStoreError(w, r, err, "Schedule entry")

		return
	}

	writeData(w, http.StatusCreated, toScheduleResponse(entry))
}

// handleUpdateSchedule merges the request onto the stored entry and
// re-validates the result.
func (s *server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}

	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")

		return
	}

	entry, err := s.store.GetScheduleEntry(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err, "Schedule entry")

		return
	}

	seen := entry.Participants

	req.merge(entry)

	if !s.checkScheduleEntry(w, r, entry) {
		return
	}

	if err := s.store.UpdateScheduleEntry(r.Context(), entry, seen); err != nil {
		s.writeStoreError(w, r, err, "Schedule entry")

		return
	}

	writeData(w, http.StatusOK, toScheduleResponse(entry))
}

func (s *server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	s.deleteByID(w, r, "Schedule entry", s.store.DeleteScheduleEntry)
}

func (s *server) handleBookSchedule(w http.ResponseWriter, r *http.Request) {
	s.adjustParticipants(w, r, 1, "Class is full")
}

func (s *server) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	s.adjustParticipants(w, r, -1, "No bookings to cancel")
}

// adjustParticipants moves the participant count by delta, keeping it
// within 0..capacity.
func (s *server) adjustParticipants(
	w http.ResponseWriter, r *http.Request, delta int, rejected string,
) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}

	entry, err := s.store.AdjustParticipants(r.Context(), id, delta)

	switch {
	case err == nil:
		writeData(w, http.StatusOK, toScheduleResponse(entry))
	case errors.Is(err, store.ErrParticipantsOutOfRange):
		s.writeValidation(w, http.StatusConflict, rejected,
			map[string]any{schedule.KindParticipants.Key(): rejected})
	default:
		s.writeStoreError(w, r, err, "Schedule entry")
	}
}
