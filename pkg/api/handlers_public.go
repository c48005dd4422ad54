package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/ethpandaops/gymdesk/pkg/api/store"
	"github.com/ethpandaops/gymdesk/pkg/schedule"
)

// scheduleResponse is a schedule entry with its derived free seats.
type scheduleResponse struct {
	store.ScheduleEntry
	AvailableSpots int `json:"availableSpots"`
}

func toScheduleResponse(e *store.ScheduleEntry) scheduleResponse {
	return scheduleResponse{
		ScheduleEntry:  *e,
		AvailableSpots: schedule.AvailableSpots(e.Capacity, e.Participants),
	}
}

// listHandler writes the result of list as a data response.
func listHandler[T any](
	s *server, resource string, list func(ctx context.Context) ([]T, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := list(r.Context())
		if err != nil {
			s.writeStoreError(w, r, err, resource)

			return
		}

		if items == nil {
			items = []T{}
		}

		writeData(w, http.StatusOK, items)
	}
}

// getHandler loads the record named by the {id} parameter. visible hides
// records from the public API; nil shows everything.
func getHandler[T any](
	s *server,
	resource string,
	get func(ctx context.Context, id uint) (*T, error),
	visible func(*T) bool,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseIDParam(r)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid id")

			return
		}

		item, err := get(r.Context(), id)
		if err == nil && visible != nil && !visible(item) {
			err = store.ErrNotFound
		}

		if err != nil {
			s.writeStoreError(w, r, err, resource)

			return
		}

		writeData(w, http.StatusOK, item)
	}
}

func (s *server) handleListTrainers(w http.ResponseWriter, r *http.Request) {
	listHandler(s, "Trainer", func(ctx context.Context) ([]store.Trainer, error) {
		return s.store.ListTrainers(ctx, true)
	})(w, r)
}

func (s *server) handleGetTrainer(w http.ResponseWriter, r *http.Request) {
	getHandler(s, "Trainer", s.store.GetTrainer,
		func(t *store.Trainer) bool { return t.Active })(w, r)
}

func (s *server) handleListClasses(w http.ResponseWriter, r *http.Request) {
	listHandler(s, "Class", func(ctx context.Context) ([]store.OfferedClass, error) {
		return s.store.ListClasses(ctx, true)
	})(w, r)
}

func (s *server) handleGetClass(w http.ResponseWriter, r *http.Request) {
	getHandler(s, "Class", s.store.GetClass,
		func(c *store.OfferedClass) bool { return c.Active })(w, r)
}

func (s *server) handleListPrograms(w http.ResponseWriter, r *http.Request) {
	listHandler(s, "Program", func(ctx context.Context) ([]store.Program, error) {
		return s.store.ListPrograms(ctx, true)
	})(w, r)
}

func (s *server) handleGetProgram(w http.ResponseWriter, r *http.Request) {
	getHandler(s, "Program", s.store.GetProgram,
		func(p *store.Program) bool { return p.Active })(w, r)
}

func (s *server) handleListPricing(w http.ResponseWriter, r *http.Request) {
	listHandler(s, "Pricing plan", s.store.ListPricingPlans)(w, r)
}

// handleListSchedule returns the weekly schedule, optionally filtered by
// the day query parameter, with available spots computed per entry.
func (s *server) handleListSchedule(w http.ResponseWriter, r *http.Request) {
	day := strings.TrimSpace(r.URL.Query().Get("day"))
	if day != "" && !schedule.IsValidDayOfWeek(day) {
		s.writeValidation(w, http.StatusBadRequest, "Invalid day of week",
			map[string]any{schedule.KindDayOfWeek.Key(): day})

		return
	}

	entries, err := s.store.ListSchedule(r.Context(), day)
	if err != nil {
		s.writeStoreError(w, r, err, "Schedule")

		return
	}

	resp := make([]scheduleResponse, 0, len(entries))
	for i := range entries {
		resp = append(resp, toScheduleResponse(&entries[i]))
	}

	writeData(w, http.StatusOK, resp)
}

func (s *server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid id")

		return
	}

	entry, err := s.store.GetScheduleEntry(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err, "Schedule entry")

		return
	}

	writeData(w, http.StatusOK, toScheduleResponse(entry))
}

// handleGetSettings returns the typed site settings.
func (s *server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSiteSettings(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err, "Settings")

		return
	}

	writeData(w, http.StatusOK, settings)
}
