package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ethpandaops/gymdesk/pkg/api/store"
	"github.com/ethpandaops/gymdesk/pkg/schedule"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// fieldErrors collects per-field validation messages.
type fieldErrors map[string]any

func (f fieldErrors) require(field, value string) {
	if strings.TrimSpace(value) == "" {
		f[field] = field + " is required"
	}
}

// --- Overview ---

type overviewResponse struct {
	Counts map[store.Resource]int64 `json:"counts"`
	Admin  any                      `json:"admin"`
}

// handleOverview returns record counts for the dashboard. Counts are
// loaded concurrently.
func (s *server) handleOverview(w http.ResponseWriter, r *http.Request) {
	resources := []store.Resource{
		store.ResourceTrainers,
		store.ResourceClasses,
		store.ResourcePrograms,
		store.ResourceSchedule,
		store.ResourcePricing,
	}

	counts := make([]int64, len(resources))

	g, ctx := errgroup.WithContext(r.Context())

	for i, res := range resources {
		g.Go(func() error {
			n, err := s.store.Count(ctx, res)
			if err != nil {
				return fmt.Errorf("counting %s: %w", res, err)
			}

			counts[i] = n

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.writeInternalError(w, r, err, "Failed to load overview")

		return
	}

	resp := overviewResponse{Counts: make(map[store.Resource]int64, len(resources))}
	for i, res := range resources {
		resp.Counts[res] = counts[i]
	}

	if claims := claimsFromContext(r.Context()); claims != nil {
		resp.Admin = claims.Principal()
	}

	writeData(w, http.StatusOK, resp)
}

// --- Trainers ---

type trainerRequest struct {
	Name           string   `json:"name"`
	Specialty      string   `json:"specialty"`
	Bio            string   `json:"bio"`
	ImageURL       string   `json:"imageUrl"`
	Certifications []string `json:"certifications"`
	Active         *bool    `json:"active"`
	SortOrder      int      `json:"sortOrder"`
}

func (req *trainerRequest) validate() fieldErrors {
	errs := fieldErrors{}

	if utf8.RuneCountInString(strings.TrimSpace(req.Name)) < 2 {
		errs["name"] = "name must be at least 2 characters"
	}

	return errs
}

func (req *trainerRequest) apply(t *store.Trainer) {
	t.Name = strings.TrimSpace(req.Name)
	t.Specialty = strings.TrimSpace(req.Specialty)
	t.Bio = req.Bio
	t.ImageURL = strings.TrimSpace(req.ImageURL)
	t.Certifications = req.Certifications
	t.SortOrder = req.SortOrder

	if req.Active != nil {
		t.Active = *req.Active
	}
}

func (s *server) handleAdminListTrainers(w http.ResponseWriter, r *http.Request) {
	listHandler(s, "Trainer", func(ctx context.Context) ([]store.Trainer, error) {
		return s.store.ListTrainers(ctx, false)
	})(w, r)
}

func (s *server) handleCreateTrainer(w http.ResponseWriter, r *http.Request) {
	var req trainerRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	trainer := &store.Trainer{Active: true}
	req.apply(trainer)

	if err := s.store.CreateTrainer(r.Context(), trainer); err != nil {
		s.writeStoreError(w, r, err, "Trainer")

		return
	}

	writeData(w, http.StatusCreated, trainer)
}

func (s *server) handleUpdateTrainer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}

	var req trainerRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	trainer, err := s.store.GetTrainer(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err, "Trainer")

		return
	}

	req.apply(trainer)

	if err := s.store.UpdateTrainer(r.Context(), trainer); err != nil {
		s.writeStoreError(w, r, err, "Trainer")

		return
	}

	writeData(w, http.StatusOK, trainer)
}

func (s *server) handleDeleteTrainer(w http.ResponseWriter, r *http.Request) {
	s.deleteByID(w, r, "Trainer", s.store.DeleteTrainer)
}

// --- Offered classes ---

type classRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Duration    int    `json:"duration"`
	Intensity   string `json:"intensity"`
	ImageURL    string `json:"imageUrl"`
	Active      *bool  `json:"active"`
}

func (req *classRequest) validate() fieldErrors {
	errs := fieldErrors{}
	errs.require("title", req.Title)

	if req.Duration < 0 {
		errs["duration"] = "duration must not be negative"
	}

	return errs
}

func (req *classRequest) apply(c *store.OfferedClass) {
	c.Title = strings.TrimSpace(req.Title)
	c.Description = req.Description
	c.Duration = req.Duration
	c.Intensity = strings.TrimSpace(req.Intensity)
	c.ImageURL = strings.TrimSpace(req.ImageURL)

	if req.Active != nil {
		c.Active = *req.Active
	}
}

func (s *server) handleAdminListClasses(w http.ResponseWriter, r *http.Request) {
	listHandler(s, "Class", func(ctx context.Context) ([]store.OfferedClass, error) {
		return s.store.ListClasses(ctx, false)
	})(w, r)
}

func (s *server) handleCreateClass(w http.ResponseWriter, r *http.Request) {
	var req classRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	class := &store.OfferedClass{Active: true}
	req.apply(class)

	if err := s.store.CreateClass(r.Context(), class); err != nil {
		s.writeStoreError(w, r, err, "Class")

		return
	}

	writeData(w, http.StatusCreated, class)
}

func (s *server) handleUpdateClass(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}

	var req classRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	class, err := s.store.GetClass(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err, "Class")

		return
	}

	req.apply(class)

	if err := s.store.UpdateClass(r.Context(), class); err != nil {
		s.writeStoreError(w, r, err, "Class")

		return
	}

	writeData(w, http.StatusOK, class)
}

func (s *server) handleDeleteClass(w http.ResponseWriter, r *http.Request) {
	s.deleteByID(w, r, "Class", s.store.DeleteClass)
}

// --- Programs ---

type programRequest struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Level         string   `json:"level"`
	DurationWeeks int      `json:"durationWeeks"`
	ImageURL      string   `json:"imageUrl"`
	Features      []string `json:"features"`
	Active        *bool    `json:"active"`
}

func (req *programRequest) validate() fieldErrors {
	errs := fieldErrors{}
	errs.require("title", req.Title)

	if req.DurationWeeks < 0 {
		errs["durationWeeks"] = "durationWeeks must not be negative"
	}

	return errs
}

func (req *programRequest) apply(p *store.Program) {
	p.Title = strings.TrimSpace(req.Title)
	p.Description = req.Description
	p.Level = strings.TrimSpace(req.Level)
	p.DurationWeeks = req.DurationWeeks
	p.ImageURL = strings.TrimSpace(req.ImageURL)
	p.Features = req.Features

	if req.Active != nil {
		p.Active = *req.Active
	}
}

func (s *server) handleAdminListPrograms(w http.ResponseWriter, r *http.Request) {
	listHandler(s, "Program", func(ctx context.Context) ([]store.Program, error) {
		return s.store.ListPrograms(ctx, false)
	})(w, r)
}

func (s *server) handleCreateProgram(w http.ResponseWriter, r *http.Request) {
	var req programRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	program := &store.Program{Active: true}
	req.apply(program)

	if err := s.store.CreateProgram(r.Context(), program); err != nil {
		s.writeStoreError(w, r, err, "Program")

		return
	}

	writeData(w, http.StatusCreated, program)
}

func (s *server) handleUpdateProgram(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}

	var req programRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	program, err := s.store.GetProgram(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err, "Program")

		return
	}

	req.apply(program)

	if err := s.store.UpdateProgram(r.Context(), program); err != nil {
		s.writeStoreError(w, r, err, "Program")

		return
	}

	writeData(w, http.StatusOK, program)
}

func (s *server) handleDeleteProgram(w http.ResponseWriter, r *http.Request) {
	s.deleteByID(w, r, "Program", s.store.DeleteProgram)
}

// --- Pricing plans ---

const defaultCurrency = "USD"

var pricingIntervals = map[string]bool{
	"month":   true,
	"year":    true,
	"week":    true,
	"session": true,
}

type pricingRequest struct {
	Name        string   `json:"name"`
	Price       float64  `json:"price"`
	Currency    string   `json:"currency"`
	Interval    string   `json:"interval"`
	Features    []string `json:"features"`
	Highlighted bool     `json:"highlighted"`
	SortOrder   int      `json:"sortOrder"`
}

func (req *pricingRequest) validate() fieldErrors {
	errs := fieldErrors{}
	errs.require("name", req.Name)

	if req.Price < 0 {
		errs["price"] = "price must not be negative"
	}

	if !pricingIntervals[strings.ToLower(strings.TrimSpace(req.Interval))] {
		errs["interval"] = "interval must be one of month, year, week, session"
	}

	if c := strings.TrimSpace(req.Currency); c != "" && len(c) != 3 {
		errs["currency"] = "currency must be a 3-letter code"
	}

	return errs
}

func (req *pricingRequest) apply(p *store.PricingPlan) {
	p.Name = strings.TrimSpace(req.Name)
	p.Price = req.Price
	p.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	p.Interval = strings.ToLower(strings.TrimSpace(req.Interval))
	p.Features = req.Features
	p.Highlighted = req.Highlighted
	p.SortOrder = req.SortOrder

	if p.Currency == "" {
		p.Currency = defaultCurrency
	}
}

func (s *server) handleCreatePricing(w http.ResponseWriter, r *http.Request) {
	var req pricingRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	plan := &store.PricingPlan{}
	req.apply(plan)

	if err := s.store.CreatePricingPlan(r.Context(), plan); err != nil {
		s.writeStoreError(w, r, err, "Pricing plan")

		return
	}

	writeData(w, http.StatusCreated, plan)
}

func (s *server) handleUpdatePricing(w http.ResponseWriter, r *http.Request) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}

	var req pricingRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	plan, err := s.store.GetPricingPlan(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err, "Pricing plan")

		return
	}

	req.apply(plan)

	if err := s.store.UpdatePricingPlan(r.Context(), plan); err != nil {
		s.writeStoreError(w, r, err, "Pricing plan")

		return
	}

	writeData(w, http.StatusOK, plan)
}

func (s *server) handleDeletePricing(w http.ResponseWriter, r *http.Request) {
	s.deleteByID(w, r, "Pricing plan", s.store.DeletePricingPlan)
}

// --- Settings ---

const maxSettingKeyLength = 64

type settingsRequest struct {
	Values map[string]any `json:"values"`
}

// validSettingKey accepts lowercase snake_case keys.
func validSettingKey(key string) bool {
	if key == "" || len(key) > maxSettingKeyLength {
		return false
	}

	for i, c := range key {
		switch {
		case c >= 'a' && c <= 'z':
		case i > 0 && (c == '_' || (c >= '0' && c <= '9')):
		default:
			return false
		}
	}

	return true
}

// settingValue renders a scalar JSON value as its stored string form.
func settingValue(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool, float64:
		return fmt.Sprint(val), true
	case nil:
		return "", true
	default:
		return "", false
	}
}

func (req *settingsRequest) normalize() (map[string]string, fieldErrors) {
	errs := fieldErrors{}
	values := make(map[string]string, len(req.Values))

	if len(req.Values) == 0 {
		errs["values"] = "at least one setting is required"
	}

	for key, raw := range req.Values {
		if !validSettingKey(key) {
			errs[key] = "invalid setting key"

			continue
		}

		value, ok := settingValue(raw)
		if !ok {
			errs[key] = "setting values must be strings, numbers or booleans"

			continue
		}

		values[key] = strings.TrimSpace(value)
	}

	if v, ok := values["default_capacity"]; ok {
		capacity, err := strconv.Atoi(v)
		if err != nil || !schedule.ValidateCapacity(capacity) {
			errs["default_capacity"] = fmt.Sprintf("default_capacity must be between %d and %d",
				schedule.MinCapacity, schedule.MaxCapacity)
		}
	}

	return values, errs
}

func (s *server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	listHandler(s, "Settings", s.store.ListSettings)(w, r)
}

// handleUpsertSettings writes the given key/value pairs and returns the
// resulting typed settings.
func (s *server) handleUpsertSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")

		return
	}

	values, errs := req.normalize()
	if len(errs) > 0 {
		s.writeValidation(w, http.StatusBadRequest, "Validation failed", errs)

		return
	}

	if err := s.store.UpsertSettings(r.Context(), values); err != nil {
		s.writeStoreError(w, r, err, "Settings")

		return
	}

	s.handleGetSettings(w, r)
}

func (s *server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !validSettingKey(key) {
		s.writeError(w, http.StatusBadRequest, "Invalid setting key")

		return
	}

	if err := s.store.DeleteSetting(r.Context(), key); err != nil {
		s.writeStoreError(w, r, err, "Setting")

		return
	}

	writeJSON(w, http.StatusOK, dataResponse{Success: true})
}

// --- Shared helpers ---

type validator interface {
	validate() fieldErrors
}

// decodeAndValidate decodes the JSON body into req and writes a 400 when
// decoding or validation fails.
func (s *server) decodeAndValidate(
	w http.ResponseWriter, r *http.Request, req validator,
) bool {
	if err := decodeJSON(r, req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")

		return false
	}

	if errs := req.validate(); len(errs) > 0 {
		s.writeValidation(w, http.StatusBadRequest, "Validation failed", errs)

		return false
	}

	return true
}

func (s *server) idParam(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := parseIDParam(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid id")

		return 0, false
	}

	return id, true
}

func (s *server) deleteByID(
	w http.ResponseWriter,
	r *http.Request,
	resource string,
	remove func(ctx context.Context, id uint) error,
) {
	id, ok := s.idParam(w, r)
	if !ok {
		return
	}

	if err := remove(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err, resource)

		return
	}

	s.log.WithField("resource", resource).
		WithField("id", id).
		Info("Record deleted")

	writeJSON(w, http.StatusOK, dataResponse{Success: true})
}
