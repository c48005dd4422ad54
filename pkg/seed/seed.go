// Package seed loads a YAML catalog of gym content and writes it to the
// store.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethpandaops/gymdesk/pkg/api/store"
	"github.com/ethpandaops/gymdesk/pkg/schedule"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Catalog is the seed file layout.
type Catalog struct {
	Settings map[string]string `yaml:"settings"`
	Classes  []Class           `yaml:"classes"`
	Trainers []Trainer         `yaml:"trainers"`
	Programs []Program         `yaml:"programs"`
	Pricing  []PricingPlan     `yaml:"pricing"`
	Schedule []ScheduleEntry   `yaml:"schedule"`
}

// Class is an offered class. Classes are active unless inactive is set.
type Class struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Duration    int    `yaml:"duration"`
	Intensity   string `yaml:"intensity"`
	ImageURL    string `yaml:"image_url"`
	Inactive    bool   `yaml:"inactive"`
}

// Trainer is a coach. Schedule entries refer to trainers by name.
type Trainer struct {
	Name           string   `yaml:"name"`
	Specialty      string   `yaml:"specialty"`
	Bio            string   `yaml:"bio"`
	ImageURL       string   `yaml:"image_url"`
	Certifications []string `yaml:"certifications"`
	Inactive       bool     `yaml:"inactive"`
}

// Program is a multi-week program.
type Program struct {
	Title         string   `yaml:"title"`
	Description   string   `yaml:"description"`
	Level         string   `yaml:"level"`
	DurationWeeks int      `yaml:"duration_weeks"`
	ImageURL      string   `yaml:"image_url"`
	Features      []string `yaml:"features"`
	Inactive      bool     `yaml:"inactive"`
}

// PricingPlan is a membership offer.
type PricingPlan struct {
	Name        string   `yaml:"name"`
	Price       float64  `yaml:"price"`
	Currency    string   `yaml:"currency"`
	Interval    string   `yaml:"interval"`
	Features    []string `yaml:"features"`
	Highlighted bool     `yaml:"highlighted"`
}

// ScheduleEntry is a weekly slot. Capacity defaults to
// schedule.DefaultCapacity.
type ScheduleEntry struct {
	ClassName string `yaml:"class_name"`
	ClassType string `yaml:"class_type"`
	Day       string `yaml:"day"`
	Start     string `yaml:"start"`
	End       string `yaml:"end"`
	Trainer   string `yaml:"trainer"`
	Capacity  int    `yaml:"capacity"`
}

// Counts reports how many records of each kind were written.
type Counts struct {
	Settings int
	Classes  int
	Trainers int
	Programs int
	Pricing  int
	Schedule int
}

// Load reads and parses a catalog. Unknown keys are rejected.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	return Parse(data)
}

// Parse decodes a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	return &c, nil
}

// Validate checks the catalog on its own: every schedule entry must pass
// the schedule checks against the catalog's active classes, refer to a
// known trainer, and not overlap another entry.
func (c *Catalog) Validate() error {
	var errs []error

	titles := c.activeTitles()
	// Positions stand in for trainer ids within the catalog.
	trainers := make(map[string]uint, len(c.Trainers))

	for i, t := range c.Trainers {
		name := strings.TrimSpace(t.Name)
		if len(name) < 2 {
			errs = append(errs, fmt.Errorf("trainers[%d]: name must be at least 2 characters", i))
		}

		trainers[name] = uint(i + 1)
	}

	for i, cl := range c.Classes {
		if strings.TrimSpace(cl.Title) == "" {
			errs = append(errs, fmt.Errorf("classes[%d]: title is required", i))
		}
	}

	slots := make([]schedule.Slot, 0, len(c.Schedule))

	for i, e := range c.Schedule {
		if err := schedule.Validate(e.candidate(), titles); err != nil {
			errs = append(errs, fmt.Errorf("schedule[%d]: %w", i, err))

			continue
		}

		var trainerID *uint

		if e.Trainer != "" {
			id, ok := trainers[e.Trainer]
			if !ok {
				errs = append(errs, fmt.Errorf("schedule[%d]: unknown trainer %q", i, e.Trainer))

				continue
			}

			trainerID = &id
		}

		slot := e.slot(trainerID)

		if with, found := schedule.FindOverlap(slot, slots); found {
			errs = append(errs, fmt.Errorf("schedule[%d]: %w", i, schedule.OverlapError(with)))

			continue
		}

		slots = append(slots, slot)
	}

	return errors.Join(errs...)
}

func (c *Catalog) activeTitles() []string {
	titles := make([]string, 0, len(c.Classes))

	for _, cl := range c.Classes {
		if !cl.Inactive {
			titles = append(titles, strings.TrimSpace(cl.Title))
		}
	}

	return titles
}

func (e *ScheduleEntry) capacity() int {
	if e.Capacity == 0 {
		return schedule.DefaultCapacity
	}

	return e.Capacity
}

func (e *ScheduleEntry) candidate() schedule.Candidate {
	return schedule.Candidate{
		ClassName: e.ClassName,
		ClassType: e.ClassType,
		DayOfWeek: e.Day,
		StartTime: e.Start,
		EndTime:   e.End,
		Capacity:  e.capacity(),
	}
}

func (e *ScheduleEntry) slot(trainerID *uint) schedule.Slot {
	return schedule.Slot{
		ClassName: e.ClassName,
		DayOfWeek: strings.ToLower(e.Day),
		StartTime: e.Start,
		EndTime:   e.End,
		TrainerID: trainerID,
	}
}

// Seeder writes catalogs into a store.
type Seeder struct {
	log   logrus.FieldLogger
	store store.Store
}

// NewSeeder creates a Seeder.
func NewSeeder(log logrus.FieldLogger, st store.Store) *Seeder {
	return &Seeder{
		log:   log.WithField("component", "seed"),
		store: st,
	}
}

// Apply writes the catalog. Classes are matched by title and skipped when
// they exist; every other section is only written into an empty table so
// re-running a seed does not duplicate content. Settings are upserted.
func (s *Seeder) Apply(ctx context.Context, c *Catalog) (Counts, error) {
	var counts Counts

	if len(c.Settings) > 0 {
		if err := s.store.UpsertSettings(ctx, c.Settings); err != nil {
			return counts, fmt.Errorf("writing settings: %w", err)
		}

		counts.Settings = len(c.Settings)
	}

	for _, cl := range c.Classes {
		err := s.store.CreateClass(ctx, &store.OfferedClass{
			Title:       strings.TrimSpace(cl.Title),
			Description: cl.Description,
			Duration:    cl.Duration,
			Intensity:   cl.Intensity,
			ImageURL:    cl.ImageURL,
			Active:      !cl.Inactive,
		})

		switch {
		case errors.Is(err, store.ErrConflict):
			s.log.WithField("title", cl.Title).Debug("Class exists, skipping")
		case err != nil:
			return counts, fmt.Errorf("creating class %q: %w", cl.Title, err)
		default:
			counts.Classes++
		}
	}

	trainerIDs, n, err := s.applyTrainers(ctx, c.Trainers)
	if err != nil {
		return counts, err
	}

	counts.Trainers = n

	if counts.Programs, err = s.applyPrograms(ctx, c.Programs); err != nil {
		return counts, err
	}

	if counts.Pricing, err = s.applyPricing(ctx, c.Pricing); err != nil {
		return counts, err
	}

	if counts.Schedule, err = s.applySchedule(ctx, c.Schedule, trainerIDs); err != nil {
		return counts, err
	}

	return counts, nil
}

// empty reports whether res has no rows, logging when a section is
// skipped.
func (s *Seeder) empty(ctx context.Context, res store.Resource) (bool, error) {
	n, err := s.store.Count(ctx, res)
	if err != nil {
		return false, fmt.Errorf("counting %s: %w", res, err)
	}

	if n > 0 {
		s.log.WithField("resource", res).
			WithField("existing", n).
			Info("Table not empty, skipping section")
	}

	return n == 0, nil
}

// applyTrainers returns the ids of all trainers by name, whether created
// now or already present.
func (s *Seeder) applyTrainers(
	ctx context.Context, trainers []Trainer,
) (map[string]uint, int, error) {
	ids := make(map[string]uint, len(trainers))

	ok, err := s.empty(ctx, store.ResourceTrainers)
	if err != nil {
		return nil, 0, err
	}

	if !ok {
		existing, err := s.store.ListTrainers(ctx, false)
		if err != nil {
			return nil, 0, fmt.Errorf("listing trainers: %w", err)
		}

		for _, t := range existing {
			ids[t.Name] = t.ID
		}

		return ids, 0, nil
	}

	for i, t := range trainers {
		rec := &store.Trainer{
			Name:           strings.TrimSpace(t.Name),
			Specialty:      t.Specialty,
			Bio:            t.Bio,
			ImageURL:       t.ImageURL,
			Certifications: t.Certifications,
			Active:         !t.Inactive,
			SortOrder:      i,
		}

		if err := s.store.CreateTrainer(ctx, rec); err != nil {
			return nil, 0, fmt.Errorf("creating trainer %q: %w", t.Name, err)
		}

		ids[rec.Name] = rec.ID
	}

	return ids, len(trainers), nil
}

func (s *Seeder) applyPrograms(ctx context.Context, programs []Program) (int, error) {
	if ok, err := s.empty(ctx, store.ResourcePrograms); !ok || err != nil {
		return 0, err
	}

	for _, p := range programs {
		if err := s.store.CreateProgram(ctx, &store.Program{
			Title:         strings.TrimSpace(p.Title),
			Description:   p.Description,
			Level:         p.Level,
			DurationWeeks: p.DurationWeeks,
			ImageURL:      p.ImageURL,
			Features:      p.Features,
			Active:        !p.Inactive,
		}); err != nil {
			return 0, fmt.Errorf("creating program %q: %w", p.Title, err)
		}
	}

	return len(programs), nil
}

func (s *Seeder) applyPricing(ctx context.Context, plans []PricingPlan) (int, error) {
	if ok, err := s.empty(ctx, store.ResourcePricing); !ok || err != nil {
		return 0, err
	}

	for i, p := range plans {
		currency := strings.ToUpper(p.Currency)
		if currency == "" {
			currency = "USD"
		}

		if err := s.store.CreatePricingPlan(ctx, &store.PricingPlan{
			Name:        p.Name,
			Price:       p.Price,
			Currency:    currency,
			Interval:    strings.ToLower(p.Interval),
			Features:    p.Features,
			Highlighted: p.Highlighted,
			SortOrder:   i,
		}); err != nil {
			return 0, fmt.Errorf("creating pricing plan %q: %w", p.Name, err)
		}
	}

	return len(plans), nil
}

// applySchedule validates each entry against the stored active classes
// before writing it.
func (s *Seeder) applySchedule(
	ctx context.Context, entries []ScheduleEntry, trainerIDs map[string]uint,
) (int, error) {
	if ok, err := s.empty(ctx, store.ResourceSchedule); !ok || err != nil {
		return 0, err
	}

	titles, err := s.store.ActiveClassTitles(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading class titles: %w", err)
	}

	for i, e := range entries {
		if err := schedule.Validate(e.candidate(), titles); err != nil {
			return i, fmt.Errorf("schedule entry %d: %w", i, err)
		}

		var trainerID *uint

		if e.Trainer != "" {
			id, ok := trainerIDs[e.Trainer]
			if !ok {
				return i, fmt.Errorf("schedule entry %d: unknown trainer %q", i, e.Trainer)
			}

			trainerID = &id
		}

		if err := s.store.CreateScheduleEntry(ctx, &store.ScheduleEntry{
			ClassName: strings.TrimSpace(e.ClassName),
			ClassType: e.ClassType,
			DayOfWeek: strings.ToLower(e.Day),
			StartTime: schedule.NormalizeTime(e.Start),
			EndTime:   schedule.NormalizeTime(e.End),
			TrainerID: trainerID,
			Capacity:  e.capacity(),
		}); err != nil {
			return i, fmt.Errorf("creating schedule entry %d: %w", i, err)
		}
	}

	return len(entries), nil
}
