package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/gymdesk/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write would violate a uniqueness rule.
	ErrConflict = errors.New("record conflicts with an existing one")

	// ErrParticipantsOutOfRange is returned when a booking change would move
	// participants below zero or above capacity.
	ErrParticipantsOutOfRange = errors.New("participants out of range")

	// ErrStale is returned when a record changed between the read an update
	// was based on and the write.
	ErrStale = errors.New("record changed since it was read")
)

// Store provides persistence for API resources.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// DB exposes the connection so other components (the kv counter store)
	// can share it.
	DB() *gorm.DB

	// Admin principal.
	GetAdminByID(ctx context.Context, id uint) (*Admin, error)
	GetAdminByUsername(ctx context.Context, username string) (*Admin, error)
	UpdateAdminLastLogin(ctx context.Context, id uint, at time.Time) error
	UpdateAdminPassword(ctx context.Context, id uint, hash string) error
	EnsureAdmin(ctx context.Context, seed AdminSeed) (bool, error)

	// Trainers.
	ListTrainers(ctx context.Context, activeOnly bool) ([]Trainer, error)
	GetTrainer(ctx context.Context, id uint) (*Trainer, error)
	CreateTrainer(ctx context.Context, t *Trainer) error
	UpdateTrainer(ctx context.Context, t *Trainer) error
	DeleteTrainer(ctx context.Context, id uint) error

	// Offered classes.
	ListClasses(ctx context.Context, activeOnly bool) ([]OfferedClass, error)
	GetClass(ctx context.Context, id uint) (*OfferedClass, error)
	CreateClass(ctx context.Context, c *OfferedClass) error
	UpdateClass(ctx context.Context, c *OfferedClass) error
	DeleteClass(ctx context.Context, id uint) error
	ActiveClassTitles(ctx context.Context) ([]string, error)

	// Programs.
	ListPrograms(ctx context.Context, activeOnly bool) ([]Program, error)
	GetProgram(ctx context.Context, id uint) (*Program, error)
	CreateProgram(ctx context.Context, p *Program) error
	UpdateProgram(ctx context.Context, p *Program) error
	DeleteProgram(ctx context.Context, id uint) error

	// Weekly schedule.
	ListSchedule(ctx context.Context, day string) ([]ScheduleEntry, error)
	GetScheduleEntry(ctx context.Context, id uint) (*ScheduleEntry, error)
	CreateScheduleEntry(ctx context.Context, e *ScheduleEntry) error
	UpdateScheduleEntry(ctx context.Context, e *ScheduleEntry, seenParticipants int) error
	DeleteScheduleEntry(ctx context.Context, id uint) error
	AdjustParticipants(ctx context.Context, id uint, delta int) (*ScheduleEntry, error)

	// Pricing plans.
	ListPricingPlans(ctx context.Context) ([]PricingPlan, error)
	GetPricingPlan(ctx context.Context, id uint) (*PricingPlan, error)
	CreatePricingPlan(ctx context.Context, p *PricingPlan) error
	UpdatePricingPlan(ctx context.Context, p *PricingPlan) error
	DeletePricingPlan(ctx context.Context, id uint) error

	// Settings.
	ListSettings(ctx context.Context) ([]Setting, error)
	UpsertSettings(ctx context.Context, values map[string]string) error
	DeleteSetting(ctx context.Context, key string) error
	GetSiteSettings(ctx context.Context) (*SiteSettings, error)

	Count(ctx context.Context, r Resource) (int64, error)
}

// AdminSeed holds the plaintext bootstrap credentials for EnsureAdmin.
type AdminSeed struct {
	Username    string
	Password    string
	RecoveryKey string
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if s.cfg.Driver == "sqlite" {
		// A single connection serialises writers and keeps ":memory:"
		// databases alive for the lifetime of the store.
		sqlDB, err := s.db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Admin{},
		&Trainer{},
		&OfferedClass{},
		&Program{},
		&ScheduleEntry{},
		&PricingPlan{},
		&Setting{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (s *store) DB() *gorm.DB {
	return s.db
}

// --- Admin ---

func (s *store) GetAdminByID(ctx context.Context, id uint) (*Admin, error) {
	return get[Admin](ctx, s.db, id)
}

func (s *store) GetAdminByUsername(
	ctx context.Context, username string,
) (*Admin, error) {
	var admin Admin

	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		First(&admin).Error; err != nil {
		return nil, translate(err, "getting admin")
	}

	return &admin, nil
}

func (s *store) UpdateAdminLastLogin(
	ctx context.Context, id uint, at time.Time,
) error {
	return s.updateAdminColumn(ctx, id, "last_login", at)
}

func (s *store) UpdateAdminPassword(
	ctx context.Context, id uint, hash string,
) error {
	return s.updateAdminColumn(ctx, id, "password_hash", hash)
}

func (s *store) updateAdminColumn(
	ctx context.Context, id uint, column string, value any,
) error {
	res := s.db.WithContext(ctx).
		Model(&Admin{}).
		Where("id = ?", id).
		Update(column, value)
	if res.Error != nil {
		return translate(res.Error, "updating admin "+column)
	}

	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// EnsureAdmin creates the admin principal from seed when no admin exists
// yet. It reports whether a principal was created.
func (s *store) EnsureAdmin(ctx context.Context, seed AdminSeed) (bool, error) {
	var count int64

	if err := s.db.WithContext(ctx).
		Model(&Admin{}).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("counting admins: %w", err)
	}

	if count > 0 {
		return false, nil
	}

	username := strings.TrimSpace(seed.Username)
	if len(username) < 3 {
		return false, fmt.Errorf("admin username must be at least 3 characters")
	}

	if seed.Password == "" {
		return false, fmt.Errorf("admin password is required")
	}

	hash, err := bcrypt.GenerateFromPassword(
		[]byte(seed.Password), bcrypt.DefaultCost,
	)
	if err != nil {
		return false, fmt.Errorf("hashing admin password: %w", err)
	}

	admin := Admin{
		Username:     username,
		PasswordHash: string(hash),
		IsAdmin:      true,
	}

	if seed.RecoveryKey != "" {
		keyHash, err := bcrypt.GenerateFromPassword(
			[]byte(seed.RecoveryKey), bcrypt.DefaultCost,
		)
		if err != nil {
			return false, fmt.Errorf("hashing recovery key: %w", err)
		}

		admin.RecoveryKeyHash = string(keyHash)
	}

	if err := s.db.WithContext(ctx).Create(&admin).Error; err != nil {
		return false, translate(err, "creating admin")
	}

	s.log.WithField("username", username).Info("Created admin principal")

	return true, nil
}

// --- Trainers ---

func (s *store) ListTrainers(
	ctx context.Context, activeOnly bool,
) ([]Trainer, error) {
	var trainers []Trainer

	q := s.db.WithContext(ctx).Order("sort_order, id")
	if activeOnly {
		q = q.Where("active = ?", true)
	}

	if err := q.Find(&trainers).Error; err != nil {
		return nil, fmt.Errorf("listing trainers: %w", err)
	}

	return trainers, nil
}

func (s *store) GetTrainer(ctx context.Context, id uint) (*Trainer, error) {
	return get[Trainer](ctx, s.db, id)
}

func (s *store) CreateTrainer(ctx context.Context, t *Trainer) error {
	return create(ctx, s.db, t)
}

func (s *store) UpdateTrainer(ctx context.Context, t *Trainer) error {
	return update(ctx, s.db, t.ID, t)
}

func (s *store) DeleteTrainer(ctx context.Context, id uint) error {
	return remove[Trainer](ctx, s.db, id)
}

// --- Offered classes ---

func (s *store) ListClasses(
	ctx context.Context, activeOnly bool,
) ([]OfferedClass, error) {
	var classes []OfferedClass

	q := s.db.WithContext(ctx).Order("title")
	if activeOnly {
		q = q.Where("active = ?", true)
	}

	if err := q.Find(&classes).Error; err != nil {
		return nil, fmt.Errorf("listing classes: %w", err)
	}

	return classes, nil
}

func (s *store) GetClass(ctx context.Context, id uint) (*OfferedClass, error) {
	return get[OfferedClass](ctx, s.db, id)
}

func (s *store) CreateClass(ctx context.Context, c *OfferedClass) error {
	if err := s.checkTitleFree(ctx, c.Title, 0); err != nil {
		return err
	}

	return create(ctx, s.db, c)
}

func (s *store) UpdateClass(ctx context.Context, c *OfferedClass) error {
	if err := s.checkTitleFree(ctx, c.Title, c.ID); err != nil {
		return err
	}

	return update(ctx, s.db, c.ID, c)
}

func (s *store) DeleteClass(ctx context.Context, id uint) error {
	return remove[OfferedClass](ctx, s.db, id)
}

// checkTitleFree returns ErrConflict when another class already uses title.
func (s *store) checkTitleFree(
	ctx context.Context, title string, exceptID uint,
) error {
	var count int64

	if err := s.db.WithContext(ctx).
		Model(&OfferedClass{}).
		Where("title = ? AND id <> ?", title, exceptID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("checking class title: %w", err)
	}

	if count > 0 {
		return fmt.Errorf("%w: class %q already exists", ErrConflict, title)
	}

	return nil
}

// ActiveClassTitles returns the titles of all active offered classes.
func (s *store) ActiveClassTitles(ctx context.Context) ([]string, error) {
	var titles []string

	if err := s.db.WithContext(ctx).
		Model(&OfferedClass{}).
		Where("active = ?", true).
		Order("title").
		Pluck("title", &titles).Error; err != nil {
		return nil, fmt.Errorf("listing active class titles: %w", err)
	}

	return titles, nil
}

// --- Programs ---

func (s *store) ListPrograms(
	ctx context.Context, activeOnly bool,
) ([]Program, error) {
	var programs []Program

	q := s.db.WithContext(ctx).Order("id")
	if activeOnly {
		q = q.Where("active = ?", true)
	}

	if err := q.Find(&programs).Error; err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}

	return programs, nil
}

func (s *store) GetProgram(ctx context.Context, id uint) (*Program, error) {
	return get[Program](ctx, s.db, id)
}

func (s *store) CreateProgram(ctx context.Context, p *Program) error {
	return create(ctx, s.db, p)
}

func (s *store) UpdateProgram(ctx context.Context, p *Program) error {
	return update(ctx, s.db, p.ID, p)
}

func (s *store) DeleteProgram(ctx context.Context, id uint) error {
	return remove[Program](ctx, s.db, id)
}

// --- Schedule ---

// ListSchedule returns schedule entries ordered by start time. A non-empty
// day restricts the result to that (lowercase) day of the week.
func (s *store) ListSchedule(
	ctx context.Context, day string,
) ([]ScheduleEntry, error) {
	var entries []ScheduleEntry

	q := s.db.WithContext(ctx).Order("start_time, id")
	if day != "" {
		q = q.Where("day_of_week = ?", strings.ToLower(day))
	}

	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing schedule: %w", err)
	}

	return entries, nil
}

func (s *store) GetScheduleEntry(
	ctx context.Context, id uint,
) (*ScheduleEntry, error) {
	return get[ScheduleEntry](ctx, s.db, id)
}

func (s *store) CreateScheduleEntry(
	ctx context.Context, e *ScheduleEntry,
) error {
	return create(ctx, s.db, e)
}

// UpdateScheduleEntry writes e only while the stored participant count
// still equals seenParticipants, so a booking made after e was read is
// never overwritten.
func (s *store) UpdateScheduleEntry(
	ctx context.Context, e *ScheduleEntry, seenParticipants int,
) error {
	res := s.db.WithContext(ctx).
		Model(e).
		Where("id = ? AND participants = ?", e.ID, seenParticipants).
		Select("*").
		Omit("id", "created_at").
		Updates(e)
	if res.Error != nil {
		return translate(res.Error, "updating schedule entry")
	}

	if res.RowsAffected == 0 {
		if _, err := s.GetScheduleEntry(ctx, e.ID); err != nil {
			return err
		}

		return ErrStale
	}

	return nil
}

func (s *store) DeleteScheduleEntry(ctx context.Context, id uint) error {
	return remove[ScheduleEntry](ctx, s.db, id)
}

// AdjustParticipants adds delta to the participant count of an entry in a
// single conditional update, keeping 0 <= participants <= capacity.
func (s *store) AdjustParticipants(
	ctx context.Context, id uint, delta int,
) (*ScheduleEntry, error) {
	res := s.db.WithContext(ctx).
		Model(&ScheduleEntry{}).
		Where("id = ? AND participants + ? >= 0 AND participants + ? <= capacity",
			id, delta, delta).
		Update("participants", gorm.Expr("participants + ?", delta))
	if res.Error != nil {
		return nil, fmt.Errorf("adjusting participants: %w", res.Error)
	}

	entry, err := s.GetScheduleEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	if res.RowsAffected == 0 {
		return entry, ErrParticipantsOutOfRange
	}

	return entry, nil
}

// --- Pricing ---

func (s *store) ListPricingPlans(ctx context.Context) ([]PricingPlan, error) {
	var plans []PricingPlan

	if err := s.db.WithContext(ctx).
		Order("sort_order, price").
		Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("listing pricing plans: %w", err)
	}

	return plans, nil
}

func (s *store) GetPricingPlan(
	ctx context.Context, id uint,
) (*PricingPlan, error) {
	return get[PricingPlan](ctx, s.db, id)
}

func (s *store) CreatePricingPlan(ctx context.Context, p *PricingPlan) error {
	return create(ctx, s.db, p)
}

func (s *store) UpdatePricingPlan(ctx context.Context, p *PricingPlan) error {
	return update(ctx, s.db, p.ID, p)
}

func (s *store) DeletePricingPlan(ctx context.Context, id uint) error {
	return remove[PricingPlan](ctx, s.db, id)
}

// --- Settings ---

func (s *store) ListSettings(ctx context.Context) ([]Setting, error) {
	var settings []Setting

	if err := s.db.WithContext(ctx).
		Order("key").
		Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}

	return settings, nil
}

// UpsertSettings writes all values in one transaction.
func (s *store) UpsertSettings(
	ctx context.Context, values map[string]string,
) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, value := range values {
			setting := Setting{Key: key, Value: value}

			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&setting).Error; err != nil {
				return fmt.Errorf("saving setting %q: %w", key, err)
			}
		}

		return nil
	})
}

func (s *store) DeleteSetting(ctx context.Context, key string) error {
	res := s.db.WithContext(ctx).Delete(&Setting{}, "key = ?", key)
	if res.Error != nil {
		return fmt.Errorf("deleting setting: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetSiteSettings decodes the key/value table into SiteSettings. Unknown
// keys are ignored and values are converted from their string form.
func (s *store) GetSiteSettings(ctx context.Context) (*SiteSettings, error) {
	settings, err := s.ListSettings(ctx)
	if err != nil {
		return nil, err
	}

	raw := make(map[string]string, len(settings))
	for _, setting := range settings {
		raw[setting.Key] = setting.Value
	}

	var out SiteSettings

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return nil, fmt.Errorf("creating settings decoder: %w", err)
	}

	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}

	return &out, nil
}

// Count returns the number of rows for a resource.
func (s *store) Count(ctx context.Context, r Resource) (int64, error) {
	model, ok := r.model()
	if !ok {
		return 0, fmt.Errorf("unknown resource %q", r)
	}

	var count int64

	if err := s.db.WithContext(ctx).
		Model(model).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting %s: %w", r, err)
	}

	return count, nil
}

// --- Helpers ---

func get[T any](ctx context.Context, db *gorm.DB, id uint) (*T, error) {
	var v T

	if err := db.WithContext(ctx).First(&v, id).Error; err != nil {
		return nil, translate(err, "getting record")
	}

	return &v, nil
}

func create[T any](ctx context.Context, db *gorm.DB, v *T) error {
	if err := db.WithContext(ctx).Create(v).Error; err != nil {
		return translate(err, "creating record")
	}

	return nil
}

// update writes every column of v except the primary key and creation
// time, including zero values.
func update[T any](ctx context.Context, db *gorm.DB, id uint, v *T) error {
	res := db.WithContext(ctx).
		Model(v).
		Where("id = ?", id).
		Select("*").
		Omit("id", "created_at").
		Updates(v)
	if res.Error != nil {
		return translate(res.Error, "updating record")
	}

	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func remove[T any](ctx context.Context, db *gorm.DB, id uint) error {
	res := db.WithContext(ctx).Delete(new(T), id)
	if res.Error != nil {
		return translate(res.Error, "deleting record")
	}

	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// translate maps gorm errors onto the package sentinels.
func translate(err error, op string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s", ErrConflict, op)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
