package store

import (
	"time"
)

// Admin is the single administrative principal.
type Admin struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Username        string     `gorm:"uniqueIndex;not null;size:64" json:"username"`
	PasswordHash    string     `gorm:"not null" json:"-"`
	IsAdmin         bool       `gorm:"not null" json:"isAdmin"`
	RecoveryKeyHash string     `json:"-"`
	LastLogin       *time.Time `json:"lastLogin"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Trainer is a member of the coaching staff shown on the site.
type Trainer struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"not null" json:"name"`
	Specialty      string    `json:"specialty"`
	Bio            string    `json:"bio"`
	ImageURL       string    `json:"imageUrl"`
	Certifications []string  `gorm:"serializer:json" json:"certifications"`
	Active         bool      `gorm:"not null;index" json:"active"`
	SortOrder      int       `json:"sortOrder"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// OfferedClass is a class type the gym runs. The titles of active classes
// are the only valid schedule class types.
type OfferedClass struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"uniqueIndex;not null;size:128" json:"title"`
	Description string    `json:"description"`
	Duration    int       `json:"duration"`
	Intensity   string    `json:"intensity"`
	ImageURL    string    `json:"imageUrl"`
	Active      bool      `gorm:"not null;index" json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Program is a multi-week training program.
type Program struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Title         string    `gorm:"not null" json:"title"`
	Description   string    `json:"description"`
	Level         string    `json:"level"`
	DurationWeeks int       `json:"durationWeeks"`
	ImageURL      string    `json:"imageUrl"`
	Features      []string  `gorm:"serializer:json" json:"features"`
	Active        bool      `gorm:"not null;index" json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ScheduleEntry is one weekly slot of a class.
type ScheduleEntry struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ClassName    string    `gorm:"not null" json:"className"`
	ClassType    string    `gorm:"not null" json:"classType"`
	DayOfWeek    string    `gorm:"not null;index" json:"dayOfWeek"`
	StartTime    string    `gorm:"not null" json:"startTime"`
	EndTime      string    `gorm:"not null" json:"endTime"`
	TrainerID    *uint     `json:"trainerId"`
	Capacity     int       `gorm:"not null" json:"capacity"`
	Participants int       `gorm:"not null" json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PricingPlan is a membership offer.
type PricingPlan struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Price       float64   `gorm:"not null" json:"price"`
	Currency    string    `gorm:"not null" json:"currency"`
	Interval    string    `gorm:"not null" json:"interval"`
	Features    []string  `gorm:"serializer:json" json:"features"`
	Highlighted bool      `json:"highlighted"`
	SortOrder   int       `json:"sortOrder"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Setting is a single site-wide key/value pair.
type Setting struct {
	Key       string    `gorm:"primaryKey;size:64" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SiteSettings is the typed view of the settings table.
type SiteSettings struct {
	GymName         string `mapstructure:"gym_name" json:"gymName"`
	Tagline         string `mapstructure:"tagline" json:"tagline"`
	Email           string `mapstructure:"email" json:"email"`
	Phone           string `mapstructure:"phone" json:"phone"`
	Address         string `mapstructure:"address" json:"address"`
	OpeningHours    string `mapstructure:"opening_hours" json:"openingHours"`
	InstagramURL    string `mapstructure:"instagram_url" json:"instagramUrl"`
	FacebookURL     string `mapstructure:"facebook_url" json:"facebookUrl"`
	HeroImageURL    string `mapstructure:"hero_image_url" json:"heroImageUrl"`
	MaintenanceMode bool   `mapstructure:"maintenance_mode" json:"maintenanceMode"`
	DefaultCapacity int    `mapstructure:"default_capacity" json:"defaultCapacity"`
}

// Resource names a countable table.
type Resource string

// Countable resources.
const (
	ResourceTrainers Resource = "trainers"
	ResourceClasses  Resource = "classes"
	ResourcePrograms Resource = "programs"
	ResourceSchedule Resource = "schedule"
	ResourcePricing  Resource = "pricing"
)

func (r Resource) model() (any, bool) {
	switch r {
	case ResourceTrainers:
		return &Trainer{}, true
	case ResourceClasses:
		return &OfferedClass{}, true
	case ResourcePrograms:
		return &Program{}, true
	case ResourceSchedule:
		return &ScheduleEntry{}, true
	case ResourcePricing:
		return &PricingPlan{}, true
	default:
		return nil, false
	}
}
