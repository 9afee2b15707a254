package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID        string `gorm:"primaryKey"`
	Email     string `gorm:"uniqueIndex;not null"`
	Name      string
	Role      string `gorm:"not null"`
	Status    string `gorm:"not null"`
	Blood     string
	District  string
	Upazilla  string
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type ListingModel struct {
	ID        string `gorm:"primaryKey"`
	Title     string `gorm:"not null"`
	Image     string
	Details   string
	Price     float64 `gorm:"not null"`
	Date      string
	Slots     int       `gorm:"not null"`
	Booked    int       `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

type AppointmentModel struct {
	ID              string `gorm:"primaryKey"`
	ListingID       string `gorm:"not null;index"`
	ListingTitle    string
	Email           string  `gorm:"not null;index"`
	Price           float64 `gorm:"not null"`
	PaymentIntentID string
	Status          string         `gorm:"not null"`
	Result          datatypes.JSON `gorm:"type:jsonb"`
	ReportKey       string
	BookedAt        time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type BannerModel struct {
	ID         string `gorm:"primaryKey"`
	Title      string
	Image      string `gorm:"not null"`
	Text       string
	CouponCode string
	IsActive   bool      `gorm:"not null;index"`
	CreatedAt  time.Time `gorm:"not null"`
}

type DistrictModel struct {
	ID   string `gorm:"primaryKey"`
	Name string `gorm:"not null"`
}

type UpazillaModel struct {
	ID         string `gorm:"primaryKey"`
	DistrictID string `gorm:"not null;index"`
	Name       string `gorm:"not null"`
}
