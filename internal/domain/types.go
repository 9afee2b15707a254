package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type UserStatus string

const (
	StatusNone      UserStatus = "none"
	StatusRequested UserStatus = "Requested"
	StatusActive    UserStatus = "Active"
	StatusBlocked   UserStatus = "Blocked"
)

type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentDelivered AppointmentStatus = "delivered"
)

// User is keyed by email; the record is upserted on first authenticated
// profile write and never deleted by normal operation.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Role      UserRole   `json:"role"`
	Status    UserStatus `json:"status"`
	Blood     string     `json:"blood,omitempty"`
	District  string     `json:"district,omitempty"`
	Upazilla  string     `json:"upazilla,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Listing is a bookable diagnostic test. Slots and Booked move in lockstep:
// one reservation decrements Slots and increments Booked in a single store
// mutation, and Slots never goes below zero.
type Listing struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Image     string    `json:"image,omitempty"`
	Details   string    `json:"details,omitempty"`
	Price     float64   `json:"price"`
	Date      string    `json:"date"`
	Slots     int       `json:"slots"`
	Booked    int       `json:"booked"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Appointment links a user (by email) to a listing. It is created only after
// the capacity reservation succeeded; PaymentIntentID records the payment
// authorization it was booked under.
type Appointment struct {
	ID              string            `json:"id"`
	ListingID       string            `json:"listingId"`
	ListingTitle    string            `json:"listingTitle,omitempty"`
	Email           string            `json:"email"`
	Price           float64           `json:"price"`
	PaymentIntentID string            `json:"paymentIntentId,omitempty"`
	Status          AppointmentStatus `json:"status"`
	Result          map[string]any    `json:"result,omitempty"`
	ReportKey       string            `json:"-"`
	BookedAt        time.Time         `json:"bookedAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Banner is a promotional item; at most one banner is active at any time.
type Banner struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Image      string    `json:"image"`
	Text       string    `json:"text,omitempty"`
	CouponCode string    `json:"couponCode,omitempty"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
}

// District and Upazilla are read-only location reference data.
type District struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Upazilla struct {
	ID         string `json:"id"`
	DistrictID string `json:"districtId"`
	Name       string `json:"name"`
}
