package store

import (
	"errors"

	"diagcenter/internal/domain"
)

var (
	// ErrNotFound indicates the identifier did not resolve to a record.
	ErrNotFound = errors.New("record not found")
	// ErrOutOfCapacity indicates a listing has no remaining slots.
	ErrOutOfCapacity = errors.New("listing out of capacity")
)

// Store defines persistence operations for users, listings, appointments,
// banners, and location reference data. Implementations must make ReserveSlot,
// ReleaseSlot, and ActivateBanner atomic with respect to concurrent callers.
type Store interface {
	// users
	SaveUser(domain.User) error
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	SetUserRole(id string, role domain.UserRole) error
	SetUserStatus(id string, status domain.UserStatus) error

	// listings
	// SaveListing writes descriptive fields only; Slots and Booked belong to
	// SetSlots and the reservation path, so a stale read cannot resurrect a
	// reserved slot.
	SaveListing(domain.Listing) error
	GetListing(id string) (domain.Listing, bool, error)
	ListListings() ([]domain.Listing, error)
	DeleteListing(id string) error
	// ReserveSlot decrements slots and increments booked as one guarded
	// mutation; it fails with ErrOutOfCapacity when slots is already zero.
	ReserveSlot(id string) error
	// ReleaseSlot is the inverse, guarded so booked never goes negative.
	ReleaseSlot(id string) error
	// SetSlots overwrites remaining capacity in a single column update.
	SetSlots(id string, slots int) error

	// appointments
	CreateAppointment(domain.Appointment) error
	GetAppointment(id string) (domain.Appointment, bool, error)
	ListAppointmentsByEmail(email string) ([]domain.Appointment, error)
	SearchReservations(listingID, emailFilter string) ([]domain.Appointment, error)
	AttachResult(id string, result map[string]any) error
	SetReportKey(id, key string) error
	DeleteAppointment(id string) error

	// banners
	SaveBanner(domain.Banner) error
	GetBanner(id string) (domain.Banner, bool, error)
	ListBanners() ([]domain.Banner, error)
	ActiveBanner() (domain.Banner, bool, error)
	// ActivateBanner sets the target banner's flag and clears every other
	// banner inside a single transactional boundary.
	ActivateBanner(id string, active bool) error
	DeleteBanner(id string) error

	// location reference data
	ListDistricts() ([]domain.District, error)
	ListUpazillas() ([]domain.Upazilla, error)
}

// SessionStore issues and verifies signed session tokens.
type SessionStore interface {
	NewSession(email string) (string, error)
	EmailFromToken(token string) (string, bool, error)
}
