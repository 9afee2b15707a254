package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"diagcenter/internal/domain"
)

// MemoryStore keeps all records in-process. It mirrors the GORM store's
// atomicity: slot movements and banner activation happen under one lock.
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[string]domain.User // key: user ID
	email        map[string]string      // email -> user ID
	listings     map[string]domain.Listing
	appointments map[string]domain.Appointment
	banners      map[string]domain.Banner
	bannerOrder  []string
	districts    []domain.District
	upazillas    []domain.Upazilla
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]domain.User),
		email:        make(map[string]string),
		listings:     make(map[string]domain.Listing),
		appointments: make(map[string]domain.Appointment),
		banners:      make(map[string]domain.Banner),
	}
}

// SaveUser upserts a user keyed by email.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.email[u.Email]; ok {
		u.ID = id
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// ListUsers returns all users ordered by creation time.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// SetUserRole overwrites the role field.
func (m *MemoryStore) SetUserRole(id string, role domain.UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Role = role
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return nil
}

// SetUserStatus overwrites the status field.
func (m *MemoryStore) SetUserStatus(id string, status domain.UserStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return nil
}

// SaveListing stores or replaces a listing's descriptive fields.
func (m *MemoryStore) SaveListing(l domain.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.listings[l.ID]; ok {
		// counters are owned by SetSlots and the reservation path
		l.Slots = existing.Slots
		l.Booked = existing.Booked
	}
	m.listings[l.ID] = l
	return nil
}

// SetSlots overwrites remaining capacity.
func (m *MemoryStore) SetSlots(id string, slots int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return ErrNotFound
	}
	l.Slots = slots
	l.UpdatedAt = time.Now().UTC()
	m.listings[id] = l
	return nil
}

// GetListing retrieves a listing.
func (m *MemoryStore) GetListing(id string) (domain.Listing, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listings[id]
	return l, ok, nil
}

// ListListings returns all listings ordered by date.
func (m *MemoryStore) ListListings() ([]domain.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Listing, 0, len(m.listings))
	for _, l := range m.listings {
		res = append(res, l)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Date < res[j].Date })
	return res, nil
}

// DeleteListing removes a listing.
func (m *MemoryStore) DeleteListing(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listings[id]; !ok {
		return ErrNotFound
	}
	delete(m.listings, id)
	return nil
}

// ReserveSlot takes one slot; the check and the decrement happen under the
// same lock, so the counter never goes negative.
func (m *MemoryStore) ReserveSlot(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return ErrNotFound
	}
	if l.Slots <= 0 {
		return ErrOutOfCapacity
	}
	l.Slots--
	l.Booked++
	l.UpdatedAt = time.Now().UTC()
	m.listings[id] = l
	return nil
}

// ReleaseSlot returns one slot.
func (m *MemoryStore) ReleaseSlot(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok || l.Booked <= 0 {
		return ErrNotFound
	}
	l.Slots++
	l.Booked--
	l.UpdatedAt = time.Now().UTC()
	m.listings[id] = l
	return nil
}

// CreateAppointment inserts an appointment record.
func (m *MemoryStore) CreateAppointment(a domain.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments[a.ID] = a
	return nil
}

// GetAppointment retrieves an appointment.
func (m *MemoryStore) GetAppointment(id string) (domain.Appointment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	return a, ok, nil
}

// ListAppointmentsByEmail returns a user's appointments, newest first.
func (m *MemoryStore) ListAppointmentsByEmail(email string) ([]domain.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Appointment, 0)
	for _, a := range m.appointments {
		if a.Email == email {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].BookedAt.After(res[j].BookedAt) })
	return res, nil
}

// SearchReservations filters a listing's appointments by email substring.
func (m *MemoryStore) SearchReservations(listingID, emailFilter string) ([]domain.Appointment, error) {
	filter := strings.ToLower(strings.TrimSpace(emailFilter))
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Appointment, 0)
	for _, a := range m.appointments {
		if a.ListingID != listingID {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(a.Email), filter) {
			continue
		}
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].BookedAt.After(res[j].BookedAt) })
	return res, nil
}

// AttachResult stores the result payload and flips status to delivered.
func (m *MemoryStore) AttachResult(id string, result map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return ErrNotFound
	}
	a.Result = result
	a.Status = domain.AppointmentDelivered
	a.UpdatedAt = time.Now().UTC()
	m.appointments[id] = a
	return nil
}

// SetReportKey records the report object key.
func (m *MemoryStore) SetReportKey(id, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return ErrNotFound
	}
	a.ReportKey = key
	a.UpdatedAt = time.Now().UTC()
	m.appointments[id] = a
	return nil
}

// DeleteAppointment removes an appointment record.
func (m *MemoryStore) DeleteAppointment(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appointments[id]; !ok {
		return ErrNotFound
	}
	delete(m.appointments, id)
	return nil
}

// SaveBanner stores a banner and tracks insertion order.
func (m *MemoryStore) SaveBanner(b domain.Banner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.banners[b.ID]; !exists {
		m.bannerOrder = append(m.bannerOrder, b.ID)
	}
	m.banners[b.ID] = b
	return nil
}

// GetBanner retrieves a banner.
func (m *MemoryStore) GetBanner(id string) (domain.Banner, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.banners[id]
	return b, ok, nil
}

// ListBanners returns banners in insertion order.
func (m *MemoryStore) ListBanners() ([]domain.Banner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Banner, 0, len(m.bannerOrder))
	for _, id := range m.bannerOrder {
		if b, ok := m.banners[id]; ok {
			res = append(res, b)
		}
	}
	return res, nil
}

// ActiveBanner returns the currently active banner, if any.
func (m *MemoryStore) ActiveBanner() (domain.Banner, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.banners {
		if b.IsActive {
			return b, true, nil
		}
	}
	return domain.Banner{}, false, nil
}

// ActivateBanner deactivates every other banner and sets the target flag.
// Both steps run under one lock, matching the GORM store's transaction.
func (m *MemoryStore) ActivateBanner(id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.banners[id]
	if !ok {
		return ErrNotFound
	}
	for otherID, b := range m.banners {
		if otherID == id || !b.IsActive {
			continue
		}
		b.IsActive = false
		m.banners[otherID] = b
	}
	target.IsActive = active
	m.banners[id] = target
	return nil
}

// DeleteBanner removes a banner.
func (m *MemoryStore) DeleteBanner(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.banners[id]; !ok {
		return ErrNotFound
	}
	delete(m.banners, id)
	filtered := m.bannerOrder[:0]
	for _, item := range m.bannerOrder {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.bannerOrder = filtered
	return nil
}

// SeedLocation loads the read-only location reference data.
func (m *MemoryStore) SeedLocation(districts []domain.District, upazillas []domain.Upazilla) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.districts = districts
	m.upazillas = upazillas
}

// ListDistricts returns the district reference list.
func (m *MemoryStore) ListDistricts() ([]domain.District, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.District(nil), m.districts...), nil
}

// ListUpazillas returns the sub-district reference list.
func (m *MemoryStore) ListUpazillas() ([]domain.Upazilla, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Upazilla(nil), m.upazillas...), nil
}
