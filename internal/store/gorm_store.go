package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"diagcenter/internal/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(
		&UserModel{},
		&ListingModel{},
		&AppointmentModel{},
		&BannerModel{},
		&DistrictModel{},
		&UpazillaModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveUser upserts a user record keyed by email.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "status", "blood", "district", "upazilla", "updated_at"}),
	}).Create(&model).Error
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// SetUserRole overwrites the role field, last write wins.
func (s *GormStore) SetUserRole(id string, role domain.UserRole) error {
	return s.setUserField(id, "role", string(role))
}

// SetUserStatus overwrites the status field, last write wins.
func (s *GormStore) SetUserStatus(id string, status domain.UserStatus) error {
	return s.setUserField(id, "status", string(status))
}

func (s *GormStore) setUserField(id, column, value string) error {
	res := s.db.Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			column:       value,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveListing stores a listing. On conflict only the descriptive columns are
// written: slots and booked move solely through SetSlots, ReserveSlot, and
// ReleaseSlot, so an edit based on a stale read cannot undo a reservation.
func (s *GormStore) SaveListing(l domain.Listing) error {
	model := listingToModel(l)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "image", "details", "price", "date", "updated_at"}),
	}).Create(&model).Error
}

// SetSlots overwrites remaining capacity as one column update.
func (s *GormStore) SetSlots(id string, slots int) error {
	res := s.db.Model(&ListingModel{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"slots":      slots,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetListing retrieves a listing.
func (s *GormStore) GetListing(id string) (domain.Listing, bool, error) {
	var model ListingModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Listing{}, false, nil
		}
		return domain.Listing{}, false, err
	}
	return listingFromModel(model), true, nil
}

// ListListings returns all listings ordered by date.
func (s *GormStore) ListListings() ([]domain.Listing, error) {
	var models []ListingModel
	if err := s.db.Order("date ASC, created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Listing, 0, len(models))
	for _, m := range models {
		res = append(res, listingFromModel(m))
	}
	return res, nil
}

// DeleteListing removes a listing.
func (s *GormStore) DeleteListing(id string) error {
	res := s.db.Delete(&ListingModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReserveSlot takes one slot as a single guarded mutation. The WHERE clause
// enforces slots > 0 so concurrent reservations of the last slot cannot both
// succeed and the counter can never go negative.
func (s *GormStore) ReserveSlot(id string) error {
	res := s.db.Model(&ListingModel{}).
		Where("id = ? AND slots > 0", id).
		UpdateColumns(map[string]any{
			"slots":      gorm.Expr("slots - 1"),
			"booked":     gorm.Expr("booked + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, ok, err := s.GetListing(id); err != nil {
			return err
		} else if !ok {
			return ErrNotFound
		}
		return ErrOutOfCapacity
	}
	return nil
}

// ReleaseSlot returns one slot, guarded so booked never goes negative.
func (s *GormStore) ReleaseSlot(id string) error {
	res := s.db.Model(&ListingModel{}).
		Where("id = ? AND booked > 0", id).
		UpdateColumns(map[string]any{
			"slots":      gorm.Expr("slots + 1"),
			"booked":     gorm.Expr("booked - 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateAppointment inserts a new appointment record.
func (s *GormStore) CreateAppointment(a domain.Appointment) error {
	model, err := appointmentToModel(a)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// GetAppointment retrieves an appointment.
func (s *GormStore) GetAppointment(id string) (domain.Appointment, bool, error) {
	var model AppointmentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Appointment{}, false, nil
		}
		return domain.Appointment{}, false, err
	}
	appt, err := appointmentFromModel(model)
	if err != nil {
		return domain.Appointment{}, false, err
	}
	return appt, true, nil
}

// ListAppointmentsByEmail returns a user's appointments, newest first.
func (s *GormStore) ListAppointmentsByEmail(email string) ([]domain.Appointment, error) {
	var models []AppointmentModel
	if err := s.db.Where("email = ?", email).Order("booked_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return appointmentsFromModels(models)
}

// SearchReservations returns a listing's appointments, optionally filtered by
// a case-insensitive email substring.
func (s *GormStore) SearchReservations(listingID, emailFilter string) ([]domain.Appointment, error) {
	tx := s.db.Where("listing_id = ?", listingID)
	if f := strings.TrimSpace(emailFilter); f != "" {
		tx = tx.Where("lower(email) LIKE ?", "%"+strings.ToLower(f)+"%")
	}
	var models []AppointmentModel
	if err := tx.Order("booked_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return appointmentsFromModels(models)
}

// AttachResult stores the result payload and flips status to delivered.
// Re-applying the same result is a no-op on the final state.
func (s *GormStore) AttachResult(id string, result map[string]any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	res := s.db.Model(&AppointmentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     string(domain.AppointmentDelivered),
			"result":     datatypes.JSON(payload),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetReportKey records the object storage key of the uploaded report file.
func (s *GormStore) SetReportKey(id, key string) error {
	res := s.db.Model(&AppointmentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"report_key": key,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAppointment removes an appointment record.
func (s *GormStore) DeleteAppointment(id string) error {
	res := s.db.Delete(&AppointmentModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveBanner stores a banner.
func (s *GormStore) SaveBanner(b domain.Banner) error {
	model := bannerToModel(b)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "image", "text", "coupon_code"}),
	}).Create(&model).Error
}

// GetBanner retrieves a banner.
func (s *GormStore) GetBanner(id string) (domain.Banner, bool, error) {
	var model BannerModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Banner{}, false, nil
		}
		return domain.Banner{}, false, err
	}
	return bannerFromModel(model), true, nil
}

// ListBanners returns all banners ordered by created_at.
func (s *GormStore) ListBanners() ([]domain.Banner, error) {
	var models []BannerModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Banner, 0, len(models))
	for _, m := range models {
		res = append(res, bannerFromModel(m))
	}
	return res, nil
}

// ActiveBanner returns the currently active banner, if any.
func (s *GormStore) ActiveBanner() (domain.Banner, bool, error) {
	var model BannerModel
	if err := s.db.Where("is_active = ?", true).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Banner{}, false, nil
		}
		return domain.Banner{}, false, err
	}
	return bannerFromModel(model), true, nil
}

// ActivateBanner clears every other banner's flag and sets the target's flag
// inside one transaction, so concurrent activations cannot interleave and
// leave two banners active.
func (s *GormStore) ActivateBanner(id string, active bool) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&BannerModel{}).
			Where("id <> ?", id).
			Update("is_active", false).Error; err != nil {
			return err
		}
		res := tx.Model(&BannerModel{}).
			Where("id = ?", id).
			Update("is_active", active)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteBanner removes a banner.
func (s *GormStore) DeleteBanner(id string) error {
	res := s.db.Delete(&BannerModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDistricts returns the district reference list.
func (s *GormStore) ListDistricts() ([]domain.District, error) {
	var models []DistrictModel
	if err := s.db.Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.District, 0, len(models))
	for _, m := range models {
		res = append(res, domain.District{ID: m.ID, Name: m.Name})
	}
	return res, nil
}

// ListUpazillas returns the sub-district reference list.
func (s *GormStore) ListUpazillas() ([]domain.Upazilla, error) {
	var models []UpazillaModel
	if err := s.db.Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Upazilla, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Upazilla{ID: m.ID, DistrictID: m.DistrictID, Name: m.Name})
	}
	return res, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      string(u.Role),
		Status:    string(u.Status),
		Blood:     u.Blood,
		District:  u.District,
		Upazilla:  u.Upazilla,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:        m.ID,
		Email:     m.Email,
		Name:      m.Name,
		Role:      domain.UserRole(m.Role),
		Status:    domain.UserStatus(m.Status),
		Blood:     m.Blood,
		District:  m.District,
		Upazilla:  m.Upazilla,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func listingToModel(l domain.Listing) ListingModel {
	return ListingModel{
		ID:        l.ID,
		Title:     l.Title,
		Image:     l.Image,
		Details:   l.Details,
		Price:     l.Price,
		Date:      l.Date,
		Slots:     l.Slots,
		Booked:    l.Booked,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

func listingFromModel(m ListingModel) domain.Listing {
	return domain.Listing{
		ID:        m.ID,
		Title:     m.Title,
		Image:     m.Image,
		Details:   m.Details,
		Price:     m.Price,
		Date:      m.Date,
		Slots:     m.Slots,
		Booked:    m.Booked,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func appointmentToModel(a domain.Appointment) (AppointmentModel, error) {
	model := AppointmentModel{
		ID:              a.ID,
		ListingID:       a.ListingID,
		ListingTitle:    a.ListingTitle,
		Email:           a.Email,
		Price:           a.Price,
		PaymentIntentID: a.PaymentIntentID,
		Status:          string(a.Status),
		ReportKey:       a.ReportKey,
		BookedAt:        a.BookedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if a.Result != nil {
		payload, err := json.Marshal(a.Result)
		if err != nil {
			return AppointmentModel{}, err
		}
		model.Result = datatypes.JSON(payload)
	}
	return model, nil
}

func appointmentFromModel(m AppointmentModel) (domain.Appointment, error) {
	appt := domain.Appointment{
		ID:              m.ID,
		ListingID:       m.ListingID,
		ListingTitle:    m.ListingTitle,
		Email:           m.Email,
		Price:           m.Price,
		PaymentIntentID: m.PaymentIntentID,
		Status:          domain.AppointmentStatus(m.Status),
		ReportKey:       m.ReportKey,
		BookedAt:        m.BookedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if len(m.Result) > 0 {
		if err := json.Unmarshal(m.Result, &appt.Result); err != nil {
			return domain.Appointment{}, err
		}
	}
	return appt, nil
}

func appointmentsFromModels(models []AppointmentModel) ([]domain.Appointment, error) {
	res := make([]domain.Appointment, 0, len(models))
	for _, m := range models {
		appt, err := appointmentFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, appt)
	}
	return res, nil
}

func bannerToModel(b domain.Banner) BannerModel {
	return BannerModel{
		ID:         b.ID,
		Title:      b.Title,
		Image:      b.Image,
		Text:       b.Text,
		CouponCode: b.CouponCode,
		IsActive:   b.IsActive,
		CreatedAt:  b.CreatedAt,
	}
}

func bannerFromModel(m BannerModel) domain.Banner {
	return domain.Banner{
		ID:         m.ID,
		Title:      m.Title,
		Image:      m.Image,
		Text:       m.Text,
		CouponCode: m.CouponCode,
		IsActive:   m.IsActive,
		CreatedAt:  m.CreatedAt,
	}
}
