package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"diagcenter/internal/domain"
	"diagcenter/internal/events"
	"diagcenter/internal/payment"
	"diagcenter/internal/storage"
	"diagcenter/internal/store"
)

// PaymentGateway creates payment intents for minor-unit amounts.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, amountMinor int64, currency string) (payment.Intent, error)
}

// Config wires required dependencies for the application core.
type Config struct {
	Store     store.Store
	Sessions  store.SessionStore
	Payments  PaymentGateway
	Objects   storage.ObjectStore
	Publisher *events.Publisher
	Currency  string
}

// App owns the booking, activation, and mutation workflows. All shared state
// lives in the store; App holds no per-request state.
type App struct {
	store         store.Store
	sessions      store.SessionStore
	payments      PaymentGateway
	objects       storage.ObjectStore
	publisher     *events.Publisher
	currency      string
	presignExpiry time.Duration
}

// New constructs the application core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store required")
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &App{
		store:         cfg.Store,
		sessions:      cfg.Sessions,
		payments:      cfg.Payments,
		objects:       cfg.Objects,
		publisher:     cfg.Publisher,
		currency:      currency,
		presignExpiry: 15 * time.Minute,
	}, nil
}

// IssueSession signs a session token for the caller email.
func (a *App) IssueSession(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", errors.New("email required")
	}
	return a.sessions.NewSession(email)
}

// UserFromToken verifies the token and loads the persisted user record.
// The record may not exist yet for a freshly issued token.
func (a *App) UserFromToken(token string) (domain.User, string, bool) {
	email, ok, err := a.sessions.EmailFromToken(token)
	if err != nil || !ok {
		return domain.User{}, "", false
	}
	user, found, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", false
	}
	if !found {
		return domain.User{Email: email, Role: domain.RoleUser}, email, true
	}
	return user, email, true
}

// ProfileUpdate carries the caller-writable user fields.
type ProfileUpdate struct {
	Name     string
	Status   domain.UserStatus
	Blood    string
	District string
	Upazilla string
}

// SaveProfile upserts the user record for email. An existing record is only
// overwritten when the submission carries the Requested status; any other
// write against an existing record returns it unchanged.
func (a *App) SaveProfile(email string, in ProfileUpdate) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	existing, found, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, err
	}
	now := time.Now().UTC()
	if found {
		if in.Status != domain.StatusRequested {
			return existing, nil
		}
		existing.Name = orKeep(in.Name, existing.Name)
		existing.Status = in.Status
		existing.Blood = orKeep(in.Blood, existing.Blood)
		existing.District = orKeep(in.District, existing.District)
		existing.Upazilla = orKeep(in.Upazilla, existing.Upazilla)
		existing.UpdatedAt = now
		if err := a.store.SaveUser(existing); err != nil {
			return domain.User{}, err
		}
		return existing, nil
	}
	status := in.Status
	if status == "" {
		status = domain.StatusNone
	}
	user := domain.User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      in.Name,
		Role:      domain.RoleUser,
		Status:    status,
		Blood:     in.Blood,
		District:  in.District,
		Upazilla:  in.Upazilla,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// UserByEmail returns the persisted user record.
func (a *App) UserByEmail(email string) (domain.User, bool, error) {
	return a.store.GetUserByEmail(strings.ToLower(strings.TrimSpace(email)))
}

// ListUsers returns all user records.
func (a *App) ListUsers() ([]domain.User, error) {
	return a.store.ListUsers()
}

// SetUserRole applies an administrator role transition, last write wins.
func (a *App) SetUserRole(id string, role domain.UserRole) error {
	return a.store.SetUserRole(id, role)
}

// SetUserStatus applies an administrator status transition, last write wins.
func (a *App) SetUserStatus(id string, status domain.UserStatus) error {
	return a.store.SetUserStatus(id, status)
}

// ListingInput carries the admin-writable listing fields. Slots is a pointer
// so an edit request that omits it leaves capacity alone.
type ListingInput struct {
	Title   string
	Image   string
	Details string
	Price   float64
	Date    string
	Slots   *int
}

// CreateListing registers a new bookable test.
func (a *App) CreateListing(in ListingInput) (domain.Listing, error) {
	if strings.TrimSpace(in.Title) == "" {
		return domain.Listing{}, errors.New("title required")
	}
	slots := 0
	if in.Slots != nil {
		if *in.Slots < 0 {
			return domain.Listing{}, errors.New("slots must be >= 0")
		}
		slots = *in.Slots
	}
	now := time.Now().UTC()
	listing := domain.Listing{
		ID:        uuid.NewString(),
		Title:     in.Title,
		Image:     in.Image,
		Details:   in.Details,
		Price:     in.Price,
		Date:      in.Date,
		Slots:     slots,
		Booked:    0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.SaveListing(listing); err != nil {
		return domain.Listing{}, err
	}
	return listing, nil
}

// UpdateListing overwrites the descriptive fields of an existing listing.
// Capacity never moves here: the store ignores the counters on edits, so a
// stale read cannot resurrect a slot a concurrent reservation just took.
// Capacity changes go through SetListingSlots.
func (a *App) UpdateListing(id string, in ListingInput) (domain.Listing, error) {
	listing, ok, err := a.store.GetListing(id)
	if err != nil {
		return domain.Listing{}, err
	}
	if !ok {
		return domain.Listing{}, store.ErrNotFound
	}
	listing.Title = orKeep(in.Title, listing.Title)
	listing.Image = orKeep(in.Image, listing.Image)
	listing.Details = orKeep(in.Details, listing.Details)
	if in.Price > 0 {
		listing.Price = in.Price
	}
	listing.Date = orKeep(in.Date, listing.Date)
	listing.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveListing(listing); err != nil {
		return domain.Listing{}, err
	}
	return a.reloadListing(id)
}

// SetListingSlots overwrites remaining capacity as a single store mutation.
func (a *App) SetListingSlots(id string, slots int) (domain.Listing, error) {
	if slots < 0 {
		return domain.Listing{}, errors.New("slots must be >= 0")
	}
	if err := a.store.SetSlots(id, slots); err != nil {
		return domain.Listing{}, err
	}
	return a.reloadListing(id)
}

// reloadListing re-reads the record so callers see the live counters, not the
// values from before their own write.
func (a *App) reloadListing(id string) (domain.Listing, error) {
	listing, ok, err := a.store.GetListing(id)
	if err != nil {
		return domain.Listing{}, err
	}
	if !ok {
		return domain.Listing{}, store.ErrNotFound
	}
	return listing, nil
}

// ListListings returns all listings.
func (a *App) ListListings() ([]domain.Listing, error) {
	return a.store.ListListings()
}

// Listing returns one listing.
func (a *App) Listing(id string) (domain.Listing, bool, error) {
	return a.store.GetListing(id)
}

// DeleteListing removes a listing.
func (a *App) DeleteListing(id string) error {
	return a.store.DeleteListing(id)
}

// AuthorizePayment converts the price to the gateway's minor-unit integer
// representation and requests a payment intent. It is a single attempt: on
// gateway failure the error is surfaced without retry, and nothing is
// persisted here.
func (a *App) AuthorizePayment(ctx context.Context, amount float64) (string, error) {
	minor := int64(math.Round(amount * 100))
	if amount <= 0 || minor < 1 {
		return "", ErrInvalidAmount
	}
	if a.payments == nil {
		return "", errors.New("payment gateway not configured")
	}
	intent, err := a.payments.CreateIntent(ctx, minor, a.currency)
	if err != nil {
		return "", err
	}
	return intent.ClientSecret, nil
}

// BookAppointment reserves one slot on the listing and records the booking.
// The reservation is a single guarded store mutation, so the listing cannot
// be oversold. If the appointment insert fails after the slot was taken, the
// slot is released again (compensation) and the insert error is returned.
func (a *App) BookAppointment(ctx context.Context, email, listingID, paymentIntentID string) (domain.Appointment, error) {
	listing, ok, err := a.store.GetListing(listingID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	if err := a.store.ReserveSlot(listingID); err != nil {
		return domain.Appointment{}, err
	}
	now := time.Now().UTC()
	appt := domain.Appointment{
		ID:              uuid.NewString(),
		ListingID:       listingID,
		ListingTitle:    listing.Title,
		Email:           strings.ToLower(strings.TrimSpace(email)),
		Price:           listing.Price,
		PaymentIntentID: paymentIntentID,
		Status:          domain.AppointmentPending,
		BookedAt:        now,
		UpdatedAt:       now,
	}
	if err := a.store.CreateAppointment(appt); err != nil {
		if relErr := a.store.ReleaseSlot(listingID); relErr != nil {
			slog.Error("slot release after failed booking insert", "listing_id", listingID, "err", relErr)
		}
		return domain.Appointment{}, fmt.Errorf("create appointment: %w", err)
	}
	a.publisher.Publish(ctx, events.KeyAppointmentCreated, appointmentEvent(appt))
	return appt, nil
}

// AppointmentsByEmail returns a user's bookings, newest first.
func (a *App) AppointmentsByEmail(email string) ([]domain.Appointment, error) {
	return a.store.ListAppointmentsByEmail(strings.ToLower(strings.TrimSpace(email)))
}

// SearchReservations returns a listing's bookings filtered by a
// case-insensitive email substring.
func (a *App) SearchReservations(listingID, emailFilter string) ([]domain.Appointment, error) {
	return a.store.SearchReservations(listingID, emailFilter)
}

// CancelAppointment deletes the booking and releases the listing slot.
// Releasing on cancellation is a deliberate policy choice: a cancelled slot
// becomes bookable again. Only the owning user or an admin may cancel.
func (a *App) CancelAppointment(ctx context.Context, id, requesterEmail string, isAdmin bool) error {
	appt, ok, err := a.store.GetAppointment(id)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	if !isAdmin && !strings.EqualFold(appt.Email, requesterEmail) {
		return ErrNotOwner
	}
	if err := a.store.DeleteAppointment(id); err != nil {
		return err
	}
	if err := a.store.ReleaseSlot(appt.ListingID); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("slot release on cancellation", "listing_id", appt.ListingID, "err", err)
	}
	a.publisher.Publish(ctx, events.KeyAppointmentCancelled, appointmentEvent(appt))
	return nil
}

// AttachResult stores the result payload and marks the appointment delivered.
// Re-applying the same result leaves the record in the same final state.
func (a *App) AttachResult(ctx context.Context, id string, result map[string]any) (domain.Appointment, error) {
	if err := a.store.AttachResult(id, result); err != nil {
		return domain.Appointment{}, err
	}
	appt, _, err := a.store.GetAppointment(id)
	if err != nil {
		return domain.Appointment{}, err
	}
	a.publisher.Publish(ctx, events.KeyResultDelivered, appointmentEvent(appt))
	return appt, nil
}

// Appointment returns one booking.
func (a *App) Appointment(id string) (domain.Appointment, bool, error) {
	return a.store.GetAppointment(id)
}

// UploadReport stores a result report file and links it to the appointment.
func (a *App) UploadReport(ctx context.Context, id, filename string, r io.Reader, size int64) error {
	if a.objects == nil {
		return errors.New("object storage not configured")
	}
	if _, ok, err := a.store.GetAppointment(id); err != nil {
		return err
	} else if !ok {
		return store.ErrNotFound
	}
	key := buildReportKey(id, filename)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.objects.Put(ctx, key, r, size, contentType); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	if err := a.store.SetReportKey(id, key); err != nil {
		_ = a.objects.Delete(ctx, key)
		return err
	}
	return nil
}

// ReportURL returns a pre-signed download URL for the appointment's report.
func (a *App) ReportURL(ctx context.Context, id string) (string, error) {
	if a.objects == nil {
		return "", errors.New("object storage not configured")
	}
	appt, ok, err := a.store.GetAppointment(id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", store.ErrNotFound
	}
	if strings.TrimSpace(appt.ReportKey) == "" {
		return "", ErrNoReport
	}
	return a.objects.PresignGet(ctx, appt.ReportKey, a.presignExpiry)
}

// BannerInput carries the admin-writable banner fields.
type BannerInput struct {
	Title      string
	Image      string
	Text       string
	CouponCode string
}

// CreateBanner registers a new (inactive) promotional banner.
func (a *App) CreateBanner(in BannerInput) (domain.Banner, error) {
	if strings.TrimSpace(in.Image) == "" {
		return domain.Banner{}, errors.New("image required")
	}
	banner := domain.Banner{
		ID:         uuid.NewString(),
		Title:      in.Title,
		Image:      in.Image,
		Text:       in.Text,
		CouponCode: in.CouponCode,
		IsActive:   false,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.SaveBanner(banner); err != nil {
		return domain.Banner{}, err
	}
	return banner, nil
}

// ListBanners returns all banners.
func (a *App) ListBanners() ([]domain.Banner, error) {
	return a.store.ListBanners()
}

// ActiveBanner returns the currently active banner, if any.
func (a *App) ActiveBanner() (domain.Banner, bool, error) {
	return a.store.ActiveBanner()
}

// SetBannerActive flips the target banner's flag. The store performs the
// deactivate-others and set-target steps in one transactional boundary, so
// at most one banner is active after any sequence of concurrent calls.
func (a *App) SetBannerActive(id string, active bool) error {
	return a.store.ActivateBanner(id, active)
}

// DeleteBanner removes a banner.
func (a *App) DeleteBanner(id string) error {
	return a.store.DeleteBanner(id)
}

// Location returns the read-only district and sub-district reference lists.
func (a *App) Location() ([]domain.District, []domain.Upazilla, error) {
	districts, err := a.store.ListDistricts()
	if err != nil {
		return nil, nil, err
	}
	upazillas, err := a.store.ListUpazillas()
	if err != nil {
		return nil, nil, err
	}
	return districts, upazillas, nil
}

func appointmentEvent(appt domain.Appointment) events.AppointmentEvent {
	return events.AppointmentEvent{
		AppointmentID: appt.ID,
		ListingID:     appt.ListingID,
		Email:         appt.Email,
		Status:        string(appt.Status),
		OccurredAt:    time.Now().UTC(),
	}
}

func orKeep(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func buildReportKey(appointmentID, filename string) string {
	name := sanitizeFilename(filepath.Base(filename))
	if name == "" {
		name = "report"
	}
	return path.Join("reports", appointmentID, name)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
