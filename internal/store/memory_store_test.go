package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"diagcenter/internal/domain"
)

func TestReserveSlotStopsAtZero(t *testing.T) {
	m := NewMemoryStore()
	if err := m.SaveListing(domain.Listing{ID: "l1", Title: "CBC", Slots: 2}); err != nil {
		t.Fatalf("save listing: %v", err)
	}
	if err := m.ReserveSlot("l1"); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if err := m.ReserveSlot("l1"); err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if err := m.ReserveSlot("l1"); !errors.Is(err, ErrOutOfCapacity) {
		t.Fatalf("expected ErrOutOfCapacity, got %v", err)
	}
	l, _, err := m.GetListing("l1")
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if l.Slots != 0 || l.Booked != 2 {
		t.Fatalf("unexpected counters: slots=%d booked=%d", l.Slots, l.Booked)
	}
}

func TestReserveSlotUnknownListing(t *testing.T) {
	m := NewMemoryStore()
	if err := m.ReserveSlot("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	const capacity = 5
	const attempts = 50

	m := NewMemoryStore()
	if err := m.SaveListing(domain.Listing{ID: "l1", Title: "MRI", Slots: capacity}); err != nil {
		t.Fatalf("save listing: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.ReserveSlot("l1")
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, rejected int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrOutOfCapacity):
			rejected++
		default:
			t.Fatalf("unexpected reserve error: %v", err)
		}
	}
	if succeeded != capacity {
		t.Fatalf("expected %d successful reservations, got %d", capacity, succeeded)
	}
	if rejected != attempts-capacity {
		t.Fatalf("expected %d rejections, got %d", attempts-capacity, rejected)
	}
	l, _, err := m.GetListing("l1")
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if l.Slots != 0 || l.Booked != capacity {
		t.Fatalf("counters drifted: slots=%d booked=%d", l.Slots, l.Booked)
	}
}

func TestReleaseSlotGuardedByBooked(t *testing.T) {
	m := NewMemoryStore()
	if err := m.SaveListing(domain.Listing{ID: "l1", Title: "X-Ray", Slots: 1}); err != nil {
		t.Fatalf("save listing: %v", err)
	}
	if err := m.ReleaseSlot("l1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("release without booking expected ErrNotFound, got %v", err)
	}
	if err := m.ReserveSlot("l1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := m.ReleaseSlot("l1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	l, _, _ := m.GetListing("l1")
	if l.Slots != 1 || l.Booked != 0 {
		t.Fatalf("unexpected counters after release: slots=%d booked=%d", l.Slots, l.Booked)
	}
}

func TestListingEditsDoNotTouchCounters(t *testing.T) {
	m := NewMemoryStore()
	if err := m.SaveListing(domain.Listing{ID: "l1", Title: "CT", Slots: 3}); err != nil {
		t.Fatalf("save listing: %v", err)
	}
	if err := m.ReserveSlot("l1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	// A concurrent edit built from a pre-reservation read carries Slots: 3.
	if err := m.SaveListing(domain.Listing{ID: "l1", Title: "CT Scan", Slots: 3}); err != nil {
		t.Fatalf("update listing: %v", err)
	}
	l, _, _ := m.GetListing("l1")
	if l.Title != "CT Scan" {
		t.Fatalf("descriptive field not updated: %q", l.Title)
	}
	if l.Slots != 2 || l.Booked != 1 {
		t.Fatalf("edit overwrote counters: slots=%d booked=%d", l.Slots, l.Booked)
	}
}

func TestSetSlotsOverwritesOnlyCapacity(t *testing.T) {
	m := NewMemoryStore()
	if err := m.SaveListing(domain.Listing{ID: "l1", Title: "CT", Slots: 3}); err != nil {
		t.Fatalf("save listing: %v", err)
	}
	if err := m.ReserveSlot("l1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := m.SetSlots("l1", 10); err != nil {
		t.Fatalf("set slots: %v", err)
	}
	l, _, _ := m.GetListing("l1")
	if l.Slots != 10 || l.Booked != 1 {
		t.Fatalf("unexpected counters: slots=%d booked=%d", l.Slots, l.Booked)
	}
	if err := m.SetSlots("missing", 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActivateBannerKeepsAtMostOneActive(t *testing.T) {
	m := NewMemoryStore()
	for _, id := range []string{"b1", "b2", "b3"} {
		if err := m.SaveBanner(domain.Banner{ID: id, Image: "img-" + id}); err != nil {
			t.Fatalf("save banner: %v", err)
		}
	}
	if err := m.ActivateBanner("b1", true); err != nil {
		t.Fatalf("activate b1: %v", err)
	}
	if err := m.ActivateBanner("b2", true); err != nil {
		t.Fatalf("activate b2: %v", err)
	}
	banners, err := m.ListBanners()
	if err != nil {
		t.Fatalf("list banners: %v", err)
	}
	var active []string
	for _, b := range banners {
		if b.IsActive {
			active = append(active, b.ID)
		}
	}
	if len(active) != 1 || active[0] != "b2" {
		t.Fatalf("expected only b2 active, got %v", active)
	}
}

func TestConcurrentActivationsKeepInvariant(t *testing.T) {
	m := NewMemoryStore()
	ids := []string{"b1", "b2", "b3", "b4"}
	for _, id := range ids {
		if err := m.SaveBanner(domain.Banner{ID: id, Image: "img"}); err != nil {
			t.Fatalf("save banner: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.ActivateBanner(id, true); err != nil {
				t.Errorf("activate %s: %v", id, err)
			}
		}(ids[i%len(ids)])
	}
	wg.Wait()

	banners, err := m.ListBanners()
	if err != nil {
		t.Fatalf("list banners: %v", err)
	}
	activeCount := 0
	for _, b := range banners {
		if b.IsActive {
			activeCount++
		}
	}
	if activeCount > 1 {
		t.Fatalf("invariant broken: %d banners active", activeCount)
	}
}

func TestDeactivateTurnsEverythingOff(t *testing.T) {
	m := NewMemoryStore()
	if err := m.SaveBanner(domain.Banner{ID: "b1", Image: "img"}); err != nil {
		t.Fatalf("save banner: %v", err)
	}
	if err := m.ActivateBanner("b1", true); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := m.ActivateBanner("b1", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, ok, _ := m.ActiveBanner(); ok {
		t.Fatalf("expected no active banner")
	}
}

func TestSearchReservationsFiltersBySubstring(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now().UTC()
	seed := []domain.Appointment{
		{ID: "a1", ListingID: "l1", Email: "alice@example.com", BookedAt: now},
		{ID: "a2", ListingID: "l1", Email: "bob@example.com", BookedAt: now.Add(time.Second)},
		{ID: "a3", ListingID: "l2", Email: "alice@example.com", BookedAt: now},
	}
	for _, a := range seed {
		if err := m.CreateAppointment(a); err != nil {
			t.Fatalf("create appointment: %v", err)
		}
	}

	res, err := m.SearchReservations("l1", "ALICE")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].ID != "a1" {
		t.Fatalf("unexpected search result: %+v", res)
	}

	res, err = m.SearchReservations("l1", "")
	if err != nil {
		t.Fatalf("search all: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("expected 2 reservations on l1, got %d", len(res))
	}
}

func TestAttachResultIsIdempotent(t *testing.T) {
	m := NewMemoryStore()
	if err := m.CreateAppointment(domain.Appointment{ID: "a1", ListingID: "l1", Email: "u@example.com", Status: domain.AppointmentPending}); err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	result := map[string]any{"hb": 13.5}
	if err := m.AttachResult("a1", result); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if err := m.AttachResult("a1", result); err != nil {
		t.Fatalf("second attach: %v", err)
	}
	a, _, _ := m.GetAppointment("a1")
	if a.Status != domain.AppointmentDelivered {
		t.Fatalf("expected delivered status, got %q", a.Status)
	}
	if a.Result["hb"] != 13.5 {
		t.Fatalf("unexpected result payload: %v", a.Result)
	}
}

func TestUserUpsertKeepsOneRecordPerEmail(t *testing.T) {
	m := NewMemoryStore()
	if err := m.SaveUser(domain.User{ID: "u1", Email: "a@example.com", Name: "A"}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := m.SaveUser(domain.User{ID: "u2", Email: "a@example.com", Name: "A2"}); err != nil {
		t.Fatalf("second save: %v", err)
	}
	users, err := m.ListUsers()
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].ID != "u1" || users[0].Name != "A2" {
		t.Fatalf("upsert did not keep identity: %+v", users[0])
	}
}
