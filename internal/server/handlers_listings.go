package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"diagcenter/internal/app"
	"diagcenter/internal/domain"
)

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		listings, err := s.app.ListListings()
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, listings)
	case http.MethodPost:
		admin, ok := s.requireAdmin(w, r)
		if !ok {
			return
		}
		var req listingRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		listing, err := s.app.CreateListing(req.toInput())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.audit(r, "listing.create", "success", "actor", admin.Email, "listing_id", listing.ID)
		writeJSON(w, http.StatusCreated, listing)
	default:
		methodNotAllowed(w)
	}
}

// handleListingByPath serves /api/listings/{id},
// /api/listings/{id}/reservations, and /api/listings/{id}/slots.
func (s *Server) handleListingByPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/listings/"), "/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleListingByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "reservations":
		s.handleListingReservations(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "slots":
		s.handleSetListingSlots(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleSetListingSlots(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	admin, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	var req slotsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Slots == nil {
		writeError(w, http.StatusBadRequest, "slots required")
		return
	}
	if *req.Slots < 0 {
		writeError(w, http.StatusBadRequest, "slots must be >= 0")
		return
	}
	listing, err := s.app.SetListingSlots(id, *req.Slots)
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.audit(r, "listing.slots", "success", "actor", admin.Email, "listing_id", id, "slots", *req.Slots)
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleListingByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		listing, ok, err := s.app.Listing(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "listing not found")
			return
		}
		writeJSON(w, http.StatusOK, listing)
	case http.MethodPut:
		admin, ok := s.requireAdmin(w, r)
		if !ok {
			return
		}
		var req listingRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		listing, err := s.app.UpdateListing(id, req.toInput())
		if err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "listing.update", "success", "actor", admin.Email, "listing_id", id)
		writeJSON(w, http.StatusOK, listing)
	case http.MethodDelete:
		admin, ok := s.requireAdmin(w, r)
		if !ok {
			return
		}
		if err := s.app.DeleteListing(id); err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "listing.delete", "success", "actor", admin.Email, "listing_id", id)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListingReservations(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	appointments, err := s.app.SearchReservations(id, r.URL.Query().Get("email"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointments)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	districts, upazillas, err := s.app.Location()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, locationResponse{Districts: districts, Upazillas: upazillas})
}

type listingRequest struct {
	Title   string  `json:"title"`
	Image   string  `json:"image"`
	Details string  `json:"details"`
	Price   float64 `json:"price"`
	Date    string  `json:"date"`
	Slots   *int    `json:"slots"`
}

type slotsRequest struct {
	Slots *int `json:"slots"`
}

func (req listingRequest) toInput() app.ListingInput {
	return app.ListingInput{
		Title:   req.Title,
		Image:   req.Image,
		Details: req.Details,
		Price:   req.Price,
		Date:    req.Date,
		Slots:   req.Slots,
	}
}

type locationResponse struct {
	Districts []domain.District `json:"districts"`
	Upazillas []domain.Upazilla `json:"upazillas"`
}
