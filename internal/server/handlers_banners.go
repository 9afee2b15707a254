package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"diagcenter/internal/app"
	"diagcenter/internal/domain"
)

func (s *Server) handleBanners(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		banners, err := s.app.ListBanners()
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, banners)
	case http.MethodPost:
		admin, ok := s.requireAdmin(w, r)
		if !ok {
			return
		}
		var req bannerRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		banner, err := s.app.CreateBanner(app.BannerInput{
			Title:      req.Title,
			Image:      req.Image,
			Text:       req.Text,
			CouponCode: req.CouponCode,
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.audit(r, "banner.create", "success", "actor", admin.Email, "banner_id", banner.ID)
		writeJSON(w, http.StatusCreated, banner)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleActiveBanner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	banner, ok, err := s.app.ActiveBanner()
	if err != nil {
		writeAppError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no active banner")
		return
	}
	writeJSON(w, http.StatusOK, banner)
}

// handleBannerByID serves PATCH (activation flag) and DELETE on
// /api/banners/{id}.
func (s *Server) handleBannerByID(w http.ResponseWriter, r *http.Request, admin domain.User) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/banners/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodPatch:
		var req bannerActivationRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := s.app.SetBannerActive(id, req.IsActive); err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "banner.activate", "success", "actor", admin.Email, "banner_id", id, "active", req.IsActive)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case http.MethodDelete:
		if err := s.app.DeleteBanner(id); err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "banner.delete", "success", "actor", admin.Email, "banner_id", id)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		methodNotAllowed(w)
	}
}

type bannerRequest struct {
	Title      string `json:"title"`
	Image      string `json:"image"`
	Text       string `json:"text"`
	CouponCode string `json:"couponCode"`
}

type bannerActivationRequest struct {
	IsActive bool `json:"isActive"`
}
