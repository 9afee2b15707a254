package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"diagcenter/internal/domain"
)

const maxReportSize = 16 << 20 // 16 MiB

func (s *Server) handleAuthorizePayment(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req paymentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	clientSecret, err := s.app.AuthorizePayment(r.Context(), req.Amount)
	if err != nil {
		s.audit(r, "payment.authorize", "fail", "email", user.Email, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "payment.authorize", "success", "email", user.Email)
	writeJSON(w, http.StatusOK, map[string]string{"clientSecret": clientSecret})
}

func (s *Server) handleCreateAppointment(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req appointmentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ListingID) == "" {
		writeError(w, http.StatusBadRequest, "listingId required")
		return
	}
	appt, err := s.app.BookAppointment(r.Context(), user.Email, req.ListingID, req.PaymentIntentID)
	if err != nil {
		s.audit(r, "appointment.book", "fail", "email", user.Email, "listing_id", req.ListingID, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "appointment.book", "success", "email", user.Email, "listing_id", req.ListingID, "appointment_id", appt.ID)
	writeJSON(w, http.StatusCreated, appt)
}

// handleAppointmentByPath serves:
//
//	GET    /api/appointments/{email}         bookings for the email
//	DELETE /api/appointments/{id}            cancel (owner or admin)
//	PATCH  /api/appointments/{id}/result     attach result (admin)
//	POST   /api/appointments/{id}/report     upload report file (admin)
//	GET    /api/appointments/{id}/report     presigned download (owner or admin)
func (s *Server) handleAppointmentByPath(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/appointments/"), "/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		switch r.Method {
		case http.MethodGet:
			s.handleAppointmentsByEmail(w, r, user, parts[0])
		case http.MethodDelete:
			s.handleCancelAppointment(w, r, user, parts[0])
		default:
			methodNotAllowed(w)
		}
	case len(parts) == 2 && parts[1] == "result":
		s.handleAttachResult(w, r, user, parts[0])
	case len(parts) == 2 && parts[1] == "report":
		s.handleReport(w, r, user, parts[0])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleAppointmentsByEmail(w http.ResponseWriter, r *http.Request, user domain.User, email string) {
	if user.Role != domain.RoleAdmin && !strings.EqualFold(user.Email, email) {
		s.audit(r, "gate.authorize", "fail", "email", user.Email, "reason", "not_owner")
		writeError(w, http.StatusUnauthorized, "unauthorized access")
		return
	}
	appointments, err := s.app.AppointmentsByEmail(email)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointments)
}

func (s *Server) handleCancelAppointment(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	err := s.app.CancelAppointment(r.Context(), id, user.Email, user.Role == domain.RoleAdmin)
	if err != nil {
		s.audit(r, "appointment.cancel", "fail", "email", user.Email, "appointment_id", id, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "appointment.cancel", "success", "email", user.Email, "appointment_id", id)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAttachResult(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPatch {
		methodNotAllowed(w)
		return
	}
	if user.Role != domain.RoleAdmin {
		s.audit(r, "gate.authorize", "fail", "email", user.Email, "reason", "not_admin")
		writeError(w, http.StatusUnauthorized, "unauthorized access")
		return
	}
	var req resultRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Result) == 0 {
		writeError(w, http.StatusBadRequest, "result required")
		return
	}
	appt, err := s.app.AttachResult(r.Context(), id, req.Result)
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.audit(r, "appointment.result", "success", "actor", user.Email, "appointment_id", id)
	writeJSON(w, http.StatusOK, appt)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodPost:
		if user.Role != domain.RoleAdmin {
			s.audit(r, "gate.authorize", "fail", "email", user.Email, "reason", "not_admin")
			writeError(w, http.StatusUnauthorized, "unauthorized access")
			return
		}
		if err := r.ParseMultipartForm(maxReportSize); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file field required")
			return
		}
		defer file.Close()
		if err := s.app.UploadReport(r.Context(), id, header.Filename, file, header.Size); err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "appointment.report_upload", "success", "actor", user.Email, "appointment_id", id)
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case http.MethodGet:
		appt, ok, err := s.app.Appointment(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "appointment not found")
			return
		}
		if user.Role != domain.RoleAdmin && !strings.EqualFold(user.Email, appt.Email) {
			s.audit(r, "gate.authorize", "fail", "email", user.Email, "reason", "not_owner")
			writeError(w, http.StatusUnauthorized, "unauthorized access")
			return
		}
		url, err := s.app.ReportURL(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	default:
		methodNotAllowed(w)
	}
}

type paymentRequest struct {
	Amount float64 `json:"amount"`
}

type appointmentRequest struct {
	ListingID       string `json:"listingId"`
	PaymentIntentID string `json:"paymentIntentId"`
}

type resultRequest struct {
	Result map[string]any `json:"result"`
}
