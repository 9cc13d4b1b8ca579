package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/basedlink/basedlink-pay/auth"
	"github.com/basedlink/basedlink-pay/payments"
	"github.com/basedlink/basedlink-pay/types"
	"github.com/basedlink/basedlink-pay/utils"
)

func identity(r *http.Request) payments.Identity {
	id := auth.FromContext(r.Context())
	if id == nil {
		return payments.Identity{}
	}
	return payments.Identity(*id)
}

// handleVerify runs a raw verification. Rejections are verdicts and answer
// 200; only an unreachable chain is an error.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "INVALID_REQUEST", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "could not read request body")
		return
	}

	req, err := utils.ParseVerificationRequest(data, s.cfg.MinConfirmations)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	result, err := s.deps.Verifier.VerifyTokenTransfer(r.Context(), *req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSyncUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Service.SyncUser(r.Context(), identity(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.deps.Service.CurrentUser(r.Context(), identity(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update types.ProfileUpdate
	if !decodeJSON(w, r, &update) {
		return
	}
	user, err := s.deps.Service.UpdateProfile(r.Context(), identity(r), update)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var in payments.ProductInput
	if !decodeJSON(w, r, &in) {
		return
	}
	product, err := s.deps.Service.CreateProduct(r.Context(), identity(r), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.deps.Service.ListProducts(r.Context(), identity(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": products})
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.deps.Service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var in payments.ProductInput
	if !decodeJSON(w, r, &in) {
		return
	}
	product, err := s.deps.Service.UpdateProduct(r.Context(), identity(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Service.DeleteProduct(r.Context(), identity(r), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var in payments.CreatePaymentInput
	if !decodeJSON(w, r, &in) {
		return
	}
	payment, err := s.deps.Service.CreatePayment(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := s.deps.Service.GetPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Service.ConfirmPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	list, err := s.deps.Service.ListPayments(r.Context(), identity(r), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": list, "limit": limit})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Service.Stats(r.Context(), identity(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
