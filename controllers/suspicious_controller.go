package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"

	"ip-tracker/models"
)

type ClassificationLister interface {
	ListClassifications(ctx context.Context, activeOnly bool) ([]models.SuspiciousIP, error)
}

// SuspiciousIPResponse is one row of the admin listing.
type SuspiciousIPResponse struct {
	models.SuspiciousIP
	ReasonLabel string `json:"reason_label"`
	Status      string `json:"status"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// Home is the landing route.
func Home() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Welcome to IP Tracking System"))
	}
}

// ListSuspiciousIPs returns flagged IPs, newest first. ?active_only=true
// restricts the listing to active classifications.
func ListSuspiciousIPs(store ClassificationLister, logger *log.Logger) http.HandlerFunc {
	if logger == nil {
		logger = log.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		activeOnly := false
		if raw := r.URL.Query().Get("active_only"); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				respondWithError(w, "active_only must be a boolean", http.StatusBadRequest)
				return
			}
			activeOnly = parsed
		}

		rows, err := store.ListClassifications(r.Context(), activeOnly)
		if err != nil {
			logger.Error("Error listing suspicious IPs", "error", err)
			respondWithError(w, "Error loading suspicious IPs. Please try again.", http.StatusInternalServerError)
			return
		}

		response := make([]SuspiciousIPResponse, 0, len(rows))
		for _, row := range rows {
			response = append(response, SuspiciousIPResponse{
				SuspiciousIP: row,
				ReasonLabel:  row.Reason.Label(),
				Status:       row.Status(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("Error encoding suspicious IPs", "error", err)
		}
	}
}

func respondWithError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Message: message})
}
