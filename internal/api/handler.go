package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"aem-reporter/internal/reporter"
)

// Reporter is the subset of reporter.Reporter the HTTP surface drives.
type Reporter interface {
	Enable()
	Disable()
	IsEnabled() bool
	Status() reporter.Status
	Handle(rawURL string)
	RecordAndUpdateEvent(name, currency string, value float64, params map[string]any)
	RefreshConfiguration(force bool, done func(error))
}

type AEMHandler struct {
	rep Reporter
	now func() time.Time
}

func NewAEMHandler(rep Reporter) *AEMHandler {
	return &AEMHandler{rep: rep, now: time.Now}
}

type deepLinkRequest struct {
	URL string `json:"url"`
}

type eventRequest struct {
	EventName  string         `json:"event_name"`
	Currency   string         `json:"currency"`
	Value      float64        `json:"value"`
	Parameters map[string]any `json:"parameters"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decode(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()
	return dec.Decode(out)
}

func (h *AEMHandler) Enable(w http.ResponseWriter, _ *http.Request) {
	h.rep.Enable()
	writeJSON(w, http.StatusOK, h.rep.Status())
}

func (h *AEMHandler) Disable(w http.ResponseWriter, _ *http.Request) {
	h.rep.Disable()
	writeJSON(w, http.StatusOK, h.rep.Status())
}

func (h *AEMHandler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.rep.Status())
}

func (h *AEMHandler) DeepLink(w http.ResponseWriter, r *http.Request) {
	var req deepLinkRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := reporter.ParseURL(req.URL, h.now()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.rep.IsEnabled() {
		writeError(w, http.StatusConflict, "aem reporting is disabled")
		return
	}
	h.rep.Handle(req.URL)
	w.WriteHeader(http.StatusAccepted)
}

func (h *AEMHandler) Event(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EventName == "" {
		writeError(w, http.StatusBadRequest, "event_name is required")
		return
	}
	if !h.rep.IsEnabled() {
		writeError(w, http.StatusConflict, "aem reporting is disabled")
		return
	}
	h.rep.RecordAndUpdateEvent(req.EventName, req.Currency, req.Value, req.Parameters)
	w.WriteHeader(http.StatusAccepted)
}

func (h *AEMHandler) RefreshConfigurations(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	done := make(chan error, 1)
	h.rep.RefreshConfiguration(force, func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, reporter.ErrClosed) {
				status = http.StatusServiceUnavailable
			}
			log.Error().Err(err).Msg("configuration refresh via api")
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, h.rep.Status())
	case <-r.Context().Done():
		writeError(w, http.StatusGatewayTimeout, "configuration refresh still in progress")
	}
}
