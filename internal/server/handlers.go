package server

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/smartdevs17/machine-logger/internal/logbook"
	"github.com/smartdevs17/machine-logger/internal/output"
	"github.com/smartdevs17/machine-logger/pkg/utils"
)

// maxSubmitBody bounds the size of a submission body
const maxSubmitBody = 64 << 10

// Logbook Handlers

// listLogsHandler returns the derived history, optionally filtered by machine
func (s *HTTPServer) listLogsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("machine")

	history, err := s.logbook.History(r.Context(), query)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "Logbook is unavailable", err, s.logbook.Notice())
		return
	}

	state := s.logbook.State()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries":    output.HistoryRows(history),
		"count":      len(history),
		"machine":    query,
		"from_cache": state.FromCache,
		"notice":     state.Notice,
	})
}

// submitLogHandler records a cleaning event
func (s *HTTPServer) submitLogHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSubmitRequest(w, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err, nil)
		return
	}

	result, err := s.logbook.Submit(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		message := "Failed to submit entry"
		if utils.HasCode(err, utils.ErrCodeValidation) {
			status = http.StatusBadRequest
			message = "Invalid cleaning entry"
		}
		s.writeError(w, status, message, err, s.logbook.Notice())
		return
	}

	s.writeJSON(w, http.StatusCreated, result)
}

// refreshLogsHandler forces a reload from the remote logbook
func (s *HTTPServer) refreshLogsHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.logbook.Refresh(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "Failed to refresh logbook", err, s.logbook.Notice())
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// listMachinesHandler returns per-machine summaries
func (s *HTTPServer) listMachinesHandler(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.logbook.Machines(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "Logbook is unavailable", err, s.logbook.Notice())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"machines": output.MachineRows(summaries),
		"count":    len(summaries),
	})
}

// noticeHandler returns the current notice, null when there is none
func (s *HTTPServer) noticeHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"notice": s.logbook.Notice(),
	})
}

// decodeSubmitRequest reads a JSON or form body. Form bodies may use either
// the short field names or the logbook sheet column names.
func decodeSubmitRequest(w http.ResponseWriter, r *http.Request) (logbook.SubmitRequest, error) {
	var req logbook.SubmitRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, utils.NewAppError(utils.ErrCodeValidation, "Malformed JSON body", err.Error())
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, utils.NewAppError(utils.ErrCodeValidation, "Malformed form body", err.Error())
	}
	req.Machine = firstValue(r, "machine", "nomorMesin")
	req.Operator = firstValue(r, "operator", "namaOperator")
	req.Date = firstValue(r, "date", "tanggalCleaning")
	return req, nil
}

func firstValue(r *http.Request, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(r.PostFormValue(key)); v != "" {
			return v
		}
	}
	return ""
}
