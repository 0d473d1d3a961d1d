// Package httpapi exposes the session gateway over REST and WebSocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/bplink/internal/config"
	"github.com/srg/bplink/internal/export"
	"github.com/srg/bplink/internal/observability"
	"github.com/srg/bplink/records"
	"github.com/srg/bplink/scanner"
	"github.com/srg/bplink/session"
)

// SessionRunner executes one device session per call.
type SessionRunner interface {
	Run(ctx context.Context, p session.Params) session.Outcome
}

// DeviceScanner performs a discovery run and exposes its event stream.
type DeviceScanner interface {
	Scan(ctx context.Context, opts *scanner.ScanOptions, progress scanner.ProgressCallback) (map[string]scanner.DeviceEntry, error)
	Events() <-chan scanner.DeviceEvent
}

// Server routes HTTP traffic to the session runner and the scanner.
type Server struct {
	cfg      *config.Config
	runner   SessionRunner
	scanner  DeviceScanner
	metrics  *observability.Metrics
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

// New builds a Server. runner and scanner must be non-nil; metrics may be nil
// in tests.
func New(cfg *config.Config, runner SessionRunner, sc DeviceScanner, metrics *observability.Metrics, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		cfg:     cfg,
		runner:  runner,
		scanner: sc,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser clients may drive the radio
				// unless the operator opts out.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.Handler().ServeHTTP(w, r)
	})

	r.Get("/v1/scan", s.handleScan)
	r.Get("/v1/scan/ws", s.handleScanWS)
	r.Post("/v1/sessions/pair", s.handlePair)
	r.Post("/v1/sessions/read-all", s.sessionHandler(records.PolicyBulkDrift))
	r.Post("/v1/sessions/latest", s.sessionHandler(records.PolicyLatestUntouched))
	r.Post("/v1/sessions/latest-today", s.sessionHandler(records.PolicyLatestToday))
	r.Get("/v1/sessions/ws", s.handleSessionWS)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service": "bplink",
		"message": "Blood-pressure monitor session gateway.",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"device_model": s.cfg.DeviceModel,
	})
}

// scanOptionsFromQuery applies the duration query parameter on top of the
// scan defaults. A false return means the error response was already written.
func scanOptionsFromQuery(w http.ResponseWriter, r *http.Request) (*scanner.ScanOptions, bool) {
	opts := scanner.DefaultScanOptions()
	if raw := strings.TrimSpace(r.URL.Query().Get("duration")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_duration", "duration must be a positive Go duration, e.g. 10s")
			return nil, false
		}
		opts.Duration = d
	}
	return opts, true
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	opts, ok := scanOptionsFromQuery(w, r)
	if !ok {
		return
	}

	entries, err := s.scanner.Scan(r.Context(), opts, nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "scan_failed", err.Error())
		return
	}

	devices := make([]map[string]any, 0, len(entries))
	for addr, entry := range entries {
		devices = append(devices, map[string]any{
			"name":        entry.Device.Name(),
			"mac_address": addr,
			"rssi":        entry.Device.RSSI(),
			"connectable": entry.Device.IsConnectable(),
			"last_seen":   entry.LastSeen.Format(time.RFC3339),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// sessionRequest is the wire shape shared by all session endpoints.
type sessionRequest struct {
	MACAddress     string `json:"mac_address"`
	NewRecordsOnly bool   `json:"new_records_only"`
	SyncTime       bool   `json:"sync_time"`
	Pairing        bool   `json:"pairing"`

	// Mode selects the reconciliation policy on the WebSocket endpoint,
	// where there is no per-policy path. One of "read-all", "latest",
	// "latest-today". Ignored on the REST endpoints.
	Mode string `json:"mode,omitempty"`
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSessionRequest(w, r)
	if !ok {
		return
	}

	outcome := s.runSession(r.Context(), session.Params{
		Address:     req.MACAddress,
		PairingOnly: true,
	})
	s.respondOutcome(w, outcome)
}

// sessionHandler builds the record-reading handler for one policy.
func (s *Server) sessionHandler(policy records.Policy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := s.decodeSessionRequest(w, r)
		if !ok {
			return
		}

		outcome := s.runSession(r.Context(), session.Params{
			Address:    req.MACAddress,
			UnreadOnly: req.NewRecordsOnly,
			SyncClock:  req.SyncTime,
			Policy:     policy,
		})
		s.respondOutcome(w, outcome)
	}
}

func (s *Server) decodeSessionRequest(w http.ResponseWriter, r *http.Request) (sessionRequest, bool) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return req, false
	}
	if strings.TrimSpace(req.MACAddress) == "" {
		respondError(w, http.StatusBadRequest, "missing_mac_address", "mac_address is required")
		return req, false
	}
	return req, true
}

// runSession executes one session with instrumentation and export side
// effects applied.
func (s *Server) runSession(ctx context.Context, p session.Params) session.Outcome {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.ActiveSessions.Inc()
		defer s.metrics.ActiveSessions.Dec()
	}

	outcome := s.runner.Run(ctx, p)

	if s.metrics != nil {
		s.metrics.SessionDuration.Observe(time.Since(start).Seconds())
		s.metrics.SessionsTotal.WithLabelValues(string(outcome.Status)).Inc()
		s.metrics.RecordsRead.Add(float64(len(outcome.Records)))
		if outcome.Latest != nil {
			s.metrics.RecordsRead.Inc()
		}
		s.metrics.ClockFallbacks.Add(float64(outcome.ClockFallbacks))
	}

	s.exportOutcome(outcome)
	return outcome
}

func (s *Server) exportOutcome(outcome session.Outcome) {
	if len(outcome.Records) == 0 {
		return
	}
	if s.cfg.CSVPath != "" {
		if err := export.AppendCSV(s.cfg.CSVPath, outcome.Records); err != nil {
			s.logger.WithError(err).Error("failed to append records to CSV")
		}
	}
	if s.cfg.JSONPath != "" {
		if err := export.SaveJSON(s.cfg.JSONPath, outcome.Records); err != nil {
			s.logger.WithError(err).Error("failed to save JSON snapshot")
		}
	}
}

// sessionResponse is the wire shape of a finished session.
type sessionResponse struct {
	SessionID      string                    `json:"session_id"`
	Status         session.Status            `json:"status"`
	Message        string                    `json:"message"`
	DeviceName     string                    `json:"device_name,omitempty"`
	MACAddress     string                    `json:"mac_address,omitempty"`
	Records        []records.NormalizedRecord `json:"records,omitempty"`
	Latest         *records.NormalizedRecord  `json:"latest,omitempty"`
	ClockFallbacks int                       `json:"clock_fallbacks,omitempty"`
}

// respondOutcome maps a session outcome onto HTTP status and message.
func (s *Server) respondOutcome(w http.ResponseWriter, outcome session.Outcome) {
	status, resp := outcomeResponse(outcome)
	respondJSON(w, status, resp)
}

func outcomeResponse(outcome session.Outcome) (int, sessionResponse) {
	resp := sessionResponse{
		SessionID:      uuid.NewString(),
		Status:         outcome.Status,
		DeviceName:     outcome.DeviceName,
		MACAddress:     outcome.Address,
		Records:        outcome.Records,
		Latest:         outcome.Latest,
		ClockFallbacks: outcome.ClockFallbacks,
	}

	switch outcome.Status {
	case session.StatusPaired:
		resp.Message = "Pairing successful."
		return http.StatusOK, resp
	case session.StatusRecordsRead:
		if outcome.Latest != nil {
			resp.Message = "Newest record read with success."
		} else {
			resp.Message = "Data read successfully."
		}
		return http.StatusOK, resp
	case session.StatusNoRecords:
		resp.Message = "No records found."
		return http.StatusNotFound, resp
	case session.StatusDeviceNotFound:
		resp.Message = "Device not found during scan."
		return http.StatusNotFound, resp
	case session.StatusConnectionFailed:
		resp.Message = "Failed to connect to the BLE device."
		return http.StatusBadGateway, resp
	default: // session.StatusProtocolError
		resp.Message = outcome.Detail
		return http.StatusInternalServerError, resp
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
