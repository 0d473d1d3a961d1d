package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/srg/bplink/internal/groutine"
	"github.com/srg/bplink/records"
	"github.com/srg/bplink/scanner"
	"github.com/srg/bplink/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 5 * time.Minute
	wsReadLimit    = 1 << 20
)

// wsError is pushed to the client when a frame cannot be processed. Protocol
// errors on the socket do not kill the connection; the client may retry with
// a corrected request.
type wsError struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

// wsResult wraps a finished session for the socket.
type wsResult struct {
	Type string `json:"type"`
	sessionResponse
}

// handleSessionWS serves a long-lived socket where each inbound text frame
// requests one session and produces exactly one result or error frame.
// Sessions still run one at a time; frames queue behind the runner's lock.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	log := s.logger.WithField("remote", r.RemoteAddr)
	log.Info("session socket connected")
	defer log.Info("session socket closed")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		var req sessionRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.writeWS(conn, wsError{Type: "error", Code: "invalid_request", Error: err.Error()})
			continue
		}

		params, err := wsParams(req)
		if err != nil {
			s.writeWS(conn, wsError{Type: "error", Code: "invalid_request", Error: err.Error()})
			continue
		}

		outcome := s.runSession(r.Context(), params)
		_, resp := outcomeResponse(outcome)
		s.writeWS(conn, wsResult{Type: "session_result", sessionResponse: resp})
	}
}

func wsParams(req sessionRequest) (session.Params, error) {
	if strings.TrimSpace(req.MACAddress) == "" {
		return session.Params{}, fmt.Errorf("mac_address is required")
	}

	p := session.Params{
		Address:     req.MACAddress,
		PairingOnly: req.Pairing,
		UnreadOnly:  req.NewRecordsOnly,
		SyncClock:   req.SyncTime,
	}

	switch strings.TrimSpace(req.Mode) {
	case "", "read-all":
		p.Policy = records.PolicyBulkDrift
	case "latest":
		p.Policy = records.PolicyLatestUntouched
	case "latest-today":
		p.Policy = records.PolicyLatestToday
	default:
		return session.Params{}, fmt.Errorf("unknown mode %q", req.Mode)
	}
	return p, nil
}

// wsDeviceEvent is one discovery event on the scan socket.
type wsDeviceEvent struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	MACAddress  string `json:"mac_address"`
	RSSI        int    `json:"rssi"`
	Connectable bool   `json:"connectable"`
	Timestamp   string `json:"timestamp"`
}

// wsScanResult closes a scan stream with the final device count.
type wsScanResult struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// handleScanWS runs one discovery pass and streams every device event to the
// socket as it happens, then closes the stream with a scan_result frame.
func (s *Server) handleScanWS(w http.ResponseWriter, r *http.Request) {
	opts, ok := scanOptionsFromQuery(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	type scanDone struct {
		count int
		err   error
	}
	done := make(chan scanDone, 1)
	groutine.Go(ctx, "scan-stream", func(ctx context.Context) {
		s.logger.WithField("task", groutine.GetName(ctx)).Debug("scan stream started")
		entries, err := s.scanner.Scan(ctx, opts, nil)
		done <- scanDone{count: len(entries), err: err}
	})

	events := s.scanner.Events()
	for {
		select {
		case ev := <-events:
			s.writeWS(conn, deviceEventFrame(ev))
		case res := <-done:
			// Forward events the scan buffered before finishing.
		drain:
			for {
				select {
				case ev := <-events:
					s.writeWS(conn, deviceEventFrame(ev))
				default:
					break drain
				}
			}
			if res.err != nil {
				s.writeWS(conn, wsError{Type: "error", Code: "scan_failed", Error: res.err.Error()})
				return
			}
			s.writeWS(conn, wsScanResult{Type: "scan_result", Count: res.count})
			return
		}
	}
}

func deviceEventFrame(ev scanner.DeviceEvent) wsDeviceEvent {
	frame := wsDeviceEvent{
		Type:        "device_found",
		Name:        ev.DeviceInfo.Name(),
		MACAddress:  ev.DeviceInfo.Address(),
		RSSI:        ev.DeviceInfo.RSSI(),
		Connectable: ev.DeviceInfo.IsConnectable(),
		Timestamp:   ev.Timestamp.Format(time.RFC3339),
	}
	if ev.Type == scanner.EventUpdated {
		frame.Type = "device_updated"
	}
	return frame
}

func (s *Server) writeWS(conn *websocket.Conn, v any) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(v); err != nil {
		s.logger.WithError(err).Warn("websocket write failed")
	}
}
