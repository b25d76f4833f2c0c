package plen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	APIVersion       = 2
	RequiredFirmware = "1.4.1~"

	maxFirmwareSize = 1 << 20
	maxMotionSize   = 64 << 10
)

// Metadata describes the API served by the control server.
type Metadata struct {
	APIVersion       int    `json:"api-version"`
	RequiredFirmware string `json:"required-firmware"`
}

// Server owns the driver shared by the command stream and the motion and
// driver resources. All calls into the driver are serialized.
type Server struct {
	driver   Driver
	gate     *Gate
	upgrader websocket.Upgrader
	logger   log.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a Server around d.
func NewServer(d Driver, logger log.FieldLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		driver: Serialize(d),
		gate:   &Gate{},
		upgrader: websocket.Upgrader{
			// Browsers do not apply CORS to WebSocket; any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Shutdown closes any active command stream. It is meant to be registered
// with http.Server.RegisterOnShutdown, since hijacked connections are not
// tracked by the http.Server.
func (s *Server) Shutdown() {
	s.cancel()
}

func (s *Server) AddRoutes() http.Handler {
	r := http.NewServeMux()

	r.HandleFunc("GET /v2/cmdstream", s.handleCmdStream)

	r.Handle("GET /v2/motions/stop", handleResource("motions", s.handleMotionStop))
	r.Handle("GET /v2/motions/{slot}", handleResource("motions", s.handleMotionGet))
	r.Handle("DELETE /v2/motions/{slot}", handleResource("motions", s.handleMotionDelete))
	r.Handle("PUT /v2/motions/{slot}", handleResource("motions", s.handleMotionPut))
	r.Handle("GET /v2/motions/{slot}/play", handleResource("motions", s.handleMotionPlay))

	r.Handle("GET /v2/version", handleResource("version", s.handleVersion))
	r.Handle("GET /v2/metadata", handleResource("metadata", s.handleMetadata))

	r.Handle("GET /v2/connect", handleResource("driver", s.handleConnect))
	r.Handle("GET /v2/disconnect", handleResource("driver", s.handleDisconnect))
	r.Handle("PUT /v2/upload", handleResource("driver", s.handleUpload))

	return withCORS(r)
}

func (s *Server) handleCmdStream(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		s.logger.Error("Expected WebSocket request")
		http.Error(w, "Expected WebSocket request.", http.StatusBadRequest)
		return
	}

	logger := s.logger.WithField("remote", r.RemoteAddr)
	session := NewSession(s.driver, s.gate, logger)

	if err := session.Connect(); err != nil {
		http.Error(w, err.Error(), statusCode(err))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied to the client.
		logger.Errorf("WebSocket upgrade failed: %v", err)
		session.Close()
		return
	}

	if err := session.Serve(s.ctx, NewWebSocketStream(conn)); err != nil {
		logger.Debugf("Command stream terminated: %v", err)
	}
}

func parseSlot(r *http.Request) (int, error) {
	slot, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil {
		return 0, badRequest(fmt.Errorf("%w: %q", ErrInvalidSlot, r.PathValue("slot")))
	}
	if !ValidSlot(slot) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	return slot, nil
}

// checkIdle rejects driver lifecycle calls while a command stream owns the
// device.
func (s *Server) checkIdle() error {
	if s.gate.Busy() {
		return ErrAlreadyConnected
	}
	return nil
}

func (s *Server) handleMotionGet(r *http.Request) (any, error) {
	slot, err := parseSlot(r)
	if err != nil {
		return nil, err
	}
	return s.driver.GetMotion(slot)
}

func (s *Server) handleMotionDelete(r *http.Request) (any, error) {
	slot, err := parseSlot(r)
	if err != nil {
		return nil, err
	}
	ok, err := s.driver.Install(EmptyMotion(slot))
	if err != nil {
		return nil, err
	}
	return CommandResult{Command: "reset", Result: ok}, nil
}

func (s *Server) handleMotionPut(r *http.Request) (any, error) {
	slot, err := parseSlot(r)
	if err != nil {
		return nil, err
	}

	var m Motion
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMotionSize)).Decode(&m); err != nil {
		return nil, badRequest(fmt.Errorf("invalid motion: %w", err))
	}
	if m.Slot != slot {
		return nil, badRequest(fmt.Errorf("motion slot %d does not match resource slot %d", m.Slot, slot))
	}

	ok, err := s.driver.Install(m)
	if err != nil {
		return nil, err
	}
	return CommandResult{Command: "install", Result: ok}, nil
}

func (s *Server) handleMotionPlay(r *http.Request) (any, error) {
	slot, err := parseSlot(r)
	if err != nil {
		return nil, err
	}
	ok, err := s.driver.Play(slot)
	if err != nil {
		return nil, err
	}
	return CommandResult{Command: "play", Result: ok}, nil
}

func (s *Server) handleMotionStop(r *http.Request) (any, error) {
	ok, err := s.driver.Stop()
	if err != nil {
		return nil, err
	}
	return CommandResult{Command: "stop", Result: ok}, nil
}

func (s *Server) handleVersion(r *http.Request) (any, error) {
	return s.driver.VersionInformation()
}

func (s *Server) handleMetadata(r *http.Request) (any, error) {
	return Metadata{APIVersion: APIVersion, RequiredFirmware: RequiredFirmware}, nil
}

func (s *Server) handleConnect(r *http.Request) (any, error) {
	if err := s.checkIdle(); err != nil {
		return nil, err
	}
	ok, err := s.driver.Connect()
	if err != nil {
		return nil, err
	}
	return CommandResult{Command: "connect", Result: ok}, nil
}

func (s *Server) handleDisconnect(r *http.Request) (any, error) {
	if err := s.checkIdle(); err != nil {
		return nil, err
	}
	ok, err := s.driver.Disconnect()
	if err != nil {
		return nil, err
	}
	return CommandResult{Command: "disconnect", Result: ok}, nil
}

func (s *Server) handleUpload(r *http.Request) (any, error) {
	if err := s.checkIdle(); err != nil {
		return nil, err
	}

	firmware, err := io.ReadAll(io.LimitReader(r.Body, maxFirmwareSize+1))
	if err != nil {
		return nil, badRequest(fmt.Errorf("read firmware: %w", err))
	}
	if len(firmware) > maxFirmwareSize {
		return nil, badRequest(errors.New("firmware image too large"))
	}

	ok, err := s.driver.Upload(firmware)
	if err != nil {
		return nil, err
	}
	return CommandResult{Command: "upload", Result: ok}, nil
}
