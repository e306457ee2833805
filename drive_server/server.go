package main

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mpc-drive/canlink"
	"mpc-drive/control"
	"mpc-drive/recorder"
)

// Server accepts one websocket connection per vehicle session. Sessions are
// fully isolated: each gets its own controller and last-commanded actuation,
// so they need no synchronization between them.
type Server struct {
	cfg      control.Config
	log      *zap.SugaredLogger
	rec      *recorder.Recorder // nil when recording is off
	canIface string             // empty when the CAN bridge is off
	upgrader websocket.Upgrader
}

func NewServer(cfg control.Config, log *zap.SugaredLogger, rec *recorder.Recorder, canIface string) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		rec:      rec,
		canIface: canIface,
		upgrader: websocket.Upgrader{
			// The simulator connects without an Origin header worth checking.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorw("websocket upgrade failed", "error", err)
		return
	}

	sess, err := s.newSession(r.Context(), conn)
	if err != nil {
		s.log.Errorw("session setup failed", "error", err)
		conn.Close()
		return
	}
	defer sess.close()

	s.log.Infow("session connected", "session", sess.id, "remote", conn.RemoteAddr())
	sess.run(r.Context())
	s.log.Infow("session disconnected", "session", sess.id)
}

// session is one connected vehicle. All cycle work happens synchronously in
// run, so nothing here needs a lock.
type session struct {
	id     string
	conn   *websocket.Conn
	ctrl   *control.Controller
	log    *zap.SugaredLogger
	rec    *recorder.Recorder
	bridge *canlink.Bridge
	cfg    control.Config
	cycles int
}

func (s *Server) newSession(ctx context.Context, conn *websocket.Conn) (*session, error) {
	id := uuid.NewString()
	log := s.log.With("session", id)

	sess := &session{
		id:   id,
		conn: conn,
		ctrl: control.NewController(s.cfg, log),
		log:  log,
		rec:  s.rec,
		cfg:  s.cfg,
	}

	if s.canIface != "" {
		bridge, err := canlink.NewBridge(ctx, s.canIface)
		if err != nil {
			return nil, errors.Wrap(err, "can bridge")
		}
		sess.bridge = bridge
	}
	return sess, nil
}

func (s *session) close() {
	if s.bridge != nil {
		if err := s.bridge.Close(); err != nil {
			s.log.Warnw("can bridge close", "error", err)
		}
	}
	s.conn.Close()
}

// run processes telemetry messages until the connection drops. Each message
// triggers one full synchronous pipeline pass; there is never an overlapping
// solve within a session.
func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warnw("read failed", "error", err)
			}
			// Cancels any in-flight solve; its result is discarded.
			cancel()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		payload, ok := extractPayload(string(data))
		if !ok {
			continue
		}
		if payload == "" {
			// Manual driving: acknowledge, compute nothing.
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(manualAck)); err != nil {
				s.log.Warnw("manual ack failed", "error", err)
				return
			}
			continue
		}

		event, body, err := parseEvent(payload)
		if err != nil {
			s.log.Warnw("unparseable event frame", "error", err)
			continue
		}
		if event != "telemetry" {
			s.log.Debugw("ignoring event", "event", event)
			continue
		}

		if err := s.handleTelemetry(ctx, body); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warnw("telemetry cycle failed", "error", err)
		}
	}
}

// handleTelemetry runs one control cycle and sends the resulting command.
// Malformed payloads skip the cycle; pipeline failures still emit the
// controller's fail-safe command.
func (s *session) handleTelemetry(ctx context.Context, body []byte) error {
	tel, err := decodeTelemetry(body)
	if err != nil {
		// Skip this cycle; the session stays alive.
		return err
	}
	s.cycles++

	start := time.Now()
	cmd, cycleErr := s.ctrl.RunCycle(ctx, tel)
	solveTime := time.Since(start)
	if cycleErr != nil {
		if ctx.Err() != nil {
			return cycleErr // disconnected mid-solve; send nothing
		}
		s.log.Warnw("cycle degraded", "error", cycleErr, "cycle", s.cycles)
	}

	s.record(tel, cmd, cycleErr, solveTime)

	reply, err := encodeSteer(cmd)
	if err != nil {
		return errors.Wrap(err, "encode steer")
	}

	// The simulator models actuation latency; pace the reply to match it,
	// as the reference setup does.
	if s.cfg.LatencySec > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(s.cfg.LatencySec * float64(time.Second))):
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
		return errors.Wrap(err, "write steer")
	}

	if s.bridge != nil {
		act := s.ctrl.LastActuation()
		if err := s.bridge.SendCommand(ctx, act.Steer, cmd.Throttle); err != nil {
			s.log.Warnw("can mirror failed", "error", err)
		}
	}

	s.log.Debugw("cycle complete",
		"cycle", s.cycles, "steer", cmd.Steer, "throttle", cmd.Throttle,
		"speed", tel.Speed, "solve_ms", float64(solveTime.Microseconds())/1000.0)
	return nil
}

func (s *session) record(tel control.Telemetry, cmd control.Command, cycleErr error, solveTime time.Duration) {
	if s.rec == nil {
		return
	}

	status := "ok"
	switch {
	case errors.Is(cycleErr, control.ErrSolveDivergence):
		status = "diverged"
	case errors.Is(cycleErr, control.ErrDegenerateFit):
		status = "fit"
	case errors.Is(cycleErr, control.ErrInsufficientWaypoints), errors.Is(cycleErr, control.ErrMalformedTelemetry):
		status = "transform"
	}

	diag := s.ctrl.GetDiagnostics()
	err := s.rec.RecordCycle(recorder.Cycle{
		SessionID:   s.id,
		Index:       s.cycles,
		Speed:       tel.Speed,
		CTE:         diag.CTE,
		EPsi:        diag.EPsi,
		Steer:       cmd.Steer,
		Throttle:    cmd.Throttle,
		SolveStatus: status,
		SolveTime:   solveTime,
	})
	if err != nil {
		s.log.Warnw("record cycle failed", "error", err)
	}
}
