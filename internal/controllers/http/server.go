package httpctrl

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/Agrid-Dev/smarthrt/internal/command"
	"github.com/Agrid-Dev/smarthrt/internal/controllers/view"
	"github.com/Agrid-Dev/smarthrt/internal/heating"
	"github.com/Agrid-Dev/smarthrt/internal/logger"
	"github.com/Agrid-Dev/smarthrt/internal/ports"
	"github.com/Agrid-Dev/smarthrt/internal/schedule"
)

const defaultCycleLimit = 50

type Server struct {
	dir ports.Directory
	srv *http.Server
	log *logger.Logger
}

// New returns a runnable server.
func New(dir ports.Directory, addr string, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	mux := http.NewServeMux()
	s := &Server{dir: dir, log: log.With("controller", "http")}

	// Read
	mux.HandleFunc("GET /v1/instances", s.handleList)
	mux.HandleFunc("GET /v1/instances/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/instances/{id}/cycles", s.handleCycles)
	mux.HandleFunc("GET /v1/instances/{id}/ws", s.handleStream)

	// Write: one endpoint per variable
	mux.HandleFunc("POST /v1/instances/{id}/tsp", s.handlePostSetpoint)
	mux.HandleFunc("POST /v1/instances/{id}/target_hour", s.handlePostTargetHour)
	mux.HandleFunc("POST /v1/instances/{id}/recoverycalc_hour", s.handlePostRecoveryCalcHour)
	mux.HandleFunc("POST /v1/instances/{id}/relaxation_factor", s.handlePostRelaxationFactor)
	mux.HandleFunc("POST /v1/instances/{id}/smartheating_mode", s.handlePostSmartHeating)
	mux.HandleFunc("POST /v1/instances/{id}/recovery_adaptive_mode", s.handlePostAdaptive)
	mux.HandleFunc("POST /v1/instances/{id}/interior_temperature", s.handlePostInterior)
	mux.HandleFunc("POST /v1/instances/{id}/phone_alarm", s.handlePostPhoneAlarm)
	for _, f := range heating.CoefficientFields() {
		mux.HandleFunc("POST /v1/instances/{id}/"+f.String(), s.handlePostCoefficient(f))
	}

	// Commands
	mux.HandleFunc("GET /v1/commands", s.handleListCommands)
	mux.HandleFunc("POST /v1/commands/{name}", s.handleCommand)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	access := &zapio.Writer{Log: s.log.Desugar(), Level: zapcore.DebugLevel}
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.log.Desugar())),
		handlers.PrintRecoveryStack(true),
	)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           recovery(handlers.LoggingHandler(access, mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, middleware included.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ---- Handlers ----

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	list := s.dir.List()
	out := make([]view.Snapshot, 0, len(list))
	for _, svc := range list {
		out = append(out, view.FromSnapshot(svc.Get(), svc.Now()))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.instance(w, r)
	if !ok {
		return
	}
	respondSnapshot(w, svc)
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.instance(w, r)
	if !ok {
		return
	}
	limit := defaultCycleLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	cycles, err := svc.Cycles(r.Context(), limit)
	if err != nil {
		s.log.Errorw("list cycles", "instance", svc.ID(), "error", err)
		writeErr(w, http.StatusInternalServerError, "cannot list cycles")
		return
	}
	if cycles == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, cycles)
}

func (s *Server) handlePostSetpoint(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(svc ports.HeatingService, v float64) error {
		return svc.SetSetpoint(v)
	})
}

func (s *Server) handlePostTargetHour(w http.ResponseWriter, r *http.Request) {
	// body: {"value": "06:30"}
	postValue(s, w, r, func(svc ports.HeatingService, v string) error {
		t, err := schedule.ParseTimeOfDay(v)
		if err != nil {
			return err
		}
		return svc.SetTargetHour(t)
	})
}

func (s *Server) handlePostRecoveryCalcHour(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(svc ports.HeatingService, v string) error {
		t, err := schedule.ParseTimeOfDay(v)
		if err != nil {
			return err
		}
		return svc.SetRecoveryCalcHour(t)
	})
}

func (s *Server) handlePostRelaxationFactor(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(svc ports.HeatingService, v float64) error {
		return svc.SetRelaxationFactor(v)
	})
}

// handlePostCoefficient overrides one learned coefficient. body: {"value": 42.5}
func (s *Server) handlePostCoefficient(f heating.CoefficientField) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postValue(s, w, r, func(svc ports.HeatingService, v float64) error {
			return svc.SetCoefficient(f, v)
		})
	}
}

func (s *Server) handlePostSmartHeating(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(svc ports.HeatingService, v bool) error {
		svc.SetSmartHeating(v)
		return nil
	})
}

func (s *Server) handlePostAdaptive(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(svc ports.HeatingService, v bool) error {
		svc.SetAdaptive(v)
		return nil
	})
}

func (s *Server) handlePostInterior(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(svc ports.HeatingService, v float64) error {
		svc.UpdateInteriorTemperature(v)
		return nil
	})
}

func (s *Server) handlePostPhoneAlarm(w http.ResponseWriter, r *http.Request) {
	postValue(s, w, r, func(svc ports.HeatingService, v string) error {
		svc.UpdatePhoneAlarm(v)
		return nil
	})
}

func (s *Server) handleListCommands(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(command.Kinds()))
	for _, k := range command.Kinds() {
		names = append(names, k.String())
	}
	writeJSON(w, http.StatusOK, names)
}

// handleCommand runs a named command. body (optional): {"instance_id": "living"}
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	kind, err := command.ParseKind(r.PathValue("name"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, command.Result{Error: err.Error()})
		return
	}
	var req struct {
		InstanceID string `json:"instance_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	res := command.Dispatch(r.Context(), s.dir, command.Command{Kind: kind, InstanceID: req.InstanceID})
	code := http.StatusOK
	if !res.Success {
		s.log.Warnw("command failed", "command", kind.String(), "instance", req.InstanceID, "error", res.Error)
		code = http.StatusNotFound
	}
	writeJSON(w, code, res)
}

// ---- generic helpers ----

func (s *Server) instance(w http.ResponseWriter, r *http.Request) (ports.HeatingService, bool) {
	svc, err := s.dir.Resolve(r.PathValue("id"))
	if err != nil {
		writeErr(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return svc, true
}

func respondSnapshot(w http.ResponseWriter, svc ports.HeatingService) {
	writeJSON(w, http.StatusOK, view.FromSnapshot(svc.Get(), svc.Now()))
}

func postValue[T any](s *Server, w http.ResponseWriter, r *http.Request, apply func(ports.HeatingService, T) error) {
	svc, ok := s.instance(w, r)
	if !ok {
		return
	}
	dec := json.NewDecoder(r.Body)
	var req struct {
		Value *T `json:"value"`
	}
	if err := dec.Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Value == nil {
		writeErr(w, http.StatusBadRequest, "missing field 'value'")
		return
	}

	if err := apply(svc, *req.Value); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	respondSnapshot(w, svc)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
