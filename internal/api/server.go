package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tickflow/internal/console"
	"tickflow/internal/faults"
	"tickflow/internal/journal"
	"tickflow/internal/ringbuf"
	"tickflow/internal/scheduler"
)

const maxConsoleBody = 4 << 10

// Scheduler is the read-only view the API needs. It never touches the task
// table directly.
type Scheduler interface {
	Snapshot() scheduler.Snapshot
	TickPeriod() time.Duration
	Pending() uint32
}

type Deps struct {
	Scheduler Scheduler
	Faults    *faults.Register
	Console   *console.Port     // optional
	Journal   *journal.Store    // optional
	Recorder  *journal.Recorder // optional
	Debug     bool
}

type Server struct {
	r *chi.Mux
	Deps
}

func NewServer(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, Deps: d}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Route("/api", func(r chi.Router) {
		r.Get("/tasks", s.listTasks)
		r.Get("/faults", s.listFaults)
		r.Delete("/faults", s.clearFaults)
		r.Delete("/faults/{code}", s.clearFault)
		r.Post("/console", s.consoleInput)
		r.Get("/executions", s.listExecutions)
		r.Get("/executions/summary", s.executionSummary)
	})

	if d.Debug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if !s.Scheduler.Snapshot().Running {
		http.Error(w, "scheduler not running", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	snap := s.Scheduler.Snapshot()
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "tickflow_up %d\n", b2i(snap.Running))
	fmt.Fprintf(w, "tickflow_tick %d\n", snap.Tick)
	fmt.Fprintf(w, "tickflow_tick_seconds %g\n", s.Scheduler.TickPeriod().Seconds())
	fmt.Fprintf(w, "tickflow_pending_ticks %d\n", s.Scheduler.Pending())
	fmt.Fprintf(w, "tickflow_tasks %d\n", len(snap.Tasks))
	fmt.Fprintf(w, "tickflow_capacity %d\n", snap.Capacity)
	fmt.Fprintf(w, "tickflow_fault_bits %d\n", s.Faults.Bits())
	for _, c := range faults.Defined() {
		fmt.Fprintf(w, "tickflow_fault{code=\"%d\"} %d\n", c, b2i(s.Faults.Check(c)))
	}
	if s.Console != nil {
		fmt.Fprintf(w, "tickflow_console_buffered_bytes %d\n", s.Console.Buffered())
		fmt.Fprintf(w, "tickflow_console_dropped_bytes %d\n", s.Console.Dropped())
	}
	if s.Recorder != nil {
		fmt.Fprintf(w, "tickflow_journal_written %d\n", s.Recorder.Written())
		fmt.Fprintf(w, "tickflow_journal_dropped %d\n", s.Recorder.Dropped())
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Scheduler.Snapshot())
}

type faultView struct {
	Code        faults.Code `json:"code"`
	Description string      `json:"description"`
}

type faultsResp struct {
	Bits   uint32      `json:"bits"`
	Active []faultView `json:"active"`
}

func (s *Server) faultState() faultsResp {
	resp := faultsResp{Bits: s.Faults.Bits(), Active: []faultView{}}
	for _, c := range s.Faults.Active() {
		resp.Active = append(resp.Active, faultView{Code: c, Description: c.String()})
	}
	return resp
}

func (s *Server) listFaults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.faultState())
}

func (s *Server) clearFaults(w http.ResponseWriter, r *http.Request) {
	s.Faults.Clear(faults.All)
	writeJSON(w, http.StatusOK, s.faultState())
}

func (s *Server) clearFault(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(chi.URLParam(r, "code"), 10, 8)
	if err != nil || n >= faults.MaxCodes {
		http.Error(w, "code must be an integer below 32", http.StatusBadRequest)
		return
	}
	s.Faults.Clear(faults.Code(n))
	writeJSON(w, http.StatusOK, s.faultState())
}

type consoleResp struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

// consoleInput feeds the request body to the console port as if it arrived
// on the serial line. The parser task picks it up on the main loop.
func (s *Server) consoleInput(w http.ResponseWriter, r *http.Request) {
	if s.Console == nil {
		http.Error(w, "console disabled", http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConsoleBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n, err := s.Console.Write(body)
	if err != nil && !errors.Is(err, ringbuf.ErrFull) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, consoleResp{Accepted: n, Dropped: len(body) - n})
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := s.Journal.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) executionSummary(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	sum, err := s.Journal.Summary(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
