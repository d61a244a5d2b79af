package sim

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/cmdkit/pkg/command"
	"github.com/autopeer-io/cmdkit/pkg/log"
	"github.com/autopeer-io/cmdkit/pkg/options"
)

// CommandView is the JSON shape of an active command.
type CommandView struct {
	ID        uint64   `json:"id"`
	Name      string   `json:"name"`
	State     string   `json:"state"`
	RunTimeMs int64    `json:"runTimeMs"`
	Ticks     int      `json:"ticks"`
	Timeout   int64    `json:"timeoutMs,omitempty"`
	Requires  []string `json:"requires"`
}

func viewOf(c *command.Command) CommandView {
	return CommandView{
		ID:        c.ID(),
		Name:      c.Name(),
		State:     string(c.State()),
		RunTimeMs: c.RunTimeMillis(),
		Ticks:     c.Ticks(),
		Timeout:   c.Timeout().Milliseconds(),
		Requires:  c.Requirements().Unique().Names(),
	}
}

// Registry is what the status server needs from the scheduler.
type Registry interface {
	Active() []*command.Command
	RequestCancel(id uint64) bool
}

type Server struct {
	server  *http.Server
	options *options.HttpOptions
}

func NewServer(opts *options.HttpOptions, reg Registry, gatherer prometheus.Gatherer) *Server {
	return &Server{
		server: &http.Server{
			Addr:    opts.Addr,
			Handler: NewRouter(reg, gatherer),
		},
		options: opts,
	}
}

// NewRouter serves probes, metrics, the active command listing and
// cancellation requests.
func NewRouter(reg Registry, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()

	ok := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
	r.HandleFunc("/healthz", ok).Methods(http.MethodGet)
	r.HandleFunc("/readyz", ok).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/commands", func(w http.ResponseWriter, _ *http.Request) {
		active := reg.Active()
		views := make([]CommandView, 0, len(active))
		for _, c := range active {
			views = append(views, viewOf(c))
		}
		writeJSON(w, http.StatusOK, views)
	}).Methods(http.MethodGet)

	r.HandleFunc("/commands/{id:[0-9]+}/cancel", func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.ParseUint(mux.Vars(req)["id"], 10, 64)
		if err != nil {
			http.Error(w, "invalid command id", http.StatusBadRequest)
			return
		}
		if !reg.RequestCancel(id) {
			http.Error(w, "command not active", http.StatusNotFound)
			return
		}
		log.Info("Cancellation requested over HTTP", "id", id)
		w.WriteHeader(http.StatusAccepted)
	}).Methods(http.MethodPost)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "Failed to encode response")
	}
}

func (s *Server) Start(ctx context.Context) error {
	log.Info("Starting HTTP Server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.options.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
