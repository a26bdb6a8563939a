package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/frymanofer/enginehub/pkg/audio/pcm16"
	"github.com/frymanofer/enginehub/pkg/audio/wav"
	"github.com/frymanofer/enginehub/pkg/enginehub"
)

const maxUpload = 32 << 20

var (
	serveAddr     string
	serveCapacity int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve enrollment, verification and metrics over HTTP",
	Long: `Create every configured instance and serve:

  GET    /api/instances                      instance keys
  DELETE /api/instances/{key}                destroy an instance
  POST   /api/instances/{key}/enroll         enroll a WAV body
  POST   /api/instances/{key}/verify         verify a WAV body
  POST   /api/instances/{key}/cluster/push   push a WAV body into the cluster
  POST   /api/instances/{key}/cluster/verify score a WAV body against the cluster
  GET    /metrics                            Prometheus metrics
  GET    /live, /ready                       health checks

With metrics.addr set in the config file, /metrics is also served there.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(nil)
		if err != nil {
			return err
		}
		defer e.Close()

		s, err := newServer(ctx, e, serveCapacity)
		if err != nil {
			return err
		}

		servers := []*http.Server{{Addr: serveAddr, Handler: s.routes()}}
		if addr := e.cfg.Metrics.Addr; addr != "" {
			mux := http.NewServeMux()
			mux.Handle("GET /metrics", s.metrics())
			servers = append(servers, &http.Server{Addr: addr, Handler: mux})
		}

		errc := make(chan error, len(servers))
		for _, srv := range servers {
			go func() {
				e.logger.Info("http server starting", "addr", srv.Addr)
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
			}()
		}

		select {
		case <-ctx.Done():
		case err = <-errc:
		}
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			srv.Shutdown(shutdown)
		}
		return err
	},
}

// server exposes a hub over HTTP. The cluster of each instance is created at
// startup.
type server struct {
	env      *env
	capacity int
	clusters map[string]int
	health   healthcheck.Handler
}

func newServer(ctx context.Context, e *env, capacity int) (*server, error) {
	s := &server{
		env:      e,
		capacity: capacity,
		clusters: make(map[string]int),
		health:   healthcheck.NewHandler(),
	}
	s.health.AddReadinessCheck("instances", func() error {
		if len(e.hub.ListInstanceIDs()) == 0 {
			return errors.New("no instances")
		}
		return nil
	})
	e.hub.SetGlobalListener(enginehub.ListenerFunc(func(d enginehub.Detection) {
		e.logger.Info("keyword detected", "key", d.Key, "phrase", d.Phrase, "score", d.Score)
	}))
	for _, inst := range e.cfg.Instances {
		if _, err := e.create(ctx, inst.Key); err != nil {
			return nil, err
		}
		ok, err := e.hub.InitVerificationUsingDefaults(inst.Key)
		if err != nil {
			return nil, err
		}
		id, err := e.hub.InitCluster(ctx, inst.Key, capacity)
		if err != nil {
			return nil, err
		}
		s.clusters[inst.Key] = id
		e.logger.Info("instance ready", "key", inst.Key, "enrolled", ok, "cluster", id)
	}
	return s, nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/instances", s.handleList)
	mux.HandleFunc("DELETE /api/instances/{key}", s.handleDestroy)
	mux.HandleFunc("POST /api/instances/{key}/enroll", s.handleEnroll)
	mux.HandleFunc("POST /api/instances/{key}/verify", s.handleVerify)
	mux.HandleFunc("POST /api/instances/{key}/cluster/push", s.handleClusterPush)
	mux.HandleFunc("POST /api/instances/{key}/cluster/verify", s.handleClusterVerify)
	mux.Handle("GET /metrics", s.metrics())
	mux.Handle("GET /live", s.health)
	mux.Handle("GET /ready", s.health)
	return mux
}

func (s *server) metrics() http.Handler {
	return promhttp.HandlerFor(s.env.registry, promhttp.HandlerOpts{})
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"instances": s.env.hub.ListInstanceIDs()})
}

func (s *server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	if err := s.env.hub.DestroyInstance(r.PathValue("key")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	pcm, err := readWAV(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	hub := s.env.hub
	if _, err := hub.StartOnboardingStream(key); err != nil {
		s.fail(w, err)
		return
	}
	if _, err := hub.FeedOnboardingStream(key, pcm); err != nil {
		hub.FinishOnboardingStream(key)
		s.fail(w, err)
		return
	}
	res, err := hub.FinishOnboardingStream(key)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, speakerResult{Key: key, Enrolled: res.Enrolled, Voiced: res.VoicedSeconds})
}

func (s *server) handleVerify(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	pcm, err := readWAV(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	hub := s.env.hub
	if _, err := hub.StartVerificationStream(key); err != nil {
		s.fail(w, err)
		return
	}
	if _, err := hub.FeedVerificationStream(key, pcm); err != nil {
		hub.FinishVerificationStream(key)
		s.fail(w, err)
		return
	}
	res, err := hub.FinishVerificationStream(key)
	if err != nil {
		s.fail(w, err)
		return
	}
	if res == nil {
		s.fail(w, fmt.Errorf("not enough voiced audio: %w", enginehub.ErrInsufficientAudio))
		return
	}
	writeJSON(w, http.StatusOK, verifyResult(key, res))
}

func (s *server) handleClusterPush(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	pcm, err := readWAV(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	id := s.clusters[key]
	if err := s.env.hub.PushEmbeddingToCluster(r.Context(), key, id, pcm); err != nil {
		s.fail(w, err)
		return
	}
	entries, err := s.env.hub.ClusterEntries(key, id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clusterResult{Key: key, ID: id, Entries: len(entries), Capacity: s.capacity})
}

func (s *server) handleClusterVerify(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	pcm, err := readWAV(w, r)
	if err != nil {
		s.fail(w, err)
		return
	}
	id := s.clusters[key]
	score, err := s.env.hub.VerifyEmbeddingFromCluster(r.Context(), key, id, pcm)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clusterResult{Key: key, ID: id, Capacity: s.capacity, Score: &score})
}

func (s *server) fail(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		s.env.logger.Error("request failed", "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, enginehub.ErrNotFound), errors.Is(err, enginehub.ErrClusterNotFound):
		return http.StatusNotFound
	case errors.Is(err, enginehub.ErrSessionAlreadyActive), errors.Is(err, enginehub.ErrEmptyCluster):
		return http.StatusConflict
	case errors.Is(err, enginehub.ErrInsufficientAudio):
		return http.StatusUnprocessableEntity
	case errors.Is(err, enginehub.ErrInvalidArgument), errors.Is(err, wav.ErrInvalidFile):
		return http.StatusBadRequest
	case errors.Is(err, enginehub.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, enginehub.ErrLicenseDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// readWAV decodes a WAV request body to 16 kHz mono.
func readWAV(w http.ResponseWriter, r *http.Request) ([]int16, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpload))
	if err != nil {
		return nil, fmt.Errorf("read body: %w: %w", err, enginehub.ErrInvalidArgument)
	}
	a, err := wav.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return a.Mono(pcm16.SampleRate)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().IntVar(&serveCapacity, "capacity", 10, "cluster capacity per instance")
	rootCmd.AddCommand(serveCmd)
}
