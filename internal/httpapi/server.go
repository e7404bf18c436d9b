package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"assistd/internal/manager"
	"assistd/internal/runtime"
	"assistd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Respond(ctx context.Context, message string, gc runtime.GenerationConfig) (string, error)
	Ready() bool
	ModelID() string
	Placement() (runtime.Placement, bool)
	AcceleratorAvailable() bool
	Status() types.StatusResponse
}

const notLoaded = "not loaded"

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc}
	r.Get("/", h.root)
	r.Get("/health", h.health)
	r.Post("/chat", inflight("/chat", h.chat))
	r.Get("/status", h.status)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

type handlers struct {
	svc Service
}

// root godoc
// @Summary      Service banner
// @Description  Reports that the service is online, the configured model and its device.
// @Tags         service
// @Produce      json
// @Success      200  {object}  types.RootResponse
// @Router       / [get]
func (h *handlers) root(w http.ResponseWriter, r *http.Request) {
	device := notLoaded
	if pl, ok := h.svc.Placement(); ok {
		device = pl.Device
	}
	writeJSON(w, types.RootResponse{Status: "online", Model: h.svc.ModelID(), Device: device})
}

// health godoc
// @Summary      Model health
// @Description  Reports whether the model and tokenizer are loaded, the device, and accelerator presence.
// @Tags         service
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Router       /health [get]
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	loaded := h.svc.Ready()
	resp := types.HealthResponse{
		ModelLoaded:     loaded,
		TokenizerLoaded: loaded,
		CUDAAvailable:   h.svc.AcceleratorAvailable(),
	}
	if pl, ok := h.svc.Placement(); ok {
		d := pl.Device
		resp.Device = &d
	}
	writeJSON(w, resp)
}

// status godoc
// @Summary      Manager status
// @Tags         service
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.svc.Status())
}

// chat godoc
// @Summary      Ask the assistant
// @Description  Generates a short, calm reply to one user message.
// @Tags         chat
// @Accept       json
// @Produce      json
// @Param        request  body      types.ChatRequest  true  "Chat request"
// @Success      200      {object}  types.ChatResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      415      {object}  types.ErrorResponse
// @Failure      422      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Failure      500      {object}  types.ErrorResponse
// @Failure      503      {object}  types.ErrorResponse
// @Failure      504      {object}  types.ErrorResponse
// @Router       /chat [post]
func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lvl := requestLogLevel(r)

	if !jsonContentType(r.Header.Get("Content-Type")) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status, msg := decodeError(err)
		writeJSONError(w, status, msg)
		return
	}
	if req.Message == nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "message is required")
		return
	}
	gc := manager.DefaultGenerationConfig()
	if req.MaxTokens != nil {
		gc.MaxNewTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		gc.Temperature = *req.Temperature
	}
	if lvl >= LevelDebug {
		l := requestLogger(r)
		l.Debug().Int("max_tokens", gc.MaxNewTokens).Float64("temperature", gc.Temperature).Int("message_len", len(*req.Message)).Msg("chat start")
	}

	// Join server base context with request context so shutdown cancels the wait too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if requestTimeout > 0 {
		var cancelT context.CancelFunc
		ctx, cancelT = context.WithTimeout(ctx, requestTimeout)
		defer cancelT()
	}

	text, err := h.svc.Respond(ctx, *req.Message, gc)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nobody is left to answer.
			logChatEnd(r, lvl, 499, start, err)
			return
		}
		status, detail := mapError(err)
		writeJSONError(w, status, detail)
		logChatEnd(r, lvl, status, start, err)
		return
	}
	writeJSON(w, types.ChatResponse{Response: text, Status: "success"})
	logChatEnd(r, lvl, http.StatusOK, start, nil)
}

func decodeError(err error) (int, string) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusBadRequest, "request body too large"
	}
	var ute *json.UnmarshalTypeError
	if errors.As(err, &ute) {
		return http.StatusUnprocessableEntity, "invalid type for field " + ute.Field
	}
	return http.StatusUnprocessableEntity, "invalid JSON body"
}

// jsonContentType accepts a missing header, application/json and
// application/*+json, with or without parameters.
func jsonContentType(ct string) bool {
	if strings.TrimSpace(ct) == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || (strings.HasPrefix(mt, "application/") && strings.HasSuffix(mt, "+json"))
}

// mapError maps service errors to a status code and client-facing detail.
func mapError(err error) (int, string) {
	switch {
	case manager.IsModelUnavailable(err):
		return http.StatusServiceUnavailable, "Model not loaded"
	case manager.IsTooBusy(err):
		IncrementBackpressure("queue")
		return http.StatusTooManyRequests, err.Error()
	case manager.IsGenerationError(err):
		return http.StatusInternalServerError, "Error generating response: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "server shutting down"
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), he.Error()
	}
	return http.StatusInternalServerError, "Error generating response: " + err.Error()
}
