package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/reviewer/internal/assistant"
	appI18n "github.com/pavelanni/reviewer/internal/i18n"
	"github.com/pavelanni/reviewer/internal/ingest"
	"github.com/pavelanni/reviewer/internal/model"
)

// bodyOverhead leaves room for multipart headers or JSON framing around a
// maximum-size file.
const bodyOverhead = 1 << 20

var errBadRequest = errors.New("bad request")

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	assistant *assistant.Assistant
	config    model.Config
	limiter   *clientLimiter
	sleep     func(time.Duration) <-chan time.Time
}

// New creates a new Handler.
func New(a *assistant.Assistant, cfg model.Config) *Handler {
	h := &Handler{assistant: a, config: cfg, sleep: time.After}
	if cfg.ChatRateLimit > 0 {
		h.limiter = newClientLimiter(cfg.ChatRateLimit, time.Minute)
	}
	return h
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/subjects", h.handleSubjects)
	r.Route("/profiles/{name}/{grade}", func(r chi.Router) {
		r.Use(h.profileMiddleware)
		r.Get("/knowledge", h.handleGetKnowledge)
		r.Post("/knowledge", h.handleFeed)
		r.Post("/knowledge/upload", h.handleUpload)
		r.Delete("/knowledge", h.handleClearKnowledge)
		r.Get("/questions", h.handleQuestions)
		r.Put("/questions/{number}/correct", h.handleSetCorrect)
		r.Post("/questions/{number}/answer", h.handleAnswer)
		r.With(h.rateLimit).Post("/chat", h.handleChat)
		r.Get("/logs", h.handleLogs)
		r.Delete("/logs/{id}", h.handleDeleteLog)
		r.Delete("/logs", h.handleClearLogs)
		r.Get("/export", h.handleExport)
	})
}

type noticeResponse struct {
	Notice string `json:"notice"`
	Level  string `json:"level"`
	Result any    `json:"result,omitempty"`
}

type feedRequest struct {
	Subject string `json:"subject"`
	Content string `json:"content"`
}

type feedResponse struct {
	assistant.FeedResult
	Notice  string `json:"notice"`
	Summary string `json:"summary"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type optionRequest struct {
	Option *int `json:"option"`
}

func (h *Handler) profileMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := model.Profile{Name: chi.URLParam(r, "name"), Grade: chi.URLParam(r, "grade")}
		// chi matches on RawPath when the path carries escapes.
		if r.URL.RawPath != "" {
			name, err1 := url.PathUnescape(p.Name)
			grade, err2 := url.PathUnescape(p.Grade)
			if err1 != nil || err2 != nil {
				h.writeError(w, r, errBadRequest, nil)
				return
			}
			p = model.Profile{Name: name, Grade: grade}
		}
		if err := p.Validate(); err != nil {
			h.writeError(w, r, err, nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(model.ContextWithProfile(r.Context(), p)))
	})
}

func profileOf(r *http.Request) model.Profile {
	p, _ := model.ProfileFromContext(r.Context())
	return p
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleSubjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"subjects": h.assistant.Subjects(),
		"default":  h.config.Subject,
	})
}

func (h *Handler) handleGetKnowledge(w http.ResponseWriter, r *http.Request) {
	k, err := h.assistant.Knowledge(r.Context(), profileOf(r))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, k)
}

// decodeJSON reads a size-capped JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, ingest.MaxFileSize+bodyOverhead)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return ingest.ErrTooLarge
		}
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}

func (h *Handler) handleFeed(w http.ResponseWriter, r *http.Request) {
	var req feedRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	res, err := h.assistant.Feed(r.Context(), profileOf(r), req.Subject, req.Content)
	h.writeFeed(w, r, res, err)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, ingest.MaxFileSize+bodyOverhead)
	if err := r.ParseMultipartForm(ingest.MaxFileSize + bodyOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.writeError(w, r, ingest.ErrTooLarge, nil)
			return
		}
		h.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err), nil)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %w", errBadRequest, err), nil)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, ingest.MaxFileSize+1))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("read upload: %w", err), nil)
		return
	}

	res, err := h.assistant.FeedFile(r.Context(), profileOf(r), r.FormValue("subject"), header.Filename, header.Size, content)
	h.writeFeed(w, r, res, err)
}

func (h *Handler) writeFeed(w http.ResponseWriter, r *http.Request, res assistant.FeedResult, err error) {
	resp := feedResponse{
		FeedResult: res,
		Notice:     appI18n.Td(r.Context(), "KnowledgeFed", map[string]any{"Subject": res.Knowledge.Subject}),
		Summary:    appI18n.Tp(r.Context(), "QuestionsExtracted", len(res.Questions)),
	}
	if err != nil {
		if errors.Is(err, assistant.ErrPersist) {
			h.writeError(w, r, err, resp)
			return
		}
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleClearKnowledge(w http.ResponseWriter, r *http.Request) {
	if err := h.assistant.ClearKnowledge(r.Context(), profileOf(r)); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, noticeResponse{Notice: appI18n.T(r.Context(), "KnowledgeCleared"), Level: "success"})
}

func (h *Handler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := h.assistant.Questions(r.Context(), profileOf(r))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (h *Handler) handleSetCorrect(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: question number", errBadRequest), nil)
		return
	}
	var req optionRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Option == nil {
		h.writeError(w, r, fmt.Errorf("%w: option is required", errBadRequest), nil)
		return
	}
	if err := h.assistant.SetCorrectOption(r.Context(), profileOf(r), number, *req.Option); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: question number", errBadRequest), nil)
		return
	}
	var req optionRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Option == nil {
		h.writeError(w, r, fmt.Errorf("%w: option is required", errBadRequest), nil)
		return
	}
	res, err := h.assistant.Answer(r.Context(), profileOf(r), number, *req.Option)
	if err != nil {
		if errors.Is(err, assistant.ErrPersist) {
			h.writeError(w, r, err, res)
			return
		}
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	p := profileOf(r)
	rep, err := h.assistant.Ask(r.Context(), p, req.Message)
	if err != nil && !errors.Is(err, assistant.ErrPersist) {
		h.writeError(w, r, err, nil)
		return
	}

	if d := h.thinkDelay(); d > 0 {
		select {
		case <-h.sleep(d):
		case <-r.Context().Done():
			slog.Debug("chat request cancelled while thinking", "profile", p.String(), "error", r.Context().Err())
			return
		}
	}

	if err != nil {
		h.writeError(w, r, err, rep)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) thinkDelay() time.Duration {
	d := h.config.ThinkDelay
	if h.config.ThinkJitter > 0 {
		d += rand.N(h.config.ThinkJitter)
	}
	return d
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.assistant.Logs(r.Context(), profileOf(r))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) handleDeleteLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: log id", errBadRequest), nil)
		return
	}
	if err := h.assistant.DeleteLog(r.Context(), profileOf(r), id); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	n, err := h.assistant.ClearLogs(r.Context(), profileOf(r))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notice":  appI18n.T(r.Context(), "LogsCleared"),
		"level":   "success",
		"deleted": n,
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	p := profileOf(r)
	export, err := h.assistant.Export(r.Context(), p)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	filename := fmt.Sprintf("reviewer-%s-%s.json", p.Name, p.Grade)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	writeJSON(w, http.StatusOK, export)
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, ingest.ErrEmpty),
		errors.Is(err, assistant.ErrEmptyMessage),
		errors.Is(err, model.ErrInvalidProfile),
		errors.Is(err, model.ErrChoiceOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrExtension), errors.Is(err, ingest.ErrBinary):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, assistant.ErrQuestionNotFound), errors.Is(err, assistant.ErrLogNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, result any) {
	status := statusFor(err)
	notice := appI18n.Notice(r.Context(), err)
	if errors.Is(err, errBadRequest) {
		notice = appI18n.T(r.Context(), "NoticeBadRequest")
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, noticeResponse{Notice: notice, Level: "error", Result: result})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
