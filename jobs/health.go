package jobs

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/hasledger/hasledger/internal/outbox"
	"github.com/hasledger/hasledger/internal/platform/httpx"
)

// OutboxBacklog counts outbox rows per status.
type OutboxBacklog interface {
	CountByStatus(ctx context.Context) (map[outbox.Status]int64, error)
}

// Handler reports queue depth and outbox backlog over HTTP.
type Handler struct {
	inspector *asynq.Inspector
	backlog   OutboxBacklog
	logger    *slog.Logger
}

// NewHandler builds the jobs handler. Both sources are optional.
func NewHandler(inspector *asynq.Inspector, backlog OutboxBacklog, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, backlog: backlog, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue    string                  `json:"queue"`
	Pending  int                     `json:"pending"`
	Retry    int                     `json:"retry"`
	Archived int                     `json:"archived"`
	Outbox   map[outbox.Status]int64 `json:"outbox,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	out := queueHealth{Queue: QueueDefault}
	if h.inspector != nil {
		info, err := h.inspector.GetQueueInfo(QueueDefault)
		if err != nil {
			h.unavailable(w, "queue info", err)
			return
		}
		out.Queue, out.Pending, out.Retry, out.Archived = info.Queue, info.Pending, info.Retry, info.Archived
	}
	if h.backlog != nil {
		counts, err := h.backlog.CountByStatus(r.Context())
		if err != nil {
			h.unavailable(w, "outbox backlog", err)
			return
		}
		out.Outbox = counts
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) unavailable(w http.ResponseWriter, what string, err error) {
	logger(h.logger).Warn("jobs health: "+what, slog.Any("error", err))
	httpx.Problem(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), what+" unavailable")
}
