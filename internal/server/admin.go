package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minno-ai/minno/internal/ingest"
	"github.com/minno-ai/minno/internal/models"
	"github.com/minno-ai/minno/internal/store"
)

type failedEventJSON struct {
	ID         string     `json:"id"`
	EventID    string     `json:"event_id"`
	TeamID     string     `json:"team_id"`
	Kind       string     `json:"kind"`
	Error      string     `json:"error"`
	Attempts   int        `json:"attempts"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func toFailedEventJSON(fe models.FailedEvent) failedEventJSON {
	return failedEventJSON{
		ID:         fe.ID,
		EventID:    fe.EventID,
		TeamID:     fe.TeamID,
		Kind:       string(fe.Kind),
		Error:      fe.Error,
		Attempts:   fe.Attempts,
		CreatedAt:  fe.CreatedAt,
		UpdatedAt:  fe.UpdatedAt,
		ResolvedAt: fe.ResolvedAt,
	}
}

func (s *Server) handleListFailedEvents(c *gin.Context) {
	f := store.FailedEventFilter{Limit: 100}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	f.IncludeResolved = c.Query("include_resolved") == "true"

	rows, err := s.admin.ListFailedEvents(c.Request.Context(), f)
	if err != nil {
		s.log.Error("server: list failed events", "error", err)
		writeError(c, http.StatusInternalServerError, "storage_error", "could not list failed events")
		return
	}
	out := make([]failedEventJSON, 0, len(rows))
	for _, fe := range rows {
		out = append(out, toFailedEventJSON(fe))
	}
	c.JSON(http.StatusOK, gin.H{"failed_events": out})
}

func (s *Server) handleReplayFailedEvent(c *gin.Context) {
	id := c.Param("id")
	fe, err := s.admin.GetFailedEvent(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(c, http.StatusNotFound, "not_found", "failed event "+id+" does not exist")
		return
	}
	if err != nil {
		s.log.Error("server: get failed event", "id", id, "error", err)
		writeError(c, http.StatusInternalServerError, "storage_error", "could not load failed event")
		return
	}

	err = s.queue.Enqueue(ingest.Delivery{
		Kind:          fe.Kind,
		EventID:       fe.EventID,
		TeamID:        fe.TeamID,
		Payload:       fe.Payload,
		ReceivedAt:    s.now(),
		FailedEventID: fe.ID,
	})
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, "queue_unavailable", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "id": fe.ID})
}
