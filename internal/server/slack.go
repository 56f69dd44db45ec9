package server

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/minno-ai/minno/internal/events"
	"github.com/minno-ai/minno/internal/ingest"
	"github.com/minno-ai/minno/internal/models"
)

// handleEvents answers the Events API. After the 200 is written no error
// can change the response; failures are logged and dead-lettered.
func (s *Server) handleEvents(c *gin.Context) {
	raw := rawBody(c)
	payload, err := events.ParsePayload(raw)
	if err != nil {
		s.rejectPayload(c, err)
		return
	}

	switch p := payload.(type) {
	case *events.URLVerification:
		c.JSON(http.StatusOK, gin.H{"challenge": p.Challenge})
		return
	case *events.AppRateLimited:
		s.log.Warn("server: slack rate limited app events",
			"team_id", p.TeamID, "minute", p.MinuteRateLimited)
		ack(c)
		return
	case *events.Envelope:
		ack(c)
		s.dispatch(c, ingest.Delivery{
			Kind:       models.KindEvent,
			EventID:    p.EventID,
			TeamID:     p.TeamID,
			Payload:    raw,
			Envelope:   p,
			ReceivedAt: s.now(),
		}, c.GetHeader("X-Slack-Retry-Num"))
	}
}

// handleInteractive answers interactivity requests: a form with a JSON
// "payload" field.
func (s *Server) handleInteractive(c *gin.Context) {
	form, err := url.ParseQuery(string(rawBody(c)))
	if err != nil {
		s.rejectPayload(c, &events.ValidationError{Field: "payload", Reason: "form body is not url encoded", Err: err})
		return
	}
	payload := form.Get("payload")
	cb, err := events.ParseInteraction(payload)
	if err != nil {
		s.rejectPayload(c, err)
		return
	}

	ack(c)
	key := ""
	if cb.TriggerID != "" {
		key = "interaction:" + cb.TriggerID
	}
	s.dispatch(c, ingest.Delivery{
		Kind:        models.KindInteraction,
		EventID:     key,
		TeamID:      cb.Team.ID,
		Payload:     []byte(payload),
		Interaction: cb,
		ReceivedAt:  s.now(),
	}, "")
}

// ack writes the empty 200 and flushes it before any further work.
func ack(c *gin.Context) {
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
}

// dispatch hands an acknowledged delivery to the queue, dropping
// duplicates. It must never write to the response.
func (s *Server) dispatch(c *gin.Context, d ingest.Delivery, retryNum string) {
	if s.dedup != nil && d.EventID != "" {
		seen, err := s.dedup.Seen(c.Request.Context(), d.EventID)
		if err != nil {
			s.log.Warn("server: dedup lookup failed", "event_id", d.EventID, "error", err)
		} else if seen {
			s.log.Info("server: duplicate delivery dropped", "event_id", d.EventID, "retry_num", retryNum)
			return
		}
	}

	if err := s.queue.Enqueue(d); err != nil {
		s.queue.DeadLetter(d, err)
	}
}

func (s *Server) rejectPayload(c *gin.Context, err error) {
	var ve *events.ValidationError
	if errors.As(err, &ve) {
		s.log.Warn("server: invalid slack payload", "path", c.Request.URL.Path, "field", ve.Field, "reason", ve.Reason)
		writeError(c, http.StatusBadRequest, "invalid_payload", ve.Error())
		return
	}
	s.log.Warn("server: unparseable slack payload", "path", c.Request.URL.Path, "error", err)
	writeError(c, http.StatusBadRequest, "invalid_payload", err.Error())
}
