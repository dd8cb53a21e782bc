// Package webhook converts backend callbacks into unconsumed call events.
// No business logic here: the periodic event processor owns every state
// decision; these handlers only parse, authenticate and insert.
package webhook

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"dialer-engine/internal/callback"
	"dialer-engine/internal/dialer"
	"dialer-engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HangupForm captures the subset of hangup callback fields we care about.
// Backends send application/x-www-form-urlencoded by default.
type HangupForm struct {
	RequestUUID     string
	CallUUID        string
	CallRequestID   string
	HangupCause     string
	HangupCauseQ850 string
	CallerID        string
	To              string
	Duration        int
	BillSec         int
	StartTime       time.Time
}

func parseHangupForm(r *http.Request) (HangupForm, error) {
	if err := r.ParseForm(); err != nil {
		return HangupForm{}, err
	}
	f := HangupForm{
		RequestUUID:     strings.TrimSpace(r.PostFormValue("RequestUUID")),
		CallUUID:        strings.TrimSpace(r.PostFormValue("CallUUID")),
		CallRequestID:   strings.TrimSpace(r.PostFormValue("CallRequestID")),
		HangupCause:     strings.TrimSpace(r.PostFormValue("HangupCause")),
		HangupCauseQ850: strings.TrimSpace(r.PostFormValue("HangupCauseQ850")),
		CallerID:        strings.TrimSpace(r.PostFormValue("CallerID")),
		To:              strings.TrimSpace(r.PostFormValue("To")),
	}
	f.Duration, _ = strconv.Atoi(r.PostFormValue("Duration"))
	f.BillSec, _ = strconv.Atoi(r.PostFormValue("BillSec"))
	if v := r.PostFormValue("StartTime"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.StartTime = t
		}
	}
	return f, nil
}

// Handler receives answer/hangup callbacks and feeds the event table.
type Handler struct {
	Events   dialer.CallEventStore
	Requests dialer.CallRequestStore
	Signer   *callback.Signer

	Now func() time.Time
}

// verify checks the callback token and returns the call request it is
// scoped to. An empty scope means token auth is disabled.
func (h Handler) verify(c *gin.Context) (string, bool) {
	if h.Signer == nil {
		return "", true
	}
	token := c.Query("token")
	if token == "" {
		token = c.PostForm("token")
	}
	scope, err := h.Signer.Verify(token)
	if err != nil {
		logger.FromGin(c).Warn("callback token rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return "", false
	}
	return scope, true
}

// authorize checks that the callback refers to the call request its token
// was minted for. Tokens are per-attempt; one must not vouch for another.
func (h Handler) authorize(c *gin.Context, scope string, form HangupForm) bool {
	if form.CallRequestID != "" {
		if form.CallRequestID == scope {
			return true
		}
		logger.FromGin(c).Warn("callback scope mismatch",
			"token_scope", scope, "callrequest_id", form.CallRequestID)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token scope mismatch"})
		return false
	}

	if h.Requests == nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token scope mismatch"})
		return false
	}
	cr, err := h.Requests.GetCallRequestByUUID(c.Request.Context(), form.RequestUUID)
	if err != nil || cr.ID != scope {
		logger.FromGin(c).Warn("callback scope mismatch",
			"token_scope", scope, "request_uuid", form.RequestUUID)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token scope mismatch"})
		return false
	}
	return true
}

// HandleHangup records the terminal event of one dial attempt.
func (h Handler) HandleHangup(c *gin.Context) {
	log := logger.FromGin(c)
	scope, ok := h.verify(c)
	if !ok {
		return
	}
	if h.Events == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event store not configured"})
		return
	}

	form, err := parseHangupForm(c.Request)
	if err != nil {
		log.Warn("hangup callback parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if form.RequestUUID == "" && form.CallRequestID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "RequestUUID or CallRequestID required"})
		return
	}
	if scope != "" && !h.authorize(c, scope, form) {
		return
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	ev := dialer.CallEvent{
		ID:              uuid.NewString(),
		EventName:       "CHANNEL_HANGUP_COMPLETE",
		JobUUID:         form.RequestUUID,
		CallUUID:        form.CallUUID,
		CallRequestID:   form.CallRequestID,
		CallerID:        form.CallerID,
		PhoneNumber:     form.To,
		Duration:        form.Duration,
		BillSec:         form.BillSec,
		HangupCause:     form.HangupCause,
		HangupCauseQ850: form.HangupCauseQ850,
		StartedAt:       form.StartTime,
		Status:          dialer.EventUnconsumed,
		CreatedAt:       now().UTC(),
	}
	if err := h.Events.InsertCallEvent(c.Request.Context(), &ev); err != nil {
		log.Error("event insert failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event insert failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_id": ev.ID})
}

// HandleAnswer acknowledges the answer callback. Call-control scripting
// (IVR, survey flows) is out of this engine's scope, so the response only
// keeps the leg alive; the switch-side script drives the interaction.
func (h Handler) HandleAnswer(c *gin.Context) {
	if _, ok := h.verify(c); !ok {
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, `<?xml version="1.0" encoding="UTF-8"?><Response/>`)
}
