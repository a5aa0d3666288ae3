package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ivlev/shadowplay/internal/errs"
	"github.com/ivlev/shadowplay/internal/pose"
	"github.com/ivlev/shadowplay/internal/session"
	"github.com/ivlev/shadowplay/internal/share"
)

// sessionView is the descriptor handed to callers. Segments are summarized
// as a count; nobody polls megabytes of landmark frames back out.
type sessionView struct {
	ID           string         `json:"id"`
	SceneID      string         `json:"scene_id"`
	Status       session.Status `json:"status"`
	SegmentCount int            `json:"segment_count"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	OutputPath   string         `json:"output_path,omitempty"`
	DownloadURL  string         `json:"download_url,omitempty"`
	QRURL        string         `json:"qr_url,omitempty"`
}

func (h *Handler) view(s *session.Session) sessionView {
	v := sessionView{
		ID:           s.ID,
		SceneID:      s.SceneID,
		Status:       s.Status,
		SegmentCount: s.SegmentCount(),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		OutputPath:   s.OutputPath,
	}
	if s.Status == session.StatusDone && h.publicBaseURL != "" {
		v.DownloadURL = share.VideoURL(h.publicBaseURL, session.OutputName(s.ID))
		v.QRURL = share.VideoURL(h.publicBaseURL, session.QRName(s.ID))
	}
	return v
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrConflict), errors.Is(err, errs.ErrTerminalState):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrResourceExhausted):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
		h.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type createSessionRequest struct {
	SceneID string `json:"scene_id"`
}

// POST /api/sessions
func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SceneID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scene_id is required"})
		return
	}
	s, err := h.engine.CreateSession(c.Request.Context(), req.SceneID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.view(s))
}

// GET /api/sessions?status=done
func (h *Handler) listSessions(c *gin.Context) {
	var filter *session.Status
	if raw := c.Query("status"); raw != "" {
		st := session.Status(raw)
		if !st.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + raw})
			return
		}
		filter = &st
	}
	list, err := h.engine.Sessions(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	views := make([]sessionView, 0, len(list))
	for _, s := range list {
		views = append(views, h.view(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

// GET /api/sessions/:id
func (h *Handler) getSession(c *gin.Context) {
	s, err := h.engine.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(s))
}

type segmentUpload struct {
	Index    int          `json:"index"`
	Duration float64      `json:"duration"`
	Frames   []pose.Frame `json:"frames"`
}

// POST /api/sessions/:id/segments/:index
func (h *Handler) uploadSegment(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "segment index must be an integer"})
		return
	}
	var body segmentUpload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed segment payload: " + err.Error()})
		return
	}
	seg := session.Segment{Index: body.Index, Duration: body.Duration, Frames: body.Frames}
	s, err := h.engine.UploadSegment(c.Request.Context(), c.Param("id"), index, seg)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(s))
}

// POST /api/sessions/:id/render
func (h *Handler) startRender(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.SubmitRender(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	s, err := h.engine.Session(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.view(s))
}

// POST /api/sessions/:id/cancel
func (h *Handler) cancelSession(c *gin.Context) {
	s, err := h.engine.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(s))
}

// DELETE /api/sessions/:id
func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.engine.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/scenes
func (h *Handler) listScenes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scenes": h.engine.SceneIDs()})
}

// GET /healthz
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
