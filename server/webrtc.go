package main

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"camera-dashboard/camera"
	"camera-dashboard/live"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"
)

// sessionRegistry tracks open WebRTC viewers so they can be closed on
// request and at shutdown
type sessionRegistry struct {
	sessions map[string]*live.Session
	mu       sync.Mutex
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*live.Session)}
}

func (r *sessionRegistry) add(s *live.Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	go func() {
		<-s.Done()
		r.mu.Lock()
		delete(r.sessions, s.ID)
		r.mu.Unlock()
	}()
}

func (r *sessionRegistry) close(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()

	if ok {
		_ = s.Close()
	}
	return ok
}

func (r *sessionRegistry) closeAll() {
	r.mu.Lock()
	sessions := make([]*live.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}

func (r *sessionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// handleWebRTCOffer answers a browser offer with a live H264 track. Only
// cameras given as ip and credentials are published, never a free form url.
func (d *Dashboard) handleWebRTCOffer(c *gin.Context) {
	var req struct {
		IP       string `json:"ip" binding:"required"`
		Username string `json:"username"`
		Password string `json:"password"`
		Channel  string `json:"channel"`
		Type     string `json:"type"`
		SDP      string `json:"sdp" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Type != "" && req.Type != webrtc.SDPTypeOffer.String() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be offer, got " + req.Type})
		return
	}

	channel, err := d.channel(req.Channel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rtspURL := camera.BuildRTSP(req.IP, req.Username, req.Password, channel)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.SDP}

	ctx, cancel := context.WithTimeout(c.Request.Context(), OfferTimeout)
	defer cancel()

	session, answer, err := d.answer(ctx, rtspURL, offer)
	if err != nil {
		log.Warn().Err(err).Str("ip", req.IP).Msg("[live] offer")

		status := http.StatusBadRequest
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	d.sessions.add(session)

	c.JSON(http.StatusOK, gin.H{
		"id":   session.ID,
		"type": answer.Type.String(),
		"sdp":  answer.SDP,
	})
}

func (d *Dashboard) handleWebRTCClose(c *gin.Context) {
	id := c.Param("sessionId")

	if !d.sessions.close(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Session closed",
		"id":      id,
	})
}
