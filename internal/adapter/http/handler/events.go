package handler

import (
	"time"

	"ledger-mirror/internal/adapter/http/dto"

	"github.com/gin-gonic/gin"
)

// sseHeartbeat keeps idle proxies from closing the stream.
var sseHeartbeat = 15 * time.Second

// StreamEvents handles GET /api/v1/events. It writes the full view once, then
// again after every state change, as Server-Sent Events. Changes that happen
// while a write is in progress coalesce into one event.
func (h *MirrorHandler) StreamEvents(c *gin.Context) {
	updates, cancel := h.svc.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("view", dto.NewViewResponse(h.svc.View()))
	c.Writer.Flush()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			c.SSEvent("view", dto.NewViewResponse(h.svc.View()))
		case t := <-ticker.C:
			c.SSEvent("ping", t.Unix())
		}
		c.Writer.Flush()
	}
}
