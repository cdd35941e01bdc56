package handler

import (
	"FetchVault/internal/events"
	"FetchVault/internal/service"
	"FetchVault/utils"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// StreamTaskEvents serves the live event stream of one task over SSE.
// The subscription opens with a snapshot, replays a retained terminal
// event when the task already finished, then tails live events with
// periodic heartbeats.
func StreamTaskEvents(c *gin.Context) {
	taskID := c.Param("id")
	token := c.Query("token")
	if token == "" {
		utils.FailStatus(c, http.StatusUnauthorized, errors.New("missing token"))
		return
	}
	if _, err := utils.VerifyStreamToken(c.Request.Context(), token, taskID); err != nil {
		utils.FailStatus(c, http.StatusUnauthorized, err)
		return
	}
	if _, err := service.FindTask(taskID); err != nil {
		failServiceError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sub := events.Subscribe(c.Request.Context(), taskID, func(ctx context.Context) (events.Event, error) {
		return service.Snapshot(ctx, taskID)
	})
	defer sub.Close()

	c.Stream(func(w io.Writer) bool {
		event, ok := <-sub.Events
		if !ok {
			return false
		}
		c.SSEvent(strings.ToLower(event.Type), event)
		return true
	})
}
