package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/transcript-relay/internal/api/dto"
	"github.com/cuongbtq/transcript-relay/internal/callback"
)

// ReceiveTranscript handles POST /api/v1/callbacks/transcripts
// The body is read raw so the signature is checked over the exact bytes sent
func (h *CallbackHandler) ReceiveTranscript(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Callback body too large",
			})
			return
		}
		h.logger.Error("Failed to read callback body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read request body",
		})
		return
	}

	out := h.callbacks.Handle(c.Request.Context(), raw, c.GetHeader(h.signatureHeader))
	if out.Result == callback.Rejected {
		respondError(c, out.Err, "Callback rejected")
		return
	}

	c.JSON(http.StatusOK, dto.CallbackResponse{
		Result: string(out.Result),
		JobID:  out.JobID,
		State:  out.State.String(),
	})
}
