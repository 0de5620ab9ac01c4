package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/homecare/internal/payment/domain"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20

// HandlePaymentWebhook acknowledges every delivery it can settle. Only an unreachable
// gateway answers with an error so the provider redelivers.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		// A truncated body is not trusted; the payment id still resolves from the query string.
		s.log.Warn("payment webhook body unreadable",
			zap.String("provider", c.Param("provider")),
			zap.Error(err),
		)
		payload = nil
	}

	result, err := s.notifications.HandleNotification(c.Request.Context(), paymentdomain.Notification{
		Provider: strings.TrimSpace(c.Param("provider")),
		Payload:  payload,
		Headers:  c.Request.Header,
		Query:    c.Request.URL.Query(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": result.Outcome})
}
