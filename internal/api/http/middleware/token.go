package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/contoso-cloud/gmsa-provisioner/internal/provisioner"
	"github.com/contoso-cloud/gmsa-provisioner/internal/report"
)

// TokenSource yields the expected shared webhook token, or an empty string
// when token checking is not configured. Satisfied by *secrets.Broker.
type TokenSource interface {
	FetchWebhookToken(ctx context.Context) (string, error)
}

// WebhookToken rejects requests whose token header does not match the
// shared token held in the secret store. The check runs before the payload
// is parsed. When no token secret is configured the check is skipped.
func WebhookToken(source TokenSource, header string, reporter *report.Reporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		expected, err := source.FetchWebhookToken(c.Request.Context())
		if err != nil {
			slog.Error("Failed to fetch webhook token", "error", err)
			abortWithResult(c, reporter, provisioner.FailedResult("",
				provisioner.KindCredentialUnavailable, "webhook token could not be fetched"))
			return
		}

		if expected == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(header)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			slog.Warn("Webhook token mismatch",
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			abortWithResult(c, reporter, provisioner.FailedResult("",
				provisioner.KindUnauthorized, "webhook token missing or invalid"))
			return
		}

		c.Next()
	}
}

func abortWithResult(c *gin.Context, reporter *report.Reporter, result provisioner.Result) {
	status, body := reporter.Report(c.Request.Context(), result)
	c.AbortWithStatusJSON(status, body)
}
