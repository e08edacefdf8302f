package http

import (
	"github.com/gin-gonic/gin"

	"github.com/contoso-cloud/gmsa-provisioner/internal/api/http/handler"
	"github.com/contoso-cloud/gmsa-provisioner/internal/api/http/middleware"
	"github.com/contoso-cloud/gmsa-provisioner/internal/report"
)

const defaultTokenHeader = "X-Webhook-Token"

type Services struct {
	Provisioner handler.ProvisionService
	Tokens      middleware.TokenSource
	Reporter    *report.Reporter
}

func SetupRoute(engine *gin.Engine, config Config, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	tokenHeader := config.TokenHeader
	if tokenHeader == "" {
		tokenHeader = defaultTokenHeader
	}

	provisionHandler := handler.NewProvisionHandler(srvs.Provisioner, srvs.Reporter)
	engine.POST("/provision",
		middleware.WebhookToken(srvs.Tokens, tokenHeader, srvs.Reporter),
		provisionHandler.Provision)
}
