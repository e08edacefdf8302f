package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/contoso-cloud/gmsa-provisioner/internal/api/http/dto"
	"github.com/contoso-cloud/gmsa-provisioner/internal/provisioner"
	"github.com/contoso-cloud/gmsa-provisioner/internal/report"
)

// ProvisionService runs one provisioning invocation. Satisfied by
// *provisioner.Service.
type ProvisionService interface {
	Provision(ctx context.Context, req provisioner.Request) provisioner.Result
}

type ProvisionHandler struct {
	service  ProvisionService
	reporter *report.Reporter
}

func NewProvisionHandler(service ProvisionService, reporter *report.Reporter) *ProvisionHandler {
	return &ProvisionHandler{
		service:  service,
		reporter: reporter,
	}
}

// Provision accepts the inbound webhook POST, validates the payload and
// runs the workflow. Parse and validation failures are reported without
// touching the secret store or the directory.
// POST /provision
func (h *ProvisionHandler) Provision(c *gin.Context) {
	var req dto.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respond(c, provisioner.FailedResult("",
			provisioner.KindMalformedPayload, "request body is not valid JSON: "+err.Error()))
		return
	}

	if strings.TrimSpace(req.AccountName) == "" {
		h.respond(c, provisioner.FailedResult(req.AccountName,
			provisioner.KindValidationError, "AccountName is required"))
		return
	}
	if strings.TrimSpace(req.DNSHostName) == "" {
		h.respond(c, provisioner.FailedResult(req.AccountName,
			provisioner.KindValidationError, "DNSHostName is required"))
		return
	}

	result := h.service.Provision(c.Request.Context(), provisioner.Request{
		AccountName:                 req.AccountName,
		DNSHostName:                 req.DNSHostName,
		PrincipalsAllowedToRetrieve: req.PrincipalsAllowedToRetrieve,
		Description:                 req.Description,
		ServicePrincipalNames:       req.ServicePrincipalNames,
		OrganizationalUnit:          req.OrganizationalUnit,
		KdsRootKeyID:                req.KdsRootKeyId,
	})

	h.respond(c, result)
}

func (h *ProvisionHandler) respond(c *gin.Context, result provisioner.Result) {
	status, body := h.reporter.Report(c.Request.Context(), result)
	c.JSON(status, body)
}
