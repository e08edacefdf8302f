package report

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/contoso-cloud/gmsa-provisioner/internal/api/http/dto"
	"github.com/contoso-cloud/gmsa-provisioner/internal/provisioner"
)

// Sink receives every finished result for durable operational records.
// Satisfied by *audit.Store.
type Sink interface {
	Record(ctx context.Context, result provisioner.Result) error
}

// Reporter renders workflow results for the calling webhook engine and for
// operational logs. A nil sink disables the durable audit trail.
type Reporter struct {
	sink Sink
}

func NewReporter(sink Sink) *Reporter {
	return &Reporter{sink: sink}
}

// Report maps a result onto its HTTP status and response body, logs it, and
// hands it to the audit sink. Sink failures are logged and swallowed; the
// caller still gets the workflow outcome.
func (r *Reporter) Report(ctx context.Context, result provisioner.Result) (int, dto.ProvisionResponse) {
	resp := Render(result)

	switch result.Status {
	case provisioner.StatusSuccess:
		slog.Info("Provisioning succeeded",
			"account", result.AccountName,
			"dn", result.DistinguishedName,
			"guid", result.ObjectGUID)
	case provisioner.StatusAlreadyExists:
		slog.Info("Provisioning skipped, account exists",
			"account", result.AccountName,
			"dn", result.DistinguishedName)
	default:
		slog.Error("Provisioning failed",
			"account", result.AccountName,
			"kind", result.ErrorKind,
			"error", result.ErrorMessage)
	}

	if r.sink != nil {
		if err := r.sink.Record(ctx, result); err != nil {
			slog.Error("Failed to record audit entry", "account", result.AccountName, "error", err)
		}
	}

	return StatusCode(result), resp
}

// Render builds the outbound response body for a result.
func Render(result provisioner.Result) dto.ProvisionResponse {
	resp := dto.ProvisionResponse{
		Status:      string(result.Status),
		AccountName: result.AccountName,
		Timestamp:   result.Timestamp.UTC().Format(time.RFC3339),
	}

	switch result.Status {
	case provisioner.StatusSuccess:
		resp.DNSHostName = result.DNSHostName
		resp.DistinguishedName = result.DistinguishedName
		resp.SamAccountName = result.SamAccountName
		resp.ObjectGUID = result.ObjectGUID
		resp.Created = result.Created.UTC().Format(time.RFC3339)
		resp.Message = fmt.Sprintf("gMSA %s created successfully", result.AccountName)
	case provisioner.StatusAlreadyExists:
		resp.DistinguishedName = result.DistinguishedName
		resp.Message = fmt.Sprintf("gMSA %s already exists", result.AccountName)
	case provisioner.StatusFailed:
		resp.Error = string(result.ErrorKind)
		resp.ErrorDetails = result.ErrorMessage
	}

	return resp
}

// StatusCode maps a result onto the HTTP status returned to the webhook
// engine. Idempotent repeats report OK so redeliveries are not retried as
// failures.
func StatusCode(result provisioner.Result) int {
	switch result.Status {
	case provisioner.StatusSuccess, provisioner.StatusAlreadyExists:
		return http.StatusOK
	}

	switch result.ErrorKind {
	case provisioner.KindValidationError, provisioner.KindMalformedPayload:
		return http.StatusBadRequest
	case provisioner.KindUnauthorized:
		return http.StatusUnauthorized
	case provisioner.KindInvalidParameter:
		return http.StatusUnprocessableEntity
	case provisioner.KindCancelled:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}
