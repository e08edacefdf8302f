package provisioner

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/contoso-cloud/gmsa-provisioner/internal/directory"
	"github.com/contoso-cloud/gmsa-provisioner/internal/secrets"
)

// CredentialSource yields the directory admin credential for one
// invocation. Satisfied by *secrets.Broker.
type CredentialSource interface {
	FetchDirectoryCredential(ctx context.Context) (secrets.Credential, error)
}

// Service runs the provisioning workflow: credential fetch, existence
// check, root key bootstrap, creation and verification, in that order,
// with no internal retries. Every invocation is self-contained; the only
// state the service holds is its collaborators.
type Service struct {
	credentials CredentialSource
	connector   directory.Connector
	settleDelay time.Duration
}

func NewService(credentials CredentialSource, connector directory.Connector, settleDelay time.Duration) *Service {
	return &Service{
		credentials: credentials,
		connector:   connector,
		settleDelay: settleDelay,
	}
}

// Provision executes one pass of the workflow and always returns exactly
// one Result; step failures are folded into a Failed result rather than
// surfaced as errors.
func (s *Service) Provision(ctx context.Context, req Request) Result {
	if kind, msg, ok := validate(req); !ok {
		return FailedResult(req.AccountName, kind, msg)
	}

	cred, err := s.credentials.FetchDirectoryCredential(ctx)
	if err != nil {
		slog.Error("Credential fetch failed", "account", req.AccountName, "error", err)
		return FailedResult(req.AccountName, KindCredentialUnavailable, err.Error())
	}

	client, err := s.connector.Connect(ctx, cred.Username, cred.Password)
	if err != nil {
		slog.Error("Directory connection failed", "account", req.AccountName, "error", err)
		return FailedResult(req.AccountName, KindDirectoryUnreachable, err.Error())
	}
	defer client.Close()

	exists, err := client.Exists(ctx, req.AccountName)
	if err != nil {
		return s.failed(req, err)
	}
	if exists {
		slog.Info("Account already exists, nothing to do", "account", req.AccountName)
		return AlreadyExistsResult(req, s.lookupDN(ctx, client, req.AccountName))
	}

	// Last point where the caller's withdrawal is honored. Once the
	// create is issued the workflow runs verification to completion so
	// the report cannot disagree with actual directory state.
	if ctx.Err() != nil {
		return FailedResult(req.AccountName, KindCancelled, ctx.Err().Error())
	}

	keyState, err := client.EnsureRootKey(ctx, req.KdsRootKeyID)
	if err != nil {
		return s.failed(req, err)
	}
	if !keyState.Usable {
		slog.Warn("KDS root key not yet effective, provisioning deferred",
			"account", req.AccountName, "created", keyState.Created)
		return FailedResult(req.AccountName, KindRootKeyNotReady,
			"KDS root key is not yet effective; retry after the propagation window")
	}
	if keyState.Created {
		slog.Info("KDS root key created", "account", req.AccountName)
	}

	postCreate := context.WithoutCancel(ctx)

	created, err := client.CreateAccount(ctx, directory.Account{
		Name:                        req.AccountName,
		DNSHostName:                 req.DNSHostName,
		Description:                 req.Description,
		PrincipalsAllowedToRetrieve: req.PrincipalsAllowedToRetrieve,
		ServicePrincipalNames:       req.ServicePrincipalNames,
		OrganizationalUnit:          req.OrganizationalUnit,
	})
	if err != nil {
		// A concurrent invocation for the same name won the creation
		// race; the directory's uniqueness constraint is the source of
		// truth, so the loser observes the same outcome as a repeat call.
		if errors.Is(err, directory.ErrAlreadyExists) {
			slog.Info("Account created concurrently elsewhere", "account", req.AccountName)
			return AlreadyExistsResult(req, s.lookupDN(postCreate, client, req.AccountName))
		}
		return s.failed(req, err)
	}

	// The directory backend is eventually consistent; give the new object
	// a moment to become readable before the strict read-back.
	if s.settleDelay > 0 {
		time.Sleep(s.settleDelay)
	}

	verified, err := client.VerifyAccount(postCreate, req.AccountName)
	if err != nil {
		slog.Error("Account created but read-back failed", "account", req.AccountName,
			"dn", created.DistinguishedName, "error", err)
		return FailedResult(req.AccountName, KindVerificationFailed, err.Error())
	}

	slog.Info("Account provisioned",
		"account", req.AccountName,
		"dn", verified.DistinguishedName,
		"guid", verified.ObjectGUID)

	return SuccessResult(req, verified.DistinguishedName, verified.SamAccountName,
		verified.ObjectGUID, verified.Created)
}

// lookupDN fetches the distinguished name of an existing account for the
// AlreadyExists report. Best effort; an empty DN is acceptable.
func (s *Service) lookupDN(ctx context.Context, client directory.Client, accountName string) string {
	ref, err := client.VerifyAccount(ctx, accountName)
	if err != nil {
		return ""
	}
	return ref.DistinguishedName
}

func (s *Service) failed(req Request, err error) Result {
	return FailedResult(req.AccountName, classifyKind(err), err.Error())
}

func classifyKind(err error) ErrorKind {
	switch {
	case errors.Is(err, directory.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, directory.ErrInvalidParameter):
		return KindInvalidParameter
	case errors.Is(err, directory.ErrNotFound):
		return KindVerificationFailed
	default:
		return KindDirectoryUnreachable
	}
}

// validate enforces the required-field invariant before any remote call is
// made. Missing fields are never silently defaulted.
func validate(req Request) (ErrorKind, string, bool) {
	if strings.TrimSpace(req.AccountName) == "" {
		return KindValidationError, "AccountName is required", false
	}
	if strings.TrimSpace(req.DNSHostName) == "" {
		return KindValidationError, "DNSHostName is required", false
	}
	return "", "", true
}
