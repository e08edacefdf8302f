package provisioner

import "time"

// Request is the validated provisioning input. AccountName and DNSHostName
// are required; everything else is optional and omitted from the directory
// request when blank.
type Request struct {
	AccountName                 string
	DNSHostName                 string
	PrincipalsAllowedToRetrieve []string
	Description                 string
	ServicePrincipalNames       []string
	OrganizationalUnit          string
	KdsRootKeyID                string
}

type Status string

const (
	StatusSuccess       Status = "Success"
	StatusAlreadyExists Status = "AlreadyExists"
	StatusFailed        Status = "Failed"
)

// ErrorKind classifies why an invocation failed. AlreadyExists is not an
// error kind; it is a terminal success-adjacent status of its own.
type ErrorKind string

const (
	KindValidationError       ErrorKind = "ValidationError"
	KindMalformedPayload      ErrorKind = "MalformedPayload"
	KindUnauthorized          ErrorKind = "Unauthorized"
	KindCredentialUnavailable ErrorKind = "CredentialUnavailable"
	KindDirectoryUnreachable  ErrorKind = "DirectoryUnreachable"
	KindPermissionDenied      ErrorKind = "PermissionDenied"
	KindInvalidParameter      ErrorKind = "InvalidParameter"
	KindVerificationFailed    ErrorKind = "VerificationFailed"
	KindRootKeyNotReady       ErrorKind = "RootKeyNotReady"
	KindCancelled             ErrorKind = "Cancelled"
)

// Result is the single outcome of one invocation. It is assembled once at
// the end of the workflow from local step outcomes and never mutated.
type Result struct {
	Status            Status
	AccountName       string
	DNSHostName       string
	DistinguishedName string
	SamAccountName    string
	ObjectGUID        string
	Created           time.Time
	ErrorKind         ErrorKind
	ErrorMessage      string
	Timestamp         time.Time
}

func SuccessResult(req Request, dn, sam, guid string, created time.Time) Result {
	return Result{
		Status:            StatusSuccess,
		AccountName:       req.AccountName,
		DNSHostName:       req.DNSHostName,
		DistinguishedName: dn,
		SamAccountName:    sam,
		ObjectGUID:        guid,
		Created:           created,
		Timestamp:         time.Now().UTC(),
	}
}

func AlreadyExistsResult(req Request, dn string) Result {
	return Result{
		Status:            StatusAlreadyExists,
		AccountName:       req.AccountName,
		DistinguishedName: dn,
		Timestamp:         time.Now().UTC(),
	}
}

func FailedResult(accountName string, kind ErrorKind, message string) Result {
	return Result{
		Status:       StatusFailed,
		AccountName:  accountName,
		ErrorKind:    kind,
		ErrorMessage: message,
		Timestamp:    time.Now().UTC(),
	}
}
