package directory

import (
	"context"
	"time"
)

// ObjectRef identifies a directory object returned by a read or create
// operation.
type ObjectRef struct {
	DistinguishedName string
	SamAccountName    string
	ObjectGUID        string
	Created           time.Time
}

// RootKeyState reports the outcome of EnsureRootKey. A key created with a
// future effective time exists but is not yet usable for gMSA provisioning.
type RootKeyState struct {
	Existed bool
	Created bool
	Usable  bool
}

// Account is the creation parameter set for a group managed service account.
// Optional fields left blank are omitted from the directory request entirely;
// the directory treats an explicitly empty attribute differently from an
// absent one. The root key id is not part of the parameter set; it only
// scopes EnsureRootKey.
type Account struct {
	Name                        string
	DNSHostName                 string
	Description                 string
	PrincipalsAllowedToRetrieve []string
	ServicePrincipalNames       []string
	OrganizationalUnit          string
}

// Client exposes the directory operations needed by one provisioning
// invocation. Implementations are bound to an already-fetched admin
// credential and are not safe for reuse across invocations.
type Client interface {
	Exists(ctx context.Context, accountName string) (bool, error)
	EnsureRootKey(ctx context.Context, keyID string) (RootKeyState, error)
	CreateAccount(ctx context.Context, account Account) (*ObjectRef, error)
	VerifyAccount(ctx context.Context, accountName string) (*ObjectRef, error)
	Close() error
}

// Connector opens a Client authenticated with the given admin credential.
// Each workflow invocation connects, runs its steps, and closes; no
// connection state survives across invocations.
type Connector interface {
	Connect(ctx context.Context, username, password string) (Client, error)
}
