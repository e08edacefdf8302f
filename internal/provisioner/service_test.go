package provisioner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contoso-cloud/gmsa-provisioner/internal/directory"
	"github.com/contoso-cloud/gmsa-provisioner/internal/secrets"
)

type fakeCreds struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCreds) FetchDirectoryCredential(ctx context.Context) (secrets.Credential, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return secrets.Credential{}, f.err
	}
	return secrets.Credential{Username: "CONTOSO\\svc-admin", Password: "hunter2"}, nil
}

// fakeDirectory simulates the remote directory: shared across concurrent
// invocations, uniqueness enforced under a mutex like the real server.
type fakeDirectory struct {
	mu       sync.Mutex
	accounts map[string]*directory.ObjectRef
	rootKeys int

	immediateRootKey bool
	// an existing key whose effective time is still in the future
	rootKeyNotYetEffective bool

	connectCalls   int
	existsCalls    int
	rootKeyCreates int
	createCalls    int
	verifyCalls    int

	connectErr error
	existsErr  error
	createErr  error
	verifyMiss bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		accounts:         make(map[string]*directory.ObjectRef),
		immediateRootKey: true,
	}
}

func (d *fakeDirectory) Connect(ctx context.Context, username, password string) (directory.Client, error) {
	d.mu.Lock()
	d.connectCalls++
	d.mu.Unlock()
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	return &fakeClient{dir: d}, nil
}

type fakeClient struct {
	dir *fakeDirectory
}

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) Exists(ctx context.Context, accountName string) (bool, error) {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	c.dir.existsCalls++
	if c.dir.existsErr != nil {
		return false, c.dir.existsErr
	}
	_, ok := c.dir.accounts[accountName]
	return ok, nil
}

func (c *fakeClient) EnsureRootKey(ctx context.Context, keyID string) (directory.RootKeyState, error) {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	if c.dir.rootKeys > 0 {
		return directory.RootKeyState{Existed: true, Usable: !c.dir.rootKeyNotYetEffective}, nil
	}
	c.dir.rootKeyCreates++
	c.dir.rootKeys = 1
	return directory.RootKeyState{Created: true, Usable: c.dir.immediateRootKey}, nil
}

func (c *fakeClient) CreateAccount(ctx context.Context, account directory.Account) (*directory.ObjectRef, error) {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	c.dir.createCalls++
	if c.dir.createErr != nil {
		return nil, c.dir.createErr
	}
	if _, ok := c.dir.accounts[account.Name]; ok {
		return nil, fmt.Errorf("%w: %s", directory.ErrAlreadyExists, account.Name)
	}
	ref := &directory.ObjectRef{
		DistinguishedName: fmt.Sprintf("CN=%s,CN=Managed Service Accounts,DC=contoso,DC=com", account.Name),
		SamAccountName:    account.Name + "$",
		ObjectGUID:        "8a7b6c5d-1e2f-4a3b-9c8d-7e6f5a4b3c2d",
		Created:           time.Now().UTC(),
	}
	c.dir.accounts[account.Name] = ref
	return ref, nil
}

func (c *fakeClient) VerifyAccount(ctx context.Context, accountName string) (*directory.ObjectRef, error) {
	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()
	c.dir.verifyCalls++
	if c.dir.verifyMiss {
		return nil, fmt.Errorf("%w: %s", directory.ErrNotFound, accountName)
	}
	ref, ok := c.dir.accounts[accountName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", directory.ErrNotFound, accountName)
	}
	return ref, nil
}

func validRequest() Request {
	return Request{
		AccountName: "gmsa-app-service",
		DNSHostName: "appserver.contoso.com",
	}
}

func TestProvisionMissingAccountName(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	svc := NewService(creds, dir, 0)

	result := svc.Provision(context.Background(), Request{DNSHostName: "appserver.contoso.com"})

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, KindValidationError, result.ErrorKind)
	assert.Equal(t, 0, creds.calls)
	assert.Equal(t, 0, dir.connectCalls)
}

func TestProvisionMissingDNSHostName(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	svc := NewService(creds, dir, 0)

	result := svc.Provision(context.Background(), Request{AccountName: "gmsa-app-service"})

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, KindValidationError, result.ErrorKind)
	assert.Equal(t, 0, creds.calls)
	assert.Equal(t, 0, dir.connectCalls)
}

func TestProvisionBlankFieldsNotDefaulted(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	svc := NewService(creds, dir, 0)

	result := svc.Provision(context.Background(), Request{AccountName: "   ", DNSHostName: "appserver.contoso.com"})

	assert.Equal(t, KindValidationError, result.ErrorKind)
	assert.Equal(t, 0, creds.calls)
}

func TestProvisionSuccess(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	svc := NewService(creds, dir, 0)

	result := svc.Provision(context.Background(), validRequest())

	require.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "gmsa-app-service", result.AccountName)
	assert.Equal(t, "appserver.contoso.com", result.DNSHostName)
	assert.NotEmpty(t, result.DistinguishedName)
	assert.Equal(t, "gmsa-app-service$", result.SamAccountName)
	assert.NotEmpty(t, result.ObjectGUID)
	assert.False(t, result.Created.IsZero())
	assert.False(t, result.Timestamp.IsZero())

	assert.Equal(t, 1, creds.calls)
	assert.Equal(t, 1, dir.createCalls)
	assert.Equal(t, 1, dir.rootKeyCreates)
}

func TestProvisionIdempotent(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	svc := NewService(creds, dir, 0)

	first := svc.Provision(context.Background(), validRequest())
	second := svc.Provision(context.Background(), validRequest())

	assert.Equal(t, StatusSuccess, first.Status)
	assert.Equal(t, StatusAlreadyExists, second.Status)
	assert.NotEmpty(t, second.DistinguishedName)
	assert.Equal(t, 1, dir.createCalls)
}

func TestRootKeyCreatedOnceBeforeAccount(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	svc := NewService(creds, dir, 0)

	svc.Provision(context.Background(), validRequest())
	svc.Provision(context.Background(), Request{AccountName: "gmsa-other", DNSHostName: "other.contoso.com"})

	assert.Equal(t, 1, dir.rootKeyCreates)
	assert.Equal(t, 2, dir.createCalls)
}

func TestRootKeyExistingSkipsCreation(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	dir.rootKeys = 1
	svc := NewService(creds, dir, 0)

	result := svc.Provision(context.Background(), validRequest())

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 0, dir.rootKeyCreates)
}

func TestRootKeySafeModeDefersProvisioning(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	dir.immediateRootKey = false
	svc := NewService(creds, dir, 0)

	result := svc.Provision(context.Background(), validRequest())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, KindRootKeyNotReady, result.ErrorKind)
	assert.Equal(t, 1, dir.rootKeyCreates)
	assert.Equal(t, 0, dir.createCalls)
}

func TestRootKeyExistingButNotYetEffective(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	dir.rootKeys = 1
	dir.rootKeyNotYetEffective = true
	svc := NewService(creds, dir, 0)

	result := svc.Provision(context.Background(), validRequest())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, KindRootKeyNotReady, result.ErrorKind)
	assert.Equal(t, 0, dir.rootKeyCreates, "a pending key must not trigger another creation")
	assert.Equal(t, 0, dir.createCalls, "provisioning must wait out the propagation window")
}

func TestConcurrentSameNameOneWinner(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	svc := NewService(creds, dir, 0)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Provision(context.Background(), validRequest())
		}(i)
	}
	wg.Wait()

	statuses := map[Status]int{}
	for _, r := range results {
		statuses[r.Status]++
	}
	assert.Equal(t, 1, statuses[StatusSuccess], "exactly one invocation should win")
	assert.Equal(t, 1, statuses[StatusAlreadyExists], "the loser must observe AlreadyExists, not Failed")
}

func TestVerificationGate(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	dir.verifyMiss = true
	svc := NewService(creds, dir, 0)

	result := svc.Provision(context.Background(), validRequest())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, KindVerificationFailed, result.ErrorKind)
	assert.Equal(t, 1, dir.createCalls, "create did run; success must still be withheld")
}

func TestCredentialUnavailable(t *testing.T) {
	creds := &fakeCreds{err: fmt.Errorf("%w: vault unreachable", secrets.ErrCredentialUnavailable)}
	dir := newFakeDirectory()
	svc := NewService(creds, dir, 0)

	result := svc.Provision(context.Background(), validRequest())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, KindCredentialUnavailable, result.ErrorKind)
	assert.Equal(t, 0, dir.connectCalls)
}

func TestDirectoryUnreachable(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	dir.connectErr = fmt.Errorf("%w: dial tcp: connection refused", directory.ErrUnreachable)
	svc := NewService(creds, dir, 0)

	result := svc.Provision(context.Background(), validRequest())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, KindDirectoryUnreachable, result.ErrorKind)
}

func TestCancelledBeforeCreate(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	svc := NewService(creds, dir, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := svc.Provision(ctx, validRequest())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, KindCancelled, result.ErrorKind)
	assert.Equal(t, 0, dir.createCalls)
}

func TestCreateRaceReclassifiedAsAlreadyExists(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	dir.createErr = fmt.Errorf("%w: simulated race loser", directory.ErrAlreadyExists)
	svc := NewService(creds, dir, 0)

	result := svc.Provision(context.Background(), validRequest())

	assert.Equal(t, StatusAlreadyExists, result.Status)
	assert.Empty(t, result.ErrorKind)
}

func TestCreatePermissionDenied(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	dir.createErr = fmt.Errorf("%w: insufficient rights", directory.ErrPermissionDenied)
	svc := NewService(creds, dir, 0)

	result := svc.Provision(context.Background(), validRequest())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, KindPermissionDenied, result.ErrorKind)
}

func TestCreateInvalidParameter(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	dir.createErr = fmt.Errorf("%w: bad attribute", directory.ErrInvalidParameter)
	svc := NewService(creds, dir, 0)

	result := svc.Provision(context.Background(), validRequest())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, KindInvalidParameter, result.ErrorKind)
}

func TestExistenceCheckFailure(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	dir.existsErr = fmt.Errorf("%w: search timed out", directory.ErrUnreachable)
	svc := NewService(creds, dir, 0)

	result := svc.Provision(context.Background(), validRequest())

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, KindDirectoryUnreachable, result.ErrorKind)
	assert.Equal(t, 0, dir.createCalls)
}

func TestCredentialsRefetchedEveryInvocation(t *testing.T) {
	creds := &fakeCreds{}
	dir := newFakeDirectory()
	svc := NewService(creds, dir, 0)

	svc.Provision(context.Background(), validRequest())
	svc.Provision(context.Background(), validRequest())

	assert.Equal(t, 2, creds.calls)
}
