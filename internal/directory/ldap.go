package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// generalizedTimeFormat is the LDAP GeneralizedTime layout used by
// whenCreated and the KDS key effective-time attributes.
const generalizedTimeFormat = "20060102150405.0Z"

// rootKeyPropagationWindow is how long a new KDS root key takes to
// propagate to all domain controllers. An immediate-mode key is backdated
// by this much; a safe-mode key becomes effective this far in the future.
const rootKeyPropagationWindow = 10 * time.Hour

// Config holds the directory server settings.
type Config struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Security         string        `mapstructure:"security"` // "tls", "starttls" or "none"
	BaseDN           string        `mapstructure:"base_dn"`
	DefaultOU        string        `mapstructure:"default_ou"`
	Timeout          time.Duration `mapstructure:"timeout"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
	ImmediateRootKey bool          `mapstructure:"immediate_root_key"`
}

// LDAPConnector opens per-invocation LDAP connections bound with the
// admin credential fetched for that invocation.
type LDAPConnector struct {
	config Config
}

func NewLDAPConnector(config Config) *LDAPConnector {
	return &LDAPConnector{config: config}
}

// Connect dials the directory server and binds with the given credential.
// Dial and bind failures are both classified as ErrUnreachable.
func (c *LDAPConnector) Connect(ctx context.Context, username, password string) (Client, error) {
	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)

	var conn *ldap.Conn
	var err error

	switch c.config.Security {
	case "tls":
		conn, err = ldap.DialURL(fmt.Sprintf("ldaps://%s", addr), ldap.DialWithTLSConfig(&tls.Config{
			ServerName: c.config.Host,
		}))
	case "starttls":
		conn, err = ldap.DialURL(fmt.Sprintf("ldap://%s", addr))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		err = conn.StartTLS(&tls.Config{
			ServerName: c.config.Host,
		})
	default: // "none"
		conn, err = ldap.DialURL(fmt.Sprintf("ldap://%s", addr))
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if c.config.Timeout > 0 {
		conn.SetTimeout(c.config.Timeout)
	}

	if err := conn.Bind(username, password); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: admin bind failed: %v", ErrUnreachable, err)
	}

	return &ldapClient{conn: conn, config: c.config}, nil
}

type ldapClient struct {
	conn   *ldap.Conn
	config Config
}

func (c *ldapClient) Close() error {
	return c.conn.Close()
}

// Exists reports whether a gMSA with the given account name is present.
func (c *ldapClient) Exists(ctx context.Context, accountName string) (bool, error) {
	result, err := c.conn.Search(accountSearchRequest(c.config.BaseDN, accountName))
	if err != nil {
		return false, classify(err, "existence check")
	}
	return len(result.Entries) > 0, nil
}

// EnsureRootKey checks for a usable KDS root key and creates one if none
// exists. With ImmediateRootKey set the new key is backdated past the
// propagation window so provisioning can proceed at once; this is a
// test/demo posture. Otherwise the key becomes effective after the window
// and the caller must defer provisioning until then.
func (c *ldapClient) EnsureRootKey(ctx context.Context, keyID string) (RootKeyState, error) {
	filter := "(objectClass=msKds-ProvRootKey)"
	if keyID != "" {
		filter = fmt.Sprintf("(&(objectClass=msKds-ProvRootKey)(cn=%s))", ldap.EscapeFilter(keyID))
	}

	container := rootKeyContainer(c.config.BaseDN)
	result, err := c.conn.Search(ldap.NewSearchRequest(
		container,
		ldap.ScopeSingleLevel,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		filter,
		[]string{"cn", "msKds-UseStartTime"},
		nil,
	))
	if err != nil && !ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
		return RootKeyState{}, classify(err, "root key query")
	}

	if result != nil && len(result.Entries) > 0 {
		// A key created with a future effective time exists but must not
		// be used until the propagation window has passed.
		now := time.Now().UTC()
		for _, entry := range result.Entries {
			if rootKeyUsableAt(entry.GetAttributeValue("msKds-UseStartTime"), now) {
				return RootKeyState{Existed: true, Usable: true}, nil
			}
		}
		return RootKeyState{Existed: true, Usable: false}, nil
	}

	effective := time.Now().UTC().Add(rootKeyPropagationWindow)
	if c.config.ImmediateRootKey {
		effective = time.Now().UTC().Add(-rootKeyPropagationWindow)
	}

	add := rootKeyAddRequest(container, uuid.NewString(), effective)
	if err := c.conn.Add(add); err != nil {
		// A concurrent invocation won the creation race; its key serves,
		// with the same effective-time policy as ours.
		if ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) {
			return RootKeyState{Existed: true, Usable: c.config.ImmediateRootKey}, nil
		}
		return RootKeyState{}, classify(err, "root key creation")
	}

	return RootKeyState{Created: true, Usable: c.config.ImmediateRootKey}, nil
}

// CreateAccount adds the gMSA object. The returned ref carries only what
// is known before read-back; VerifyAccount supplies the directory-assigned
// identifiers.
func (c *ldapClient) CreateAccount(ctx context.Context, account Account) (*ObjectRef, error) {
	ou := account.OrganizationalUnit
	if ou == "" {
		ou = c.config.DefaultOU
	}
	if ou == "" {
		ou = "CN=Managed Service Accounts," + c.config.BaseDN
	}

	add := accountAddRequest(ou, account)
	if err := c.conn.Add(add); err != nil {
		return nil, classify(err, "account creation")
	}

	return &ObjectRef{
		DistinguishedName: add.DN,
		SamAccountName:    samAccountName(account.Name),
		Created:           time.Now().UTC(),
	}, nil
}

// VerifyAccount reads the account back and returns the directory-assigned
// identifiers, or ErrNotFound if the object is not yet readable.
func (c *ldapClient) VerifyAccount(ctx context.Context, accountName string) (*ObjectRef, error) {
	result, err := c.conn.Search(accountSearchRequest(c.config.BaseDN, accountName))
	if err != nil {
		return nil, classify(err, "account read-back")
	}
	if len(result.Entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, accountName)
	}

	entry := result.Entries[0]
	ref := &ObjectRef{
		DistinguishedName: entry.DN,
		SamAccountName:    entry.GetAttributeValue("sAMAccountName"),
		ObjectGUID:        guidFromBytes(entry.GetRawAttributeValue("objectGUID")),
	}
	if created, err := time.Parse(generalizedTimeFormat, entry.GetAttributeValue("whenCreated")); err == nil {
		ref.Created = created
	}
	return ref, nil
}

func accountSearchRequest(baseDN, accountName string) *ldap.SearchRequest {
	filter := fmt.Sprintf(
		"(&(objectClass=msDS-GroupManagedServiceAccount)(sAMAccountName=%s))",
		ldap.EscapeFilter(samAccountName(accountName)),
	)
	return ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		1,
		0,
		false,
		filter,
		[]string{"dn", "sAMAccountName", "objectGUID", "whenCreated", "dNSHostName"},
		nil,
	)
}

// accountAddRequest builds the creation request. Blank optional fields are
// not added as attributes at all.
func accountAddRequest(ou string, account Account) *ldap.AddRequest {
	dn := fmt.Sprintf("CN=%s,%s", account.Name, ou)
	add := ldap.NewAddRequest(dn, nil)

	add.Attribute("objectClass", []string{
		"top", "person", "organizationalPerson", "user", "computer",
		"msDS-GroupManagedServiceAccount",
	})
	add.Attribute("cn", []string{account.Name})
	add.Attribute("sAMAccountName", []string{samAccountName(account.Name)})
	add.Attribute("dNSHostName", []string{account.DNSHostName})
	add.Attribute("msDS-ManagedPasswordInterval", []string{"30"})
	// WORKSTATION_TRUST_ACCOUNT
	add.Attribute("userAccountControl", []string{"4096"})

	if account.Description != "" {
		add.Attribute("description", []string{account.Description})
	}
	if len(account.ServicePrincipalNames) > 0 {
		add.Attribute("servicePrincipalName", account.ServicePrincipalNames)
	}
	if len(account.PrincipalsAllowedToRetrieve) > 0 {
		add.Attribute("msDS-GroupMSAMembership", account.PrincipalsAllowedToRetrieve)
	}

	return add
}

func rootKeyAddRequest(container, keyID string, effective time.Time) *ldap.AddRequest {
	dn := fmt.Sprintf("CN=%s,%s", keyID, container)
	add := ldap.NewAddRequest(dn, nil)
	add.Attribute("objectClass", []string{"msKds-ProvRootKey"})
	add.Attribute("cn", []string{keyID})
	add.Attribute("msKds-KDFAlgorithmID", []string{"SP800_108_CTR_HMAC"})
	add.Attribute("msKds-UseStartTime", []string{effective.Format(generalizedTimeFormat)})
	add.Attribute("msKds-CreateTime", []string{time.Now().UTC().Format(generalizedTimeFormat)})
	return add
}

// rootKeyUsableAt reports whether a root key with the given
// msKds-UseStartTime value is effective at the reference time. Keys
// without a parseable start time are assumed to predate this service and
// to have propagated already.
func rootKeyUsableAt(useStartTime string, now time.Time) bool {
	if useStartTime == "" {
		return true
	}
	effective, err := time.Parse(generalizedTimeFormat, useStartTime)
	if err != nil {
		return true
	}
	return !effective.After(now)
}

func rootKeyContainer(baseDN string) string {
	return "CN=Master Root Keys,CN=Group Key Distribution Service,CN=Services,CN=Configuration," + baseDN
}

// samAccountName derives the SAM name for a gMSA, which carries a trailing
// dollar sign like computer accounts.
func samAccountName(accountName string) string {
	if strings.HasSuffix(accountName, "$") {
		return accountName
	}
	return accountName + "$"
}

// guidFromBytes renders the objectGUID attribute, stored by the directory
// with the first three fields little-endian, as a canonical UUID string.
func guidFromBytes(raw []byte) string {
	if len(raw) != 16 {
		return ""
	}
	var b [16]byte
	copy(b[:], raw)
	b[0], b[1], b[2], b[3] = raw[3], raw[2], raw[1], raw[0]
	b[4], b[5] = raw[5], raw[4]
	b[6], b[7] = raw[7], raw[6]
	u, err := uuid.FromBytes(b[:])
	if err != nil {
		return ""
	}
	return u.String()
}

// classify maps LDAP result codes onto the package error taxonomy so the
// workflow can tell an idempotency race from a real failure.
func classify(err error, op string) error {
	switch {
	case ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists):
		return fmt.Errorf("%w: %s: %v", ErrAlreadyExists, op, err)
	case ldap.IsErrorWithCode(err, ldap.LDAPResultInsufficientAccessRights):
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, op, err)
	case ldap.IsErrorWithCode(err, ldap.LDAPResultConstraintViolation),
		ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidAttributeSyntax),
		ldap.IsErrorWithCode(err, ldap.LDAPResultNamingViolation),
		ldap.IsErrorWithCode(err, ldap.LDAPResultObjectClassViolation),
		ldap.IsErrorWithCode(err, ldap.LDAPResultUndefinedAttributeType):
		return fmt.Errorf("%w: %s: %v", ErrInvalidParameter, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, op, err)
	}
}
