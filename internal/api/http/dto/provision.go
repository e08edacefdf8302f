package dto

// ProvisionRequest mirrors the inbound webhook payload. Unknown fields are
// ignored; required-field validation happens after binding so a missing
// field is reported as ValidationError rather than a bind failure.
type ProvisionRequest struct {
	AccountName                 string   `json:"AccountName"`
	DNSHostName                 string   `json:"DNSHostName"`
	PrincipalsAllowedToRetrieve []string `json:"PrincipalsAllowedToRetrieve"`
	Description                 string   `json:"Description"`
	ServicePrincipalNames       []string `json:"ServicePrincipalNames"`
	OrganizationalUnit          string   `json:"OrganizationalUnit"`
	KdsRootKeyId                string   `json:"KdsRootKeyId"`
}

// ProvisionResponse is the outbound report. Field presence depends on the
// Status variant; Timestamp is always set.
type ProvisionResponse struct {
	Status            string `json:"Status"`
	AccountName       string `json:"AccountName,omitempty"`
	DNSHostName       string `json:"DNSHostName,omitempty"`
	DistinguishedName string `json:"DistinguishedName,omitempty"`
	SamAccountName    string `json:"SamAccountName,omitempty"`
	ObjectGUID        string `json:"ObjectGUID,omitempty"`
	Created           string `json:"Created,omitempty"`
	Message           string `json:"Message,omitempty"`
	Error             string `json:"Error,omitempty"`
	ErrorDetails      string `json:"ErrorDetails,omitempty"`
	Timestamp         string `json:"Timestamp"`
}
