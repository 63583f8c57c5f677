// Package directory is the registry of known peer providers.
//
// A provider is identified by its endpoint URL; uuid and domain are
// optional secondary keys that stay unique when present. Lookups by several
// keys are ANDed, and a lookup that matches more than one row is reported
// as not found rather than guessed.
package directory

import (
	"time"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/apperr"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/store"
)

func init() {
	store.RegisterModel(&Provider{})
}

// Error codes.
const (
	CodeProviderNotFound = "MESH_REGISTRY_PROVIDER_NOT_FOUND"
	CodeProviderExists   = "MESH_REGISTRY_ADD_PROVIDER_EXISTS_ERROR"
	CodeIdentityTaken    = "MESH_REGISTRY_PROVIDER_IDENTITY_EXISTS_ERROR"
	CodeEndpointInvalid  = "MESH_REGISTRY_ENDPOINT_INVALID"
	CodeDomainInvalid    = "MESH_REGISTRY_DOMAIN_INVALID"
	CodeNameMissing      = "MESH_REGISTRY_PROVIDER_NAME_MISSING"
	CodeNotRemote        = "SETTINGS_ADD_PROVIDER_IS_NOT_REMOTE_ERROR"
	CodePeerUnreachable  = "MESH_REGISTRY_PEER_UNREACHABLE"
	CodePeerInvalid      = "MESH_REGISTRY_ENDPOINT_INVITATION_SERVICE_PROVIDER_RESPONSE_INVALID"
	CodeStorage          = "MESH_REGISTRY_STORAGE_ERROR"
)

var (
	ErrNotFound  = apperr.NotFound(CodeProviderNotFound, "provider not found")
	ErrDuplicate = apperr.Conflict(CodeProviderExists, "provider already registered")
)

// Provider is a peer (or this instance) as recorded in the directory.
type Provider struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	UUID      string    `json:"uuid,omitempty" gorm:"index"`
	Domain    string    `json:"domain,omitempty" gorm:"index"`
	Endpoint  string    `json:"endpoint" gorm:"uniqueIndex;not null"`
	Name      string    `json:"name"`
	Self      bool      `json:"self,omitempty" gorm:"column:is_self"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Provider) TableName() string { return "providers" }

// Criteria selects providers. Empty fields are ignored; set fields must all match.
type Criteria struct {
	UUID     string
	Domain   string
	Endpoint string
}

func (c Criteria) empty() bool {
	return c.UUID == "" && c.Domain == "" && c.Endpoint == ""
}

// ProviderUpdate lists the fields Update may change. Nil means unchanged.
type ProviderUpdate struct {
	Name   *string
	UUID   *string
	Domain *string
}

// SelfDescription is the document a provider serves at
// {endpoint}/mesh-registry/provider.
type SelfDescription struct {
	UUID     string `json:"uuid"`
	Domain   string `json:"domain"`
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
}

// Service names a capability a provider offers.
type Service struct {
	Name string `json:"name"`
}

// Services a provider of this kind offers, served at
// {endpoint}/mesh-registry/provider/services.
var Services = []Service{
	{Name: "INVITATION_SERVICE"},
	{Name: "MESH_REGISTRY_SERVICE"},
}

// ServiceList is the document listing a provider's services.
type ServiceList struct {
	Services []Service `json:"services"`
}

// Record converts a self-description into a directory record.
func (s SelfDescription) Record() Provider {
	return Provider{UUID: s.UUID, Domain: s.Domain, Name: s.Name, Endpoint: s.Endpoint}
}
