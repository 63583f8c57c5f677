package wellknown

import (
	"net/http"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/api"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/federation"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/config"
)

// CapabilityInvites is advertised by providers that take part in the
// invitation handshake.
const CapabilityInvites = "invites"

// Discovery is the /.well-known/ocm document.
type Discovery struct {
	Enabled            bool           `json:"enabled"`
	APIVersion         string         `json:"apiVersion"`
	EndPoint           string         `json:"endPoint"`
	Provider           string         `json:"provider,omitempty"`
	ResourceTypes      []ResourceType `json:"resourceTypes"`
	Capabilities       []string       `json:"capabilities"`
	Criteria           []string       `json:"criteria"`
	InviteAcceptDialog string         `json:"inviteAcceptDialog,omitempty"`
}

// ResourceType is kept for peers that require the field. This provider
// shares no resources, so the list is always empty.
type ResourceType struct {
	Name       string            `json:"name"`
	ShareTypes []string          `json:"shareTypes"`
	Protocols  map[string]string `json:"protocols"`
}

type discoveryHandler struct {
	data *Discovery // static, computed once
}

func newDiscoveryHandler(c *Config, cfg *config.Config) *discoveryHandler {
	provider := c.Provider
	if provider == "" {
		provider = cfg.Instance.Name
	}
	dialog := c.InviteAcceptDialog
	if dialog == "" {
		dialog = cfg.AppBaseURL() + federation.HandlePath
	}

	return &discoveryHandler{data: &Discovery{
		Enabled:            true,
		APIVersion:         c.APIVersion,
		EndPoint:           cfg.AppBaseURL() + "/ocm",
		Provider:           provider,
		ResourceTypes:      []ResourceType{},
		Capabilities:       []string{CapabilityInvites},
		Criteria:           []string{},
		InviteAcceptDialog: dialog,
	}}
}

func (h *discoveryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.data)
}
