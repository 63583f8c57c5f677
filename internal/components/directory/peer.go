package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/cache"
	httpclient "github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/client"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
)

// SelfDescriptionPath is where every provider serves its SelfDescription,
// relative to its endpoint.
const SelfDescriptionPath = "/mesh-registry/provider"

// PeerDescriber fetches a peer's self-description.
type PeerDescriber interface {
	Describe(ctx context.Context, endpoint string) (*SelfDescription, error)
}

// PeerClient fetches self-descriptions over HTTP and caches successful
// answers for cache.TTLDiscovery.
type PeerClient struct {
	http  httpclient.HTTPClient
	cache cache.Cache
	log   *slog.Logger
}

// NewPeerClient creates a PeerClient. A nil cache disables caching.
func NewPeerClient(hc httpclient.HTTPClient, c cache.Cache, log *slog.Logger) *PeerClient {
	return &PeerClient{http: hc, cache: c, log: logutil.ForComponent(log, "peer-client")}
}

// Describe returns the self-description served at endpoint.
func (p *PeerClient) Describe(ctx context.Context, endpoint string) (*SelfDescription, error) {
	key := "peer:" + endpoint
	if p.cache != nil {
		if raw, err := p.cache.Get(ctx, key); err == nil {
			var sd SelfDescription
			if json.Unmarshal(raw, &sd) == nil {
				return &sd, nil
			}
		}
	}

	body, status, err := p.http.GetJSON(ctx, endpoint+SelfDescriptionPath)
	if err != nil {
		return nil, fmt.Errorf("fetch self-description: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch self-description: unexpected status %d", status)
	}

	var sd SelfDescription
	if err := json.Unmarshal(body, &sd); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformed, err)
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, key, body, cache.TTLDiscovery); err != nil {
			p.log.Warn("failed to cache self-description", "endpoint", endpoint, "error", err)
		}
	}
	return &sd, nil
}

var errMalformed = errors.New("malformed self-description")
