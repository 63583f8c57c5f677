package directory

import (
	"context"
	"errors"
	"strings"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/apperr"
)

// OnboardRequest is an operator's request to add a remote provider.
// Name, Domain and UUID are only used when peer verification is off.
type OnboardRequest struct {
	Endpoint string
	Name     string
	Domain   string
	UUID     string
}

// Onboarder adds remote providers to the directory, verifying each peer
// by fetching its self-description first.
type Onboarder struct {
	dir          *Directory
	peers        PeerDescriber
	selfEndpoint string
	verify       bool
}

// NewOnboarder creates an Onboarder. peers may be nil when verify is false.
func NewOnboarder(dir *Directory, peers PeerDescriber, selfEndpoint string, verify bool) *Onboarder {
	return &Onboarder{dir: dir, peers: peers, selfEndpoint: selfEndpoint, verify: verify}
}

// Onboard registers the provider at req.Endpoint.
func (o *Onboarder) Onboard(ctx context.Context, req OnboardRequest) (*Provider, error) {
	ep, err := NormalizeEndpoint(req.Endpoint, o.dir.opts.AllowInsecureEndpoints)
	if err != nil {
		return nil, err
	}

	if self, err := NormalizeEndpoint(o.selfEndpoint, true); err == nil && self == ep {
		return nil, apperr.Validation(CodeNotRemote, "endpoint belongs to this instance")
	}

	known, err := o.dir.IsKnown(ctx, ep)
	if err != nil {
		return nil, err
	}
	if known {
		return nil, ErrDuplicate
	}

	record := Provider{Endpoint: ep, Name: req.Name, Domain: req.Domain, UUID: req.UUID}
	if o.verify {
		sd, err := o.describe(ctx, ep)
		if err != nil {
			return nil, err
		}
		record = sd.Record()
		record.Endpoint = ep
	} else if strings.TrimSpace(req.Name) == "" {
		return nil, apperr.Validation(CodeNameMissing, "provider name is required")
	}

	return o.dir.Register(ctx, record)
}

// describe fetches and checks the peer's self-description: the document
// must name the provider and point back at the endpoint it was fetched from.
func (o *Onboarder) describe(ctx context.Context, ep string) (*SelfDescription, error) {
	if o.peers == nil {
		return nil, apperr.Transport(CodePeerUnreachable, "peer verification is not configured", nil)
	}

	sd, err := o.peers.Describe(ctx, ep)
	if err != nil {
		if errors.Is(err, errMalformed) {
			return nil, apperr.Transport(CodePeerInvalid, "peer returned an invalid self-description", err)
		}
		return nil, apperr.Transport(CodePeerUnreachable, "peer could not be reached", err)
	}

	if strings.TrimSpace(sd.Endpoint) == "" || strings.TrimSpace(sd.Domain) == "" || strings.TrimSpace(sd.Name) == "" {
		return nil, apperr.Transport(CodePeerInvalid, "peer self-description is missing endpoint, domain or name", nil)
	}
	claimed, err := NormalizeEndpoint(sd.Endpoint, true)
	if err != nil || claimed != ep {
		return nil, apperr.Transport(CodePeerInvalid, "peer self-description endpoint does not match", nil)
	}
	return sd, nil
}
