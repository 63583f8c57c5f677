package federation

import (
	"context"
	"strings"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/apperr"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/identity"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/invitations"
)

// UpdateRequest changes an invitation's status. Only declined and revoked
// may be requested.
type UpdateRequest struct {
	Status string `json:"status"`
}

func scopeOf(u *identity.User) invitations.Scope {
	if u == nil {
		return invitations.Owner("")
	}
	return invitations.Owner(u.ID)
}

// GetInvite returns one of user's invitations.
func (c *Coordinator) GetInvite(ctx context.Context, user *identity.User, token string) (*invitations.Invitation, error) {
	return c.guard.Get(ctx, scopeOf(user), strings.TrimSpace(token))
}

// ListInvites returns user's invitations, optionally filtered by status.
func (c *Coordinator) ListInvites(ctx context.Context, user *identity.User, statuses []string) ([]invitations.Invitation, error) {
	var crit invitations.Criteria
	for _, s := range statuses {
		st := invitations.Status(strings.ToLower(strings.TrimSpace(s)))
		if st == "" {
			continue
		}
		if !st.Valid() {
			return nil, apperr.Validation(CodeListInvalidStatus, "unknown status "+s)
		}
		crit.Status = append(crit.Status, st)
	}
	return c.guard.Find(ctx, scopeOf(user), crit)
}

// UpdateInvite applies a status change requested through the API.
func (c *Coordinator) UpdateInvite(ctx context.Context, user *identity.User, token string, req UpdateRequest) (*invitations.Invitation, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperr.Validation(CodeUpdateTokenMissing, "token is required")
	}
	switch invitations.Status(strings.ToLower(strings.TrimSpace(req.Status))) {
	case "":
		return nil, apperr.Validation(CodeUpdateStatusMissing, "status is required")
	case invitations.StatusDeclined:
		return c.DeclineInvite(ctx, user, token)
	case invitations.StatusRevoked:
		return c.RevokeInvite(ctx, user, token)
	default:
		return nil, apperr.Validation(CodeUpdateError, "status must be declined or revoked")
	}
}

// DeclineInvite declines an open invitation user received from a peer.
func (c *Coordinator) DeclineInvite(ctx context.Context, user *identity.User, token string) (*invitations.Invitation, error) {
	return c.close(ctx, user, token, invitations.StatusDeclined, false)
}

// RevokeInvite revokes an open invitation user issued here.
func (c *Coordinator) RevokeInvite(ctx context.Context, user *identity.User, token string) (*invitations.Invitation, error) {
	return c.close(ctx, user, token, invitations.StatusRevoked, true)
}

func (c *Coordinator) close(ctx context.Context, user *identity.User, token string, to invitations.Status, issuedHere bool) (*invitations.Invitation, error) {
	scope := scopeOf(user)
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Validation(CodeUpdateTokenMissing, "token is required")
	}

	inv, err := c.guard.Get(ctx, scope, token)
	if err != nil {
		return nil, err
	}
	self, err := c.self(ctx)
	if err != nil {
		return nil, err
	}
	if (inv.OriginProvider == self.Endpoint) != issuedHere {
		if issuedHere {
			return nil, apperr.Validation(CodeUpdateError, "only issued invitations can be revoked")
		}
		return nil, apperr.Validation(CodeUpdateError, "only received invitations can be declined")
	}

	if err := c.guard.Transition(ctx, scope, token, to, invitations.Update{}); err != nil {
		return nil, err
	}
	c.clearNotification(ctx, token)
	c.log.Info("invitation closed", "status", to, "owner", scope.Principal())
	return c.guard.Get(ctx, scope, token)
}
