package federation

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/api"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/apperr"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/directory"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/identity"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/invitations"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/notify"
)

// CreateRequest is a sender's request to invite someone.
type CreateRequest struct {
	RecipientEmail string `json:"recipientEmail"`
	RecipientName  string `json:"recipientName"`
	SenderName     string `json:"senderName"`
	Message        string `json:"message" validate:"max=2000"`
}

// CreateInvite issues an invitation from sender and returns it with the
// link the invitee follows. The row is created as new, mailed, then
// opened; if opening fails the row is removed again.
func (c *Coordinator) CreateInvite(ctx context.Context, sender *identity.User, req CreateRequest) (*invitations.Invitation, string, error) {
	if sender == nil {
		return nil, "", apperr.Unauthenticated(invitations.CodeUnauthenticated, "authentication required")
	}
	scope := invitations.Owner(sender.ID)

	senderEmail := strings.TrimSpace(sender.Email)
	if senderEmail == "" {
		return nil, "", apperr.Validation(CodeCreateSenderEmailMissing, "sender has no email address")
	}
	recipientEmail := strings.ToLower(strings.TrimSpace(req.RecipientEmail))
	if recipientEmail == "" {
		return nil, "", apperr.Validation(CodeCreateNoRecipientEmail, "recipient email is required")
	}
	if !api.IsEmail(recipientEmail) {
		return nil, "", apperr.Validation(CodeCreateEmailInvalid, "recipient email is invalid")
	}
	recipientName := strings.TrimSpace(req.RecipientName)
	if recipientName == "" {
		return nil, "", apperr.Validation(CodeCreateNoRecipientName, "recipient name is required")
	}
	senderName := strings.TrimSpace(req.SenderName)
	if senderName == "" {
		senderName = strings.TrimSpace(sender.DisplayName)
	}
	if senderName == "" {
		return nil, "", apperr.Validation(CodeCreateNoSenderName, "sender name is required")
	}
	if strings.EqualFold(recipientEmail, senderEmail) {
		return nil, "", apperr.Validation(CodeCreateOwnEmail, "cannot invite your own email address")
	}

	self, err := c.self(ctx)
	if err != nil {
		return nil, "", apperr.Persistence(CodeCreateError, err)
	}

	inv := &invitations.Invitation{
		Token:          invitations.NewToken(),
		SenderCloudID:  sender.CloudID(self.Domain),
		SenderName:     senderName,
		SenderEmail:    senderEmail,
		RecipientName:  recipientName,
		RecipientEmail: recipientEmail,
		OriginProvider: self.Endpoint,
		Message:        strings.TrimSpace(req.Message),
		Status:         invitations.StatusNew,
		LiveKey:        invitations.LiveKey(sender.ID, recipientEmail),
	}

	err = c.guard.WithTx(ctx, func(tx *invitations.Guard) error {
		existing, err := tx.Find(ctx, scope, invitations.Criteria{
			Status:         []invitations.Status{invitations.StatusOpen, invitations.StatusAccepted},
			RecipientEmail: []string{recipientEmail},
		})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return apperr.Conflict(CodeCreateExists, "an open or accepted invitation to this recipient already exists")
		}
		return tx.Insert(ctx, scope, inv)
	})
	if err != nil {
		switch {
		case apperr.KindOf(err) == apperr.KindConflict:
			return nil, "", err
		case apperr.CodeOf(err) == invitations.CodeTokenExists:
			// Tokens are random, so the collision is a concurrent create
			// holding the same live key.
			return nil, "", apperr.Conflict(CodeCreateExists, "an open or accepted invitation to this recipient already exists")
		}
		return nil, "", apperr.Persistence(CodeCreateError, err)
	}

	link := c.inviteLink(inv.Token, self)

	msg := notify.NewInvitationMessage(recipientEmail, recipientName, senderName, senderEmail, inv.Message, link)
	if err := c.mailer.Send(ctx, msg); err != nil {
		c.log.Warn("failed to send invitation mail", "invitation_id", inv.ID, "recipient", recipientEmail, "error", err)
	}

	if err := c.guard.Transition(ctx, scope, inv.Token, invitations.StatusOpen, invitations.Update{}); err != nil {
		if derr := c.guard.Delete(ctx, scope, inv.Token); derr != nil {
			c.log.Error("failed to retract half-created invitation", "invitation_id", inv.ID, "error", derr)
		}
		return nil, "", apperr.Persistence(CodeCreateError, err)
	}

	created, err := c.guard.Get(ctx, scope, inv.Token)
	if err != nil {
		return nil, "", apperr.Persistence(CodeCreateError, err)
	}
	c.log.Info("invitation created", "invitation_id", inv.ID, "owner", sender.ID)
	return created, link, nil
}

func (c *Coordinator) inviteLink(token string, origin *directory.Provider) string {
	return c.cfg.ForwardEndpoint + "?" + providerQuery(token, origin).Encode()
}

// providerQuery names origin the way invite links do: providerDomain, plus
// providerUuid when the provider has one.
func providerQuery(token string, origin *directory.Provider) url.Values {
	q := url.Values{}
	q.Set("token", strings.TrimSpace(token))
	q.Set("providerDomain", lo.CoalesceOrEmpty(origin.Domain, origin.UUID))
	if origin.UUID != "" {
		q.Set("providerUuid", origin.UUID)
	}
	return q
}

// ProviderKey picks the provider a link names from its query: the domain
// first, then the uuid, then a bare providerKey.
func ProviderKey(q url.Values) string {
	return lo.CoalesceOrEmpty(
		strings.TrimSpace(q.Get("providerDomain")),
		strings.TrimSpace(q.Get("providerUuid")),
		strings.TrimSpace(q.Get("providerKey")),
	)
}

// ForwardInvite validates an invite link and returns the WAYF chooser URL
// the invitee is redirected to.
func (c *Coordinator) ForwardInvite(ctx context.Context, token, providerKey string) (string, error) {
	origin, err := c.resolveForward(ctx, token, providerKey)
	if err != nil {
		return "", err
	}
	return c.cfg.WAYFEndpoint + "?" + providerQuery(token, origin).Encode(), nil
}

func (c *Coordinator) resolveForward(ctx context.Context, token, providerKey string) (*directory.Provider, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperr.Validation(CodeForwardMissingToken, "token is required")
	}
	if strings.TrimSpace(providerKey) == "" {
		return nil, apperr.Validation(CodeForwardMissingProvider, "provider is required")
	}
	p, err := c.dir.FindByKey(ctx, providerKey)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, apperr.NotFound(CodeForwardProviderNotFound, "provider not found")
		}
		return nil, err
	}
	return p, nil
}

// Choice is one provider the invitee may continue with.
type Choice struct {
	Name     string
	Domain   string
	Endpoint string
	URL      string
}

// WAYF is the chooser shown to an invitee.
type WAYF struct {
	Token   string
	Origin  directory.Provider
	Choices []Choice
}

// HandlePath is where a provider receives invitations for its users,
// relative to its endpoint.
const HandlePath = "/api/invitations/handle"

// WAYF lists the providers an invitee may pick as their home. Each choice
// links to that provider's handle endpoint, which records the invitation
// once the invitee has signed in there.
func (c *Coordinator) WAYF(ctx context.Context, token, providerKey string) (*WAYF, error) {
	origin, err := c.resolveForward(ctx, token, providerKey)
	if err != nil {
		return nil, err
	}
	all, err := c.dir.All(ctx)
	if err != nil {
		return nil, err
	}

	q := providerQuery(token, origin)

	choices := lo.FilterMap(all, func(p directory.Provider, _ int) (Choice, bool) {
		return Choice{
			Name:     p.Name,
			Domain:   p.Domain,
			Endpoint: p.Endpoint,
			URL:      p.Endpoint + HandlePath + "?" + q.Encode(),
		}, p.Endpoint != origin.Endpoint
	})
	return &WAYF{Token: strings.TrimSpace(token), Origin: *origin, Choices: choices}, nil
}
