package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/api"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/apperr"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/directory"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/identity"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/invitations"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/notify"
)

// InviteAcceptedRequest is the body of the invite-accepted callback.
type InviteAcceptedRequest struct {
	RecipientProvider string `json:"recipientProvider"`
	Token             string `json:"token"`
	UserID            string `json:"userID"`
	Email             string `json:"email"`
	Name              string `json:"name"`
}

// InviteAcceptedResponse identifies the sender the recipient is now
// connected to.
type InviteAcceptedResponse struct {
	UserID string `json:"userID"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

func (r *InviteAcceptedResponse) complete() bool {
	return strings.TrimSpace(r.UserID) != "" && strings.TrimSpace(r.Email) != "" && strings.TrimSpace(r.Name) != ""
}

// PeerError is a rejection returned by a peer's invite-accepted endpoint.
type PeerError struct {
	Status    int
	ErrorCode string
	Message   string
}

func (e *PeerError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("peer answered %d %s", e.Status, e.ErrorCode)
	}
	return fmt.Sprintf("peer answered %d", e.Status)
}

// ReceiveInvite records on this instance an invitation issued by the
// provider named by providerKey, owned by recipient, and leaves a pending
// notification for them. Receiving the same token again returns the
// existing row.
func (c *Coordinator) ReceiveInvite(ctx context.Context, recipient *identity.User, token, providerKey string) (*invitations.Invitation, error) {
	if recipient == nil {
		return nil, apperr.Unauthenticated(invitations.CodeUnauthenticated, "authentication required")
	}
	scope := invitations.Owner(recipient.ID)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Validation(CodeHandleMissingToken, "token is required")
	}
	if !invitations.ValidToken(token) {
		return nil, apperr.Validation(CodeHandleError, "token is malformed")
	}
	origin, err := c.resolveForward(ctx, token, providerKey)
	if err != nil {
		return nil, err
	}
	if origin.Self {
		return nil, apperr.Validation(CodeHandleError, "invitation was issued by this provider")
	}

	existing, err := c.guard.Get(ctx, scope, token)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, invitations.ErrNotFound):
		return nil, err
	}

	self, err := c.self(ctx)
	if err != nil {
		return nil, apperr.Persistence(CodeHandleError, err)
	}

	inv := &invitations.Invitation{
		Token:            token,
		RecipientCloudID: recipient.CloudID(self.Domain),
		RecipientName:    recipient.DisplayName,
		RecipientEmail:   strings.ToLower(recipient.Email),
		OriginProvider:   origin.Endpoint,
		RemoteProvider:   origin.Endpoint,
		Status:           invitations.StatusOpen,
	}
	if err := c.guard.Insert(ctx, scope, inv); err != nil {
		if apperr.CodeOf(err) == invitations.CodeTokenExists {
			return nil, apperr.Conflict(CodeHandleError, "invitation already received by another user")
		}
		return nil, err
	}

	if c.inbox != nil {
		n := notify.Notification{
			Token:          token,
			Owner:          recipient.ID,
			OriginProvider: origin.Endpoint,
			ProviderName:   origin.Name,
			ProviderDomain: origin.Domain,
		}
		if err := c.inbox.Put(ctx, n); err != nil {
			c.log.Warn("failed to store notification", "error", err)
		}
	}

	c.log.Info("invitation received", "invitation_id", inv.ID, "owner", recipient.ID, "origin", origin.Endpoint)
	return inv, nil
}

// AcceptInvite accepts a received invitation on behalf of recipient. The
// origin is called first; only a complete answer leads to the local
// transition, which also withdraws any older acceptance between the same
// two parties.
func (c *Coordinator) AcceptInvite(ctx context.Context, recipient *identity.User, token string) (*invitations.Invitation, error) {
	if recipient == nil {
		return nil, apperr.Unauthenticated(invitations.CodeUnauthenticated, "authentication required")
	}
	scope := invitations.Owner(recipient.ID)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.Validation(CodeAcceptMissingToken, "token is required")
	}

	inv, err := c.guard.Get(ctx, scope, token)
	if err != nil {
		return nil, err
	}
	if inv.Status != invitations.StatusOpen {
		return nil, apperr.Conflict(CodeAcceptNotOpen, "invitation is not open")
	}

	self, err := c.self(ctx)
	if err != nil {
		return nil, err
	}
	// An issued row is the sender's own; accepting it would make this
	// instance reconcile with itself.
	if inv.OriginProvider == self.Endpoint {
		return nil, apperr.Validation(CodeAcceptError, "only received invitations can be accepted")
	}

	email := strings.TrimSpace(recipient.Email)
	if email == "" {
		return nil, apperr.Validation(CodeAcceptEmailMissing, "recipient has no email address")
	}
	name := strings.TrimSpace(recipient.DisplayName)
	if name == "" {
		return nil, apperr.Validation(CodeAcceptNameMissing, "recipient has no display name")
	}

	recipientID := recipient.CloudID(self.Domain)

	sender, err := c.callInviteAccepted(ctx, inv.OriginProvider, InviteAcceptedRequest{
		RecipientProvider: self.Endpoint,
		Token:             token,
		UserID:            recipientID,
		Email:             email,
		Name:              name,
	})
	if err != nil {
		return nil, err
	}

	upd := invitations.Update{
		SenderCloudID:    &sender.UserID,
		SenderEmail:      &sender.Email,
		SenderName:       &sender.Name,
		RecipientCloudID: &recipientID,
		RecipientEmail:   &email,
		RecipientName:    &name,
	}
	err = c.guard.WithTx(ctx, func(tx *invitations.Guard) error {
		n, err := tx.WithdrawAccepted(ctx, scope, sender.UserID, recipientID, token)
		if err != nil {
			return err
		}
		if n > 0 {
			c.log.Info("withdrew superseded invitations", "count", n, "sender", sender.UserID, "recipient", recipientID)
		}
		return tx.Transition(ctx, scope, token, invitations.StatusAccepted, upd)
	})
	if err != nil {
		return nil, err
	}

	c.clearNotification(ctx, token)
	c.log.Info("invitation accepted", "owner", recipient.ID, "sender", sender.UserID)
	return c.guard.Get(ctx, scope, token)
}

// callInviteAccepted posts req to the origin's invite-accepted endpoint.
func (c *Coordinator) callInviteAccepted(ctx context.Context, origin string, req InviteAcceptedRequest) (*InviteAcceptedResponse, error) {
	body, status, err := c.http.PostJSON(ctx, origin+InviteAcceptedPath, req)
	if err != nil {
		return nil, apperr.Transport(CodePeerUnreachable, "origin provider could not be reached", err)
	}

	if status != http.StatusOK {
		pe := &PeerError{Status: status}
		var env api.ErrorEnvelope
		if json.Unmarshal(body, &env) == nil {
			pe.ErrorCode = env.ErrorCode
			pe.Message = env.Error.Message
		}
		msg := "origin provider rejected the acceptance"
		if pe.ErrorCode != "" {
			msg += ": " + pe.ErrorCode
		}
		return nil, apperr.Transport(CodePeerRejected, msg, pe)
	}

	var resp InviteAcceptedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Transport(CodePeerResponseInvalid, "origin provider returned a malformed response", err)
	}
	if !resp.complete() {
		return nil, apperr.Validation(CodePeerResponseInvalid, "origin provider response is missing sender fields")
	}
	return &resp, nil
}

// InviteAccepted is the origin-side callback. The caller is a remote
// provider with no local principal, so the lookup is unscoped and every
// field is checked before storage is touched.
func (c *Coordinator) InviteAccepted(ctx context.Context, req InviteAcceptedRequest) (*InviteAcceptedResponse, error) {
	rp := strings.TrimSpace(req.RecipientProvider)
	token := strings.TrimSpace(req.Token)
	userID := strings.TrimSpace(req.UserID)
	email := strings.TrimSpace(req.Email)
	name := strings.TrimSpace(req.Name)

	if rp == "" {
		return nil, apperr.Validation(CodeAcceptedMissingProvider, "recipientProvider is required")
	}
	ep, err := directory.NormalizeEndpoint(rp, true)
	if err != nil {
		return nil, apperr.Validation(CodeAcceptedMissingProvider, "recipientProvider is not a valid endpoint")
	}
	if token == "" {
		return nil, apperr.Validation(CodeAcceptedMissingToken, "token is required")
	}
	if userID == "" {
		return nil, apperr.Validation(CodeAcceptedMissingUserID, "userID is required")
	}
	if email == "" || !api.IsEmail(email) {
		return nil, apperr.Validation(CodeAcceptedMissingEmail, "email is required")
	}
	if name == "" {
		return nil, apperr.Validation(CodeAcceptedMissingName, "name is required")
	}
	if !invitations.ValidToken(token) {
		return nil, apperr.NotFound(CodeAcceptedNotFound, "invitation not found")
	}

	if c.cfg.RequireKnownRecipientProvider {
		known, err := c.dir.IsKnown(ctx, ep)
		if err != nil {
			return nil, err
		}
		if !known {
			return nil, apperr.Validation(CodeAcceptedUnknownProvider, "recipient provider is not known")
		}
	}

	self, err := c.self(ctx)
	if err != nil {
		return nil, err
	}

	scope := invitations.Unscoped()
	inv, err := c.guard.Get(ctx, scope, token)
	if err != nil {
		if errors.Is(err, invitations.ErrNotFound) {
			return nil, apperr.NotFound(CodeAcceptedNotFound, "invitation not found")
		}
		return nil, err
	}
	// Rows recorded for local recipients share the token space but were
	// not issued here.
	if inv.OriginProvider != self.Endpoint {
		return nil, apperr.NotFound(CodeAcceptedNotFound, "invitation not found")
	}
	if inv.Status != invitations.StatusOpen {
		return nil, apperr.Conflict(CodeAcceptNotOpen, "invitation is not open")
	}
	if strings.EqualFold(userID, inv.SenderCloudID) {
		return nil, apperr.Validation(CodeAcceptedError, "the sender cannot accept their own invitation")
	}

	upd := invitations.Update{
		RecipientCloudID: &userID,
		RecipientEmail:   &email,
		RecipientName:    &name,
		RemoteProvider:   &ep,
	}
	err = c.guard.WithTx(ctx, func(tx *invitations.Guard) error {
		n, err := tx.WithdrawAccepted(ctx, scope, inv.SenderCloudID, userID, token)
		if err != nil {
			return err
		}
		if n > 0 {
			c.log.Info("withdrew superseded invitations", "count", n, "sender", inv.SenderCloudID, "recipient", userID)
		}
		return tx.Transition(ctx, scope, token, invitations.StatusAccepted, upd)
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("invitation accepted by peer", "recipient", userID, "recipient_provider", ep)
	return &InviteAcceptedResponse{
		UserID: inv.SenderCloudID,
		Email:  inv.SenderEmail,
		Name:   inv.SenderName,
	}, nil
}
