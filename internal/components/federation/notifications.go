package federation

import (
	"context"
	"errors"
	"strings"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/apperr"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/identity"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/invitations"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/notify"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/cache"
)

// Notifications returns the pending notices for open invitations user
// received from peers. Expired notices are skipped.
func (c *Coordinator) Notifications(ctx context.Context, user *identity.User) ([]notify.Notification, error) {
	if user == nil {
		return nil, apperr.Unauthenticated(invitations.CodeUnauthenticated, "authentication required")
	}
	out := []notify.Notification{}
	if c.inbox == nil {
		return out, nil
	}

	open, err := c.guard.Find(ctx, scopeOf(user), invitations.Criteria{Status: []invitations.Status{invitations.StatusOpen}})
	if err != nil {
		return nil, err
	}
	self, err := c.self(ctx)
	if err != nil {
		return nil, err
	}

	for _, inv := range open {
		if inv.OriginProvider == self.Endpoint {
			continue
		}
		n, err := c.inbox.Get(ctx, inv.Token)
		switch {
		case errors.Is(err, cache.ErrNotFound):
			continue
		case err != nil:
			return nil, apperr.Persistence(CodeNotificationsError, err)
		}
		// A notice is only shown to the user it was stored for.
		if n.Owner != user.ID {
			continue
		}
		out = append(out, *n)
	}
	return out, nil
}

// DismissNotification drops the notice for one of user's invitations. The
// invitation itself is left untouched.
func (c *Coordinator) DismissNotification(ctx context.Context, user *identity.User, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.Validation(CodeUpdateTokenMissing, "token is required")
	}
	if _, err := c.guard.Get(ctx, scopeOf(user), token); err != nil {
		return err
	}
	if c.inbox == nil {
		return nil
	}
	if err := c.inbox.Clear(ctx, token); err != nil {
		return apperr.Persistence(CodeNotificationsError, err)
	}
	return nil
}
