package invitations

import (
	"context"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/apperr"
)

// CodeUnauthenticated is returned for a missing or empty Scope.
const CodeUnauthenticated = "UNAUTHENTICATED"

// Scope names whose invitations an operation may see. The zero Scope
// authorizes nothing.
type Scope struct {
	principal string
	unscoped  bool
}

// Owner scopes an operation to one principal's invitations.
func Owner(principal string) Scope {
	return Scope{principal: principal}
}

// Unscoped lets an operation see every invitation. Only the cross-instance
// reconcile callback uses it.
func Unscoped() Scope {
	return Scope{unscoped: true}
}

// Principal returns the scoped principal, empty when unscoped.
func (s Scope) Principal() string { return s.principal }

func (s Scope) owner() (string, error) {
	if s.unscoped {
		return "", nil
	}
	if s.principal == "" {
		return "", apperr.Unauthenticated(CodeUnauthenticated, "authentication required")
	}
	return s.principal, nil
}

// Guard is the only entry point services use to reach invitations. Every
// call carries a Scope.
type Guard struct {
	store *Store
}

// NewGuard wraps s.
func NewGuard(s *Store) *Guard {
	return &Guard{store: s}
}

// WithTx runs fn with a Guard bound to one transaction.
func (g *Guard) WithTx(ctx context.Context, fn func(tx *Guard) error) error {
	return g.store.WithTx(ctx, func(tx *Store) error {
		return fn(&Guard{store: tx})
	})
}

// Insert stores inv. An owned scope stamps its principal as the owner; an
// unscoped insert must name one.
func (g *Guard) Insert(ctx context.Context, scope Scope, inv *Invitation) error {
	owner, err := scope.owner()
	if err != nil {
		return err
	}
	if owner != "" {
		inv.Owner = owner
	}
	if inv.Owner == "" {
		return apperr.Validation(CodeUpdateError, "invitation has no owner")
	}
	return g.store.Insert(ctx, inv)
}

// Get returns the invitation with token. Rows of other owners are reported
// as not found.
func (g *Guard) Get(ctx context.Context, scope Scope, token string) (*Invitation, error) {
	owner, err := scope.owner()
	if err != nil {
		return nil, err
	}
	return g.store.GetByToken(ctx, token, owner)
}

// Find lists invitations visible to scope matching c.
func (g *Guard) Find(ctx context.Context, scope Scope, c Criteria) ([]Invitation, error) {
	owner, err := scope.owner()
	if err != nil {
		return nil, err
	}
	return g.store.FindAll(ctx, c, owner)
}

// Update sets non-status columns on the row with token. Status changes go
// through Transition.
func (g *Guard) Update(ctx context.Context, scope Scope, token string, u Update) (bool, error) {
	owner, err := scope.owner()
	if err != nil {
		return false, err
	}
	u.Status = nil
	return g.store.UpdateByToken(ctx, token, u, Cond{Owner: owner})
}

// Transition moves the invitation with token to status to, setting extra's
// columns in the same statement.
func (g *Guard) Transition(ctx context.Context, scope Scope, token string, to Status, extra Update) error {
	owner, err := scope.owner()
	if err != nil {
		return err
	}
	return g.store.transition(ctx, owner, token, to, extra)
}

// WithdrawAccepted withdraws accepted invitations linking a and b in either
// direction, except the one with exceptToken.
func (g *Guard) WithdrawAccepted(ctx context.Context, scope Scope, a, b, exceptToken string) (int64, error) {
	owner, err := scope.owner()
	if err != nil {
		return 0, err
	}
	return g.store.withdrawPair(ctx, owner, a, b, exceptToken)
}

// Delete removes the invitation with token.
func (g *Guard) Delete(ctx context.Context, scope Scope, token string) error {
	owner, err := scope.owner()
	if err != nil {
		return err
	}
	return g.store.DeleteByToken(ctx, token, owner)
}

// Invalidate administratively marks an invitation invalid from any status.
func (g *Guard) Invalidate(ctx context.Context, token string) error {
	return g.store.transition(ctx, "", token, StatusInvalid, Update{})
}

// Purge deletes every invitation in a terminal status.
func (g *Guard) Purge(ctx context.Context) (int64, error) {
	return g.store.DeleteWhereStatusIn(ctx, StatusDeclined, StatusRevoked, StatusWithdrawn, StatusInvalid)
}
