package invitations

import (
	"context"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/apperr"
)

// Error codes for refused transitions.
const (
	CodeAcceptNotOpen = "ACCEPT_INVITE_NOT_OPEN"
	CodeUpdateError   = "UPDATE_INVITATION_ERROR"
)

// allowedFrom maps a target status to the statuses it may be entered from.
// StatusInvalid is reachable from every other status.
var allowedFrom = map[Status][]Status{
	StatusOpen:      {StatusNew},
	StatusAccepted:  {StatusOpen},
	StatusDeclined:  {StatusOpen},
	StatusRevoked:   {StatusOpen},
	StatusWithdrawn: {StatusAccepted},
	StatusInvalid:   {StatusNew, StatusOpen, StatusAccepted, StatusDeclined, StatusRevoked, StatusWithdrawn},
}

// AllowedFrom returns the statuses from which to may be entered.
func AllowedFrom(to Status) []Status {
	return allowedFrom[to]
}

// CanTransition reports whether from -> to is a lifecycle edge.
func CanTransition(from, to Status) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

func notPermitted(to Status) error {
	if to == StatusAccepted {
		return apperr.Conflict(CodeAcceptNotOpen, "invitation is not open")
	}
	return apperr.Conflict(CodeUpdateError, "invitation cannot move to "+string(to))
}

// transition applies to (plus extra columns) to the row with token when its
// current status allows it. On a miss it reads the row back only to pick
// the error; the row itself is untouched.
func (s *Store) transition(ctx context.Context, owner, token string, to Status, extra Update) error {
	from := AllowedFrom(to)
	if len(from) == 0 {
		return notPermitted(to)
	}
	extra.Status = &to

	ok, err := s.UpdateByToken(ctx, token, extra, Cond{StatusIn: from, Owner: owner})
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if _, err := s.GetByToken(ctx, token, owner); err != nil {
		return err
	}
	return notPermitted(to)
}
