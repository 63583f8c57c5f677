// Package invitations stores invitations and enforces their lifecycle.
//
// Rows change status only through Transition, which is a single
// conditional UPDATE keyed on (token, status IN allowed-from, [owner]).
// Concurrent transitions on one token therefore yield exactly one winner.
package invitations

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/store"
)

func init() {
	store.RegisterModel(&Invitation{})
}

// Status is the lifecycle state of an invitation.
type Status string

const (
	StatusNew       Status = "new"
	StatusOpen      Status = "open"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusRevoked   Status = "revoked"
	StatusWithdrawn Status = "withdrawn"
	StatusInvalid   Status = "invalid"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusNew, StatusOpen, StatusAccepted, StatusDeclined, StatusRevoked, StatusWithdrawn, StatusInvalid}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeclined, StatusRevoked, StatusWithdrawn, StatusInvalid:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return lo.Contains(Statuses, s)
}

// Invitation is one side's record of an invitation. The sender's instance
// and the recipient's instance each hold a row with the same token.
type Invitation struct {
	ID    uint   `json:"-" gorm:"primaryKey"`
	Token string `json:"token" gorm:"uniqueIndex;size:64;not null"`
	Owner string `json:"-" gorm:"index;not null"`

	SenderCloudID string `json:"senderCloudId"`
	SenderName    string `json:"senderName"`
	SenderEmail   string `json:"senderEmail"`

	RecipientCloudID string `json:"recipientCloudId,omitempty"`
	RecipientName    string `json:"recipientName,omitempty"`
	RecipientEmail   string `json:"recipientEmail,omitempty" gorm:"index"`

	// OriginProvider is the endpoint of the instance that issued the token;
	// RemoteProvider is the endpoint of the other party's instance.
	OriginProvider string `json:"originProvider"`
	RemoteProvider string `json:"remoteProvider,omitempty"`

	// LiveKey is set on issued rows while they are new, open or accepted
	// and cleared on any terminal transition. Its unique index keeps one
	// live invitation per sender and recipient email; NULLs never collide.
	LiveKey *string `json:"-" gorm:"uniqueIndex;size:320"`

	Message   string    `json:"message,omitempty"`
	Status    Status    `json:"status" gorm:"index;size:16;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"index"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Invitation) TableName() string { return "invitations" }

// NewToken returns a fresh random (v4) token.
func NewToken() string {
	return uuid.NewString()
}

// ValidToken reports whether s has the shape of a token.
func ValidToken(s string) bool {
	u, err := uuid.Parse(s)
	return err == nil && u.Version() == 4
}

// LiveKey returns the key an issued invitation from owner to recipientEmail
// holds while it is live.
func LiveKey(owner, recipientEmail string) *string {
	k := owner + "|" + strings.ToLower(strings.TrimSpace(recipientEmail))
	return &k
}
