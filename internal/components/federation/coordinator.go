// Package federation runs the cross-instance invitation handshake: create
// and link on the sender's instance, forward and WAYF for the invitee,
// accept on the recipient's instance, and the invite-accepted callback
// that reconciles the sender's row.
//
// The two instances never share a transaction. Each side applies its own
// conditional transition; a failed callback leaves the invitation open and
// the recipient may retry.
package federation

import (
	"context"
	"log/slog"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/directory"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/invitations"
	"github.com/MahdiBaghbani/collabmesh-go/internal/components/notify"
	httpclient "github.com/MahdiBaghbani/collabmesh-go/internal/platform/http/client"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
)

// InviteAcceptedPath is the callback path, relative to a provider endpoint.
const InviteAcceptedPath = "/ocm/invite-accepted"

// Error codes.
const (
	CodeCreateSenderEmailMissing = "CREATE_INVITATION_ERROR_SENDER_EMAIL_MISSING"
	CodeCreateNoRecipientEmail   = "CREATE_INVITATION_NO_RECIPIENT_EMAIL"
	CodeCreateEmailInvalid       = "CREATE_INVITATION_EMAIL_INVALID"
	CodeCreateNoRecipientName    = "CREATE_INVITATION_NO_RECIPIENT_NAME"
	CodeCreateNoSenderName       = "CREATE_INVITATION_NO_SENDER_NAME"
	CodeCreateOwnEmail           = "CREATE_INVITATION_EMAIL_IS_OWN_EMAIL"
	CodeCreateExists             = "CREATE_INVITATION_EXISTS"
	CodeCreateError              = "CREATE_INVITATION_ERROR"

	CodeForwardMissingToken     = "FORWARD_INVITE_MISSING_TOKEN"
	CodeForwardMissingProvider  = "FORWARD_INVITE_MISSING_PROVIDER"
	CodeForwardProviderNotFound = "FORWARD_INVITE_PROVIDER_NOT_FOUND"

	CodeHandleMissingToken = "HANDLE_INVITE_MISSING_TOKEN"
	CodeHandleError        = "HANDLE_INVITE_ERROR"

	CodeAcceptMissingToken       = "ACCEPT_INVITE_MISSING_TOKEN"
	CodeAcceptNotOpen            = invitations.CodeAcceptNotOpen
	CodeAcceptEmailMissing       = "ACCEPT_INVITE_ERROR_RECIPIENT_EMAIL_MISSING"
	CodeAcceptNameMissing        = "ACCEPT_INVITE_ERROR_RECIPIENT_NAME_MISSING"
	CodeAcceptError              = "ACCEPT_INVITE_ERROR"
	CodePeerUnreachable          = "OCM_INVITE_ACCEPTED_PEER_UNREACHABLE"
	CodePeerRejected             = "OCM_INVITE_ACCEPTED_PEER_REJECTED"
	CodePeerResponseInvalid      = "HANDLE_INVITATION_OCM_INVITE_ACCEPTED_RESPONSE_FIELDS_INVALID"
	CodeAcceptedMissingProvider  = "OCM_INVITE_ACCEPTED_MISSING_RECIPIENT_PROVIDER"
	CodeAcceptedMissingToken     = "OCM_INVITE_ACCEPTED_MISSING_TOKEN"
	CodeAcceptedMissingUserID    = "OCM_INVITE_ACCEPTED_MISSING_USER_ID"
	CodeAcceptedMissingEmail     = "OCM_INVITE_ACCEPTED_MISSING_EMAIL"
	CodeAcceptedMissingName      = "OCM_INVITE_ACCEPTED_MISSING_NAME"
	CodeAcceptedUnknownProvider  = "OCM_INVITE_ACCEPTED_UNKNOWN_PROVIDER"
	CodeAcceptedNotFound         = "OCM_INVITE_ACCEPTED_NOT_FOUND"
	CodeAcceptedError            = "OCM_INVITE_ACCEPTED_ERROR"

	CodeUpdateTokenMissing  = "UPDATE_INVITATION_ERROR_TOKEN_NOT_PROVIDED"
	CodeUpdateStatusMissing = "UPDATE_INVITATION_ERROR_STATUS_NOT_PROVIDED"
	CodeUpdateError         = invitations.CodeUpdateError
	CodeListInvalidStatus   = "LIST_INVITATIONS_INVALID_STATUS"

	CodeNotificationsError = "LIST_NOTIFICATIONS_ERROR"
)

// Config holds the URLs and policy the coordinator needs.
type Config struct {
	// ForwardEndpoint is embedded in invite links.
	ForwardEndpoint string

	// WAYFEndpoint is where forward-invite redirects the invitee.
	WAYFEndpoint string

	// RequireKnownRecipientProvider rejects callbacks from providers that
	// are not in the directory.
	RequireKnownRecipientProvider bool
}

// Coordinator implements the invitation handshake on one instance.
type Coordinator struct {
	cfg    Config
	guard  *invitations.Guard
	dir    *directory.Directory
	http   httpclient.HTTPClient
	mailer notify.Mailer
	inbox  *notify.Inbox
	log    *slog.Logger
}

// New creates a Coordinator.
func New(cfg Config, guard *invitations.Guard, dir *directory.Directory, hc httpclient.HTTPClient, mailer notify.Mailer, inbox *notify.Inbox, log *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		guard:  guard,
		dir:    dir,
		http:   hc,
		mailer: mailer,
		inbox:  inbox,
		log:    logutil.ForComponent(log, "federation"),
	}
}

// self returns this instance's provider record.
func (c *Coordinator) self(ctx context.Context) (*directory.Provider, error) {
	return c.dir.Self(ctx)
}

func (c *Coordinator) clearNotification(ctx context.Context, token string) {
	if c.inbox == nil {
		return
	}
	if err := c.inbox.Clear(ctx, token); err != nil {
		c.log.Warn("failed to clear notification", "error", err)
	}
}
