// Package notify delivers invitation notices: outbound mail to invitees and
// pending in-app notices for invitations received from peers.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/cache"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
)

// Message is an invitation mail.
type Message struct {
	To         string
	ToName     string
	FromName   string
	FromEmail  string
	Subject    string
	Body       string
	InviteLink string
}

// NewInvitationMessage builds the mail sent when an invitation is created.
func NewInvitationMessage(to, toName, fromName, fromEmail, note, link string) Message {
	body := fmt.Sprintf("%s <%s> invited you to collaborate.\n\nOpen %s to accept.", fromName, fromEmail, link)
	if note != "" {
		body = note + "\n\n" + body
	}
	return Message{
		To:         to,
		ToName:     toName,
		FromName:   fromName,
		FromEmail:  fromEmail,
		Subject:    fromName + " invited you to collaborate",
		Body:       body,
		InviteLink: link,
	}
}

// Mailer sends invitation mail.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes each message to the log instead of sending it.
type LogMailer struct {
	log *slog.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(log *slog.Logger) *LogMailer {
	return &LogMailer{log: logutil.NoopIfNil(log)}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.New("notify: message has no recipient")
	}
	m.log.InfoContext(ctx, "invitation mail",
		"to", msg.To,
		"from", msg.FromEmail,
		"subject", msg.Subject)
	// The link carries the token; only development setups log at debug.
	m.log.DebugContext(ctx, "invitation mail link", "to", msg.To, "invite_link", msg.InviteLink)
	return nil
}

// Notification is a pending notice that an invitation is waiting for a
// local user. The sender is only known once the origin answers the
// acceptance, so the notice names the issuing provider.
type Notification struct {
	Token          string    `json:"token"`
	Owner          string    `json:"owner"`
	OriginProvider string    `json:"originProvider"`
	ProviderName   string    `json:"providerName"`
	ProviderDomain string    `json:"providerDomain"`
	CreatedAt      time.Time `json:"createdAt"`
}

// DefaultTTL bounds how long an unread notification is kept.
const DefaultTTL = 30 * 24 * time.Hour

// Inbox keeps pending notifications in the cache, keyed by token.
type Inbox struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewInbox creates an Inbox. A non-positive ttl uses DefaultTTL.
func NewInbox(c cache.Cache, ttl time.Duration) *Inbox {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Inbox{cache: c, ttl: ttl}
}

func key(token string) string { return "notification:" + token }

// Put stores n, replacing any notification for the same token.
func (i *Inbox) Put(ctx context.Context, n Notification) error {
	if n.Token == "" {
		return errors.New("notify: notification has no token")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return i.cache.Set(ctx, key(n.Token), raw, i.ttl)
}

// Get returns the notification for token, or cache.ErrNotFound.
func (i *Inbox) Get(ctx context.Context, token string) (*Notification, error) {
	raw, err := i.cache.Get(ctx, key(token))
	if err != nil {
		return nil, err
	}
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("notify: decode notification: %w", err)
	}
	return &n, nil
}

// Clear drops the notification for token. Clearing a missing one is not
// an error.
func (i *Inbox) Clear(ctx context.Context, token string) error {
	err := i.cache.Delete(ctx, key(token))
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	return err
}
