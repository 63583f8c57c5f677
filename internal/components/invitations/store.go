package invitations

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/apperr"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/store"
)

// PageSize caps FindAll results.
const PageSize = 100

// Error codes raised by the store.
const (
	CodeNotFound    = "INVITATION_NOT_FOUND"
	CodeTokenExists = "INVITATION_TOKEN_EXISTS"
	CodeStorage     = "INVITATION_STORAGE_ERROR"
)

var ErrNotFound = apperr.NotFound(CodeNotFound, "invitation not found")

func persistence(err error) error {
	return apperr.Persistence(CodeStorage, err)
}

// Criteria filters FindAll. Fields are ANDed; values within a field are ORed.
// Empty fields do not filter.
type Criteria struct {
	Status           []Status
	RecipientEmail   []string
	SenderCloudID    []string
	RecipientCloudID []string
	OriginProvider   []string
}

// Update lists the columns UpdateByToken may set. Nil fields are left alone.
type Update struct {
	Status           *Status
	SenderCloudID    *string
	SenderName       *string
	SenderEmail      *string
	RecipientCloudID *string
	RecipientName    *string
	RecipientEmail   *string
	RemoteProvider   *string
}

func (u Update) columns() map[string]any {
	cols := make(map[string]any, 9)
	set := func(col string, v *string) {
		if v != nil {
			cols[col] = *v
		}
	}
	if u.Status != nil {
		cols["status"] = string(*u.Status)
		if u.Status.Terminal() {
			cols["live_key"] = nil
		}
	}
	set("sender_cloud_id", u.SenderCloudID)
	set("sender_name", u.SenderName)
	set("sender_email", u.SenderEmail)
	set("recipient_cloud_id", u.RecipientCloudID)
	set("recipient_name", u.RecipientName)
	set("recipient_email", u.RecipientEmail)
	set("remote_provider", u.RemoteProvider)
	return cols
}

// Cond restricts UpdateByToken beyond the token.
type Cond struct {
	// StatusIn requires the current status to be one of these.
	StatusIn []Status
	// Owner requires the row to belong to this principal.
	Owner string
}

// Store persists invitations.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a Store over db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithTx runs fn against a Store bound to one transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, now: s.now})
	})
}

// Insert persists inv. A token or live key already present is a validation
// error.
func (s *Store) Insert(ctx context.Context, inv *Invitation) error {
	inv.ID = 0
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = s.now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(inv).Error; err != nil {
		if store.IsDuplicate(err) {
			return apperr.Validation(CodeTokenExists, "token already exists")
		}
		return persistence(err)
	}
	return nil
}

// GetByToken returns the invitation with token, restricted to owner when
// owner is non-empty.
func (s *Store) GetByToken(ctx context.Context, token, owner string) (*Invitation, error) {
	q := s.db.WithContext(ctx).Where("token = ?", token)
	if owner != "" {
		q = q.Where("owner = ?", owner)
	}
	var inv Invitation
	if err := q.First(&inv).Error; err != nil {
		if store.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, persistence(err)
	}
	return &inv, nil
}

// FindAll returns at most PageSize invitations matching c, newest first.
func (s *Store) FindAll(ctx context.Context, c Criteria, owner string) ([]Invitation, error) {
	q := s.db.WithContext(ctx).Model(&Invitation{})
	if owner != "" {
		q = q.Where("owner = ?", owner)
	}
	if len(c.Status) > 0 {
		q = q.Where("status IN ?", statusStrings(c.Status))
	}
	if len(c.RecipientEmail) > 0 {
		q = q.Where("recipient_email IN ?", c.RecipientEmail)
	}
	if len(c.SenderCloudID) > 0 {
		q = q.Where("sender_cloud_id IN ?", c.SenderCloudID)
	}
	if len(c.RecipientCloudID) > 0 {
		q = q.Where("recipient_cloud_id IN ?", c.RecipientCloudID)
	}
	if len(c.OriginProvider) > 0 {
		q = q.Where("origin_provider IN ?", c.OriginProvider)
	}

	var out []Invitation
	if err := q.Order("created_at DESC").Order("id DESC").Limit(PageSize).Find(&out).Error; err != nil {
		return nil, persistence(err)
	}
	return out, nil
}

// UpdateByToken sets u's columns on the row with token when cond holds.
// It is one conditional UPDATE and reports true only when exactly one row
// changed.
func (s *Store) UpdateByToken(ctx context.Context, token string, u Update, cond Cond) (bool, error) {
	cols := u.columns()
	if len(cols) == 0 {
		return false, nil
	}
	cols["updated_at"] = s.now().UTC()

	q := s.db.WithContext(ctx).Model(&Invitation{}).Where("token = ?", token)
	if len(cond.StatusIn) > 0 {
		q = q.Where("status IN ?", statusStrings(cond.StatusIn))
	}
	if cond.Owner != "" {
		q = q.Where("owner = ?", cond.Owner)
	}

	res := q.Updates(cols)
	if res.Error != nil {
		return false, persistence(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// DeleteByToken removes the row with token, restricted to owner when set.
func (s *Store) DeleteByToken(ctx context.Context, token, owner string) error {
	q := s.db.WithContext(ctx).Where("token = ?", token)
	if owner != "" {
		q = q.Where("owner = ?", owner)
	}
	res := q.Delete(&Invitation{})
	if res.Error != nil {
		return persistence(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWhereStatusIn purges every row in one of statuses.
func (s *Store) DeleteWhereStatusIn(ctx context.Context, statuses ...Status) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("status IN ?", statusStrings(statuses)).Delete(&Invitation{})
	if res.Error != nil {
		return 0, persistence(res.Error)
	}
	return res.RowsAffected, nil
}

// withdrawPair moves accepted rows linking a and b (either direction) to
// withdrawn, skipping exceptToken.
func (s *Store) withdrawPair(ctx context.Context, owner, a, b, exceptToken string) (int64, error) {
	q := s.db.WithContext(ctx).Model(&Invitation{}).
		Where("status = ?", string(StatusAccepted)).
		Where("((sender_cloud_id = ? AND recipient_cloud_id = ?) OR (sender_cloud_id = ? AND recipient_cloud_id = ?))", a, b, b, a)
	if exceptToken != "" {
		q = q.Where("token <> ?", exceptToken)
	}
	if owner != "" {
		q = q.Where("owner = ?", owner)
	}
	res := q.Updates(map[string]any{"status": string(StatusWithdrawn), "live_key": nil, "updated_at": s.now().UTC()})
	if res.Error != nil {
		return 0, persistence(res.Error)
	}
	return res.RowsAffected, nil
}

func statusStrings(ss []Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
