package directory

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/apperr"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/collabmesh-go/internal/platform/store"
)

// Options configures endpoint policy.
type Options struct {
	// AllowInsecureEndpoints accepts http:// endpoints.
	AllowInsecureEndpoints bool
}

// Directory persists provider records.
type Directory struct {
	db   *gorm.DB
	opts Options
	log  *slog.Logger
}

// New creates a Directory over db.
func New(db *gorm.DB, opts Options, log *slog.Logger) *Directory {
	return &Directory{db: db, opts: opts, log: logutil.ForComponent(log, "directory")}
}

func persistence(err error) error {
	return apperr.Persistence(CodeStorage, err)
}

// normalize fills canonical endpoint and domain and validates the record.
func (d *Directory) normalize(p *Provider) error {
	ep, err := NormalizeEndpoint(p.Endpoint, d.opts.AllowInsecureEndpoints)
	if err != nil {
		return err
	}
	dom, err := NormalizeDomain(p.Domain)
	if err != nil {
		return err
	}
	p.Endpoint = ep
	p.Domain = dom
	p.UUID = strings.ToLower(strings.TrimSpace(p.UUID))
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = lo.CoalesceOrEmpty(p.Domain, p.Endpoint)
	}
	return nil
}

// identityTaken reports whether another row (id != exceptID) already uses
// uuid or domain.
func identityTaken(tx *gorm.DB, uuid, domain string, exceptID uint) (bool, error) {
	if uuid == "" && domain == "" {
		return false, nil
	}
	q := tx.Model(&Provider{})
	switch {
	case uuid != "" && domain != "":
		q = q.Where("(uuid = ? OR domain = ?)", uuid, domain)
	case uuid != "":
		q = q.Where("uuid = ?", uuid)
	default:
		q = q.Where("domain = ?", domain)
	}
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Register adds a provider. The endpoint must not be present yet; uuid and
// domain must not belong to another provider.
func (d *Directory) Register(ctx context.Context, p Provider) (*Provider, error) {
	if err := d.normalize(&p); err != nil {
		return nil, err
	}
	p.ID = 0

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Provider{}).Where("endpoint = ?", p.Endpoint).Count(&n).Error; err != nil {
			return persistence(err)
		}
		if n > 0 {
			return ErrDuplicate
		}
		taken, err := identityTaken(tx, p.UUID, p.Domain, 0)
		if err != nil {
			return persistence(err)
		}
		if taken {
			return apperr.Conflict(CodeIdentityTaken, "provider uuid or domain already registered")
		}
		if err := tx.Create(&p).Error; err != nil {
			if store.IsDuplicate(err) {
				return ErrDuplicate
			}
			return persistence(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.log.Info("provider registered", "endpoint", p.Endpoint, "domain", p.Domain)
	return &p, nil
}

// Find returns the single provider matching every set criterion.
// No criteria, no match, and more than one match are all ErrNotFound.
func (d *Directory) Find(ctx context.Context, c Criteria) (*Provider, error) {
	if c.empty() {
		return nil, ErrNotFound
	}

	q := d.db.WithContext(ctx).Model(&Provider{})
	if c.UUID != "" {
		q = q.Where("uuid = ?", strings.ToLower(strings.TrimSpace(c.UUID)))
	}
	if c.Domain != "" {
		dom, err := NormalizeDomain(c.Domain)
		if err != nil {
			return nil, ErrNotFound
		}
		q = q.Where("domain = ?", dom)
	}
	if c.Endpoint != "" {
		ep, err := NormalizeEndpoint(c.Endpoint, true)
		if err != nil {
			return nil, ErrNotFound
		}
		q = q.Where("endpoint = ?", ep)
	}

	var rows []Provider
	if err := q.Limit(2).Find(&rows).Error; err != nil {
		return nil, persistence(err)
	}
	if len(rows) != 1 {
		if len(rows) > 1 {
			d.log.Warn("ambiguous provider lookup", "uuid", c.UUID, "domain", c.Domain, "endpoint", c.Endpoint)
		}
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// FindByKey resolves a provider key that may be a domain or a uuid.
func (d *Directory) FindByKey(ctx context.Context, key string) (*Provider, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrNotFound
	}
	p, err := d.Find(ctx, Criteria{Domain: key})
	if errors.Is(err, ErrNotFound) {
		return d.Find(ctx, Criteria{UUID: key})
	}
	return p, err
}

// All returns every provider ordered by name, then endpoint.
func (d *Directory) All(ctx context.Context) ([]Provider, error) {
	var rows []Provider
	if err := d.db.WithContext(ctx).Order("name ASC").Order("endpoint ASC").Find(&rows).Error; err != nil {
		return nil, persistence(err)
	}
	return rows, nil
}

// Update changes the listed fields of the provider at endpoint.
func (d *Directory) Update(ctx context.Context, endpoint string, u ProviderUpdate) (*Provider, error) {
	ep, err := NormalizeEndpoint(endpoint, true)
	if err != nil {
		return nil, ErrNotFound
	}

	var out Provider
	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("endpoint = ?", ep).First(&out).Error; err != nil {
			if store.IsNotFound(err) {
				return ErrNotFound
			}
			return persistence(err)
		}

		cols := map[string]any{}
		if u.Name != nil {
			name := strings.TrimSpace(*u.Name)
			if name == "" {
				return apperr.Validation(CodeNameMissing, "provider name must not be empty")
			}
			cols["name"] = name
			out.Name = name
		}
		if u.UUID != nil {
			out.UUID = strings.ToLower(strings.TrimSpace(*u.UUID))
			cols["uuid"] = out.UUID
		}
		if u.Domain != nil {
			dom, err := NormalizeDomain(*u.Domain)
			if err != nil {
				return err
			}
			out.Domain = dom
			cols["domain"] = dom
		}
		if len(cols) == 0 {
			return nil
		}

		if u.UUID != nil || u.Domain != nil {
			taken, err := identityTaken(tx, out.UUID, out.Domain, out.ID)
			if err != nil {
				return persistence(err)
			}
			if taken {
				return apperr.Conflict(CodeIdentityTaken, "provider uuid or domain already registered")
			}
		}

		if err := tx.Model(&Provider{}).Where("id = ?", out.ID).Updates(cols).Error; err != nil {
			return persistence(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes the provider at endpoint and returns it. Invitations that
// reference it are left alone.
func (d *Directory) Delete(ctx context.Context, endpoint string) (*Provider, error) {
	ep, err := NormalizeEndpoint(endpoint, true)
	if err != nil {
		return nil, ErrNotFound
	}

	var out Provider
	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("endpoint = ?", ep).First(&out).Error; err != nil {
			if store.IsNotFound(err) {
				return ErrNotFound
			}
			return persistence(err)
		}
		if out.Self {
			return apperr.Validation(CodeNotRemote, "this instance cannot be removed from its own directory")
		}
		if err := tx.Delete(&Provider{}, out.ID).Error; err != nil {
			return persistence(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.log.Info("provider deleted", "endpoint", out.Endpoint)
	return &out, nil
}

// IsKnown reports whether a provider with this endpoint is registered.
func (d *Directory) IsKnown(ctx context.Context, endpoint string) (bool, error) {
	_, err := d.Find(ctx, Criteria{Endpoint: endpoint})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// EnsureSelf records this instance in its own directory, creating or
// refreshing the row keyed by endpoint.
func (d *Directory) EnsureSelf(ctx context.Context, self Provider) (*Provider, error) {
	self.Self = true
	if err := d.normalize(&self); err != nil {
		return nil, err
	}

	// A changed public origin leaves the old self row behind as a peer.
	if err := d.db.WithContext(ctx).Model(&Provider{}).
		Where("is_self = ? AND endpoint <> ?", true, self.Endpoint).
		Update("is_self", false).Error; err != nil {
		return nil, persistence(err)
	}

	var existing Provider
	err := d.db.WithContext(ctx).Where("endpoint = ?", self.Endpoint).First(&existing).Error
	switch {
	case store.IsNotFound(err):
		return d.Register(ctx, self)
	case err != nil:
		return nil, persistence(err)
	}

	existing.Name = self.Name
	existing.UUID = self.UUID
	existing.Domain = self.Domain
	existing.Self = true
	if err := d.db.WithContext(ctx).Save(&existing).Error; err != nil {
		return nil, persistence(err)
	}
	return &existing, nil
}

// Self returns this instance's own record.
func (d *Directory) Self(ctx context.Context) (*Provider, error) {
	var p Provider
	if err := d.db.WithContext(ctx).Where("is_self = ?", true).First(&p).Error; err != nil {
		if store.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, persistence(err)
	}
	return &p, nil
}
