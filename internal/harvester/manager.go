package harvester

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/starford/spices/internal/apperr"
	"github.com/starford/spices/internal/installer"
	"github.com/starford/spices/internal/models"
)

// Manager owns one Harvester per package type.
type Manager struct {
	order      []models.PackageType
	harvesters map[models.PackageType]*Harvester
}

// NewManager wraps hs, keeping their order.
func NewManager(hs ...*Harvester) *Manager {
	m := &Manager{harvesters: make(map[models.PackageType]*Harvester, len(hs))}
	for _, h := range hs {
		if _, dup := m.harvesters[h.Type()]; dup {
			continue
		}
		m.order = append(m.order, h.Type())
		m.harvesters[h.Type()] = h
	}
	return m
}

// Types lists the managed types in order.
func (m *Manager) Types() []models.PackageType {
	return append([]models.PackageType(nil), m.order...)
}

// Harvester returns the harvester of kind.
func (m *Manager) Harvester(kind models.PackageType) (*Harvester, bool) {
	h, ok := m.harvesters[kind]
	return h, ok
}

// All returns every harvester in order.
func (m *Manager) All() []*Harvester {
	out := make([]*Harvester, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.harvesters[k])
	}
	return out
}

// GetUpdates concatenates the updates of every type.
func (m *Manager) GetUpdates() []models.UpdateRecord {
	var out []models.UpdateRecord
	for _, h := range m.All() {
		out = append(out, h.GetUpdates()...)
	}
	return out
}

// RefreshAllCaches refreshes every type concurrently and waits for all of
// them. Reports are returned in type order; errors are joined.
func (m *Manager) RefreshAllCaches(ctx context.Context) ([]*RefreshReport, error) {
	hs := m.All()
	reports := make([]*RefreshReport, len(hs))
	errs := make([]error, len(hs))

	var g errgroup.Group
	for i, h := range hs {
		g.Go(func() error {
			reports[i], errs[i] = h.Refresh(ctx)
			if errs[i] != nil {
				errs[i] = fmt.Errorf("%s: %w", h.Type(), errs[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(errs...)
}

// Upgrade installs the remote revision named by rec.
func (m *Manager) Upgrade(ctx context.Context, rec models.UpdateRecord) (*installer.Result, error) {
	h, ok := m.Harvester(rec.Type)
	if !ok {
		return nil, apperr.NotFound("upgrade", rec.UUID)
	}
	return h.Install(ctx, rec.UUID)
}

// UpgradeAll upgrades every outdated spice. A failure does not stop the
// remaining upgrades.
func (m *Manager) UpgradeAll(ctx context.Context) ([]*installer.Result, error) {
	var (
		results []*installer.Result
		errs    []error
	)
	for _, rec := range m.GetUpdates() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := m.Upgrade(ctx, rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Close closes every harvester.
func (m *Manager) Close() error {
	var errs []error
	for _, h := range m.All() {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
