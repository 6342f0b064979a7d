// Package devices resolves (customer, fingerprint) pairs to stable device
// identities.
package devices

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/harrierhq/harrier/internal/domain"
)

// Registry tracks devices per customer. The repository's atomic upsert
// enforces one row per (customer, fingerprint) with first_seen set exactly
// once; the registry is the service-level surface over it.
type Registry struct {
	repo domain.Repository
}

// NewRegistry creates a device registry backed by the repository.
func NewRegistry(repo domain.Repository) *Registry {
	return &Registry{repo: repo}
}

// Resolve returns the device for (customerID, fingerprint), creating it on
// first sight and touching last_seen otherwise. Safe under concurrent calls
// for the same pair.
func (r *Registry) Resolve(ctx context.Context, customerID, fingerprint, label string) (*domain.Device, error) {
	d, err := r.repo.ResolveDevice(ctx, customerID, fingerprint, label)
	if err != nil {
		return nil, err
	}

	if d.FirstSeen.Equal(d.LastSeen) {
		slog.Debug("device registered",
			"device_id", d.ID,
			"customer_id", customerID,
		)
	}
	return d, nil
}

// ResolvePortal resolves the stable web-portal device for a customer, so
// portal-originated transactions always carry a device.
func (r *Registry) ResolvePortal(ctx context.Context, customerID string) (*domain.Device, error) {
	fingerprint := fmt.Sprintf("web_portal_%s", customerID)
	return r.Resolve(ctx, customerID, fingerprint, "Web Portal")
}
