// Package service implements the device registry used by login and sync.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"unified-ai/backend/internal/device/domain"
	"unified-ai/backend/internal/device/repository"
	"unified-ai/backend/internal/logging"
	"unified-ai/backend/internal/platform/apperr"
	"unified-ai/backend/internal/platform/clock"
	"unified-ai/backend/internal/platform/ids"
)

const maxDeviceNameLen = 128

// Registry registers and resolves devices. Resolved devices are cached for a
// short TTL; owner and platform never change, and local activation changes
// invalidate the entry.
type Registry struct {
	repo  repository.Repository
	cache *lru.LRU[string, domain.Device]
	clock clock.Clock
	log   logrus.FieldLogger
}

// NewRegistry returns a Registry. cacheSize <= 0 disables caching.
func NewRegistry(repo repository.Repository, cacheSize int, cacheTTL time.Duration, clk clock.Clock, log logrus.FieldLogger) *Registry {
	r := &Registry{repo: repo, clock: clk, log: logging.OrDiscard(log)}
	if r.clock == nil {
		r.clock = clock.Real()
	}
	if cacheSize > 0 {
		r.cache = lru.NewLRU[string, domain.Device](cacheSize, nil, cacheTTL)
	}
	return r
}

// RegisterDevice returns the user's device with that name, creating it when
// absent and reactivating it when it was deactivated.
func (r *Registry) RegisterDevice(ctx context.Context, userID, name, platform string) (*domain.Device, error) {
	name = strings.TrimSpace(name)
	if userID == "" {
		return nil, apperr.Validation("user id is required")
	}
	if name == "" || len(name) > maxDeviceNameLen {
		return nil, apperr.Validation("device name must be 1-%d characters", maxDeviceNameLen)
	}
	p, ok := domain.ParsePlatform(platform)
	if !ok {
		return nil, apperr.Validation("platform must be desktop, web or mobile")
	}

	existing, err := r.repo.GetByUserAndName(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !existing.IsActive {
			if err := r.repo.SetActive(ctx, existing.ID, true); err != nil {
				return nil, err
			}
			existing.IsActive = true
			r.invalidate(existing.ID)
		}
		return existing, nil
	}

	d := &domain.Device{
		ID:        ids.New(),
		UserID:    userID,
		Name:      name,
		Platform:  p,
		IsActive:  true,
		CreatedAt: r.clock.Now(),
	}
	if err := r.repo.Create(ctx, d); err != nil {
		if errors.Is(err, repository.ErrDuplicateDevice) {
			// Lost a race with a concurrent registration of the same name.
			return r.repo.GetByUserAndName(ctx, userID, name)
		}
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"user_id": userID, "device_id": d.ID, "platform": p}).Info("device registered")
	return d, nil
}

// GetUserDevices lists all devices of the user, active or not.
func (r *Registry) GetUserDevices(ctx context.Context, userID string) ([]*domain.Device, error) {
	return r.repo.ListByUser(ctx, userID)
}

// Resolve returns the device or apperr.ErrNotFound. Malformed ids are not found.
func (r *Registry) Resolve(ctx context.Context, deviceID string) (*domain.Device, error) {
	if !ids.Valid(deviceID) {
		return nil, apperr.ErrNotFound
	}
	if r.cache != nil {
		if d, ok := r.cache.Get(deviceID); ok {
			return &d, nil
		}
	}
	d, err := r.repo.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apperr.ErrNotFound
	}
	if r.cache != nil {
		r.cache.Add(deviceID, *d)
	}
	return d, nil
}

// UpdateDeviceLastSync records a successful sync at at. Older timestamps are ignored.
func (r *Registry) UpdateDeviceLastSync(ctx context.Context, deviceID string, at time.Time) error {
	return r.repo.UpdateLastSync(ctx, deviceID, at.UTC())
}

// DeactivateDevice marks the user's device inactive. Devices of other users
// are reported as not found.
func (r *Registry) DeactivateDevice(ctx context.Context, userID, deviceID string) error {
	if !ids.Valid(deviceID) {
		return apperr.ErrNotFound
	}
	d, err := r.repo.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if d == nil || d.UserID != userID {
		return apperr.ErrNotFound
	}
	if !d.IsActive {
		return nil
	}
	if err := r.repo.SetActive(ctx, deviceID, false); err != nil {
		return err
	}
	r.invalidate(deviceID)
	return nil
}

func (r *Registry) invalidate(deviceID string) {
	if r.cache != nil {
		r.cache.Remove(deviceID)
	}
}
