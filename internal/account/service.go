// Package account reacts to identity provider lifecycle events.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pizza-pantry/pizza-pantry/internal/inventory"
	"github.com/pizza-pantry/pizza-pantry/internal/preferences"
)

// InventoryPurger removes an owner's inventory and ledger.
type InventoryPurger interface {
	PurgeOwner(ctx context.Context, ownerID string) (inventory.PurgeResult, error)
}

// PreferenceStore manages per-user preferences.
type PreferenceStore interface {
	EnsureDefaults(ctx context.Context, userID, email string) (preferences.Preferences, error)
	UpdateEmail(ctx context.Context, userID, email string) error
	Delete(ctx context.Context, userID string) error
}

// PurgeScheduler hands account removal to the worker.
type PurgeScheduler interface {
	EnqueueAccountPurge(ctx context.Context, userID string) error
}

// Service implements auth.UserEvents and the account purge job.
type Service struct {
	inventory   InventoryPurger
	preferences PreferenceStore
	scheduler   PurgeScheduler
	logger      *slog.Logger
}

// NewService constructs Service. scheduler may be nil, in which case
// deletions are purged inline.
func NewService(inv InventoryPurger, prefs PreferenceStore, scheduler PurgeScheduler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{inventory: inv, preferences: prefs, scheduler: scheduler, logger: logger}
}

// UserCreated initialises default preferences.
func (s *Service) UserCreated(ctx context.Context, userID, email string) error {
	if userID == "" {
		return errors.New("account: user id required")
	}
	_, err := s.preferences.EnsureDefaults(ctx, userID, email)
	return err
}

// UserUpdated records the new primary email.
func (s *Service) UserUpdated(ctx context.Context, userID, email string) error {
	if userID == "" {
		return errors.New("account: user id required")
	}
	if email == "" {
		return nil
	}
	return s.preferences.UpdateEmail(ctx, userID, email)
}

// UserDeleted removes every document of the account, through the worker when
// one is configured.
func (s *Service) UserDeleted(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("account: user id required")
	}
	if s.scheduler != nil {
		err := s.scheduler.EnqueueAccountPurge(ctx, userID)
		if err == nil {
			s.logger.Info("account purge scheduled", slog.String("user_id", userID))
			return nil
		}
		s.logger.Warn("schedule account purge failed, purging inline", slog.String("user_id", userID), slog.Any("error", err))
	}
	return s.PurgeAccount(ctx, userID)
}

// PurgeAccount deletes inventory, ledger and preferences of userID.
func (s *Service) PurgeAccount(ctx context.Context, userID string) error {
	res, err := s.inventory.PurgeOwner(ctx, userID)
	if err != nil {
		return fmt.Errorf("account: purge inventory: %w", err)
	}
	if err := s.preferences.Delete(ctx, userID); err != nil {
		return fmt.Errorf("account: purge preferences: %w", err)
	}
	s.logger.Info("account purged",
		slog.String("user_id", userID),
		slog.Int64("items", res.Items),
		slog.Int64("adjustments", res.Adjustments))
	return nil
}
