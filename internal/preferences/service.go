package preferences

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pizza-pantry/pizza-pantry/internal/shared"
)

// Repository persists preferences.
type Repository interface {
	Get(ctx context.Context, userID string) (Preferences, error)
	// Insert stores p unless the user already has preferences, and returns
	// whatever is stored afterwards.
	Insert(ctx context.Context, p Preferences) (Preferences, error)
	Save(ctx context.Context, p Preferences) (Preferences, error)
	UpdateEmail(ctx context.Context, userID, email string, at time.Time) error
	Delete(ctx context.Context, userID string) (bool, error)
}

// Service implements preference use cases.
type Service struct {
	repo     Repository
	validate *validator.Validate
	logger   *slog.Logger
	clock    func() time.Time
}

// NewService constructs Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		return strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	})
	return &Service{repo: repo, validate: v, logger: logger, clock: time.Now}
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// Get returns the stored preferences, creating defaults on first access.
func (s *Service) Get(ctx context.Context, userID string) (Preferences, error) {
	if userID == "" {
		return Preferences{}, shared.ErrUnauthorized
	}
	p, err := s.repo.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Preferences{}, err
	}
	return s.repo.Insert(ctx, Defaults(userID, "", s.now()))
}

// Update validates and merges u into the user's preferences.
func (s *Service) Update(ctx context.Context, userID string, u Update) (Preferences, error) {
	if userID == "" {
		return Preferences{}, shared.ErrUnauthorized
	}
	if err := s.validateUpdate(u); err != nil {
		return Preferences{}, err
	}
	current, err := s.Get(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}
	next := u.Apply(current)
	next.UpdatedAt = s.now()
	return s.repo.Save(ctx, next)
}

// EnsureDefaults creates default preferences for a new account.
func (s *Service) EnsureDefaults(ctx context.Context, userID, email string) (Preferences, error) {
	if userID == "" {
		return Preferences{}, shared.ErrUnauthorized
	}
	p, err := s.repo.Insert(ctx, Defaults(userID, email, s.now()))
	if err != nil {
		return Preferences{}, err
	}
	if email != "" && p.Email != email {
		if err := s.repo.UpdateEmail(ctx, userID, email, s.now()); err != nil {
			return Preferences{}, err
		}
		p.Email = email
	}
	return p, nil
}

// UpdateEmail records the account's primary email.
func (s *Service) UpdateEmail(ctx context.Context, userID, email string) error {
	if userID == "" {
		return shared.ErrUnauthorized
	}
	err := s.repo.UpdateEmail(ctx, userID, email, s.now())
	if errors.Is(err, ErrNotFound) {
		_, err = s.EnsureDefaults(ctx, userID, email)
	}
	return err
}

// Delete removes the user's preferences. Missing preferences are not an error.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if userID == "" {
		return shared.ErrUnauthorized
	}
	deleted, err := s.repo.Delete(ctx, userID)
	if err != nil {
		return fmt.Errorf("preferences: delete: %w", err)
	}
	s.logger.Debug("preferences deleted", slog.String("user_id", userID), slog.Bool("existed", deleted))
	return nil
}

func (s *Service) validateUpdate(u Update) error {
	verr := &ValidationError{Fields: map[string]string{}}
	if inv := u.Inventory; inv != nil {
		if inv.DefaultCategory != nil && strings.TrimSpace(*inv.DefaultCategory) == "" {
			verr.Fields["inventory.defaultCategory"] = "must not be empty"
		}
		if inv.DefaultUnit != nil && strings.TrimSpace(*inv.DefaultUnit) == "" {
			verr.Fields["inventory.defaultUnit"] = "must not be empty"
		}
	}
	var fieldErrs validator.ValidationErrors
	if err := s.validate.Struct(u); err != nil && !errors.As(err, &fieldErrs) {
		return err
	}
	for _, fe := range fieldErrs {
		// Namespace is "Update.inventory.defaultUnit"; drop the root.
		name := fe.Namespace()
		if i := strings.IndexByte(name, '.'); i >= 0 {
			name = name[i+1:]
		}
		verr.Fields[name] = message(fe)
	}
	if len(verr.Fields) == 0 {
		return nil
	}
	return verr
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "gte":
		return "cannot be negative"
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return "is invalid"
	}
}
