package preferences

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// Theme values accepted by Update.
const (
	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeSystem = "system"
)

// Default values applied to new accounts.
const (
	DefaultCategory          = "Other"
	DefaultUnit              = "units"
	DefaultLowStockThreshold = 5
)

var (
	// ErrNotFound indicates no preferences are stored for the user.
	ErrNotFound = errors.New("preferences: not found")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("preferences: validation failed")
)

// Notifications toggles the alerts a user receives.
type Notifications struct {
	LowStock     bool `json:"lowStock"`
	OutOfStock   bool `json:"outOfStock"`
	WeeklyReport bool `json:"weeklyReport"`
}

// InventoryDefaults prefill new items in the client.
type InventoryDefaults struct {
	DefaultCategory   string  `json:"defaultCategory"`
	DefaultUnit       string  `json:"defaultUnit"`
	LowStockThreshold float64 `json:"lowStockThreshold"`
}

// Preferences holds per-user settings.
type Preferences struct {
	UserID        string            `json:"userId"`
	Email         string            `json:"email,omitempty"`
	Theme         string            `json:"theme"`
	Notifications Notifications     `json:"notifications"`
	Inventory     InventoryDefaults `json:"inventory"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Defaults returns the settings of a new account.
func Defaults(userID, email string, now time.Time) Preferences {
	return Preferences{
		UserID: userID,
		Email:  email,
		Theme:  ThemeSystem,
		Notifications: Notifications{
			LowStock:     true,
			OutOfStock:   true,
			WeeklyReport: false,
		},
		Inventory: InventoryDefaults{
			DefaultCategory:   DefaultCategory,
			DefaultUnit:       DefaultUnit,
			LowStockThreshold: DefaultLowStockThreshold,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NotificationsPatch changes individual notification toggles.
type NotificationsPatch struct {
	LowStock     *bool `json:"lowStock"`
	OutOfStock   *bool `json:"outOfStock"`
	WeeklyReport *bool `json:"weeklyReport"`
}

// InventoryPatch changes individual inventory defaults.
type InventoryPatch struct {
	DefaultCategory   *string  `json:"defaultCategory" validate:"omitempty,max=50"`
	DefaultUnit       *string  `json:"defaultUnit" validate:"omitempty,max=20"`
	LowStockThreshold *float64 `json:"lowStockThreshold" validate:"omitempty,gte=0,lte=100000"`
}

// Update is a partial change of the user-editable settings.
type Update struct {
	Theme         *string             `json:"theme" validate:"omitempty,oneof=light dark system"`
	Notifications *NotificationsPatch `json:"notifications"`
	Inventory     *InventoryPatch     `json:"inventory"`
}

// Apply merges u into p.
func (u Update) Apply(p Preferences) Preferences {
	if u.Theme != nil {
		p.Theme = *u.Theme
	}
	if n := u.Notifications; n != nil {
		if n.LowStock != nil {
			p.Notifications.LowStock = *n.LowStock
		}
		if n.OutOfStock != nil {
			p.Notifications.OutOfStock = *n.OutOfStock
		}
		if n.WeeklyReport != nil {
			p.Notifications.WeeklyReport = *n.WeeklyReport
		}
	}
	if inv := u.Inventory; inv != nil {
		if inv.DefaultCategory != nil {
			p.Inventory.DefaultCategory = strings.TrimSpace(*inv.DefaultCategory)
		}
		if inv.DefaultUnit != nil {
			p.Inventory.DefaultUnit = strings.TrimSpace(*inv.DefaultUnit)
		}
		if inv.LowStockThreshold != nil {
			p.Inventory.LowStockThreshold = *inv.LowStockThreshold
		}
	}
	return p
}

// ValidationError lists every offending field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "preferences: validation failed: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
