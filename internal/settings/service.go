package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Settings are the deployment wide knobs editable over HTTP. A zero
// DefaultTopK means "use the configured default".
type Settings struct {
	ID           int    `json:"-"`
	GeminiAPIKey string `json:"gemini_api_key"`
	DefaultTopK  int    `json:"default_top_k"`
}

// TenantSettings override deployment settings for one tenant. Zero values
// fall through to the deployment setting.
type TenantSettings struct {
	TenantID    string    `json:"tenant_id"`
	DefaultTopK int       `json:"default_top_k"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
	GetTenant(ctx context.Context, tenantID string) (*TenantSettings, error)
	UpsertTenant(ctx context.Context, s *TenantSettings) error
}

type Service struct {
	repo Repository
	maxK int
}

func NewService(repo Repository, maxK int) *Service {
	return &Service{repo: repo, maxK: maxK}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

// Update saves deployment settings. A key equal to the masked form of the
// stored one leaves the stored key in place, so a client can send back what
// it read.
func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := s.checkTopK(set.DefaultTopK); err != nil {
		return err
	}
	if set.GeminiAPIKey != "" && strings.Contains(set.GeminiAPIKey, maskRune) {
		cur, err := s.repo.Get(ctx)
		if err != nil {
			return fmt.Errorf("read settings: %w", err)
		}
		if set.GeminiAPIKey != MaskKey(cur.GeminiAPIKey) {
			return fmt.Errorf("%w: gemini_api_key looks masked but does not match the stored key", ErrInvalidSettings)
		}
		set.GeminiAPIKey = cur.GeminiAPIKey
	}
	return s.repo.Update(ctx, set)
}

func (s *Service) GetTenant(ctx context.Context, tenantID string) (*TenantSettings, error) {
	return s.repo.GetTenant(ctx, tenantID)
}

func (s *Service) UpdateTenant(ctx context.Context, set *TenantSettings) error {
	if err := s.checkTopK(set.DefaultTopK); err != nil {
		return err
	}
	return s.repo.UpsertTenant(ctx, set)
}

// TopK is the default result count for a tenant: the tenant override, else the
// deployment setting, else zero.
func (s *Service) TopK(ctx context.Context, tenantID string) (int, error) {
	ts, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("read tenant settings: %w", err)
	}
	if ts.DefaultTopK > 0 {
		return ts.DefaultTopK, nil
	}

	cur, err := s.repo.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("read settings: %w", err)
	}
	return cur.DefaultTopK, nil
}

// Seed stores the environment API key when none has been saved yet.
func (s *Service) Seed(ctx context.Context, geminiAPIKey string) error {
	if geminiAPIKey == "" {
		return nil
	}
	cur, err := s.repo.Get(ctx)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	if cur.GeminiAPIKey != "" {
		return nil
	}
	cur.GeminiAPIKey = geminiAPIKey
	return s.repo.Update(ctx, cur)
}

func (s *Service) checkTopK(k int) error {
	if k < 0 || (s.maxK > 0 && k > s.maxK) {
		return fmt.Errorf("%w: default_top_k must be between 0 and %d", ErrInvalidSettings, s.maxK)
	}
	return nil
}

const maskRune = "•"

// MaskKey keeps the last four characters of a secret.
func MaskKey(key string) string {
	r := []rune(key)
	if len(r) == 0 {
		return ""
	}
	if len(r) <= 4 {
		return strings.Repeat(maskRune, len(r))
	}
	return strings.Repeat(maskRune, len(r)-4) + string(r[len(r)-4:])
}
