package settings_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/DAJ8112/Yanck/internal/settings"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Get(ctx context.Context) (*settings.Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.Settings), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, s *settings.Settings) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockRepository) GetTenant(ctx context.Context, tenantID string) (*settings.TenantSettings, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.TenantSettings), args.Error(1)
}

func (m *MockRepository) UpsertTenant(ctx context.Context, s *settings.TenantSettings) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}
