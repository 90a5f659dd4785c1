// Package project provisions and lists projects, the resource groups every
// other resource hangs off.
package project

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/arborcloud/console/internal/store"
)

// Service owns project provisioning and listing.
type Service struct {
	accounts store.Accounts
	projects store.Projects
	log      *slog.Logger
}

// NewService creates a project Service.
func NewService(accounts store.Accounts, projects store.Projects, log *slog.Logger) *Service {
	return &Service{accounts: accounts, projects: projects, log: log}
}

// AccountCreated provisions the default project for a freshly created
// account. The caller guarantees exactly one invocation per creation; a
// provisioning failure surfaces as an error but does not undo the account.
func (s *Service) AccountCreated(ctx context.Context, accountID string) error {
	account, err := s.accounts.AccountByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("project: provision default: %w", err)
	}

	p := &store.Project{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Name:      account.Name + "-default-project",
	}
	if err := s.projects.CreateProject(ctx, p); err != nil {
		return fmt.Errorf("project: provision default: %w", err)
	}

	s.log.InfoContext(ctx, "default project provisioned",
		slog.String("account_id", account.ID),
		slog.String("project_id", p.ID),
	)
	return nil
}

// List returns the account's projects.
func (s *Service) List(ctx context.Context, accountID string) ([]*store.Project, error) {
	return s.projects.ProjectsByAccount(ctx, accountID)
}
