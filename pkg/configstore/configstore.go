// Package configstore implements C1: the bootstrap and lookup layer for
// application configuration, project options, and chat message templates.
// It owns default seeding and exposes read-mostly snapshots so the hot
// paths in approval, ssoorch, and jenkinsorch never touch the database for
// every lookup.
package configstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360studio/relbot/pkg/relbot/model"
	"github.com/c360studio/relbot/pkg/sqlstore"
)

// defaultTemplates seeds the two request templates posted for approval: the
// default one and its address-only variant. No approved, rejected, or
// progress templates are seeded; those messages are composed in code.
var defaultTemplates = []struct {
	templateType model.TemplateType
	text         string
}{
	{model.TemplateDefault, "Deployment request {{.WorkflowID}} from {{.Username}} for {{.Project}}:\n{{.SubmissionData}}"},
	{model.TemplateAddressOnly, "Deployment request {{.WorkflowID}} from {{.Username}} for {{.Project}} (address only)."},
}

// Store is the configuration facade used by the rest of relbot.
type Store struct {
	db *sqlstore.Store

	mu   sync.RWMutex
	opts model.ProjectOptions
}

// New wraps db and seeds default templates if they are missing.
func New(ctx context.Context, db *sqlstore.Store) (*Store, error) {
	s := &Store{db: db}
	for _, t := range defaultTemplates {
		if err := db.SeedMessageTemplate(ctx, t.templateType, "", t.text); err != nil {
			return nil, fmt.Errorf("configstore: seed templates: %w", err)
		}
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads project options from the database into the in-memory
// snapshot. Called at boot and whenever relbotctl writes new options.
func (s *Store) Reload(ctx context.Context) error {
	opts, err := s.db.LoadProjectOptions(ctx)
	if err != nil {
		return fmt.Errorf("configstore: reload project options: %w", err)
	}
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
	return nil
}

// ProjectOptions returns an immutable snapshot of all project configuration.
func (s *Store) ProjectOptions() model.ProjectOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// Project looks up one project's configuration by name.
func (s *Store) Project(name string) (model.ProjectOption, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	opt, ok := s.opts.Projects[name]
	return opt, ok
}

// ProjectByCommand finds the project whose slash command matches cmd.
func (s *Store) ProjectByCommand(cmd string) (string, model.ProjectOption, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, opt := range s.opts.Projects {
		if opt.NormalizedCommand() == cmd {
			return name, opt, true
		}
	}
	return "", model.ProjectOption{}, false
}

// SetProject upserts one project's configuration and refreshes the snapshot.
func (s *Store) SetProject(ctx context.Context, name string, opt model.ProjectOption) error {
	if err := s.db.UpsertProjectOptions(ctx, name, opt, time.Now()); err != nil {
		return err
	}
	return s.Reload(ctx)
}

// GetAppConfig returns a configuration value, or def when unset.
func (s *Store) GetAppConfig(ctx context.Context, key, def string) (string, error) {
	return s.db.GetAppConfig(ctx, key, def)
}

// SetAppConfig upserts a configuration value (used by relbotctl update-token).
func (s *Store) SetAppConfig(ctx context.Context, key, value string) error {
	return s.db.SetAppConfig(ctx, key, value, time.Now())
}

// MessageTemplate resolves the chat copy for a template type and project,
// falling back to the built-in default text if nothing was ever seeded.
func (s *Store) MessageTemplate(ctx context.Context, templateType model.TemplateType, project string) (string, error) {
	def := ""
	for _, t := range defaultTemplates {
		if t.templateType == templateType {
			def = t.text
			break
		}
	}
	return s.db.GetMessageTemplate(ctx, templateType, project, def)
}
