// Package approvals is the public facade of the access approval engine. It
// assembles storage, membership resolution, and the lifecycle services into
// one embeddable module.
package approvals

import (
	"reflect"

	"github.com/goliatone/go-access-approval/internal/policies"
	"github.com/goliatone/go-access-approval/internal/requests"
	"github.com/goliatone/go-access-approval/pkg/activity"
	"github.com/goliatone/go-access-approval/pkg/commands"
	"github.com/goliatone/go-access-approval/pkg/config"
	"github.com/goliatone/go-access-approval/pkg/groups"
	"github.com/goliatone/go-access-approval/pkg/interfaces/broadcaster"
	"github.com/goliatone/go-access-approval/pkg/interfaces/cache"
	"github.com/goliatone/go-access-approval/pkg/interfaces/directory"
	"github.com/goliatone/go-access-approval/pkg/interfaces/logger"
	"github.com/goliatone/go-access-approval/pkg/storage"
)

// ModuleOptions configure the approvals module facade.
type ModuleOptions struct {
	Config       config.Config
	Storage      storage.Providers
	Logger       logger.Logger
	Cache        cache.Cache
	Environments directory.EnvironmentLookup
	Groups       directory.GroupResolver
	Broadcaster  broadcaster.Broadcaster
	Hooks        activity.Hooks
}

// Module bundles the services and exposes high-level accessors.
type Module struct {
	cfg      config.Config
	policies *policies.Service
	requests *requests.Service
	commands *commands.Catalog
	groups   *groups.Resolver
}

// NewModule assembles repositories, group resolution, services, and commands.
func NewModule(opts ModuleOptions) (*Module, error) {
	cfg := opts.Config
	if reflect.DeepEqual(cfg, config.Config{}) {
		cfg = config.Defaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Storage.Policies == nil || opts.Storage.Requests == nil {
		opts.Storage = storage.NewMemoryProviders()
	}
	if opts.Logger == nil {
		opts.Logger = &logger.Nop{}
	}
	if opts.Cache == nil {
		opts.Cache = &cache.Nop{}
	}

	resolver := groups.NewResolver(opts.Groups,
		groups.WithCache(opts.Cache, cfg.Groups.CacheTTL),
		groups.WithMaxDepth(cfg.Groups.MaxDepth),
	)

	requestSvc, err := requests.NewService(requests.Dependencies{
		Policies:    opts.Storage.Policies,
		Requests:    opts.Storage.Requests,
		Transaction: opts.Storage.Transaction,
		Groups:      resolver,
		Logger:      opts.Logger,
		Broadcaster: opts.Broadcaster,
		Hooks:       opts.Hooks,
		Config:      cfg.Requests,
		Decisions:   cfg.Decisions,
	})
	if err != nil {
		return nil, err
	}
	policySvc, err := policies.NewService(policies.Dependencies{
		Policies:     opts.Storage.Policies,
		Requests:     opts.Storage.Requests,
		Transaction:  opts.Storage.Transaction,
		Environments: opts.Environments,
		Logger:       opts.Logger,
		Hooks:        opts.Hooks,
	})
	if err != nil {
		return nil, err
	}
	catalog, err := commands.NewCatalog(commands.Dependencies{
		Policies: policySvc,
		Requests: requestSvc,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Module{
		cfg:      cfg,
		policies: policySvc,
		requests: requestSvc,
		commands: catalog,
		groups:   resolver,
	}, nil
}

// Policies returns the policy administration service.
func (m *Module) Policies() *policies.Service {
	if m == nil {
		return nil
	}
	return m.policies
}

// Requests returns the request lifecycle controller.
func (m *Module) Requests() *requests.Service {
	if m == nil {
		return nil
	}
	return m.requests
}

// Commands returns the go-command catalog.
func (m *Module) Commands() *commands.Catalog {
	if m == nil {
		return nil
	}
	return m.commands
}

// Groups returns the caching membership resolver.
func (m *Module) Groups() *groups.Resolver {
	if m == nil {
		return nil
	}
	return m.groups
}

// Config returns the effective configuration.
func (m *Module) Config() config.Config {
	if m == nil {
		return config.Config{}
	}
	return m.cfg
}
