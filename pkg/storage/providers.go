package storage

import (
	bunrepo "github.com/goliatone/go-access-approval/internal/storage/bun"
	"github.com/goliatone/go-access-approval/internal/storage/memory"
	"github.com/goliatone/go-access-approval/pkg/domain"
	"github.com/goliatone/go-access-approval/pkg/interfaces/store"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// MetricsCollector enables downstream observers to record repo timings.
type MetricsCollector interface {
	Record(operation string, labels map[string]string)
}

// Providers exposes the repositories and transaction manager services need.
type Providers struct {
	Policies    store.PolicyRepository
	Requests    store.RequestRepository
	Transaction store.TransactionManager
	Metrics     MetricsCollector
}

type Option func(*providerSettings)

type providerSettings struct {
	metrics MetricsCollector
	replica *bun.DB
}

// WithMetricsCollector registers a metrics collector returned alongside repos.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(s *providerSettings) {
		s.metrics = collector
	}
}

// WithReadReplica routes policy listing through a replica connection.
// Decision-time reads always use the primary.
func WithReadReplica(replica *bun.DB) Option {
	return func(s *providerSettings) {
		s.replica = replica
	}
}

// NewMemoryProviders returns repositories backed by in-memory maps. The
// memory transaction manager serializes transactional sections so the
// lifecycle guarantees hold without a database.
func NewMemoryProviders(opts ...Option) Providers {
	settings := applyOptions(opts)
	return Providers{
		Policies:    memory.NewPolicyRepository(),
		Requests:    memory.NewRequestRepository(),
		Transaction: memory.NewTxManager(),
		Metrics:     settings.metrics,
	}
}

// NewBunProviders wires Bun-backed repositories. The caller creates the
// *bun.DB (potentially via go-persistence-bun) and manages its lifecycle.
func NewBunProviders(db *bun.DB, opts ...Option) Providers {
	if db == nil {
		panic("storage: bun DB is required")
	}
	settings := applyOptions(opts)

	// Register models so go-persistence-bun migrations can pick them up.
	persistence.RegisterModel(
		(*domain.AccessApprovalPolicy)(nil),
		(*domain.PolicyApprover)(nil),
		(*domain.ApprovalRequest)(nil),
		(*domain.ApprovalRecord)(nil),
	)

	var policyOpts []bunrepo.PolicyOption
	if settings.replica != nil {
		policyOpts = append(policyOpts, bunrepo.WithReadReplica(settings.replica))
	}

	return Providers{
		Policies:    bunrepo.NewPolicyRepository(db, policyOpts...),
		Requests:    bunrepo.NewRequestRepository(db),
		Transaction: bunrepo.NewTxManager(db),
		Metrics:     settings.metrics,
	}
}

func applyOptions(opts []Option) providerSettings {
	settings := providerSettings{}
	for _, opt := range opts {
		opt(&settings)
	}
	return settings
}
