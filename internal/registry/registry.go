package registry

import (
	"context"
	"sync"

	"github.com/bdgdview/bdgd-api/internal/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Catalog is the slice of the repository the registry reads from.
type Catalog interface {
	GeoTableNames(ctx context.Context) ([]string, error)
	TabTableNames(ctx context.Context) ([]string, error)
}

// Registry caches the administrator-declared queryable tables. It is
// the whitelist every dynamic table identifier is checked against
// before any query text is assembled.
type Registry struct {
	log     *zap.Logger
	catalog Catalog

	mu  sync.RWMutex
	geo map[string]struct{}
	tab map[string]struct{}
}

type Params struct {
	fx.In

	LC   fx.Lifecycle
	Log  *zap.Logger
	Repo repository.Repository
}

func New(p Params) *Registry {
	r := newRegistry(p.Repo, p.Log)

	// populate at startup; a failure is tolerated because Allowed
	// reloads lazily while the sets are empty
	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := r.Load(ctx); err != nil {
				r.log.Warn("failed loading table whitelist at startup", zap.Error(err))
			}
			return nil
		},
	})

	return r
}

func newRegistry(catalog Catalog, log *zap.Logger) *Registry {
	return &Registry{
		log:     log,
		catalog: catalog,
		geo:     make(map[string]struct{}),
		tab:     make(map[string]struct{}),
	}
}

// Load replaces both cached sets from the catalog tables. Each
// category is swapped wholesale; readers see either the old or the
// new set, never a mix.
func (r *Registry) Load(ctx context.Context) error {
	geoNames, err := r.catalog.GeoTableNames(ctx)
	if err != nil {
		return err
	}

	tabNames, err := r.catalog.TabTableNames(ctx)
	if err != nil {
		return err
	}

	geo := make(map[string]struct{}, len(geoNames))
	for _, name := range geoNames {
		geo[name] = struct{}{}
	}

	tab := make(map[string]struct{}, len(tabNames))
	for _, name := range tabNames {
		tab[name] = struct{}{}
	}

	r.mu.Lock()
	r.geo = geo
	r.tab = tab
	r.mu.Unlock()

	r.log.Info("loaded table whitelist",
		zap.Int("geographic", len(geo)),
		zap.Int("tabular", len(tab)))

	return nil
}

// Allowed reports whether table is in either cached set, reloading
// the catalog first when both sets are empty. Concurrent first
// requests may race on the reload; the load is idempotent so the
// last write wins.
func (r *Registry) Allowed(ctx context.Context, table string) (bool, error) {
	if r.empty() {
		if err := r.Load(ctx); err != nil {
			return false, err
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.geo[table]; ok {
		return true, nil
	}
	_, ok := r.tab[table]
	return ok, nil
}

func (r *Registry) empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.geo) == 0 && len(r.tab) == 0
}
