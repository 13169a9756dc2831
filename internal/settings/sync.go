package settings

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/dshills/lspbridge/internal/lsp"
)

// Target is the registry surface Sync drives. *lsp.Registry satisfies it.
type Target interface {
	Configs() []lsp.ServerConfig
	RegisterConfig(cfg lsp.ServerConfig) error
	UnregisterConfig(id string)
	UpdateConfig(id string, u lsp.ConfigUpdate) error
}

// SyncResult lists the ids Sync touched.
type SyncResult struct {
	Added     []string
	Removed   []string
	Updated   []string
	Replaced  []string
	Unchanged []string
}

// Changed reports whether Sync touched the registry at all.
func (r SyncResult) Changed() bool {
	return len(r.Added)+len(r.Removed)+len(r.Updated)+len(r.Replaced) > 0
}

// Sync makes target hold exactly configs with the smallest set of calls:
// configs whose id disappeared are unregistered, new ids are registered and
// changed ones are updated in place, so untouched servers keep their
// connection. A config that drops its client section cannot be expressed as
// an update and is registered again instead.
//
// Duplicate ids are rejected before anything changes. Per-config failures do
// not stop the rest and are returned joined.
func Sync(target Target, configs []lsp.ServerConfig) (SyncResult, error) {
	var res SyncResult

	wanted := make(map[string]lsp.ServerConfig, len(configs))
	for _, cfg := range configs {
		cfg = cfg.Clone()
		cfg.Normalize()
		if _, dup := wanted[cfg.ID]; dup {
			return res, fmt.Errorf("%w: duplicate id %q", lsp.ErrInvalidConfig, cfg.ID)
		}
		wanted[cfg.ID] = cfg
	}

	registered := target.Configs()
	current := lo.KeyBy(registered, func(cfg lsp.ServerConfig) string { return cfg.ID })
	for _, cfg := range registered {
		if _, keep := wanted[cfg.ID]; !keep {
			target.UnregisterConfig(cfg.ID)
			res.Removed = append(res.Removed, cfg.ID)
		}
	}

	var errs []error
	for _, cfg := range configs {
		want := wanted[cfg.ID]
		have, exists := current[cfg.ID]
		switch {
		case !exists:
			if err := target.RegisterConfig(want); err != nil {
				errs = append(errs, &lsp.ServerError{ServerID: want.ID, Err: err})
				continue
			}
			res.Added = append(res.Added, want.ID)
		case have.Client != nil && want.Client == nil:
			if err := target.RegisterConfig(want); err != nil {
				errs = append(errs, &lsp.ServerError{ServerID: want.ID, Err: err})
				continue
			}
			res.Replaced = append(res.Replaced, want.ID)
		default:
			u, changed := lsp.Diff(have, want)
			if !changed {
				res.Unchanged = append(res.Unchanged, want.ID)
				continue
			}
			if err := target.UpdateConfig(want.ID, u); err != nil {
				errs = append(errs, &lsp.ServerError{ServerID: want.ID, Err: err})
				continue
			}
			res.Updated = append(res.Updated, want.ID)
		}
	}
	return res, errors.Join(errs...)
}
