package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/pkg/logs"
)

// Build creates every enabled channel in cfgs with the builder for its type
// and registers it in r. All failures are reported together; channels that
// built fine stay registered.
func Build(ctx context.Context, r *Registry, cfgs map[string]config.ChannelConfig, builders map[Type]Builder) error {
	ids := make([]string, 0, len(cfgs))
	for id := range cfgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		cfg := cfgs[id]
		if !cfg.Enabled {
			logs.CtxDebug(ctx, "[channel] %s is disabled", id)
			continue
		}
		build, ok := builders[Type(cfg.Type)]
		if !ok {
			errs = append(errs, fmt.Errorf("channel %s: %w %q", id, ErrUnsupportedType, cfg.Type))
			continue
		}
		cfg.ID = id
		ch, err := build(id, cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", id, err))
			continue
		}
		if err := r.Register(ch); err != nil {
			errs = append(errs, err)
			continue
		}
		logs.CtxInfo(ctx, "[channel] %s (%s) ready", id, cfg.Type)
	}
	return errors.Join(errs...)
}
