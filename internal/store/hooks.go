// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"context"
	"time"

	"github.com/kaloix/home-sensor/pkg/log"
)

// queryHooks satisfies sqlhooks.Hooks, timing every query the side-store
// issues at debug level.
type queryHooks struct{}

type beginKey struct{}

func (h *queryHooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("sql query %s %q", query, args)
	return context.WithValue(ctx, beginKey{}, time.Now()), nil
}

func (h *queryHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	begin, _ := ctx.Value(beginKey{}).(time.Time)
	if !begin.IsZero() {
		log.Debugf("sql query took %s", time.Since(begin))
	}
	return ctx, nil
}
