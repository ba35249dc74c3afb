// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package index

import (
	"context"
	"time"

	"github.com/pyrocko/squirrel/pkg/log"
)

type hookTimeKey struct{}

// Hooks satisfies sqlhooks.Hooks, logging every statement and its
// elapsed time at debug level.
type Hooks struct{}

func (h *Hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("index: %s %q", query, args)
	return context.WithValue(ctx, hookTimeKey{}, time.Now()), nil
}

func (h *Hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	begin, _ := ctx.Value(hookTimeKey{}).(time.Time)
	log.Debugf("index: took %s", time.Since(begin))
	return ctx, nil
}
