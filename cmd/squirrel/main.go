// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pyrocko/squirrel/internal/backend"
	"github.com/pyrocko/squirrel/internal/backend/datacube"
	"github.com/pyrocko/squirrel/internal/backend/mseed"
	"github.com/pyrocko/squirrel/internal/backend/sac"
	"github.com/pyrocko/squirrel/internal/backend/stationxml"
	"github.com/pyrocko/squirrel/internal/backend/textstation"
	"github.com/pyrocko/squirrel/internal/backend/virtual"
	"github.com/pyrocko/squirrel/internal/config"
	"github.com/pyrocko/squirrel/internal/index"
	"github.com/pyrocko/squirrel/internal/model"
	"github.com/pyrocko/squirrel/internal/squirrel"
	"github.com/pyrocko/squirrel/pkg/log"
)

var version = "development"

func buildRegistry(names []string) *backend.Registry {
	registry := backend.NewRegistry()
	for _, name := range names {
		switch name {
		case "virtual":
			registry.Register(virtual.New())
		case "stationxml":
			registry.Register(stationxml.New())
		case "textstation":
			registry.Register(textstation.New())
		case "mseed":
			registry.Register(mseed.New())
		case "sac":
			registry.Register(sac.New())
		case "datacube":
			registry.Register(datacube.New())
		default:
			log.Warnf("unknown backend %q in config, skipping", name)
		}
	}
	return registry
}

func parseSpan(s string) (tmin, tmax float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("-span wants `tmin,tmax`, got %q", s)
	}
	tmin, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("-span: bad tmin: %w", err)
	}
	tmax, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("-span: bad tmax: %w", err)
	}
	return tmin, tmax, nil
}

func printNuts(nuts []model.Nut) {
	for _, n := range nuts {
		fmt.Printf("%s\t%s\t%s\t%.3f\t%.3f\n", n.Kind, n.Codes, n.FilePath, n.TMin(), n.TMax())
	}
}

func main() {
	cliInit()

	if flagVersion {
		fmt.Println("squirrel", version)
		return
	}

	if err := config.Init(flagConfigFile); err != nil {
		log.Fatalf("loading config: %s", err.Error())
	}
	log.SetLogLevel(config.Keys.LogLevel)

	dbPath := config.Keys.Database
	if flagDB != "" {
		dbPath = flagDB
	}

	idx, err := index.Open(dbPath)
	if err != nil {
		log.Fatalf("opening index %q: %s", dbPath, err.Error())
	}
	defer idx.Close()

	registry := buildRegistry(config.Keys.Backends)

	ctx := context.Background()
	sq, err := squirrel.New(ctx, idx, registry)
	if err != nil {
		log.Fatalf("opening default selection: %s", err.Error())
	}
	defer sq.Close(ctx)

	if flagAdd != "" {
		var kinds []model.Kind
		if flagKind != "" {
			k, err := model.ParseKind(flagKind)
			if err != nil {
				log.Fatalf("-kind: %s", err.Error())
			}
			kinds = []model.Kind{k}
		}
		paths := strings.Split(flagAdd, ",")
		if err := sq.Add(ctx, paths, kinds, flagFormat, flagCheck); err != nil {
			log.Fatalf("add: %s", err.Error())
		}
	}

	if flagRemove != "" {
		paths := strings.Split(flagRemove, ",")
		if err := sq.Remove(ctx, paths); err != nil {
			log.Fatalf("remove: %s", err.Error())
		}
	}

	if flagSpan != "" {
		tmin, tmax, err := parseSpan(flagSpan)
		if err != nil {
			log.Fatal(err.Error())
		}
		nuts, err := sq.UndigSpan(ctx, tmin, tmax)
		if err != nil {
			log.Fatalf("span query: %s", err.Error())
		}
		printNuts(nuts)
	}

	if flagCodes {
		codes, err := sq.IterCodes(ctx, nil)
		if err != nil {
			log.Fatalf("codes: %s", err.Error())
		}
		for _, c := range codes {
			fmt.Println(c)
		}
	}

	if flagKinds {
		kinds, err := sq.IterKinds(ctx, nil)
		if err != nil {
			log.Fatalf("kinds: %s", err.Error())
		}
		for _, k := range kinds {
			fmt.Println(k)
		}
	}

	if flagCounts {
		stats, err := sq.GetStats(ctx)
		if err != nil {
			log.Fatalf("stats: %s", err.Error())
		}
		fmt.Printf("nfiles: %d\n", stats.Nfiles)
		fmt.Printf("nnuts: %d\n", stats.Nnuts)
		fmt.Printf("total size: %d\n", stats.TotalSize)
		if stats.HasSpan {
			fmt.Printf("span: %.3f .. %.3f\n", stats.Tmin, stats.Tmax)
		}
	}

	os.Exit(0)
}
