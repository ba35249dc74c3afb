// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import "flag"

var (
	flagCheck, flagVersion            bool
	flagCounts, flagCodes, flagKinds  bool
	flagConfigFile, flagDB            string
	flagFormat, flagKind              string
	flagAdd, flagRemove, flagSpan     string
)

func cliInit() {
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Specify alternative path to `config.json`")
	flag.StringVar(&flagDB, "db", "", "Overwrite the index database path from the config file")
	flag.BoolVar(&flagVersion, "version", false, "Show version information and exit")

	flag.StringVar(&flagAdd, "add", "", "Add `paths` (comma-separated) to the default selection")
	flag.StringVar(&flagRemove, "remove", "", "Remove `paths` (comma-separated) from the default selection")
	flag.StringVar(&flagFormat, "format", "", "Force the content `format` used by -add instead of autodetecting it")
	flag.StringVar(&flagKind, "kind", "", "Restrict -add's projection to a single content `kind`")
	flag.BoolVar(&flagCheck, "check", true, "Revalidate cached file stats against the backend during -add")

	flag.StringVar(&flagSpan, "span", "", "Query nuts overlapping `tmin,tmax` (seconds) and print them")
	flag.BoolVar(&flagCounts, "counts", false, "Print the number of files and nuts, the total file size and the time span")
	flag.BoolVar(&flagCodes, "codes", false, "Print the distinct codes tuples known to the selection")
	flag.BoolVar(&flagKinds, "kinds", false, "Print the distinct content kinds known to the selection")
	flag.Parse()
}
