// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package textstation implements the pyrocko-stations plain text
// mini-format of spec.md §6: station lines
// "NET.STA.LOC lat lon elevation depth [description]" followed by
// channel lines "CHA azimuth dip gain" belonging to the previous
// station.
package textstation

import (
	"bufio"
	"bytes"
	"os"
	"strconv"
	"strings"

	"github.com/pyrocko/squirrel/internal/backend"
	"github.com/pyrocko/squirrel/internal/model"
	"github.com/pyrocko/squirrel/pkg/log"
)

const FormatTag = "pyrocko_stations"

// Text stations carry no timing information; every station/channel
// is considered valid over this sentinel span so every indexed nut
// still gets both endpoints (spec.md §3).
var (
	sentinelMin int64 = 0          // 1970-01-01T00:00:00Z
	sentinelMax int64 = 4102444800 // 2100-01-01T00:00:00Z
)

type Backend struct{}

func New() *Backend { return &Backend{} }

func (b *Backend) ProvidedFormats() []string { return []string{FormatTag} }

// Detect parses the first non-empty line and accepts it only if it
// looks like a station line: 5 or 6 whitespace tokens, first token
// splitting on '.' into exactly 3 parts, followed by 4 parseable
// floats with a plausible lat/lon.
func (b *Backend) Detect(sniff []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(sniff))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, ok := parseStationLine(line); ok {
			return FormatTag
		}
		return ""
	}
	return ""
}

func (b *Backend) GetStats(path string) (backend.Stats, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return backend.Stats{}, &model.FileLoadError{Path: path, Err: err}
	}
	return backend.Stats{MTime: fi.ModTime(), Size: fi.Size()}, nil
}

type stationLine struct {
	network, station, location string
	lat, lon, elevation, depth float64
}

func parseStationLine(line string) (stationLine, bool) {
	fields := strings.Fields(line)
	if len(fields) != 5 && len(fields) != 6 {
		return stationLine{}, false
	}
	nsl := strings.Split(fields[0], ".")
	if len(nsl) != 3 {
		return stationLine{}, false
	}
	vals := make([]float64, 4)
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(fields[1+i], 64)
		if err != nil {
			return stationLine{}, false
		}
		vals[i] = v
	}
	if vals[0] < -90 || vals[0] > 90 || vals[1] < -180 || vals[1] > 180 {
		return stationLine{}, false
	}
	return stationLine{
		network: nsl[0], station: nsl[1], location: nsl[2],
		lat: vals[0], lon: vals[1], elevation: vals[2], depth: vals[3],
	}, true
}

type channelLine struct {
	channel            string
	azimuth, dip, gain float64
}

func parseChannelLine(line string) (channelLine, bool) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return channelLine{}, false
	}
	vals := make([]float64, 3)
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(fields[1+i], 64)
		if err != nil {
			return channelLine{}, false
		}
		vals[i] = v
	}
	return channelLine{channel: fields[0], azimuth: vals[0], dip: vals[1], gain: vals[2]}, true
}

func (b *Backend) ILoad(format, path string, segment *int64, contentKinds []model.Kind, yield func(model.Nut) error) error {
	f, err := os.Open(path)
	if err != nil {
		return &model.FileLoadError{Path: path, Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return &model.FileLoadError{Path: path, Err: err}
	}

	var elem int64
	var current *stationLine

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if sl, ok := parseStationLine(line); ok {
			current = &sl

			n, err := model.New(model.Nut{
				FilePath:    path,
				FileFormat:  FormatTag,
				FileMTime:   fi.ModTime(),
				FileSize:    fi.Size(),
				FileSegment: 0,
				FileElement: elem,
				Kind:        model.Station,
				Codes:       model.Codes{"", sl.network, sl.station, sl.location},
				TMinSeconds: sentinelMin,
				TMaxSeconds: sentinelMax,
			})
			if err != nil {
				return &model.FileLoadError{Path: path, Err: err}
			}
			if err := yield(n); err != nil {
				return err
			}
			elem++
			continue
		}

		if cl, ok := parseChannelLine(line); ok {
			if current == nil {
				log.Warnf("textstation: %s:%d: channel line with no preceding station, skipped", path, lineNo)
				continue
			}
			if cl.gain != 1.0 {
				log.Warnf("textstation: %s:%d: channel %s has non-unit gain %v, ignored", path, lineNo, cl.channel, cl.gain)
			}
			n, err := model.New(model.Nut{
				FilePath:    path,
				FileFormat:  FormatTag,
				FileMTime:   fi.ModTime(),
				FileSize:    fi.Size(),
				FileSegment: 0,
				FileElement: elem,
				Kind:        model.Channel,
				Codes:       model.Codes{"", current.network, current.station, current.location, cl.channel},
				TMinSeconds: sentinelMin,
				TMaxSeconds: sentinelMax,
			})
			if err != nil {
				return &model.FileLoadError{Path: path, Err: err}
			}
			if err := yield(n); err != nil {
				return err
			}
			elem++
			continue
		}

		log.Warnf("textstation: %s:%d: invalid line, skipped: %q", path, lineNo, line)
	}
	return scanner.Err()
}
