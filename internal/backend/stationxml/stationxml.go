// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stationxml implements the FDSN StationXML backend of
// spec.md §6: detection by sniffing for the literal substring
// "<FDSNStationXML" and decoding with the standard library's
// encoding/xml (no seismology-specific XML library appears anywhere
// in the example corpus, see DESIGN.md).
package stationxml

import (
	"bytes"
	"encoding/xml"
	"os"
	"time"

	"github.com/pyrocko/squirrel/internal/backend"
	"github.com/pyrocko/squirrel/internal/model"
)

const FormatTag = "stationxml"

const detectMagic = "<FDSNStationXML"

// openEndSentinel is used for a Station/Channel with no EndDate:
// spec.md §3 requires every indexed nut to carry both endpoints, so
// an "still open" element is given a far-future end instead of being
// left unbounded.
var openEndSentinel = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

type fdsnStationXML struct {
	XMLName  xml.Name  `xml:"FDSNStationXML"`
	Networks []network `xml:"Network"`
}

type network struct {
	Code     string    `xml:"code,attr"`
	Stations []station `xml:"Station"`
}

type station struct {
	Code      string    `xml:"code,attr"`
	StartDate string    `xml:"startDate,attr"`
	EndDate   string    `xml:"endDate,attr"`
	Channels  []channel `xml:"Channel"`
}

type channel struct {
	Code         string `xml:"code,attr"`
	LocationCode string `xml:"locationCode,attr"`
	StartDate    string `xml:"startDate,attr"`
	EndDate      string `xml:"endDate,attr"`
}

type Backend struct{}

func New() *Backend { return &Backend{} }

func (b *Backend) ProvidedFormats() []string { return []string{FormatTag} }

func (b *Backend) Detect(sniff []byte) string {
	if bytes.Contains(sniff, []byte(detectMagic)) {
		return FormatTag
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

func parseTime(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	return fallback
}

func (b *Backend) ILoad(format, path string, segment *int64, contentKinds []model.Kind, yield func(model.Nut) error) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &model.FileLoadError{Path: path, Err: err}
	}

	var doc fdsnStationXML
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return &model.FileLoadError{Path: path, Err: err}
	}

	fi, err := os.Stat(path)
	if err != nil {
		return &model.FileLoadError{Path: path, Err: err}
	}

	var elem int64
	for _, net := range doc.Networks {
		for _, sta := range net.Stations {
			if segment != nil && *segment != 0 {
				continue
			}
			start := parseTime(sta.StartDate, time.Unix(0, 0).UTC())
			end := parseTime(sta.EndDate, openEndSentinel)

			n, err := model.New(model.Nut{
				FilePath:    path,
				FileFormat:  FormatTag,
				FileMTime:   fi.ModTime(),
				FileSize:    fi.Size(),
				FileSegment: 0,
				FileElement: elem,
				Kind:        model.Station,
				Codes:       model.Codes{"", net.Code, sta.Code, ""},
			})
			if err != nil {
				return &model.FileLoadError{Path: path, Err: err}
			}
			n.TMinSeconds, n.TMinOffset = model.TSplit(float64(start.Unix()))
			n.TMaxSeconds, n.TMaxOffset = model.TSplit(float64(end.Unix()))
			n.Kscale = model.TScaleToKscale(float64(n.TMaxSeconds - n.TMinSeconds))
			if err := yield(n); err != nil {
				return err
			}
			elem++

			for _, cha := range sta.Channels {
				cstart := parseTime(cha.StartDate, start)
				cend := parseTime(cha.EndDate, openEndSentinel)

				cn, err := model.New(model.Nut{
					FilePath:    path,
					FileFormat:  FormatTag,
					FileMTime:   fi.ModTime(),
					FileSize:    fi.Size(),
					FileSegment: 0,
					FileElement: elem,
					Kind:        model.Channel,
					Codes:       model.Codes{"", net.Code, sta.Code, cha.LocationCode, cha.Code},
				})
				if err != nil {
					return &model.FileLoadError{Path: path, Err: err}
				}
				cn.TMinSeconds, cn.TMinOffset = model.TSplit(float64(cstart.Unix()))
				cn.TMaxSeconds, cn.TMaxOffset = model.TSplit(float64(cend.Unix()))
				cn.Kscale = model.TScaleToKscale(float64(cn.TMaxSeconds - cn.TMinSeconds))
				if err := yield(cn); err != nil {
					return err
				}
				elem++
			}
		}
	}
	return nil
}
