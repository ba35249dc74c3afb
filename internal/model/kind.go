// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package model

import "fmt"

// Kind is the semantic category of a nut.
type Kind string

const (
	Waveform Kind = "waveform"
	Station  Kind = "station"
	Channel  Kind = "channel"
	Response Kind = "response"
	Event    Kind = "event"
)

// NumCodes returns the number of codes components a nut of this kind
// carries, per the table in §3 of the specification.
func (k Kind) NumCodes() int {
	switch k {
	case Waveform:
		return 6 // agency, network, station, location, channel, extra
	case Station:
		return 4 // agency, network, station, location
	case Channel:
		return 5 // agency, network, station, location, channel
	case Response:
		return 5 // same shape as channel
	case Event:
		return 1 // single name string
	default:
		return 0
	}
}

func (k Kind) Valid() bool {
	switch k {
	case Waveform, Station, Channel, Response, Event:
		return true
	default:
		return false
	}
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("model: unknown kind %q", s)
	}
	return k, nil
}
