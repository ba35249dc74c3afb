// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package model

import (
	"fmt"
	"strings"
)

// codesSep is the separator used when serializing a Codes tuple into
// the single string stored in the kind_codes dictionary.
const codesSep = "\x00"

// Codes is the kind-specific identifier tuple of a nut (agency,
// network, station, location, channel, extra, or a single event
// name), in component order.
type Codes []string

// String serializes the tuple by joining its components with a NUL
// byte, the wire format the index store dictionary uses.
func (c Codes) String() string {
	return strings.Join([]string(c), codesSep)
}

// ParseCodes splits a serialized codes string back into its
// components and validates the component count against kind.
func ParseCodes(kind Kind, s string) (Codes, error) {
	parts := strings.Split(s, codesSep)
	if n := kind.NumCodes(); n > 0 && len(parts) != n {
		return nil, fmt.Errorf("model: kind %s expects %d codes components, got %d (%q)", kind, n, len(parts), s)
	}
	return Codes(parts), nil
}

// Equal reports whether two codes tuples have the same components.
func (c Codes) Equal(other Codes) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}
