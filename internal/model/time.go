// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package model

import (
	"math"
	"math/big"
)

// highPrecisionDeltat is the sampling-interval threshold below which
// TJoin promotes its summation to extra precision: sub-millisecond
// sampling makes seconds+offset catastrophically cancel in a plain
// float64 add.
const highPrecisionDeltat = 1e-3

// TSplit decomposes a timestamp into an integer second and a
// fractional offset in [0, 1).
func TSplit(t float64) (seconds int64, offset float64) {
	seconds = int64(math.Floor(t))
	offset = t - float64(seconds)
	return seconds, offset
}

// TJoin reconstitutes a timestamp from its split form. When deltat
// indicates sub-millisecond sampling, the sum is carried out at
// higher precision so the offset is not lost to float64 rounding.
func TJoin(seconds int64, offset float64, deltat *float64) float64 {
	if deltat != nil && *deltat > 0 && *deltat < highPrecisionDeltat {
		bs := new(big.Float).SetPrec(128).SetInt64(seconds)
		bo := new(big.Float).SetPrec(128).SetFloat64(offset)
		sum, _ := new(big.Float).SetPrec(128).Add(bs, bo).Float64()
		return sum
	}
	return float64(seconds) + offset
}

// DurationEdges are the upper edges of the logarithmic duration
// classes: start at 1s, multiply by 20 until past one year.
var DurationEdges = buildDurationEdges()

func buildDurationEdges() []float64 {
	const oneYear = 365.0 * 24 * 3600
	edges := []float64{1}
	for edges[len(edges)-1] <= oneYear {
		edges = append(edges, edges[len(edges)-1]*20)
	}
	return edges
}

// KscaleOverflow is the bucket index used for durations past the
// last duration edge.
var KscaleOverflow = len(DurationEdges)

// TScaleToKscale assigns the logarithmic duration-class index for a
// duration d = tmax_seconds - tmin_seconds. The upper edge of each
// bucket is inclusive, per the resolution of the Open Question in
// spec.md §9 (verified by the bucketed-vs-naive property tests).
func TScaleToKscale(d float64) int {
	for k, edge := range DurationEdges {
		if d <= edge {
			return k
		}
	}
	return KscaleOverflow
}
