// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sorter

import (
	"encoding/json"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/niconfig"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
)

const configSchema = `{
    "type": "object",
    "description": "Configuration for one sample sorter stage (raw or processed).",
    "properties": {
        "name": {
            "description": "Tags this sorter's log lines, e.g. \"raw\" or \"processed\".",
            "type": "string"
        },
        "sorter-length-secs": {
            "description": "Sort window width in seconds. May be fractional.",
            "type": "number",
            "exclusiveMinimum": 0
        },
        "late-sample-cache-size": {
            "description": "Tolerated out-of-order depth before the sort window must widen.",
            "type": "integer",
            "minimum": 0
        },
        "heap-max-bytes": {
            "description": "Byte high-watermark that triggers the overload policy.",
            "type": "integer",
            "exclusiveMinimum": 0
        },
        "policy": {
            "description": "Overload policy: \"drop\" or \"block\".",
            "type": "string",
            "enum": ["drop", "block"]
        },
        "real-time-guard": {
            "description": "Reject samples timestamped more than 2s in the future.",
            "type": "boolean"
        }
    },
    "required": ["name", "sorter-length-secs", "heap-max-bytes"]
}`

// Keys is the JSON-decodable form of Config, named with the hyphenated
// keys the configSchema above validates.
type Keys struct {
	Name                string  `json:"name"`
	SorterLengthSecs    float64 `json:"sorter-length-secs"`
	LateSampleCacheSize int     `json:"late-sample-cache-size"`
	HeapMaxBytes        int64   `json:"heap-max-bytes"`
	Policy              string  `json:"policy"`
	RealTimeGuard       bool    `json:"real-time-guard"`
}

// LoadConfig validates raw against configSchema and converts it to a
// Config, leaving Distribute/callback wiring to the caller.
func LoadConfig(raw json.RawMessage) (Config, error) {
	var k Keys
	if err := niconfig.Decode("sorter.LoadConfig", configSchema, raw, &k); err != nil {
		return Config{}, err
	}
	policy := PolicyDrop
	if k.Policy == "block" {
		policy = PolicyBlock
	}
	return Config{
		Name:                k.Name,
		SorterLength:        nidtime.UTime(k.SorterLengthSecs * float64(nidtime.UsecsPerSec)),
		LateSampleCacheSize: k.LateSampleCacheSize,
		HeapMax:             k.HeapMaxBytes,
		Policy:              policy,
		RealTimeGuard:       k.RealTimeGuard,
	}, nil
}
