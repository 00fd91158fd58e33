// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sensorhandler

import (
	"encoding/json"
	"time"

	"golang.org/x/time/rate"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/niconfig"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/niderr"
)

const configSchema = `{
    "type": "object",
    "description": "Configuration for the sensor I/O multiplexer.",
    "properties": {
        "stats-interval": {
            "description": "How often calcStatistics runs across all sensors, e.g. \"5s\".",
            "type": "string"
        },
        "sensor-check-interval": {
            "description": "How often sensors are scanned for read timeouts, e.g. \"1s\".",
            "type": "string"
        },
        "stats-rate-limit": {
            "description": "Caps calcStatistics calls per second across all sensors. 0 or omitted means unlimited.",
            "type": "number",
            "minimum": 0
        }
    }
}`

// Keys is the JSON-decodable form of Config's static fields; the
// callback fields (OnData/OnTimeout/OnClosed) are wired by the caller
// after LoadConfig returns.
type Keys struct {
	StatsInterval       string  `json:"stats-interval"`
	SensorCheckInterval string  `json:"sensor-check-interval"`
	StatsRateLimit      float64 `json:"stats-rate-limit"`
}

// LoadConfig validates raw against configSchema and converts it to a
// Config.
func LoadConfig(raw json.RawMessage) (Config, error) {
	var k Keys
	if err := niconfig.Decode("sensorhandler.LoadConfig", configSchema, raw, &k); err != nil {
		return Config{}, err
	}
	var cfg Config
	if k.StatsInterval != "" {
		d, err := time.ParseDuration(k.StatsInterval)
		if err != nil {
			return Config{}, niderr.Wrap(niderr.KindInvalidParameter, "sensorhandler.LoadConfig", "bad stats-interval", err)
		}
		cfg.StatsInterval = d
	}
	if k.SensorCheckInterval != "" {
		d, err := time.ParseDuration(k.SensorCheckInterval)
		if err != nil {
			return Config{}, niderr.Wrap(niderr.KindInvalidParameter, "sensorhandler.LoadConfig", "bad sensor-check-interval", err)
		}
		cfg.SensorCheckInterval = d
	}
	if k.StatsRateLimit > 0 {
		cfg.StatsRateLimit = rate.Limit(k.StatsRateLimit)
	}
	return cfg, nil
}
