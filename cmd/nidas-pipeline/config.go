// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"os"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/niconfig"
)

const topLevelSchema = `{
    "type": "object",
    "description": "Top-level nidas-pipeline configuration.",
    "properties": {
        "raw-sorter": {"type": "object"},
        "processed-sorter": {"type": "object"},
        "sensors": {
            "type": "array",
            "items": {
                "type": "object",
                "properties": {
                    "name": {"type": "string"},
                    "id": {"type": "integer"},
                    "address": {"type": "string"},
                    "timeout-msecs": {"type": "integer"},
                    "reopen-on-failure": {"type": "boolean"},
                    "scanner": {"type": "object"},
                    "baud-rate": {
                        "description": "Serial line bit rate in bits/sec. 0 disables first-byte time back-dating (e.g. for already-framed network input).",
                        "type": "integer",
                        "minimum": 0
                    },
                    "bits-per-char": {
                        "description": "Bits per transmitted character (start+data+stop bits). Defaults to 10 (8N1) if omitted or 0.",
                        "type": "integer",
                        "minimum": 0
                    }
                },
                "required": ["name", "id", "address", "scanner"]
            }
        },
        "service-addr": {"type": "string"},
        "gops": {"type": "boolean"}
    },
    "required": ["raw-sorter", "processed-sorter"]
}`

// SensorConfig describes one configured sensor: where to dial it, the id
// its raw samples carry, and the scanner that frames its byte stream.
type SensorConfig struct {
	Name            string          `json:"name"`
	ID              uint32          `json:"id"`
	Address         string          `json:"address"`
	TimeoutMsecs    int64           `json:"timeout-msecs"`
	ReopenOnFailure bool            `json:"reopen-on-failure"`
	Scanner         json.RawMessage `json:"scanner"`
	BaudRate        int             `json:"baud-rate"`
	BitsPerChar     int             `json:"bits-per-char"`
}

// UsecsPerByte returns the sensor's per-character arrival time implied by
// BaudRate, or 0 if BaudRate is unconfigured (disabling first-byte
// back-dating for this sensor).
func (sc SensorConfig) UsecsPerByte() float64 {
	if sc.BaudRate <= 0 {
		return 0
	}
	bits := sc.BitsPerChar
	if bits <= 0 {
		bits = 10
	}
	return 1e6 * float64(bits) / float64(sc.BaudRate)
}

// ProgramConfig is the top-level JSON configuration, matching the
// teacher's cmd/cc-backend ProgramConfig shape: one struct decoded from
// -config, validated against an embedded schema before use.
type ProgramConfig struct {
	RawSorter       json.RawMessage `json:"raw-sorter"`
	ProcessedSorter json.RawMessage `json:"processed-sorter"`
	Sensors         []SensorConfig  `json:"sensors"`
	ServiceAddr     string          `json:"service-addr"`
	Gops            bool            `json:"gops"`
}

func loadProgramConfig(path string) (ProgramConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ProgramConfig{}, err
	}
	var cfg ProgramConfig
	if err := niconfig.Decode("main.loadProgramConfig", topLevelSchema, raw, &cfg); err != nil {
		return ProgramConfig{}, err
	}
	return cfg, nil
}
