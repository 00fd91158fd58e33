// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fileset

import (
	"encoding/json"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/niconfig"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
)

const configSchema = `{
    "type": "object",
    "description": "Configuration for one time-templated rotating file set.",
    "properties": {
        "template": {
            "description": "strftime-style path template, e.g. \"/data/%Y/%m/%Y%m%d_%H%M%S.dat\".",
            "type": "string"
        },
        "file-length-secs": {
            "description": "Rotation interval in seconds. 0 defaults to one day.",
            "type": "integer",
            "minimum": 0
        }
    },
    "required": ["template"]
}`

// Keys is the JSON-decodable form of a FileSet's construction arguments.
type Keys struct {
	Template       string `json:"template"`
	FileLengthSecs int64  `json:"file-length-secs"`
}

// LoadConfig validates raw against configSchema and builds a FileSet from
// it.
func LoadConfig(raw json.RawMessage) (*FileSet, error) {
	var k Keys
	if err := niconfig.Decode("fileset.LoadConfig", configSchema, raw, &k); err != nil {
		return nil, err
	}
	return New(k.Template, nidtime.UTime(k.FileLengthSecs)*nidtime.UsecsPerSec)
}
