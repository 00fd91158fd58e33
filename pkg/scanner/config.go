// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scanner

import (
	"encoding/json"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/niconfig"
)

const configSchema = `{
    "type": "object",
    "description": "Configuration for one message scanner.",
    "properties": {
        "separator": {
            "description": "Escaped separator string, e.g. \"\\r\\n\" or \"\\x02\".",
            "type": "string"
        },
        "at-eom": {
            "description": "True if the separator marks the end of a message; false if it marks the start of the next one.",
            "type": "boolean"
        },
        "message-length": {
            "description": "Fixed message length in bytes, or 0 for variable-length, separator-delimited messages.",
            "type": "integer",
            "minimum": 0
        },
        "null-terminated": {
            "description": "Append a trailing NUL byte to each completed message. Disabled automatically if separator does not terminate with CR or LF.",
            "type": "boolean"
        },
        "max-message-size": {
            "description": "Cap on message growth before a forced flush is counted as an overflow. 0 uses the default (8192).",
            "type": "integer",
            "minimum": 0
        }
    },
    "required": ["separator"]
}`

// Keys is the JSON-decodable form of Config.
type Keys struct {
	Separator      string `json:"separator"`
	AtEOM          bool   `json:"at-eom"`
	MessageLength  int    `json:"message-length"`
	NullTerminated bool   `json:"null-terminated"`
	MaxMessageSize int    `json:"max-message-size"`
}

// LoadConfig validates raw against configSchema and converts it to a
// Config.
func LoadConfig(raw json.RawMessage) (Config, error) {
	var k Keys
	if err := niconfig.Decode("scanner.LoadConfig", configSchema, raw, &k); err != nil {
		return Config{}, err
	}
	return Config{
		Separator:      k.Separator,
		AtEOM:          k.AtEOM,
		MessageLength:  k.MessageLength,
		NullTerminated: k.NullTerminated,
		MaxMessageSize: k.MaxMessageSize,
	}, nil
}
