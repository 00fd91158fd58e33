// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncrecord

import (
	"encoding/json"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/niconfig"
)

const configSchema = `{
    "type": "object",
    "description": "Project/flight metadata written into the sync record header.",
    "properties": {
        "project": {"type": "string"},
        "aircraft": {"type": "string"},
        "flight": {"type": "string"},
        "software-version": {"type": "string"}
    },
    "required": ["project"]
}`

// headerMetaKeys is the JSON-decodable form of HeaderMeta.
type headerMetaKeys struct {
	Project         string `json:"project"`
	Aircraft        string `json:"aircraft"`
	Flight          string `json:"flight"`
	SoftwareVersion string `json:"software-version"`
}

// LoadHeaderMeta validates raw against configSchema and converts it to a
// HeaderMeta, ready to pass to Connect alongside the project's sample tags.
func LoadHeaderMeta(raw json.RawMessage) (HeaderMeta, error) {
	var k headerMetaKeys
	if err := niconfig.Decode("syncrecord.LoadHeaderMeta", configSchema, raw, &k); err != nil {
		return HeaderMeta{}, err
	}
	return HeaderMeta{
		Project:         k.Project,
		Aircraft:        k.Aircraft,
		Flight:          k.Flight,
		SoftwareVersion: k.SoftwareVersion,
	}, nil
}
