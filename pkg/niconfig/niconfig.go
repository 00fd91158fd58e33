// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package niconfig validates component configuration against an embedded
// JSON Schema before it is decoded into that component's Keys struct,
// matching internal/config's Validate helper: one schema per configurable
// component (sorter, scanner, sensorhandler, fileset, syncrecord), checked
// once at startup.
package niconfig

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/niderr"
)

// Validate compiles schema and checks instance against it. A schema
// compile failure or a validation failure are both InvalidParameter:
// both mean this component cannot start, matching §7's "InvalidParameter
// at startup is fatal" propagation policy.
func Validate(op, schema string, instance json.RawMessage) error {
	sch, err := jsonschema.CompileString(op+".schema.json", schema)
	if err != nil {
		return niderr.Wrap(niderr.KindInvalidParameter, op, "compiling config schema", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return niderr.Wrap(niderr.KindInvalidParameter, op, "config is not valid JSON", err)
	}

	if err := sch.Validate(v); err != nil {
		return niderr.Wrap(niderr.KindInvalidParameter, op, "config failed schema validation", err)
	}
	return nil
}

// Decode validates instance against schema, then decodes it into dest.
func Decode(op, schema string, instance json.RawMessage, dest any) error {
	if err := Validate(op, schema, instance); err != nil {
		return err
	}
	if err := json.Unmarshal(instance, dest); err != nil {
		return niderr.Wrap(niderr.KindInvalidParameter, op, "decoding config", err)
	}
	return nil
}
