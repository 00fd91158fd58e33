// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scanner

import (
	"fmt"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sample"
)

// TagResolver maps a line-protocol measurement name to the SampleTag its
// fields should be packed into, for sensors that emit line-protocol-framed
// samples instead of a scanf-matched text format.
type TagResolver func(measurement []byte) (*sample.SampleTag, bool)

// LineProtocolDecoder decodes a batch of InfluxDB line-protocol lines into
// Sample objects, one per line, by matching each line's measurement name
// against a TagResolver and packing its fields into the resolved tag's
// variables in declaration order. Unlike the scanf path, there is no
// separator search: line-protocol carries its own newline framing, so a
// decoder is handed one already-delimited batch of lines at a time (one
// Scanner message, or one NATS payload).
type LineProtocolDecoder struct {
	resolve TagResolver
}

// NewLineProtocolDecoder builds a decoder for a single sensor's
// measurement-to-tag mapping.
func NewLineProtocolDecoder(resolve TagResolver) *LineProtocolDecoder {
	return &LineProtocolDecoder{resolve: resolve}
}

// Decode parses every line in data, resolving each to a SampleTag and
// filling a TypeFloat64 sample's variables in tag-declaration order by
// matching each line's field name against variable Name. A measurement
// the resolver does not recognize is skipped, matching the scanf path's
// convention of silently dropping samples no configured tag claims.
func (d *LineProtocolDecoder) Decode(data []byte) ([]*sample.Sample, error) {
	dec := lineprotocol.NewDecoderWithBytes(data)
	var out []*sample.Sample

	for dec.Next() {
		measurement, err := dec.Measurement()
		if err != nil {
			return out, fmt.Errorf("scanner: line-protocol measurement: %w", err)
		}

		tag, ok := d.resolve(measurement)
		if !ok {
			if err := skipTags(dec); err != nil {
				return out, err
			}
			if err := skipFields(dec); err != nil {
				return out, err
			}
			continue
		}

		if err := skipTags(dec); err != nil {
			return out, err
		}

		values := make([]float64, tag.VariableLength())
		for {
			key, val, err := dec.NextField()
			if err != nil {
				return out, fmt.Errorf("scanner: line-protocol field: %w", err)
			}
			if key == nil {
				break
			}
			idx, ok := variableIndex(tag, string(key))
			if !ok {
				continue
			}
			values[idx] = fieldFloat(val)
		}

		t, err := dec.Time(lineprotocol.Nanosecond, nidtime.Now().ToTime())
		if err != nil {
			return out, fmt.Errorf("scanner: line-protocol time: %w", err)
		}

		s := sample.Get(sample.TypeFloat64, len(values))
		s.SetID(tag.ID)
		s.SetTimeTag(nidtime.FromTime(t))
		s.FromFloat64Slice(values)
		out = append(out, s)
	}
	return out, nil
}

func skipTags(dec *lineprotocol.Decoder) error {
	for {
		key, _, err := dec.NextTag()
		if err != nil {
			return fmt.Errorf("scanner: line-protocol tag: %w", err)
		}
		if key == nil {
			return nil
		}
	}
}

func skipFields(dec *lineprotocol.Decoder) error {
	for {
		key, _, err := dec.NextField()
		if err != nil {
			return fmt.Errorf("scanner: line-protocol field: %w", err)
		}
		if key == nil {
			return nil
		}
	}
}

// variableIndex returns the flat scalar index of the first component of
// the variable named name within tag (vector variables occupy
// consecutive indices; line-protocol fields address only the scalar
// case, so only Length==1 variables are addressable by name here).
func variableIndex(tag *sample.SampleTag, name string) (int, bool) {
	idx := 0
	for _, v := range tag.Variables {
		if v.Name == name {
			return idx, true
		}
		idx += v.Length
	}
	return 0, false
}

func fieldFloat(val lineprotocol.Value) float64 {
	switch val.Kind() {
	case lineprotocol.Float:
		return val.FloatV()
	case lineprotocol.Int:
		return float64(val.IntV())
	case lineprotocol.Uint:
		return float64(val.UintV())
	default:
		return 0
	}
}
