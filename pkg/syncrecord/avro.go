// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package syncrecord

import (
	"bufio"
	"fmt"
	"io"

	"github.com/linkedin/goavro/v2"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/niderr"
)

// avroSchema is the fixed Object Container File schema for one sync record
// row: the microsecond timetag plus the flat float64 vector, matching the
// teacher's avroCheckpoint.go OCF encode/decode pattern (goavro.NewOCFWriter
// / NewOCFReader) but with a schema fixed at Connect time instead of
// generated per-write, since a sync record's width never changes once
// connected.
const avroSchema = `{
  "type": "record",
  "name": "SyncRecord",
  "fields": [
    {"name": "timetag", "type": "long"},
    {"name": "values", "type": {"type": "array", "items": "double"}}
  ]
}`

// AvroWriter is the alternative, binary-encoded sync record archive output
// format: an OCF stream of {timetag, values} records, deflate-compressed,
// one record per completed sync record.
type AvroWriter struct {
	w *goavro.OCFWriter
}

// NewAvroWriter opens an OCF writer over w.
func NewAvroWriter(w io.Writer) (*AvroWriter, error) {
	codec, err := goavro.NewCodec(avroSchema)
	if err != nil {
		return nil, niderr.Wrap(niderr.KindFatal, "syncrecord.NewAvroWriter", "compiling avro schema", err)
	}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           codec,
		CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		return nil, niderr.Wrap(niderr.KindIO, "syncrecord.NewAvroWriter", "creating OCF writer", err)
	}
	return &AvroWriter{w: ocf}, nil
}

// Append writes one sync record's raw vector.
func (a *AvroWriter) Append(timetagUsec int64, values []float64) error {
	anyValues := make([]interface{}, len(values))
	for i, v := range values {
		anyValues[i] = v
	}
	rec := map[string]interface{}{"timetag": timetagUsec, "values": anyValues}
	if err := a.w.Append([]interface{}{rec}); err != nil {
		return niderr.Wrap(niderr.KindIO, "syncrecord.AvroWriter.Append", "writing record", err)
	}
	return nil
}

// AvroReader inverts an AvroWriter stream.
type AvroReader struct {
	r *goavro.OCFReader
}

// NewAvroReader opens an OCF reader over r.
func NewAvroReader(r io.Reader) (*AvroReader, error) {
	ocf, err := goavro.NewOCFReader(bufio.NewReader(r))
	if err != nil {
		return nil, niderr.Wrap(niderr.KindIO, "syncrecord.NewAvroReader", "creating OCF reader", err)
	}
	return &AvroReader{r: ocf}, nil
}

// Next reads the next record, returning (0, nil, io.EOF) when the stream is
// exhausted — the orderly EndOfData termination named in §7.
func (a *AvroReader) Next() (int64, []float64, error) {
	if !a.r.Scan() {
		return 0, nil, io.EOF
	}
	raw, err := a.r.Read()
	if err != nil {
		return 0, nil, niderr.Wrap(niderr.KindParse, "syncrecord.AvroReader.Next", "decoding record", err)
	}
	rec, ok := raw.(map[string]interface{})
	if !ok {
		return 0, nil, niderr.New(niderr.KindParse, "syncrecord.AvroReader.Next", fmt.Sprintf("unexpected record shape %T", raw))
	}
	tt := rec["timetag"].(int64)
	rawVals := rec["values"].([]interface{})
	values := make([]float64, len(rawVals))
	for i, v := range rawVals {
		values[i] = v.(float64)
	}
	return tt, values, nil
}
