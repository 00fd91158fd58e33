// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package archivefile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/niderr"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sample"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	hdr := Header{
		ArchiveVersion:  "1",
		SoftwareVersion: "nidas-pipeline-test",
		ProjectName:     "TESTPROJ",
		PlatformName:    "TESTAC",
		ConfigPath:      "/etc/nidas/test.xml",
	}
	wr, err := NewWriter(&buf, hdr)
	require.NoError(t, err)

	s := sample.Get(sample.TypeFloat64, 2)
	s.SetID(sample.MakeID(1, 2, 100))
	s.SetTimeTag(1_000_000)
	s.SetFloat64At(0, 3.5)
	s.SetFloat64At(1, -1.25)
	require.NoError(t, wr.Write(s))
	s.FreeReference()

	rd, err := Open(&buf, "archive.dat")
	require.NoError(t, err)
	assert.Equal(t, hdr, rd.Header)

	got, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, sample.MakeID(1, 2, 100), got.ID())
	assert.Equal(t, sample.TypeFloat64, got.Type())
	assert.InDelta(t, 3.5, got.Float64At(0), 1e-9)
	assert.InDelta(t, -1.25, got.Float64At(1), 1e-9)
	got.FreeReference()

	_, err = rd.Next()
	var nerr *niderr.Error
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, niderr.KindEndOfData, nerr.Kind)
}

func TestOpenRejectsMissingHeader(t *testing.T) {
	var buf bytes.Buffer
	wr := &Writer{w: &buf}
	s := sample.Get(sample.TypeUByte, 3)
	s.SetID(42)
	copy(s.Bytes(), []byte("abc"))
	require.NoError(t, wr.Write(s))
	s.FreeReference()

	_, err := Open(&buf, "archive.dat")
	var nerr *niderr.Error
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, niderr.KindParse, nerr.Kind)
}
