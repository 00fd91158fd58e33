// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package archivefile reads and writes the raw/processed archive stream
// format of §6: a fixed header sample, then a stream of samples each
// framed as 8-byte little-endian timetag, 4-byte little-endian id, 2-byte
// little-endian type, 2-byte little-endian length, followed by length
// payload bytes. A ".bz2"-suffixed path is transparently decompressed on
// read.
package archivefile

import (
	"bufio"
	"compress/bzip2"
	"encoding/binary"
	"io"
	"strings"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/niderr"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sample"
)

// HeaderSampleID is the fixed id of the leading header sample, which
// carries archive-version, software-version, project-name, platform-name
// and a configuration path as NUL-separated fields in its payload.
const HeaderSampleID uint32 = 1

// Header is the fixed pre-stream record of §6.
type Header struct {
	ArchiveVersion  string
	SoftwareVersion string
	ProjectName     string
	PlatformName    string
	ConfigPath      string
}

const frameHeaderBytes = 8 + 4 + 2 + 2

// Reader decodes the archive stream frame by frame.
type Reader struct {
	r      *bufio.Reader
	Header Header
}

// Open opens path for reading, transparently bzip2-decompressing it if
// the name ends in ".bz2", and parses the leading header sample.
func Open(r io.Reader, name string) (*Reader, error) {
	var src io.Reader = r
	if strings.HasSuffix(name, ".bz2") {
		src = bzip2.NewReader(r)
	}
	rd := &Reader{r: bufio.NewReader(src)}
	hdr, err := rd.readFrame()
	if err != nil {
		return nil, err
	}
	if hdr.ID() != HeaderSampleID {
		hdr.FreeReference()
		return nil, niderr.New(niderr.KindParse, "archivefile.Open", "missing archive header sample")
	}
	rd.Header = parseHeader(hdr.Bytes())
	hdr.FreeReference()
	return rd, nil
}

func parseHeader(payload []byte) Header {
	fields := strings.SplitN(string(payload), "\x00", 5)
	for len(fields) < 5 {
		fields = append(fields, "")
	}
	return Header{
		ArchiveVersion:  fields[0],
		SoftwareVersion: fields[1],
		ProjectName:     fields[2],
		PlatformName:    fields[3],
		ConfigPath:      fields[4],
	}
}

// Next decodes the next sample frame, or returns an EndOfData-kind error
// at clean EOF.
func (rd *Reader) Next() (*sample.Sample, error) {
	return rd.readFrame()
}

func (rd *Reader) readFrame() (*sample.Sample, error) {
	var frame [frameHeaderBytes]byte
	if _, err := io.ReadFull(rd.r, frame[:]); err != nil {
		if err == io.EOF {
			return nil, niderr.New(niderr.KindEndOfData, "archivefile.Next", "end of archive")
		}
		return nil, niderr.Wrap(niderr.KindIO, "archivefile.Next", "reading frame header", err)
	}
	tt := nidtime.UTime(binary.LittleEndian.Uint64(frame[0:8]))
	id := binary.LittleEndian.Uint32(frame[8:12])
	typ := sample.Type(binary.LittleEndian.Uint16(frame[12:14]))
	length := int(binary.LittleEndian.Uint16(frame[14:16]))

	s := sample.Get(typ, length)
	s.SetID(id)
	s.SetTimeTag(tt)
	if length > 0 {
		if _, err := io.ReadFull(rd.r, s.Bytes()); err != nil {
			s.FreeReference()
			return nil, niderr.Wrap(niderr.KindIO, "archivefile.Next", "reading frame payload", err)
		}
	}
	return s, nil
}

// Writer encodes samples into the archive stream format.
type Writer struct {
	w io.Writer
}

// NewWriter writes hdr as the leading header sample, then returns a
// Writer ready to append the following samples.
func NewWriter(w io.Writer, hdr Header) (*Writer, error) {
	wr := &Writer{w: w}
	payload := strings.Join([]string{hdr.ArchiveVersion, hdr.SoftwareVersion, hdr.ProjectName, hdr.PlatformName, hdr.ConfigPath}, "\x00")
	s := sample.Get(sample.TypeUByte, len(payload))
	s.SetID(HeaderSampleID)
	copy(s.Bytes(), payload)
	err := wr.Write(s)
	s.FreeReference()
	return wr, err
}

// Write appends one sample's frame.
func (wr *Writer) Write(s *sample.Sample) error {
	var frame [frameHeaderBytes]byte
	binary.LittleEndian.PutUint64(frame[0:8], uint64(s.TimeTag()))
	binary.LittleEndian.PutUint32(frame[8:12], s.ID())
	binary.LittleEndian.PutUint16(frame[12:14], uint16(s.Type()))
	binary.LittleEndian.PutUint16(frame[14:16], uint16(s.Length()))
	if _, err := wr.w.Write(frame[:]); err != nil {
		return niderr.Wrap(niderr.KindIO, "archivefile.Write", "writing frame header", err)
	}
	if s.ByteLength() > 0 {
		if _, err := wr.w.Write(s.Bytes()); err != nil {
			return niderr.Wrap(niderr.KindIO, "archivefile.Write", "writing frame payload", err)
		}
	}
	return nil
}
