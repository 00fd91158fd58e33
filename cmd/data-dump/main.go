// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command data-dump prints the samples in one or more archive files to
// stdout, one line per sample, mirroring the original data_dump CLI's
// -A/-7/-F/-H/-n/-I/-L/-S format flags and -i id selector.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/archivefile"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/log"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/niderr"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/sample"
)

// format is the dump-mode enum of the original DumpClient::format_t.
type format int

const (
	formatDefault format = iota
	formatASCII
	formatASCII7
	formatHex
	formatInt16
	formatUint16
	formatFloat
	formatInt32
	formatNaked
	formatIRIG
)

func main() {
	var (
		asciiFlag  bool
		ascii7Flag bool
		floatFlag  bool
		hexFlag    bool
		nakedFlag  bool
		int32Flag  bool
		int16Flag  bool
		uint16Flag bool
		irigFlag   bool
		idSelector string
	)
	flag.BoolVar(&asciiFlag, "A", false, "ASCII output of character data")
	flag.BoolVar(&ascii7Flag, "7", false, "7-bit ASCII output")
	flag.BoolVar(&floatFlag, "F", false, "floating point output")
	flag.BoolVar(&hexFlag, "H", false, "hex output")
	flag.BoolVar(&nakedFlag, "n", false, "naked output, samples written exactly as read")
	flag.BoolVar(&int32Flag, "L", false, "ASCII output of signed 32 bit integers")
	flag.BoolVar(&int16Flag, "S", false, "ASCII output of signed 16 bit integers")
	flag.BoolVar(&uint16Flag, "U", false, "ASCII output of unsigned 16 bit integers")
	flag.BoolVar(&irigFlag, "I", false, "output of IRIG clock samples")
	flag.StringVar(&idSelector, "i", "", "dsm,sensor id selector, e.g. 1,100; empty matches all")
	flag.Parse()

	fmtMode := formatDefault
	switch {
	case asciiFlag:
		fmtMode = formatASCII
	case ascii7Flag:
		fmtMode = formatASCII7
	case floatFlag:
		fmtMode = formatFloat
	case hexFlag:
		fmtMode = formatHex
	case nakedFlag:
		fmtMode = formatNaked
	case int32Flag:
		fmtMode = formatInt32
	case int16Flag:
		fmtMode = formatInt16
	case uint16Flag:
		fmtMode = formatUint16
	case irigFlag:
		fmtMode = formatIRIG
	}

	wantDSM, wantSensor, matchAll := parseIDSelector(idSelector)

	paths := flag.Args()
	if len(paths) == 0 {
		log.Critf("[DATA-DUMP] at least one archive file path must be given")
	}

	for _, path := range paths {
		if err := dumpFile(path, fmtMode, matchAll, wantDSM, wantSensor); err != nil {
			log.Errorf("[DATA-DUMP] %s: %v", path, err)
		}
	}
}

// parseIDSelector parses a "dsm,sensor" selector as accepted by the
// original tool's -i option; an empty selector matches every sample.
func parseIDSelector(s string) (dsm, sensor uint32, matchAll bool) {
	if s == "" {
		return 0, 0, true
	}
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, true
	}
	d, err1 := strconv.ParseUint(parts[0], 10, 32)
	sn, err2 := strconv.ParseUint(parts[1], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, true
	}
	return uint32(d), uint32(sn), false
}

func dumpFile(path string, fmtMode format, matchAll bool, wantDSM, wantSensor uint32) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rd, err := archivefile.Open(f, path)
	if err != nil {
		return err
	}
	fmt.Printf("# archive-version=%s software-version=%s project=%s platform=%s config=%s\n",
		rd.Header.ArchiveVersion, rd.Header.SoftwareVersion, rd.Header.ProjectName,
		rd.Header.PlatformName, rd.Header.ConfigPath)

	var prevTT int64
	for {
		s, err := rd.Next()
		if err != nil {
			if nerr, ok := err.(*niderr.Error); ok && nerr.Kind == niderr.KindEndOfData {
				return nil
			}
			return err
		}

		if !matchAll {
			station, dsmID, sensorID := sample.SplitID(s.ID())
			_ = station
			if dsmID != wantDSM || sensorID != wantSensor {
				s.FreeReference()
				continue
			}
		}

		printSample(s, fmtMode, &prevTT)
		s.FreeReference()
	}
}

func printSample(s *sample.Sample, fmtMode format, prevTT *int64) {
	tt := int64(s.TimeTag())
	var deltaT float64
	if *prevTT != 0 {
		deltaT = float64(tt-*prevTT) / 1e6
	}
	*prevTT = tt

	mode := fmtMode
	if mode == formatDefault {
		mode = defaultFormatFor(s.Type())
	}

	if mode != formatNaked {
		station, dsmID, sensorID := sample.SplitID(s.ID())
		fmt.Printf("%s %7.4f %d,%d,%d %7d ", s.TimeTag().Format(), deltaT, station, dsmID, sensorID, s.ByteLength())
	}

	switch mode {
	case formatASCII, formatASCII7:
		b := s.Bytes()
		if len(b) > 0 && b[len(b)-1] == 0 {
			b = b[:len(b)-1]
		}
		if mode == formatASCII7 {
			clean := make([]byte, len(b))
			for i, c := range b {
				clean[i] = c & 0x7f
			}
			b = clean
		}
		fmt.Println(strconv.Quote(string(b)))
	case formatHex:
		b := s.Bytes()
		sb := strings.Builder{}
		for _, c := range b {
			fmt.Fprintf(&sb, "%02x ", c)
		}
		fmt.Println(sb.String())
	case formatInt16:
		printInts(s, 2, true)
	case formatUint16:
		printInts(s, 2, false)
	case formatInt32:
		printInts(s, 4, true)
	case formatFloat:
		vals := floatValues(s)
		sb := strings.Builder{}
		for _, v := range vals {
			if math.IsNaN(v) {
				fmt.Fprintf(&sb, "%10s ", "nan")
			} else {
				fmt.Fprintf(&sb, "%10.5g ", v)
			}
		}
		fmt.Println(sb.String())
	case formatNaked:
		os.Stdout.Write(s.Bytes())
	case formatIRIG:
		printIRIG(s)
	default:
		fmt.Println()
	}
}

// printIRIG decodes an IRIG clock sample: two little-endian (sec, usec)
// int32 pairs (IRIG time, then UNIX time) followed by a one-byte status,
// matching the original's timeval32 layout.
func printIRIG(s *sample.Sample) {
	b := s.Bytes()
	if len(b) < 8 {
		fmt.Println("(short IRIG sample)")
		return
	}
	irigSec := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16 | int32(b[3])<<24
	irigUsec := int32(b[4]) | int32(b[5])<<8 | int32(b[6])<<16 | int32(b[7])<<24
	fmt.Printf("irig: %d.%06d", irigSec, irigUsec)

	off := 8
	if len(b) >= 16 {
		unixSec := int32(b[8]) | int32(b[9])<<8 | int32(b[10])<<16 | int32(b[11])<<24
		unixUsec := int32(b[12]) | int32(b[13])<<8 | int32(b[14])<<16 | int32(b[15])<<24
		iu := int64(irigSec-unixSec)*1_000_000 + int64(irigUsec-unixUsec)
		fmt.Printf(", unix: %d.%06d, i-u: %d us", unixSec, unixUsec, iu)
		off = 16
	}
	if len(b) > off {
		fmt.Printf(", status: %02x", b[off])
	}
	fmt.Println()
}

// floatValues reads s's payload as float64s or float32s depending on its
// wire type, falling back to reinterpreting raw bytes as float64 words for
// any other type (mirroring the original's "getDataValue" dispatch-by-type
// behavior on a best-effort basis).
func floatValues(s *sample.Sample) []float64 {
	switch s.Type() {
	case sample.TypeFloat64:
		return s.ToFloat64Slice()
	case sample.TypeFloat32:
		vals := make([]float64, s.Length())
		for i := range vals {
			vals[i] = float64(s.Float32At(i))
		}
		return vals
	default:
		n := s.ByteLength() / 8
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = s.Float64At(i)
		}
		return vals
	}
}

func printInts(s *sample.Sample, width int, signed bool) {
	b := s.Bytes()
	sb := strings.Builder{}
	for i := 0; i+width <= len(b); i += width {
		var v int64
		for j := width - 1; j >= 0; j-- {
			v = v<<8 | int64(b[i+j])
		}
		if signed {
			switch width {
			case 2:
				v = int64(int16(v))
			case 4:
				v = int64(int32(v))
			}
		}
		fmt.Fprintf(&sb, "%8d ", v)
	}
	fmt.Println(sb.String())
}

// defaultFormatFor mirrors typeToFormat: absent an explicit flag, the
// format follows the sample's wire type, with floating point always
// printed as FLOAT.
func defaultFormatFor(t sample.Type) format {
	switch t {
	case sample.TypeByte:
		return formatASCII
	case sample.TypeUByte:
		return formatHex
	case sample.TypeInt16:
		return formatInt16
	case sample.TypeUint16:
		return formatUint16
	case sample.TypeInt32, sample.TypeUint32:
		return formatInt32
	case sample.TypeFloat32, sample.TypeFloat64:
		return formatFloat
	default:
		return formatHex
	}
}
