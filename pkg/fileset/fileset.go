// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fileset implements time-templated archive file rotation (write
// side) and by-time file discovery across a directory tree (read side).
// A template is a path containing strftime-style time fields (%Y %y %m %d
// %H %M %S); expanded file names must sort in timetag order, which is why
// the alphabetic month field %b is rejected at construction.
package fileset

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
	"github.com/ClusterCockpit/nidas-pipeline/pkg/niderr"
)

const (
	defaultFileLength = 24 * nidtime.UsecsPerHour
	maxEEXISTRetries   = 3600
)

// validateTemplate rejects templates using the alphabetic month field,
// which does not sort the same as timetag order across month boundaries.
func validateTemplate(template string) error {
	if strings.Contains(template, "%b") {
		return fmt.Errorf("fileset: template %q uses %%b, which does not sort in timetag order", template)
	}
	return nil
}

// expand replaces every strftime-style field in template with its value
// for t (UTC).
func expand(template string, t time.Time) string {
	var b strings.Builder
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '%' || i+1 >= len(template) {
			b.WriteByte(c)
			continue
		}
		i++
		switch template[i] {
		case 'Y':
			fmt.Fprintf(&b, "%04d", t.Year())
		case 'y':
			fmt.Fprintf(&b, "%02d", t.Year()%100)
		case 'm':
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&b, "%02d", t.Day())
		case 'H':
			fmt.Fprintf(&b, "%02d", t.Hour())
		case 'M':
			fmt.Fprintf(&b, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&b, "%02d", t.Second())
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(template[i])
		}
	}
	return b.String()
}

// Expand is the exported form of expand, for callers (tests, diagnostics)
// that need to compute the path for a specific time.
func Expand(template string, t nidtime.UTime) string { return expand(template, t.ToTime()) }

// FileSet is the write side: it owns the currently open archive file and
// rotates it on fileLength boundaries.
type FileSet struct {
	template   string
	fileLength nidtime.UTime

	cur     *os.File
	curPath string
	tFile   nidtime.UTime
	tNext   nidtime.UTime
}

// New builds a FileSet. fileLength is the rotation interval in
// microseconds; zero defaults to one day.
func New(template string, fileLength nidtime.UTime) (*FileSet, error) {
	if err := validateTemplate(template); err != nil {
		return nil, err
	}
	if fileLength <= 0 {
		fileLength = defaultFileLength
	}
	return &FileSet{template: template, fileLength: fileLength}, nil
}

// CurrentPath returns the path of the currently open file, or "" if none
// has been opened yet.
func (fs *FileSet) CurrentPath() string { return fs.curPath }

// Write appends data to the file covering timetag t, rotating first if
// necessary.
func (fs *FileSet) Write(t nidtime.UTime, data []byte) error {
	if fs.cur == nil || t >= fs.tNext {
		if err := fs.rotate(t); err != nil {
			return err
		}
	}
	_, err := fs.cur.Write(data)
	if err != nil {
		return niderr.NewIO(niderr.IONone, "fileset.Write", fs.curPath, err)
	}
	return nil
}

// rotate closes the current file (if any) and opens the file covering t,
// retrying at one-second offsets on a name collision, matching the
// original design's EEXIST retry-until-unique behavior but bounded: after
// maxEEXISTRetries a Fatal-kind error is returned rather than retrying
// forever.
func (fs *FileSet) rotate(t nidtime.UTime) error {
	if fs.cur != nil {
		fs.cur.Close()
		fs.cur = nil
	}

	tFile := t.Floor(fs.fileLength)
	tNext := tFile + fs.fileLength

	var path string
	var f *os.File
	for attempt := 0; ; attempt++ {
		if attempt > maxEEXISTRetries {
			return niderr.New(niderr.KindFatal, "fileset.rotate",
				fmt.Sprintf("exhausted %d EEXIST retries expanding %q", maxEEXISTRetries, fs.template))
		}
		candidateT := tFile + nidtime.UTime(attempt)*nidtime.UsecsPerSec
		path = expand(fs.template, candidateT.ToTime())
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return niderr.NewIO(niderr.IONone, "fileset.rotate", path, err)
		}
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return niderr.NewIO(niderr.IONone, "fileset.rotate", path, err)
		}
	}

	fs.cur = f
	fs.curPath = path
	fs.tFile = tFile
	fs.tNext = tNext
	return nil
}

// Close closes the currently open file, if any.
func (fs *FileSet) Close() error {
	if fs.cur == nil {
		return nil
	}
	err := fs.cur.Close()
	fs.cur = nil
	if err != nil {
		return niderr.NewIO(niderr.IONone, "fileset.Close", fs.curPath, err)
	}
	return nil
}

// splitTemplate separates the directory portion (used to decide which
// directories to list) from the file portion (matched against each
// directory's entries).
func splitTemplate(template string) (dirPart, filePart string) {
	if i := strings.LastIndex(template, "/"); i >= 0 {
		return template[:i], template[i+1:]
	}
	return "", template
}

// fileRegex compiles the file-portion of a template into a regex matching
// expanded file names.
func fileRegex(filePart string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(filePart); i++ {
		c := filePart[i]
		if c != '%' || i+1 >= len(filePart) {
			b.WriteString(regexp.QuoteMeta(string(c)))
			continue
		}
		i++
		switch filePart[i] {
		case 'Y':
			b.WriteString(`[0-9]{4}`)
		case 'y':
			b.WriteString(`[0-9]{2}`)
		case 'm':
			b.WriteString(`[0-1][0-9]`)
		case 'd':
			b.WriteString(`[0-3][0-9]`)
		case 'H':
			b.WriteString(`[0-2][0-9]`)
		case 'M', 'S':
			b.WriteString(`[0-5][0-9]`)
		case '%':
			b.WriteString("%")
		default:
			b.WriteString(regexp.QuoteMeta("%" + string(filePart[i])))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// directoryStep picks the enumeration step for candidate directory
// instants: the period of the finest (most frequently changing) time
// field present in dirPart, clamped to [1 hour, 1 year] as named in the
// read-side algorithm. A directory template that changes monthly (%Y/%m)
// must be stepped at least monthly to avoid skipping a directory, so the
// finest field present — not literally the coarsest one named in the
// prose description — is what determines correct step size; this
// resolves an Open Question, recorded in DESIGN.md.
func directoryStep(dirPart string) nidtime.UTime {
	has := func(f string) bool { return strings.Contains(dirPart, f) }
	var period nidtime.UTime
	switch {
	case has("%H"):
		period = nidtime.UsecsPerHour
	case has("%d"):
		period = nidtime.UsecsPerDay
	case has("%m"):
		period = 31 * nidtime.UsecsPerDay
	case has("%Y") || has("%y"):
		period = 366 * nidtime.UsecsPerDay
	default:
		period = nidtime.UsecsPerHour
	}
	if period < nidtime.UsecsPerHour {
		period = nidtime.UsecsPerHour
	}
	if period > 366*nidtime.UsecsPerDay {
		period = 366 * nidtime.UsecsPerDay
	}
	return period
}

// ListFiles enumerates, in ascending timetag order, every archive file
// matching template whose coverage interval intersects [tStart, tEnd],
// plus — if one exists — the newest file older than tStart (searched up
// to 4*fileLength back) so a reader has context from before tStart.
func ListFiles(template string, tStart, tEnd, fileLength nidtime.UTime) ([]string, error) {
	if err := validateTemplate(template); err != nil {
		return nil, err
	}
	if fileLength <= 0 {
		fileLength = defaultFileLength
	}
	dirPart, filePart := splitTemplate(template)
	re, err := fileRegex(filePart)
	if err != nil {
		return nil, err
	}
	step := directoryStep(dirPart)

	seen := map[string]bool{}
	var matches []string
	collect := func(t nidtime.UTime) error {
		dir := dirPart
		if dirPart != "" {
			dir = expand(dirPart, t.ToTime())
		}
		lookupDir := dir
		if lookupDir == "" {
			lookupDir = "."
		}
		if seen[lookupDir] {
			return nil
		}
		seen[lookupDir] = true
		entries, err := os.ReadDir(lookupDir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, e := range entries {
			if e.IsDir() || !re.MatchString(e.Name()) {
				continue
			}
			matches = append(matches, filepath.Join(dir, e.Name()))
		}
		return nil
	}

	for t := tStart.Floor(step); t <= tEnd; t += step {
		if err := collect(t); err != nil {
			return nil, err
		}
	}
	if err := collect(tEnd); err != nil {
		return nil, err
	}

	lowerBound := expand(template, tStart.ToTime())
	upperBound := expand(template, tEnd.ToTime())

	pick := func() (prior string, inRange []string) {
		sort.Strings(matches)
		for _, m := range matches {
			switch {
			case m < lowerBound:
				if m > prior {
					prior = m
				}
			case m <= upperBound:
				inRange = append(inRange, m)
			}
		}
		return
	}

	prior, inRange := pick()
	for i := 0; prior == "" && i < 4; i++ {
		tStart -= fileLength
		if err := collect(tStart); err != nil {
			return nil, err
		}
		prior, inRange = pick()
	}

	if prior != "" {
		return append([]string{prior}, inRange...), nil
	}
	return inRange, nil
}
