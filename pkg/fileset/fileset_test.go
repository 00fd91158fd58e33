// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fileset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
)

func mustUTime(s string) nidtime.UTime {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return nidtime.FromTime(t)
}

func TestNewRejectsAlphaMonth(t *testing.T) {
	_, err := New("archive_%b%d.dat", nidtime.UsecsPerDay)
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	tm := mustUTime("2023-03-07T09:05:02Z")
	assert.Equal(t, "X_20230307_090502.dat", Expand("X_%Y%m%d_%H%M%S.dat", tm))
}

// TestDailyRotation reproduces scenario S4: writing one sample per hour for
// 36 hours starting at 2023-01-01T00:00:00Z against a daily template must
// produce exactly two files, one per calendar day.
func TestDailyRotation(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "X_%Y%m%d.dat")

	fs, err := New(template, 24*nidtime.UsecsPerHour)
	require.NoError(t, err)
	defer fs.Close()

	start := mustUTime("2023-01-01T00:00:00Z")
	for h := 0; h < 36; h++ {
		tt := start + nidtime.UTime(h)*nidtime.UsecsPerHour
		require.NoError(t, fs.Write(tt, []byte("x")))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"X_20230101.dat", "X_20230102.dat"}, names)

	data0, err := os.ReadFile(filepath.Join(dir, "X_20230101.dat"))
	require.NoError(t, err)
	assert.Equal(t, 24, len(data0)) // 24 samples of 1 byte each before the boundary

	data1, err := os.ReadFile(filepath.Join(dir, "X_20230102.dat"))
	require.NoError(t, err)
	assert.Equal(t, 12, len(data1))
}

func TestListFilesFindsInRangeAndPriorFile(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "X_%Y%m%d.dat")

	fs, err := New(template, 24*nidtime.UsecsPerHour)
	require.NoError(t, err)

	start := mustUTime("2023-01-01T00:00:00Z")
	for d := 0; d < 5; d++ {
		tt := start + nidtime.UTime(d)*24*nidtime.UsecsPerHour
		require.NoError(t, fs.Write(tt, []byte("x")))
	}
	require.NoError(t, fs.Close())

	// Ask for day 3 only; expect day-3's file plus the prior file (day 2)
	// prepended for context.
	tStart := mustUTime("2023-01-03T00:00:00Z")
	tEnd := mustUTime("2023-01-03T23:59:59Z")
	files, err := ListFiles(template, tStart, tEnd, 24*nidtime.UsecsPerHour)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	assert.Equal(t, []string{"X_20230102.dat", "X_20230103.dat"}, names)
}

func TestListFilesNoMatchesReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	template := filepath.Join(dir, "X_%Y%m%d.dat")
	files, err := ListFiles(template, mustUTime("2023-01-01T00:00:00Z"), mustUTime("2023-01-02T00:00:00Z"), 24*nidtime.UsecsPerHour)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFileRegexRejectsUnrelatedFiles(t *testing.T) {
	re, err := fileRegex("X_%Y%m%d.dat")
	require.NoError(t, err)
	assert.True(t, re.MatchString("X_20230101.dat"))
	assert.False(t, re.MatchString("X_20230101.dat.gz"))
	assert.False(t, re.MatchString("readme.txt"))
}

func TestDirectoryStepClampedToBounds(t *testing.T) {
	assert.Equal(t, nidtime.UsecsPerHour, directoryStep("%Y/%m/%d/%H"))
	assert.Equal(t, nidtime.UsecsPerHour, directoryStep(""))
	assert.Equal(t, 366*nidtime.UsecsPerDay, directoryStep("%Y"))
	assert.Equal(t, 31*nidtime.UsecsPerDay, directoryStep("%Y/%m"))
}
