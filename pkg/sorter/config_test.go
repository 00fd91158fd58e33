// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sorter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/nidas-pipeline/pkg/nidtime"
)

func TestLoadConfigValid(t *testing.T) {
	raw := json.RawMessage(`{
        "name": "raw",
        "sorter-length-secs": 0.25,
        "late-sample-cache-size": 10,
        "heap-max-bytes": 1048576,
        "policy": "block",
        "real-time-guard": true
    }`)
	cfg, err := LoadConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, "raw", cfg.Name)
	assert.Equal(t, nidtime.UTime(250_000), cfg.SorterLength)
	assert.Equal(t, 10, cfg.LateSampleCacheSize)
	assert.Equal(t, int64(1048576), cfg.HeapMax)
	assert.Equal(t, PolicyBlock, cfg.Policy)
	assert.True(t, cfg.RealTimeGuard)
}

func TestLoadConfigRejectsMissingRequired(t *testing.T) {
	_, err := LoadConfig(json.RawMessage(`{"name": "raw"}`))
	require.Error(t, err)
}
