// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of nidas-pipeline.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wind

// TransducerShadowCorrection is left as a documented no-op passthrough.
// ATIK_Sonic.cc's correction depends on a per-transducer shadow angle and
// factor that this module has no calibration source for (Decided Open
// Question: shadow-correction formula); a future version would accept a
// MaxShadowAngle/ShadowFactor pair and apply the same path-dependent
// correction the original does. Until then, uvw passes through unchanged.
func TransducerShadowCorrection(uvw []float64) []float64 {
	return uvw
}
