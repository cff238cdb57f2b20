// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import "github.com/indpro-interns-oct-25/chatNShop/services/intent/model"

// GateOutcome is the confidence gate's verdict on a ranked candidate list.
type GateOutcome string

const (
	GateConfident GateOutcome = "CONFIDENT"
	GateAmbiguous GateOutcome = "AMBIGUOUS"
	GateUnclear   GateOutcome = "UNCLEAR"
)

// Gate evaluates a ranked candidate list against the active thresholds.
//
// Rules:
//   - CONFIDENT: top-1 >= confThreshold and (top-1 - top-2) >= gapThreshold.
//   - AMBIGUOUS: top-1 >= confThreshold but the gap is too small, or two
//     candidates both clear confThreshold.
//   - UNCLEAR: top-1 below confThreshold, or no candidates at all.
func Gate(ranked []model.Candidate, confThreshold, gapThreshold float64) GateOutcome {
	if len(ranked) == 0 {
		return GateUnclear
	}
	top := ranked[0].Score
	if top < confThreshold {
		return GateUnclear
	}
	if len(ranked) == 1 {
		return GateConfident
	}
	second := ranked[1].Score
	if top-second < gapThreshold || second >= confThreshold {
		return GateAmbiguous
	}
	return GateConfident
}
