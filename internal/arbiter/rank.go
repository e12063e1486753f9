package arbiter

import (
	"math"

	"github.com/abdoelhodaky/tradefabric/internal/domain"
)

// FUDKOICategory is the one category lane that ranks on oi_score alone
// (spec §4.C).
const FUDKOICategory = "FUDKOI"

// oiScore implements spec §4.C's alignment table: full weight when the
// OI label matches the trade's own buildup direction, half weight for
// the counter-direction covering label, zero otherwise.
func oiScore(sig domain.Signal) float64 {
	ratio := math.Abs(sig.RankInputs.OIRatio)
	switch sig.Side {
	case domain.SideLong:
		switch sig.RankInputs.OILabel {
		case domain.OILabelLongBuildup:
			return ratio * 2.0
		case domain.OILabelShortCovering:
			return ratio * 1.0
		}
	case domain.SideShort:
		switch sig.RankInputs.OILabel {
		case domain.OILabelShortBuildup:
			return ratio * 2.0
		case domain.OILabelLongUnwinding:
			return ratio * 1.0
		}
	}
	return 0
}

// RankScore implements spec §4.C:
//
//	rank_score(s) = 0.6*oi_score(s) + 0.4*min(volume_surge, 10.0)
//
// with the FUDKOI category lane using oi_score alone.
func RankScore(sig domain.Signal, category string) float64 {
	oi := oiScore(sig)
	if category == FUDKOICategory {
		return oi
	}
	vol := sig.RankInputs.VolumeSurge
	if vol > 10.0 {
		vol = 10.0
	}
	return 0.6*oi + 0.4*vol
}
