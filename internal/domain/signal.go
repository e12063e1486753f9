package domain

import "time"

// Side is the direction of a signal or trade.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// SignalSource classifies where a signal came from. The CONFIRMED and
// UNCONFIRMED sources share Layer-1 dedup; any other value is treated
// as an independent category lane (e.g. "CATEGORY:FUDKOI").
type SignalSource string

const (
	SourceConfirmed   SignalSource = "CONFIRMED"
	SourceUnconfirmed SignalSource = "UNCONFIRMED"
)

// IsPaired reports whether the source participates in the
// CONFIRMED/UNCONFIRMED Layer-1 pair rather than its own category lane.
func (s SignalSource) IsPaired() bool {
	return s == SourceConfirmed || s == SourceUnconfirmed
}

// OILabel is the open-interest behaviour label attached to a signal.
type OILabel string

const (
	OILabelLongBuildup    OILabel = "LONG_BUILDUP"
	OILabelShortCovering  OILabel = "SHORT_COVERING"
	OILabelShortBuildup   OILabel = "SHORT_BUILDUP"
	OILabelLongUnwinding  OILabel = "LONG_UNWINDING"
)

// RankInputs feeds the Arbiter's rank_score function (spec §4.C).
type RankInputs struct {
	OIRatio     float64
	OILabel     OILabel
	VolumeSurge float64
}

// Signal is a candidate trade proposed by an upstream strategy producer.
type Signal struct {
	ScripCode    string
	Side         Side
	SignalPrice  float64
	StopLoss     float64
	Target1      float64
	Target2      float64 // optional, zero means "not supplied"
	StrategyID   string
	Source       SignalSource
	ReceivedAt   time.Time
	Confidence   float64
	RankInputs   RankInputs
}

// HasTarget2 reports whether the signal carried an explicit T2.
func (s Signal) HasTarget2() bool { return s.Target2 != 0 }
