package risk

import (
	"testing"
	"time"

	"github.com/abdoelhodaky/tradefabric/internal/domain"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type GateTestSuite struct {
	suite.Suite
	gate *Gate
	now  time.Time
}

func (s *GateTestSuite) SetupTest() {
	limits := Limits{
		MaxDrawdownPct:         0.15,
		MaxDailyLossPct:        0.03,
		MaxPositions:           5,
		MaxCorrelation:         0.70,
		MaxSectorConcentration: 0.40,
		MaxLeverage:            2.0,
	}
	gate, err := New(nil, limits, 100000, nil, nil)
	require.NoError(s.T(), err)
	s.gate = gate
	s.now = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
}

func (s *GateTestSuite) TestAdmitsWithinLimits() {
	// Sized explicitly: 2500*10 = 25,000 is 0.25 of the 100,000 account,
	// within the 0.40 sector limit. An unsized proposal is projected at
	// the 100,000 default notional, i.e. the whole account.
	trade := &domain.ActiveTrade{ScripCode: "RELIANCE", Side: domain.SideLong, SignalPrice: 2500, PositionSize: 10}
	ok, reason := s.gate.Admit(trade, nil, s.now)
	s.True(ok)
	s.Equal(RejectNone, reason)
}

// Scenario 6 (spec §8): start 100,000; peak 110,000; current 93,499
// (drawdown 15.001%) -> admit returns false and latches, and stays
// latched until reset_emergency.
func (s *GateTestSuite) TestDrawdownLatchesAndSticks() {
	s.gate.UpdateValue(110000, 10000, s.now)
	s.gate.UpdateValue(93499, -16501, s.now)

	trade := &domain.ActiveTrade{ScripCode: "TCS", Side: domain.SideLong, SignalPrice: 3500, PositionSize: 10}
	ok, reason := s.gate.Admit(trade, nil, s.now)
	s.False(ok)
	s.Equal(RejectDrawdownBreached, reason)

	// Stays latched on subsequent admits even without further losses.
	ok2, reason2 := s.gate.Admit(trade, nil, s.now)
	s.False(ok2)
	s.Equal(RejectEmergencyStop, reason2)

	s.Require().NoError(s.gate.ResetEmergency("operator-id"))
	// Reset clears the latch, but Admit re-checks drawdown and daily loss
	// on every call; recover to the 110,000 peak (daily PnL back to
	// +10,000) so the next admission is not rejected and re-latched.
	s.gate.UpdateValue(110000, 16501, s.now)
	ok3, _ := s.gate.Admit(trade, nil, s.now)
	s.True(ok3)
}

func (s *GateTestSuite) TestResetEmergencyRequiresOperatorID() {
	s.gate.LatchEmergency("MANUAL_TEST", s.now)
	err := s.gate.ResetEmergency("")
	s.Error(err)
	diag := s.gate.Diagnostics(0)
	s.True(diag.EmergencyStop)
}

func (s *GateTestSuite) TestMaxPositionsRejects() {
	positions := make([]*domain.ActiveTrade, 5)
	for i := range positions {
		positions[i] = &domain.ActiveTrade{ScripCode: "SCRIP", Side: domain.SideLong, EntryPrice: 100, PositionSize: 10}
	}
	trade := &domain.ActiveTrade{ScripCode: "NEW", Side: domain.SideLong, SignalPrice: 100}
	ok, reason := s.gate.Admit(trade, positions, s.now)
	s.False(ok)
	s.Equal(RejectMaxPositions, reason)
}

func (s *GateTestSuite) TestCorrelationRejectsSameScrip() {
	existing := &domain.ActiveTrade{ScripCode: "INFY", Side: domain.SideLong, EntryPrice: 1500, PositionSize: 10}
	proposed := &domain.ActiveTrade{ScripCode: "INFY", Side: domain.SideLong, SignalPrice: 1510}
	ok, reason := s.gate.Admit(proposed, []*domain.ActiveTrade{existing}, s.now)
	s.False(ok)
	s.Equal(RejectCorrelation, reason)
}

func (s *GateTestSuite) TestLeverageRejectsOverexposure() {
	// Every scrip falls in the default OTHER sector, so the sector check,
	// which runs first, already bounds total exposure by
	// MaxSectorConcentration (<= 1). Leverage can only be the first check
	// to reject when its limit is below the sector limit.
	gate, err := New(nil, Limits{MaxDrawdownPct: 0.15, MaxDailyLossPct: 0.03, MaxPositions: 5, MaxCorrelation: 0.7, MaxSectorConcentration: 1.0, MaxLeverage: 0.5}, 100000, nil, nil)
	s.Require().NoError(err)
	// Projected 100,000 notional / 100 = 1000 shares: exposure 1.0x > 0.5x.
	proposed := &domain.ActiveTrade{ScripCode: "BIGPOS", Side: domain.SideLong, SignalPrice: 100}
	ok, reason := gate.Admit(proposed, nil, s.now)
	s.False(ok)
	s.Equal(RejectLeverage, reason)
}

func (s *GateTestSuite) TestConstructionFailsOnInvalidLimits() {
	_, err := New(nil, Limits{MaxDrawdownPct: 2.0, MaxDailyLossPct: 0.03, MaxPositions: 5, MaxCorrelation: 0.7, MaxSectorConcentration: 0.4, MaxLeverage: 2}, 100000, nil, nil)
	s.Error(err)
}

func TestGateSuite(t *testing.T) {
	suite.Run(t, new(GateTestSuite))
}
