package domain

import "fmt"

// ValidationLimits are the bounds a Signal must satisfy, sourced from
// the fabric configuration (spec §3, §6).
type ValidationLimits struct {
	MaxStopPct float64
	MinMovePct float64
	MinRR      float64
}

// Validate checks a Signal against spec §3's invariants:
//
//	LONG:  stop_loss < signal_price < target1
//	SHORT: target1 < signal_price < stop_loss
//	stop distance   <= MaxStopPct of signal price
//	target1 distance >= MinMovePct of signal price
//	reward/risk     >= MinRR
func (s Signal) Validate(limits ValidationLimits) error {
	if s.ScripCode == "" {
		return fmt.Errorf("%w: empty scrip_code", ErrValidationFailure)
	}
	if s.SignalPrice <= 0 {
		return fmt.Errorf("%w: non-positive signal_price", ErrValidationFailure)
	}

	switch s.Side {
	case SideLong:
		if !(s.StopLoss < s.SignalPrice && s.SignalPrice < s.Target1) {
			return fmt.Errorf("%w: long ordering violated (sl=%v price=%v t1=%v)",
				ErrValidationFailure, s.StopLoss, s.SignalPrice, s.Target1)
		}
	case SideShort:
		if !(s.Target1 < s.SignalPrice && s.SignalPrice < s.StopLoss) {
			return fmt.Errorf("%w: short ordering violated (sl=%v price=%v t1=%v)",
				ErrValidationFailure, s.StopLoss, s.SignalPrice, s.Target1)
		}
	default:
		return fmt.Errorf("%w: unknown side %q", ErrValidationFailure, s.Side)
	}

	risk := s.riskPerShare()
	if risk <= 0 {
		return fmt.Errorf("%w: non-positive risk", ErrValidationFailure)
	}
	stopPct := risk / s.SignalPrice
	if stopPct > limits.MaxStopPct {
		return fmt.Errorf("%w: stop distance %.4f%% exceeds max %.4f%%",
			ErrValidationFailure, stopPct*100, limits.MaxStopPct*100)
	}

	movePct := s.rewardPerShare() / s.SignalPrice
	if movePct < limits.MinMovePct {
		return fmt.Errorf("%w: target1 move %.4f%% below min %.4f%%",
			ErrValidationFailure, movePct*100, limits.MinMovePct*100)
	}

	rr := s.rewardPerShare() / risk
	if rr < limits.MinRR {
		return fmt.Errorf("%w: reward/risk %.2f below min %.2f", ErrValidationFailure, rr, limits.MinRR)
	}
	return nil
}

func (s Signal) riskPerShare() float64 {
	if s.Side == SideLong {
		return s.SignalPrice - s.StopLoss
	}
	return s.StopLoss - s.SignalPrice
}

func (s Signal) rewardPerShare() float64 {
	if s.Side == SideLong {
		return s.Target1 - s.SignalPrice
	}
	return s.SignalPrice - s.Target1
}
