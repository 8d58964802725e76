package amp

// Adjustment is the tracker's current working precision and step size,
// and the value a policy returns after reacting to a failed verdict.
type Adjustment struct {
	Digits   int
	StepSize float64
}

// PrecisionPolicy decides how aggressively the tracker trades step
// size against precision when a criterion fails. The endgame never
// escalates on its own; the tracker owns the adjustment and injects a
// policy of its choosing.
type PrecisionPolicy interface {
	// Adjust returns the precision and step size to use for the next
	// attempt. Called only when v.OK() is false.
	Adjust(v Verdict, current Adjustment) Adjustment
}

// StepHalvingPolicy shrinks the step first and raises the digit count
// only once the step floor is reached, except for Criterion C failures
// which indicate the precision itself is short of the point's size and
// go straight to more digits.
type StepHalvingPolicy struct {
	MinStepSize    float64
	DigitIncrement int
	MaxDigits      int
}

// DefaultStepHalvingPolicy returns the escalation defaults: halve down
// to 1e-14, then add digits eight at a time up to 300.
func DefaultStepHalvingPolicy() StepHalvingPolicy {
	return StepHalvingPolicy{
		MinStepSize:    1e-14,
		DigitIncrement: 8,
		MaxDigits:      300,
	}
}

// Adjust implements PrecisionPolicy.
func (p StepHalvingPolicy) Adjust(v Verdict, current Adjustment) Adjustment {
	next := current
	if !v.C {
		next.Digits = min(current.Digits+p.DigitIncrement, p.MaxDigits)
		return next
	}
	if current.StepSize/2 >= p.MinStepSize {
		next.StepSize = current.StepSize / 2
		return next
	}
	next.Digits = min(current.Digits+p.DigitIncrement, p.MaxDigits)
	return next
}
