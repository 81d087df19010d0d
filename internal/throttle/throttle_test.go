package throttle

import "testing"

// trials is large enough that the binomial standard error at p=0.5 (~0.35
// percentage points) keeps these checks well clear of their ±10pp
// tolerance without making the suite slow.
const trials = 20000

func TestBeginAdmitsUpToBegin(t *testing.T) {
	th := New(3, 50, 10)
	for i := 0; i < 3; i++ {
		if !th.Begin() {
			t.Fatalf("attempt %d: expected admission while flight < begin", i+1)
		}
	}
}

func TestBeginRejectsPastMax(t *testing.T) {
	th := New(0, 100, 2)
	th.Begin()
	th.Begin()
	if th.Begin() {
		t.Fatal("expected rejection once flight exceeds max")
	}
}

func TestBeginDeterministicRejectionAtSpanOne(t *testing.T) {
	// begin=0, max=1: admit judges each attempt against the count already
	// in flight *before* it joins them. The first attempt is judged against
	// flight=0, which is >= max(1)? No — 0 < 1, so it falls into the
	// probability band at p=rate+(100-rate)*(0-0)/1=100, an always-reject.
	// The second is judged against flight=1, which is >= max(1): a flat
	// reject regardless of rate. Both attempts reject here.
	th := New(0, 100, 1)
	if th.Begin() {
		t.Fatal("expected the first Begin to be rejected at p=100")
	}
	if th.Begin() {
		t.Fatal("expected the second Begin to be rejected once flight >= max")
	}
}

// TestAdmissionProbabilityMatchesWorkedExample reproduces the spec's
// (begin, rate, max) = (2, 50, 4) scenario: the 1st and 2nd attempts always
// admit, the 5th always rejects, and the 3rd/4th reject at ~50%/~75% — the
// values this component's MaxStartups-style formula is modeled on.
func TestAdmissionProbabilityMatchesWorkedExample(t *testing.T) {
	const begin, rate, max = 2, 50, 4

	admitAt := func(attempt int) bool {
		th := New(begin, rate, max)
		var admitted bool
		for i := 1; i <= attempt; i++ {
			admitted = th.Begin()
		}
		return admitted
	}

	for i := 0; i < 200; i++ {
		if !admitAt(1) {
			t.Fatal("1st attempt must always admit")
		}
		if !admitAt(2) {
			t.Fatal("2nd attempt must always admit")
		}
		if admitAt(5) {
			t.Fatal("5th attempt must always reject")
		}
	}

	rejectFraction := func(attempt int) float64 {
		rejects := 0
		for i := 0; i < trials; i++ {
			if !admitAt(attempt) {
				rejects++
			}
		}
		return float64(rejects) / float64(trials)
	}

	const tolerance = 0.1
	if f := rejectFraction(3); f < 0.5-tolerance || f > 0.5+tolerance {
		t.Errorf("3rd attempt reject fraction = %.3f, want ~0.50", f)
	}
	if f := rejectFraction(4); f < 0.75-tolerance || f > 0.75+tolerance {
		t.Errorf("4th attempt reject fraction = %.3f, want ~0.75", f)
	}
}

func TestMaxZeroAlwaysAdmits(t *testing.T) {
	th := New(0, 1, 0)
	for i := 0; i < 50; i++ {
		if !th.Begin() {
			t.Fatalf("attempt %d: max=0 must mean unlimited admission", i+1)
		}
	}
}

func TestFinalizeDecrementsInFlight(t *testing.T) {
	th := New(5, 100, 10)
	th.Begin()
	th.Begin()
	if got := th.InFlight(); got != 2 {
		t.Fatalf("InFlight = %d, want 2", got)
	}
	th.Finalize()
	if got := th.InFlight(); got != 1 {
		t.Fatalf("InFlight = %d, want 1", got)
	}
}

func TestFinalizeNeverGoesNegative(t *testing.T) {
	th := New(5, 100, 10)
	th.Finalize()
	if got := th.InFlight(); got != 0 {
		t.Fatalf("InFlight = %d, want 0 after Finalize with nothing in flight", got)
	}
}

func TestParseMaxStartupsSingleValue(t *testing.T) {
	begin, rate, max, err := ParseMaxStartups("10")
	if err != nil {
		t.Fatalf("ParseMaxStartups: %v", err)
	}
	if begin != 10 || rate != 100 || max != 10 {
		t.Errorf("got (%d,%d,%d), want (10,100,10)", begin, rate, max)
	}
}

func TestParseMaxStartupsTwoValues(t *testing.T) {
	begin, rate, max, err := ParseMaxStartups("10:60")
	if err != nil {
		t.Fatalf("ParseMaxStartups: %v", err)
	}
	if begin != 10 || rate != 100 || max != 60 {
		t.Errorf("got (%d,%d,%d), want (10,100,60)", begin, rate, max)
	}
}

func TestParseMaxStartupsThreeValues(t *testing.T) {
	begin, rate, max, err := ParseMaxStartups("10:30:60")
	if err != nil {
		t.Fatalf("ParseMaxStartups: %v", err)
	}
	if begin != 10 || rate != 30 || max != 60 {
		t.Errorf("got (%d,%d,%d), want (10,30,60)", begin, rate, max)
	}
}

func TestParseMaxStartupsInvalidFallsBackToDefaults(t *testing.T) {
	begin, rate, max, err := ParseMaxStartups("not-a-number")
	if err == nil {
		t.Fatal("expected an error for unparseable input")
	}
	if begin != DefaultBegin || rate != DefaultRate || max != DefaultMax {
		t.Errorf("got (%d,%d,%d), want defaults (%d,%d,%d)", begin, rate, max, DefaultBegin, DefaultRate, DefaultMax)
	}
}

func TestParseMaxStartupsRejectsBeginGreaterThanMax(t *testing.T) {
	_, _, _, err := ParseMaxStartups("20:5")
	if err == nil {
		t.Fatal("expected an error when begin exceeds max")
	}
}

func TestParseMaxStartupsRejectsRateOutOfRange(t *testing.T) {
	_, _, _, err := ParseMaxStartups("5:150:10")
	if err == nil {
		t.Fatal("expected an error for a rate above 100")
	}
}
