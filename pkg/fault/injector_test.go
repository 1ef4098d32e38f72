package fault

import (
	"strconv"
	"syscall"
	"testing"
	"time"
)

func allOps(ops ...Operation) map[Operation]struct{} {
	m := make(map[Operation]struct{}, len(ops))
	for _, op := range ops {
		m[op] = struct{}{}
	}
	return m
}

func TestDecideNoRulesAlwaysPasses(t *testing.T) {
	inj := New(1, nil)
	for i := 0; i < 10; i++ {
		d := inj.Decide(OpWrite, "/a.txt", 10, 0)
		if d.Action != ActionPass {
			t.Fatalf("expected PASS with empty rule set, got %v", d.Action)
		}
	}
}

func TestDecideDeterministicError(t *testing.T) {
	rules := []FaultRule{{
		Match:       Match{Operations: allOps(OpWrite), MinSize: -1, MaxSize: -1},
		Kind:        KindError,
		Probability: 1.0,
		Error:       ErrorParams{Errno: syscall.EIO},
	}}
	inj := New(1, rules)
	d := inj.Decide(OpWrite, "/b.txt", 1, 0)
	if d.Action != ActionFail || d.Errno != syscall.EIO {
		t.Fatalf("expected FAIL(EIO), got %+v", d)
	}
}

func TestDecideShortIO(t *testing.T) {
	rules := []FaultRule{{
		Match:       Match{Operations: allOps(OpWrite), MinSize: -1, MaxSize: -1},
		Kind:        KindShortIO,
		Probability: 1.0,
		ShortIO:     ShortIOParams{Ratio: 0.5},
	}}
	inj := New(1, rules)
	d := inj.Decide(OpWrite, "/c.bin", 1024, 0)
	if d.Action != ActionShorten || d.ShortenTo != 512 {
		t.Fatalf("expected SHORTEN(512), got %+v", d)
	}
}

func TestReproducibility(t *testing.T) {
	rules := []FaultRule{{
		Match:       Match{Operations: allOps(OpWrite), MinSize: -1, MaxSize: -1},
		Kind:        KindCorruptData,
		Probability: 0.5,
		Corrupt:     CorruptParams{Percent: 30},
	}}

	run := func() []Action {
		inj := New(1234, rules)
		var got []Action
		for i := 0; i < 30; i++ {
			d := inj.Decide(OpWrite, "/f.bin", 200, 0)
			got = append(got, d.Action)
		}
		return got
	}

	a := run()
	b := run()
	if len(a) != len(b) {
		t.Fatalf("length mismatch")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("decision trace diverged at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestCorruptionByteCount(t *testing.T) {
	rules := []FaultRule{{
		Match:       Match{Operations: allOps(OpWrite), MinSize: -1, MaxSize: -1},
		Kind:        KindCorruptData,
		Probability: 1.0,
		Corrupt:     CorruptParams{Percent: 30},
	}}
	inj := New(42, rules)

	for trial := 0; trial < 30; trial++ {
		d := inj.Decide(OpWrite, "/t.bin", 200, 0)
		if d.Action != ActionMutate {
			t.Fatalf("expected MUTATE, got %v", d.Action)
		}
		buf := make([]byte, 200)
		orig := make([]byte, 200)
		for i := range buf {
			buf[i] = byte(i)
			orig[i] = byte(i)
		}
		inj.MutateBuffer(buf, d.CorruptPercent)

		diff := 0
		for i := range buf {
			if buf[i] != orig[i] {
				diff++
			}
		}
		if diff != 60 {
			t.Fatalf("trial %d: expected exactly 60 bytes to differ, got %d", trial, diff)
		}
	}
}

func TestCorruptionBoundaries(t *testing.T) {
	inj := New(1, nil)
	buf := make([]byte, 100)
	orig := make([]byte, 100)

	inj.MutateBuffer(buf, 0)
	for i := range buf {
		if buf[i] != orig[i] {
			t.Fatalf("percent=0 should change nothing")
		}
	}

	inj.MutateBuffer(buf, 100)
	diff := 0
	for i := range buf {
		if buf[i] != orig[i] {
			diff++
		}
	}
	if diff != 100 {
		t.Fatalf("percent=100 should change every byte, got %d", diff)
	}
}

func TestSpaceExhaustionThreshold(t *testing.T) {
	rules := []FaultRule{{
		Match:       Match{Operations: allOps(OpWrite), MinSize: -1, MaxSize: -1},
		Kind:        KindSpaceExhaustion,
		Probability: 1.0,
		Space:       SpaceParams{ThresholdBytes: 1000},
	}}
	inj := New(1, rules)

	if d := inj.Decide(OpWrite, "/d.bin", 100, 800); d.Action != ActionPass {
		t.Fatalf("under threshold should PASS, got %v", d.Action)
	}
	if d := inj.Decide(OpWrite, "/d.bin", 300, 800); d.Action != ActionFail || d.Errno != syscall.ENOSPC {
		t.Fatalf("over threshold should FAIL(ENOSPC), got %+v", d)
	}
}

// 30 independent 200-byte writes at probability=0.5, percent=30,
// seed=42. The fraction that actually mutate should land near 0.5
// (+/- 30% tolerance), and every mutated buffer differs in exactly
// round(200*30/100) = 60 bytes.
func TestMediumCorruptionDistribution(t *testing.T) {
	rules := []FaultRule{{
		Match:       Match{Operations: allOps(OpWrite), MinSize: -1, MaxSize: -1},
		Kind:        KindCorruptData,
		Probability: 0.5,
		Corrupt:     CorruptParams{Percent: 30},
	}}
	inj := New(42, rules)

	mutated := 0
	for i := 0; i < 30; i++ {
		path := "/path" + strconv.Itoa(i)
		d := inj.Decide(OpWrite, path, 200, 0)
		if d.Action != ActionMutate {
			continue
		}
		mutated++

		buf := make([]byte, 200)
		orig := make([]byte, 200)
		for j := range buf {
			buf[j] = byte(j)
			orig[j] = byte(j)
		}
		inj.MutateBuffer(buf, d.CorruptPercent)

		diff := 0
		for j := range buf {
			if buf[j] != orig[j] {
				diff++
			}
		}
		if diff != 60 {
			t.Fatalf("write %d: expected exactly 60 bytes to differ, got %d", i, diff)
		}
	}

	if mutated < 9 || mutated > 21 {
		t.Fatalf("expected mutated count in [9,21] (0.5 +/- 30%% of 30), got %d", mutated)
	}
}

// A 100% DELAY rule with min=max=100ms must yield a delay of at least
// 100ms.
func TestDelayDecisionAtLeastMinimum(t *testing.T) {
	rules := []FaultRule{{
		Match:       Match{Operations: allOps(OpRead), MinSize: -1, MaxSize: -1},
		Kind:        KindDelay,
		Probability: 1.0,
		Delay:       DelayParams{MinMs: 100, MaxMs: 100},
	}}
	inj := New(1, rules)

	d := inj.Decide(OpRead, "/e.bin", 1, 0)
	if d.Action != ActionDelay {
		t.Fatalf("expected DELAY, got %v", d.Action)
	}
	if d.Delay < 100*time.Millisecond {
		t.Fatalf("expected delay >= 100ms, got %v", d.Delay)
	}
}
