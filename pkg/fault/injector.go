package fault

import (
	"math/rand"
	"sync"
)

// OpCounters tracks per-operation hit/fault counts for observability. It is
// never consulted to make a fault decision.
type OpCounters struct {
	Hits   uint64
	Faults uint64
}

// Injector is the process-wide fault-decision engine. Its PRNG and counters
// are protected by a single mutex, held only across one Decide call, so a
// fixed seed and a serialized workload reproduce an identical decision
// trace.
type Injector struct {
	mu       sync.Mutex
	rng      *rand.Rand
	rules    []FaultRule
	counters map[Operation]*OpCounters
}

// New creates an Injector seeded from seed, evaluating rules in order.
func New(seed uint64, rules []FaultRule) *Injector {
	return &Injector{
		rng:      rand.New(rand.NewSource(int64(seed))),
		rules:    rules,
		counters: make(map[Operation]*OpCounters),
	}
}

func (inj *Injector) counterFor(op Operation) *OpCounters {
	c, ok := inj.counters[op]
	if !ok {
		c = &OpCounters{}
		inj.counters[op] = c
	}
	return c
}

// Decide returns the Decision for (op, path, size). usedBytes is the
// caller-maintained count of bytes currently occupied under the backing
// root; it is only consulted by KindSpaceExhaustion rules, where the
// threshold check, not the probability draw alone, gates the ENOSPC.
func (inj *Injector) Decide(op Operation, path string, size int64, usedBytes int64) Decision {
	inj.mu.Lock()
	defer inj.mu.Unlock()

	inj.counterFor(op).Hits++

	var rule *FaultRule
	for i := range inj.rules {
		if inj.rules[i].Match.Admits(op, path, size) {
			rule = &inj.rules[i]
			break
		}
	}
	if rule == nil {
		return Decision{Action: ActionPass}
	}

	r := inj.rng.Float64()
	if r >= rule.Probability {
		return Decision{Action: ActionPass}
	}

	decision := inj.synthesize(rule, size, usedBytes)
	if decision.Action != ActionPass {
		inj.counterFor(op).Faults++
	}
	decision.Rule = rule
	return decision
}

// synthesize builds the per-kind decision. Caller holds inj.mu.
func (inj *Injector) synthesize(rule *FaultRule, size int64, usedBytes int64) Decision {
	switch rule.Kind {
	case KindNone:
		return Decision{Action: ActionPass}

	case KindError:
		return Decision{Action: ActionFail, Errno: rule.Error.Errno}

	case KindDelay:
		d := sampleDelayMs(inj.rng, rule.Delay.MinMs, rule.Delay.MaxMs)
		return Decision{Action: ActionDelay, Delay: msToDuration(d)}

	case KindSlow:
		base := sampleDelayMs(inj.rng, rule.Delay.MinMs, rule.Delay.MaxMs)
		scaled := base
		if size > 0 {
			scaled = base * int(size) / 4096
			if scaled < base {
				scaled = base
			}
		}
		return Decision{Action: ActionDelay, Delay: msToDuration(scaled)}

	case KindCorruptData:
		return Decision{Action: ActionMutate, CorruptPercent: rule.Corrupt.Percent}

	case KindShortIO:
		n := int64(float64(size) * rule.ShortIO.Ratio)
		return Decision{Action: ActionShorten, ShortenTo: n}

	case KindSpaceExhaustion:
		if usedBytes+size > rule.Space.ThresholdBytes {
			return Decision{Action: ActionFail, Errno: errnoNospc}
		}
		return Decision{Action: ActionPass}

	default:
		return Decision{Action: ActionPass}
	}
}

func sampleDelayMs(rng *rand.Rand, min, max int) int {
	if max <= min {
		return min
	}
	return min + rng.Intn(max-min+1)
}

// MutateBuffer exposes the deterministic byte-corruption algorithm to
// callers that already hold a Decision with Action == ActionMutate. It
// consumes the injector's PRNG, so call it at most once per matching
// read/write, and only while still holding no assumptions about prior
// draws (the lock here serializes it with Decide calls from other ops).
func (inj *Injector) MutateBuffer(buf []byte, pct float64) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	mutateBuffer(inj.rng, buf, pct)
}

// SpaceCeilingFor reports the disk_full_threshold_bytes of the first
// SPACE_EXHAUSTION rule whose match admits (op, path, 0), if any. Used by
// statfs to clamp reported free space: this is a plain rule lookup, not a
// probability draw, so it never advances the PRNG.
func (inj *Injector) SpaceCeilingFor(op Operation, path string) (int64, bool) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	for i := range inj.rules {
		r := &inj.rules[i]
		if r.Kind == KindSpaceExhaustion && r.Match.Admits(op, path, 0) {
			return r.Space.ThresholdBytes, true
		}
	}
	return 0, false
}

// Counters returns a snapshot of the per-operation hit/fault counts.
func (inj *Injector) Counters() map[Operation]OpCounters {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	out := make(map[Operation]OpCounters, len(inj.counters))
	for op, c := range inj.counters {
		out[op] = *c
	}
	return out
}
