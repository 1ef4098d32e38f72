package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/jihwankim/nas-emu-fuse/pkg/fault"
)

// recognizedKeys is the exhaustive recognized option set. Any other key
// is a fatal "unknown key" error.
var recognizedKeys = map[string]struct{}{
	"probability":               {},
	"error_code":                {},
	"delay_ms_min":              {},
	"delay_ms_max":              {},
	"data_corruption_percent":   {},
	"short_write_ratio":         {},
	"disk_full_threshold_bytes": {},
	"target_operations":         {},
	"path_glob":                 {},
	"min_size":                  {},
	"max_size":                  {},
	"seed":                      {},
	"kind":                      {}, // disambiguates DELAY vs SLOW, both driven by delay_ms_min/max
}

var errnoByName = map[string]syscall.Errno{
	"EIO":       syscall.EIO,
	"ENOSPC":    syscall.ENOSPC,
	"EACCES":    syscall.EACCES,
	"EPERM":     syscall.EPERM,
	"ENOENT":    syscall.ENOENT,
	"EEXIST":    syscall.EEXIST,
	"EROFS":     syscall.EROFS,
	"ENOTDIR":   syscall.ENOTDIR,
	"EISDIR":    syscall.EISDIR,
	"EINVAL":    syscall.EINVAL,
	"EAGAIN":    syscall.EAGAIN,
	"EBUSY":     syscall.EBUSY,
	"ETIMEDOUT": syscall.ETIMEDOUT,
	"ENODATA":   syscall.ENODATA,
}

// block is one blank-line-separated key=value group, in file order.
type block struct {
	keys     map[string]string
	lineNums map[string]int
}

// ParseRuleFile reads the fault-rule config file, returning the rules in
// file order and the global PRNG seed (0 if unset). Every validation
// error is fatal here.
func ParseRuleFile(path string) ([]fault.FaultRule, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	blocks, err := scanBlocks(f)
	if err != nil {
		return nil, 0, err
	}

	var rules []fault.FaultRule
	var seed uint64
	var seedSet bool

	for _, b := range blocks {
		for key := range b.keys {
			if _, ok := recognizedKeys[key]; !ok {
				return nil, 0, fmt.Errorf("line %d: unknown key %q", b.lineNums[key], key)
			}
		}

		if s, ok := b.keys["seed"]; ok {
			v, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return nil, 0, fmt.Errorf("line %d: malformed seed %q", b.lineNums["seed"], s)
			}
			if !seedSet {
				seed = v
				seedSet = true
			}
			delete(b.keys, "seed")
		}

		if len(b.keys) == 0 {
			// A seed-only (or empty) block; not a rule.
			continue
		}

		rule, err := parseRuleBlock(b)
		if err != nil {
			return nil, 0, err
		}
		rules = append(rules, rule)
	}

	return rules, seed, nil
}

func scanBlocks(f *os.File) ([]block, error) {
	var blocks []block
	cur := block{keys: map[string]string{}, lineNums: map[string]int{}}

	flush := func() {
		if len(cur.keys) > 0 {
			blocks = append(blocks, cur)
		}
		cur = block{keys: map[string]string{}, lineNums: map[string]int{}}
	}

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}

		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, fmt.Errorf("line %d: expected key = value, got %q", lineNum, line)
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" {
			return nil, fmt.Errorf("line %d: empty key", lineNum)
		}
		cur.keys[key] = val
		cur.lineNums[key] = lineNum
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()
	return blocks, nil
}

func parseRuleBlock(b block) (fault.FaultRule, error) {
	var rule fault.FaultRule

	opsStr, ok := b.keys["target_operations"]
	if !ok || strings.TrimSpace(opsStr) == "" {
		return rule, fmt.Errorf("line %d: block has no target_operations", firstLine(b))
	}
	ops := map[fault.Operation]struct{}{}
	for _, name := range strings.Split(opsStr, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		op, ok := fault.ParseOperation(name)
		if !ok {
			return rule, fmt.Errorf("line %d: unknown operation %q", b.lineNums["target_operations"], name)
		}
		ops[op] = struct{}{}
	}
	if len(ops) == 0 {
		return rule, fmt.Errorf("line %d: target_operations is empty", b.lineNums["target_operations"])
	}

	probStr, ok := b.keys["probability"]
	if !ok {
		return rule, fmt.Errorf("line %d: probability is unset for a rule that injects", firstLine(b))
	}
	prob, err := strconv.ParseFloat(probStr, 64)
	if err != nil {
		return rule, fmt.Errorf("line %d: malformed probability %q", b.lineNums["probability"], probStr)
	}
	if prob < 0 || prob > 1 {
		return rule, fmt.Errorf("line %d: probability %v out of range [0,1]", b.lineNums["probability"], prob)
	}
	if prob == 0 {
		return rule, fmt.Errorf("line %d: probability = 0 is an error (rule would never fire)", b.lineNums["probability"])
	}

	match := fault.Match{Operations: ops, MinSize: -1, MaxSize: -1}
	if g, ok := b.keys["path_glob"]; ok {
		match.PathGlob = g
	}
	if s, ok := b.keys["min_size"]; ok {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return rule, fmt.Errorf("line %d: malformed min_size %q", b.lineNums["min_size"], s)
		}
		match.MinSize = v
	}
	if s, ok := b.keys["max_size"]; ok {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return rule, fmt.Errorf("line %d: malformed max_size %q", b.lineNums["max_size"], s)
		}
		match.MaxSize = v
	}

	kind, err := inferKind(b)
	if err != nil {
		return rule, err
	}

	rule = fault.FaultRule{Match: match, Kind: kind, Probability: prob}

	switch kind {
	case fault.KindError:
		codeStr := b.keys["error_code"]
		errno, ok := errnoByName[strings.ToUpper(codeStr)]
		if !ok {
			n, err := strconv.Atoi(codeStr)
			if err != nil {
				return rule, fmt.Errorf("line %d: unrecognized error_code %q", b.lineNums["error_code"], codeStr)
			}
			errno = syscall.Errno(n)
		}
		rule.Error = fault.ErrorParams{Errno: errno}

	case fault.KindDelay, fault.KindSlow:
		minMs, err := parseIntKey(b, "delay_ms_min", 0)
		if err != nil {
			return rule, err
		}
		maxMs, err := parseIntKey(b, "delay_ms_max", 0)
		if err != nil {
			return rule, err
		}
		if maxMs < minMs {
			return rule, fmt.Errorf("line %d: delay_ms_max < delay_ms_min", firstLine(b))
		}
		rule.Delay = fault.DelayParams{MinMs: minMs, MaxMs: maxMs}

	case fault.KindCorruptData:
		pctStr := b.keys["data_corruption_percent"]
		pct, err := strconv.ParseFloat(pctStr, 64)
		if err != nil {
			return rule, fmt.Errorf("line %d: malformed data_corruption_percent %q", b.lineNums["data_corruption_percent"], pctStr)
		}
		if pct < 0 || pct > 100 {
			return rule, fmt.Errorf("line %d: data_corruption_percent %v out of range [0,100]", b.lineNums["data_corruption_percent"], pct)
		}
		if pct == 0 {
			return rule, fmt.Errorf("line %d: CORRUPT_DATA with percent=0 is a contradictory kind+parameter combination", b.lineNums["data_corruption_percent"])
		}
		rule.Corrupt = fault.CorruptParams{Percent: pct}

	case fault.KindShortIO:
		ratioStr := b.keys["short_write_ratio"]
		ratio, err := strconv.ParseFloat(ratioStr, 64)
		if err != nil {
			return rule, fmt.Errorf("line %d: malformed short_write_ratio %q", b.lineNums["short_write_ratio"], ratioStr)
		}
		if ratio <= 0 || ratio > 1 {
			return rule, fmt.Errorf("line %d: short_write_ratio %v out of range (0,1]", b.lineNums["short_write_ratio"], ratio)
		}
		rule.ShortIO = fault.ShortIOParams{Ratio: ratio}

	case fault.KindSpaceExhaustion:
		threshStr := b.keys["disk_full_threshold_bytes"]
		thresh, err := strconv.ParseInt(threshStr, 10, 64)
		if err != nil {
			return rule, fmt.Errorf("line %d: malformed disk_full_threshold_bytes %q", b.lineNums["disk_full_threshold_bytes"], threshStr)
		}
		if thresh < 0 {
			return rule, fmt.Errorf("line %d: disk_full_threshold_bytes must be non-negative", b.lineNums["disk_full_threshold_bytes"])
		}
		rule.Space = fault.SpaceParams{ThresholdBytes: thresh}

	case fault.KindNone:
		// No kind-specific parameters.
	}

	return rule, nil
}

// inferKind determines a rule's kind from which kind-specific key is
// present; the option set itself disambiguates. "kind" is only needed to
// tell DELAY and SLOW apart, since both use delay_ms_min/max.
func inferKind(b block) (fault.RuleKind, error) {
	var candidates []fault.RuleKind

	if _, ok := b.keys["error_code"]; ok {
		candidates = append(candidates, fault.KindError)
	}
	_, hasMin := b.keys["delay_ms_min"]
	_, hasMax := b.keys["delay_ms_max"]
	if hasMin || hasMax {
		if v, ok := b.keys["kind"]; ok && strings.EqualFold(v, "slow") {
			candidates = append(candidates, fault.KindSlow)
		} else {
			candidates = append(candidates, fault.KindDelay)
		}
	}
	if _, ok := b.keys["data_corruption_percent"]; ok {
		candidates = append(candidates, fault.KindCorruptData)
	}
	if _, ok := b.keys["short_write_ratio"]; ok {
		candidates = append(candidates, fault.KindShortIO)
	}
	if _, ok := b.keys["disk_full_threshold_bytes"]; ok {
		candidates = append(candidates, fault.KindSpaceExhaustion)
	}

	switch len(candidates) {
	case 0:
		return fault.KindNone, nil
	case 1:
		return candidates[0], nil
	default:
		return 0, fmt.Errorf("line %d: contradictory kind+parameter combination in one block", firstLine(b))
	}
}

func parseIntKey(b block, key string, def int) (int, error) {
	s, ok := b.keys[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("line %d: malformed %s %q", b.lineNums[key], key, s)
	}
	return v, nil
}

func firstLine(b block) int {
	min := -1
	for _, n := range b.lineNums {
		if min == -1 || n < min {
			min = n
		}
	}
	return min
}
