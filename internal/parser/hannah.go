package parser

import (
	"regexp"
	"strings"

	"github.com/yalvarez/trading-platform/pkg/types"
)

// Hannah parses the Hannah provider format:
//
//	GOLD BUY NOW
//	@4460-4457
//	SL 4454
//	TP1 4463
//	TP2 4466
//
// The header line is the gate: without "GOLD BUY NOW" / "GOLD SELL NOW" the
// message is not Hannah's, whatever else it contains.
type Hannah struct{}

var (
	hannahSymbolRe = regexp.MustCompile(`(?i)\b(GOLD|XAUUSD|ORO)\b`)
	hannahEntryRe  = regexp.MustCompile(`@([\d.]+)-(\d+)`)
	hannahSLRe     = regexp.MustCompile(`(?i)SL\s*(\d+)`)
	hannahTPRe     = regexp.MustCompile(`(?i)TP\d*\s*(\d+)`)
)

func (Hannah) FormatTag() string { return "HANNAH" }

func (Hannah) Parse(text string) *types.ParseResult {
	lines := nonEmptyLines(text)
	if len(lines) == 0 {
		return nil
	}
	first := strings.ToUpper(lines[0])
	if !strings.HasPrefix(first, "GOLD BUY NOW") && !strings.HasPrefix(first, "GOLD SELL NOW") {
		return nil
	}

	symbol := ""
	for _, l := range lines {
		if hannahSymbolRe.MatchString(l) {
			symbol = "XAUUSD"
			break
		}
	}
	if symbol == "" {
		return nil
	}

	var direction types.Direction
	switch {
	case strings.Contains(first, "BUY"):
		direction = types.BUY
	case strings.Contains(first, "SELL"):
		direction = types.SELL
	default:
		return nil
	}

	// Entry is written high-first: "@4460-4457" means the band [4457, 4460].
	var entry *types.EntryRange
	for _, l := range lines {
		m := hannahEntryRe.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		hi, ok1 := num(m[1])
		lo, ok2 := num(m[2])
		if !ok1 || !ok2 {
			continue
		}
		entry = rangeOf(lo, hi)
		break
	}
	if entry == nil {
		return nil
	}

	var sl float64
	for _, l := range lines {
		if m := hannahSLRe.FindStringSubmatch(l); m != nil {
			if v, ok := num(m[1]); ok {
				sl = v
				break
			}
		}
	}

	var tps []float64
	for _, l := range lines {
		for _, m := range hannahTPRe.FindAllStringSubmatch(l, -1) {
			if v, ok := num(m[1]); ok {
				tps = appendTP(tps, v)
			}
		}
	}

	return &types.ParseResult{
		FormatTag:   "HANNAH",
		ProviderTag: "hannah",
		Symbol:      symbol,
		Direction:   direction,
		EntryRange:  entry,
		SL:          sl,
		TPs:         tps,
	}
}

// nonEmptyLines splits trimmed text into trimmed, non-empty lines.
func nonEmptyLines(text string) []string {
	var out []string
	for _, l := range strings.Split(strings.TrimSpace(text), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
