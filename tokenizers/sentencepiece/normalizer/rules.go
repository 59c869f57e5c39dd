package normalizer

import (
	"strconv"
	"strings"

	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/pkg/errors"
)

// ParseRules parses a normalization rule TSV: each line is "source<TAB>target[<TAB>comment]",
// where source and target are space separated hex code points ("41 301", optionally "U+0041").
// An empty target deletes the source. Empty lines and lines starting with '#' are ignored.
func ParseRules(tsv string) (map[string]string, error) {
	rules := make(map[string]string)
	for lineNum, line := range strings.Split(tsv, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Split(line, "\t")
		src, err := parseCodePoints(cols[0])
		if err != nil {
			return nil, errors.WithMessagef(err, "rule line %d", lineNum+1)
		}
		if src == "" {
			return nil, errors.Wrapf(api.ErrConfiguration, "rule line %d has an empty source", lineNum+1)
		}
		var trg string
		if len(cols) > 1 {
			trg, err = parseCodePoints(cols[1])
			if err != nil {
				return nil, errors.WithMessagef(err, "rule line %d", lineNum+1)
			}
		}
		rules[src] = trg
	}
	return rules, nil
}

func parseCodePoints(field string) (string, error) {
	var sb strings.Builder
	for _, hex := range strings.Fields(field) {
		hex = strings.TrimPrefix(strings.TrimPrefix(hex, "U+"), "u+")
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil || v > 0x10FFFF {
			return "", errors.Wrapf(api.ErrConfiguration, "invalid code point %q", hex)
		}
		sb.WriteRune(rune(v))
	}
	return sb.String(), nil
}

// nmtRules returns the rules of the "nmt_" normalizations: control characters are removed and
// the various line breaks and invisible spaces become a plain space.
func nmtRules() map[string]string {
	rules := make(map[string]string)
	remove := func(from, to rune) {
		for r := from; r <= to; r++ {
			rules[string(r)] = ""
		}
	}
	remove(0x0001, 0x0008)
	remove(0x000B, 0x000B)
	remove(0x000E, 0x001F)
	remove(0x007F, 0x007F)
	remove(0x008F, 0x008F)
	remove(0x009F, 0x009F)
	for _, r := range []rune{0x0009, 0x000A, 0x000C, 0x000D, 0x1680, 0x200B, 0x200C, 0x200D, 0x200E, 0x200F, 0x2028, 0x2029, 0xFEFF} {
		rules[string(r)] = " "
	}
	return rules
}
