// Package normalizer implements the text normalizer used before segmentation, and the
// denormalizer applied to decoded text.
//
// Normalize returns, next to the normalized text, the offset map: for every byte of the
// normalized text the byte offset in the input it came from, plus one trailing sentinel.
// The map is non-decreasing and bounded by the input length.
package normalizer

import (
	"strings"
	"unicode/utf8"

	"github.com/gomlx/spprocessor/models/spmodel"
	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// SpaceSymbol replaces white spaces in the normalized text: U+2581 (LOWER ONE EIGHTH BLOCK).
const SpaceSymbol = "▁"

// replacementChar is emitted for every invalid UTF-8 input byte.
const replacementChar = "�"

// Normalizer normalizes text according to a spmodel.NormalizerSpec.
// It is immutable after New and safe for concurrent use.
type Normalizer struct {
	spec   spmodel.NormalizerSpec
	suffix bool

	form     norm.Form
	hasForm  bool
	caseFold bool

	rules       map[string]string
	maxRuleLen  int
	userDefined map[string]bool
	maxUserLen  int
}

// Option configures a Normalizer.
type Option func(n *Normalizer)

// WhitespaceAsSuffix places the dummy whitespace at the end of the text instead of the start,
// for models trained with treat_whitespace_as_suffix.
func WhitespaceAsSuffix(suffix bool) Option {
	return func(n *Normalizer) { n.suffix = suffix }
}

// UserDefinedSymbols are copied verbatim, never normalized, when they occur in the input.
func UserDefinedSymbols(symbols []string) Option {
	return func(n *Normalizer) {
		for _, s := range symbols {
			if s == "" {
				continue
			}
			n.userDefined[s] = true
			n.maxUserLen = max(n.maxUserLen, len(s))
		}
	}
}

// New creates a Normalizer for spec. The Unicode normalization is selected by spec.Name;
// spec.NormalizationRuleTSV rules are applied before it.
func New(spec spmodel.NormalizerSpec, options ...Option) (*Normalizer, error) {
	n := &Normalizer{
		spec:        spec,
		rules:       make(map[string]string),
		userDefined: make(map[string]bool),
	}
	switch spec.Name {
	case "", "identity", "user_defined":
	case "nfkc", "nmt_nfkc":
		n.form, n.hasForm = norm.NFKC, true
	case "nfkc_cf", "nmt_nfkc_cf":
		n.form, n.hasForm, n.caseFold = norm.NFKC, true, true
	case "nfc":
		n.form, n.hasForm = norm.NFC, true
	case "nfd":
		n.form, n.hasForm = norm.NFD, true
	case "nfkd":
		n.form, n.hasForm = norm.NFKD, true
	default:
		return nil, errors.Wrapf(api.ErrConfiguration, "unknown normalization rule %q", spec.Name)
	}
	if strings.HasPrefix(spec.Name, "nmt_") {
		for src, trg := range nmtRules() {
			n.addRule(src, trg)
		}
	}
	if spec.NormalizationRuleTSV != "" {
		rules, err := ParseRules(spec.NormalizationRuleTSV)
		if err != nil {
			return nil, err
		}
		for src, trg := range rules {
			n.addRule(src, trg)
		}
	}
	for _, option := range options {
		option(n)
	}
	return n, nil
}

func (n *Normalizer) addRule(src, trg string) {
	n.rules[src] = trg
	n.maxRuleLen = max(n.maxRuleLen, len(src))
}

// Spec returns the spec the Normalizer was created with.
func (n *Normalizer) Spec() spmodel.NormalizerSpec {
	return n.spec
}

// Normalize returns the normalized text and the offset map from normalized byte positions to
// input byte positions. The map has len(normalized)+1 entries.
func (n *Normalizer) Normalize(input string) (normalized string, normToOrig []int, err error) {
	if n == nil {
		return "", nil, errors.Wrap(api.ErrConfiguration, "normalizer is not initialized")
	}
	var folder *cases.Caser
	if n.caseFold {
		// A Caser keeps state, so each call gets its own.
		c := cases.Fold()
		folder = &c
	}

	consumed := 0
	if n.spec.RemoveExtraWhitespaces {
		for consumed < len(input) {
			out, size := n.normalizePrefix(input[consumed:], folder)
			if out != " " {
				break
			}
			consumed += size
		}
	}
	if consumed == len(input) {
		// Empty, or only white spaces.
		return "", []int{consumed}, nil
	}

	space := " "
	if n.spec.EscapeWhitespaces {
		space = SpaceSymbol
	}
	var sb strings.Builder
	sb.Grow(len(input) + len(space))
	normToOrig = make([]int, 0, len(input)+len(space)+1)
	addSpace := func() {
		sb.WriteString(space)
		for range len(space) {
			normToOrig = append(normToOrig, consumed)
		}
	}

	if !n.suffix && n.spec.AddDummyPrefix {
		addSpace()
	}

	isPrevSpace := n.spec.RemoveExtraWhitespaces
	for consumed < len(input) {
		out, size := n.normalizePrefix(input[consumed:], folder)
		if isPrevSpace {
			out = strings.TrimLeft(out, " ")
		}
		if out != "" {
			for i := 0; i < len(out); i++ {
				if n.spec.EscapeWhitespaces && out[i] == ' ' {
					sb.WriteString(SpaceSymbol)
					for range len(SpaceSymbol) {
						normToOrig = append(normToOrig, consumed)
					}
				} else {
					sb.WriteByte(out[i])
					normToOrig = append(normToOrig, consumed)
				}
			}
			isPrevSpace = strings.HasSuffix(out, " ")
		}
		consumed += size
		if !n.spec.RemoveExtraWhitespaces {
			isPrevSpace = false
		}
	}

	normalized = sb.String()
	if n.spec.RemoveExtraWhitespaces {
		for strings.HasSuffix(normalized, space) {
			length := len(normalized) - len(space)
			consumed = normToOrig[length]
			normalized = normalized[:length]
			normToOrig = normToOrig[:length]
		}
	}

	if n.suffix && n.spec.AddDummyPrefix {
		sb.Reset()
		sb.WriteString(normalized)
		addSpace()
		normalized = sb.String()
	}
	normToOrig = append(normToOrig, consumed)
	return normalized, normToOrig, nil
}

// normalizePrefix normalizes the first chunk of input, returning the normalized chunk and the
// number of input bytes it consumed (always > 0 for a non-empty input).
func (n *Normalizer) normalizePrefix(input string, folder *cases.Caser) (string, int) {
	for l := min(n.maxUserLen, len(input)); l > 0; l-- {
		if n.userDefined[input[:l]] {
			return input[:l], l
		}
	}
	for l := min(n.maxRuleLen, len(input)); l > 0; l-- {
		if trg, ok := n.rules[input[:l]]; ok {
			return trg, l
		}
	}

	r, size := utf8.DecodeRuneInString(input)
	if r == utf8.RuneError && size <= 1 {
		return replacementChar, 1
	}
	if !n.hasForm {
		return input[:size], size
	}

	// A chunk is a starter and its combining marks. Its normalization may span several starters
	// (e.g. "ﬁ" -> "fi"), all mapped to the start of the chunk.
	consumed := n.form.NextBoundaryInString(input, true)
	if consumed < size {
		consumed = size
	}
	out := n.form.String(input[:consumed])
	if folder != nil {
		out = folder.String(out)
	}
	return out, consumed
}
