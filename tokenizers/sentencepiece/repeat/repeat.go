// Package repeat implements the lossless run-length layer applied to token streams: a run of
// identical tokens is written once, followed by a start marker, the decimal digits of the run
// length and an end marker.
//
//	["▁the", "▁the", "▁the", "▁cat"] <-> ["▁the", "(#startrepeat)", "3", "(#endrepeat)", "▁cat"]
//
// The same Scheme works over piece strings or over integer ids.
package repeat

import (
	"strconv"

	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/pkg/errors"
)

// Marker pieces delimiting the run-length digits.
const (
	StartMarker = "(#startrepeat)"
	EndMarker   = "(#endrepeat)"
)

// MaxExpandedLen bounds the number of tokens Expand may return, whatever the counts between
// the markers ask for.
const MaxExpandedLen = 1 << 20

// maxDigits bounds the run length digits accepted by DecodeCount, so the count fits an int.
const maxDigits = 18

// EncodeCount returns the base-10 digits of n, most significant first.
// EncodeCount(0) returns an empty slice. It panics if n is negative.
func EncodeCount(n int) []int {
	if n < 0 {
		panic(errors.Errorf("repeat.EncodeCount(%d): count must be non-negative", n))
	}
	var digits []int
	for n > 0 {
		digits = append(digits, n%10)
		n /= 10
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return digits
}

// DecodeCount parses the digits, most significant first, into an integer.
func DecodeCount(digits []int) (int, error) {
	if len(digits) > maxDigits {
		return 0, errors.Wrapf(api.ErrIntegrity, "repeat count with %d digits is too long", len(digits))
	}
	total := 0
	for _, d := range digits {
		if d < 0 || d > 9 {
			return 0, errors.Wrapf(api.ErrIntegrity, "invalid repeat count digit %d", d)
		}
		total = total*10 + d
	}
	return total, nil
}

// Scheme describes how markers and digits are represented as tokens of type T.
type Scheme[T comparable] struct {
	Start, End T

	// Digit returns the token for the digit d (0 to 9).
	Digit func(d int) T

	// Value returns the digit represented by the token, if it is one.
	Value func(token T) (int, bool)
}

// Pieces returns the Scheme over piece strings: the two marker pieces and the pieces "0" to "9".
func Pieces() Scheme[string] {
	return Scheme[string]{
		Start: StartMarker,
		End:   EndMarker,
		Digit: strconv.Itoa,
		Value: pieceDigit,
	}
}

func pieceDigit(piece string) (int, bool) {
	if len(piece) != 1 || piece[0] < '0' || piece[0] > '9' {
		return 0, false
	}
	return int(piece[0] - '0'), true
}

// Compress replaces every maximal run of two or more identical tokens by the token, the start
// marker, the digits of the run length and the end marker. Runs of length one are copied as is.
func (s Scheme[T]) Compress(tokens []T) []T {
	out := make([]T, 0, len(tokens))
	for i := 0; i < len(tokens); {
		j := i + 1
		for j < len(tokens) && tokens[j] == tokens[i] {
			j++
		}
		out = append(out, tokens[i])
		if count := j - i; count > 1 {
			out = append(out, s.Start)
			for _, d := range EncodeCount(count) {
				out = append(out, s.Digit(d))
			}
			out = append(out, s.End)
		}
		i = j
	}
	return out
}

// HasRun reports whether Compress would change tokens.
func HasRun[T comparable](tokens []T) bool {
	for i := 1; i < len(tokens); i++ {
		if tokens[i] == tokens[i-1] {
			return true
		}
	}
	return false
}

// Expand restores the runs encoded by Compress: the token preceding a start marker is repeated
// until it occurs as many times as the encoded count.
//
// Markers must be paired and not nested, the digits between them must be valid and the count
// positive; anything else is an api.ErrIntegrity. So is an expansion longer than MaxExpandedLen.
func (s Scheme[T]) Expand(tokens []T) ([]T, error) {
	out := make([]T, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		if len(out) >= MaxExpandedLen {
			return nil, errors.Wrapf(api.ErrIntegrity, "expansion is longer than %d tokens", MaxExpandedLen)
		}
		token := tokens[i]
		if token == s.End {
			return nil, errors.Wrapf(api.ErrIntegrity, "repeat end marker at position %d without a start marker", i)
		}
		if token != s.Start {
			out = append(out, token)
			continue
		}
		if len(out) == 0 {
			return nil, errors.Wrapf(api.ErrIntegrity, "repeat start marker at position %d has no symbol to repeat", i)
		}
		symbol := out[len(out)-1]

		var digits []int
		j := i + 1
		for ; j < len(tokens) && tokens[j] != s.End; j++ {
			d, ok := s.Value(tokens[j])
			if !ok {
				return nil, errors.Wrapf(api.ErrIntegrity, "token at position %d inside repeat markers is not a digit", j)
			}
			digits = append(digits, d)
		}
		if j == len(tokens) {
			return nil, errors.Wrapf(api.ErrIntegrity, "repeat start marker at position %d is never closed", i)
		}
		if len(digits) == 0 {
			return nil, errors.Wrapf(api.ErrIntegrity, "repeat markers at positions %d-%d enclose no count", i, j)
		}
		count, err := DecodeCount(digits)
		if err != nil {
			return nil, errors.WithMessagef(err, "repeat markers at positions %d-%d", i, j)
		}
		if count == 0 {
			return nil, errors.Wrapf(api.ErrIntegrity, "repeat count at positions %d-%d is zero", i, j)
		}
		if count-1 > MaxExpandedLen-len(out) {
			return nil, errors.Wrapf(api.ErrIntegrity, "repeat count %d at positions %d-%d expands past %d tokens",
				count, i, j, MaxExpandedLen)
		}
		for range count - 1 {
			out = append(out, symbol)
		}
		i = j
	}
	return out, nil
}
