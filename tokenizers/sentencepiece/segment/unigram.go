package segment

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	// unkPenalty is subtracted from the minimum score to score unknown runes.
	unkPenalty = 10.0

	// userDefinedPenalty makes a user-defined piece slightly worse than the best normal piece
	// of the same length.
	userDefinedPenalty = 0.1

	scoreEpsilon = 1e-7
)

// UnigramModel segments with the unigram language model: every piece has a log-probability
// score, and a segmentation scores the sum of its pieces.
type UnigramModel struct {
	vocab *Vocab
}

func newUnigram(vocab *Vocab) *UnigramModel {
	return &UnigramModel{vocab: vocab}
}

// Vocab implements Model.
func (u *UnigramModel) Vocab() *Vocab { return u.vocab }

// IsNBestEncodeAvailable implements Model.
func (u *UnigramModel) IsNBestEncodeAvailable() bool { return true }

// IsSampleEncodeAvailable implements Model.
func (u *UnigramModel) IsSampleEncodeAvailable() bool { return true }

type latticeNode struct {
	begin, end int
	id         int
	score      float64
}

func (n *latticeNode) encoded(normalized string) Encoded {
	return Encoded{Piece: normalized[n.begin:n.end], ID: n.id}
}

// lattice returns, for every byte position of normalized, the nodes ending there.
func (u *UnigramModel) lattice(normalized string) [][]*latticeNode {
	v := u.vocab
	byEnd := make([][]*latticeNode, len(normalized)+1)
	for begin := 0; begin < len(normalized); {
		_, runeSize := utf8.DecodeRuneInString(normalized[begin:])
		hasSingle := false
		for end := begin; end < len(normalized); {
			_, size := utf8.DecodeRuneInString(normalized[end:])
			end += size
			if end-begin > v.maxPieceLen {
				break
			}
			piece := normalized[begin:end]
			id, found := v.Lookup(piece)
			if !found || !(v.IsNormal(id) || v.IsUserDefined(id)) {
				continue
			}
			score := v.Score(id)
			if v.IsUserDefined(id) {
				score = float64(len(piece))*v.maxScore - userDefinedPenalty
			}
			byEnd[end] = append(byEnd[end], &latticeNode{begin: begin, end: end, id: id, score: score})
			if end == begin+runeSize {
				hasSingle = true
			}
		}
		if !hasSingle {
			end := begin + runeSize
			byEnd[end] = append(byEnd[end], &latticeNode{begin: begin, end: end, id: v.unkID, score: v.minScore - unkPenalty})
		}
		begin += runeSize
	}
	return byEnd
}

// Encode implements Model with the Viterbi best path.
func (u *UnigramModel) Encode(normalized string) []Encoded {
	if normalized == "" {
		return nil
	}
	byEnd := u.lattice(normalized)
	n := len(normalized)
	best := make([]float64, n+1)
	bestNode := make([]*latticeNode, n+1)
	for end := 1; end <= n; end++ {
		for _, node := range byEnd[end] {
			if node.begin > 0 && bestNode[node.begin] == nil {
				continue
			}
			score := best[node.begin] + node.score
			if bestNode[end] == nil || score > best[end] {
				best[end], bestNode[end] = score, node
			}
		}
	}
	var reversed []Encoded
	for pos := n; pos > 0; {
		node := bestNode[pos]
		reversed = append(reversed, node.encoded(normalized))
		pos = node.begin
	}
	slices.Reverse(reversed)
	return reversed
}

type hypothesis struct {
	score    float64
	node     *latticeNode
	prevRank int
}

// NBestEncode implements Model. Each position keeps its n best prefixes, which is enough to
// find the n best complete paths since path scores are additive.
func (u *UnigramModel) NBestEncode(normalized string, n int) []Scored {
	if n <= 0 {
		return nil
	}
	if normalized == "" {
		return []Scored{{}}
	}
	byEnd := u.lattice(normalized)
	size := len(normalized)
	kbest := make([][]hypothesis, size+1)
	kbest[0] = []hypothesis{{}}
	for end := 1; end <= size; end++ {
		var candidates []hypothesis
		for _, node := range byEnd[end] {
			for rank, h := range kbest[node.begin] {
				candidates = append(candidates, hypothesis{score: h.score + node.score, node: node, prevRank: rank})
			}
		}
		slices.SortStableFunc(candidates, func(a, b hypothesis) int { return cmp.Compare(b.score, a.score) })
		if len(candidates) > n {
			candidates = candidates[:n]
		}
		kbest[end] = candidates
	}

	results := make([]Scored, 0, len(kbest[size]))
	for _, final := range kbest[size] {
		var reversed []Encoded
		h := final
		for h.node != nil {
			reversed = append(reversed, h.node.encoded(normalized))
			h = kbest[h.node.begin][h.prevRank]
		}
		slices.Reverse(reversed)
		results = append(results, Scored{Pieces: reversed, Score: final.score})
	}
	return results
}

// SampleEncode implements Model by forward-filtering backward-sampling: a path is drawn with
// probability proportional to exp(alpha * score).
func (u *UnigramModel) SampleEncode(normalized string, alpha float64, rng *rand.Rand) []Encoded {
	if normalized == "" {
		return nil
	}
	byEnd := u.lattice(normalized)
	n := len(normalized)
	forward := make([]float64, n+1)
	reached := make([]bool, n+1)
	reached[0] = true
	for end := 1; end <= n; end++ {
		for _, node := range byEnd[end] {
			if !reached[node.begin] {
				continue
			}
			score := forward[node.begin] + alpha*node.score
			if !reached[end] {
				forward[end], reached[end] = score, true
			} else {
				forward[end] = logSumExp(forward[end], score)
			}
		}
	}

	var reversed []Encoded
	for pos := n; pos > 0; {
		var chosen *latticeNode
		r := rng.Float64()
		acc := 0.0
		for _, node := range byEnd[pos] {
			if !reached[node.begin] {
				continue
			}
			chosen = node
			acc += math.Exp(forward[node.begin] + alpha*node.score - forward[pos])
			if r < acc {
				break
			}
		}
		reversed = append(reversed, chosen.encoded(normalized))
		pos = chosen.begin
	}
	slices.Reverse(reversed)
	return reversed
}

func logSumExp(x, y float64) float64 {
	if x < y {
		x, y = y, x
	}
	return x + math.Log1p(math.Exp(y-x))
}

// VerifyOutputsEquivalent implements Model: two segmentations are equivalent if they have the
// same score.
func (u *UnigramModel) VerifyOutputsEquivalent(expected, actual string) bool {
	if expected == actual {
		return true
	}
	return math.Abs(u.pathScore(expected)-u.pathScore(actual)) <= scoreEpsilon
}

func (u *UnigramModel) pathScore(joined string) float64 {
	v := u.vocab
	var total float64
	for _, piece := range strings.Fields(joined) {
		id := v.PieceToID(piece)
		switch {
		case id == v.unkID:
			total += v.minScore - unkPenalty
		case v.IsUserDefined(id):
			total += float64(len(piece))*v.maxScore - userDefinedPenalty
		default:
			total += v.Score(id)
		}
	}
	return total
}
