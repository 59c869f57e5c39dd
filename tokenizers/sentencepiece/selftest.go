package sentencepiece

import (
	"strings"

	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// selfTest encodes the descriptor samples and compares the space joined pieces to the expected
// ones.
func (p *Processor) selfTest() error {
	samples := p.model.SelfTest
	if len(samples) == 0 {
		return nil
	}
	numFailed := 0
	for _, sample := range samples {
		pieces, err := p.EncodePieces(sample.Input)
		if err != nil {
			return errors.WithMessagef(err, "self-test of %q", sample.Input)
		}
		actual := strings.Join(pieces, " ")
		if !p.segmenter.VerifyOutputsEquivalent(sample.Expected, actual) {
			klog.Infof("Self-test failed: input=%q, expected=%q, actual=%q", sample.Input, sample.Expected, actual)
			numFailed++
		}
	}
	if numFailed > 0 {
		return errors.Wrapf(api.ErrConfiguration, "%d of %d self-test samples failed", numFailed, len(samples))
	}
	klog.V(1).Infof("Self-test passed: %d samples", len(samples))
	return nil
}
