package spmodel

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/gomlx/spprocessor/tokenizers/api"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LoadFile reads and parses the model descriptor at path. The file is memory-mapped while
// parsing; the returned Model doesn't reference the mapping.
func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(api.ErrConfiguration, "can't open model file %q: %v", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(api.ErrConfiguration, "can't stat model file %q: %v", path, err)
	}
	if info.Size() == 0 {
		return nil, errors.Wrapf(api.ErrConfiguration, "model file %q is empty", path)
	}

	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(api.ErrConfiguration, "can't mmap model file %q: %v", path, err)
	}
	defer func() {
		if err := mapped.Unmap(); err != nil {
			klog.Warningf("Failed unmapping model file %q: %v", path, err)
		}
	}()

	m, err := Unmarshal(mapped)
	if err != nil {
		return nil, errors.WithMessagef(err, "while loading %q", path)
	}
	klog.V(1).Infof("Loaded model descriptor %q: %d pieces, %s model", path, len(m.Pieces), m.Trainer.ModelType)
	return m, nil
}
