// Package path keeps the per-output-path bookkeeping of a capture session.
package path

import (
	"fmt"

	"github.com/sarchlab/capseq/frame"
)

// ID names one output path.
type ID int

// Output paths. The order is the order paths are visited when a start of
// frame commits buffers.
const (
	Full ID = iota
	Bin
	Raw
	PDAF
	VCH2
	VCH3
	AEM
	AFM
	AFL
	Hist
	FRGBHist
	NR3
	LSCM
	GTMHist
	NumPaths
)

var idNames = [NumPaths]string{
	"FULL", "BIN", "RAW", "PDAF", "VCH2", "VCH3", "AEM", "AFM", "AFL",
	"HIST", "FRGB_HIST", "3DNR", "LSCM", "GTM_HIST",
}

func (id ID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("PATH(%d)", int(id))
	}

	return idNames[id]
}

// Valid reports whether id names a path.
func (id ID) Valid() bool {
	return id >= 0 && id < NumPaths
}

// Kind returns the kind of frame the path normally produces.
func (id ID) Kind() frame.Kind {
	switch id {
	case Full, Bin, Raw, VCH2:
		return frame.KindData
	default:
		return frame.KindStatis
	}
}

// ParseID converts a path name back to its ID.
func ParseID(name string) (ID, error) {
	for i, n := range idNames {
		if n == name {
			return ID(i), nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrInvalidPath, name)
}
