package hw

import (
	"fmt"

	"github.com/sarchlab/capseq/path"
)

// Profile is what one hardware slot can raise and the order its bits are
// handled in.
type Profile struct {
	Name string

	// Sequence lists, per status word, the bits to dispatch in order.
	// Bits that feed later handlers come first.
	Sequence [2][]IRQ

	// LineMask selects, per status word, the bits the slot's line carries.
	LineMask [2]uint32

	// ReferencePaths are checked against the hardware write address when a
	// missed start of frame is repaired.
	ReferencePaths []path.ID
}

var dcam0Sequence0 = []IRQ{
	SensorSOF,
	CapSOF,
	CapEOF,
	PreviewSOF,
	SensorEOF,
	NR3Done,
	RawDone,
	BinDone,
	FullDone,
	AEMDone,
	HistDone,
	AFMIntReq1,
	AFLDone,
	PDAFDone,
	VCH2Done,
	VCH3Done,
	LSCMDone,
	GTMDone,
}

var fullSequence1 = []IRQ{
	FRGBHistDone,
	DecDone,
	SensorSOF1,
	SensorSOF2,
	SensorSOF3,
	DummyStart,
	FMCUInt2,
	FMCUInt1,
	DummyDone,
}

func without(seq []IRQ, drop IRQ) []IRQ {
	out := make([]IRQ, 0, len(seq))
	for _, i := range seq {
		if i != drop {
			out = append(out, i)
		}
	}

	return out
}

// Profiles of the three slots of the engine.
var (
	DCAM0 = Profile{
		Name:           "DCAM0",
		Sequence:       [2][]IRQ{dcam0Sequence0, fullSequence1},
		LineMask:       [2]uint32{0xFFFFFFFF, 0xFFFFFFFF},
		ReferencePaths: []path.ID{path.Bin, path.Full},
	}

	DCAM1 = Profile{
		Name:           "DCAM1",
		Sequence:       [2][]IRQ{without(dcam0Sequence0, PreviewSOF), fullSequence1},
		LineMask:       [2]uint32{0xFFFFFFFF, 0xFFFFFFFF},
		ReferencePaths: []path.ID{path.Bin, path.Full},
	}

	DCAM2 = Profile{
		Name: "DCAM2",
		Sequence: [2][]IRQ{
			{SensorSOF, CapSOF, SensorEOF, BinDone, FullDone},
			nil,
		},
		LineMask: [2]uint32{
			mask0(SensorSOF, CapSOF, SensorEOF, BinDone, FullDone) | Error0,
			0,
		},
		ReferencePaths: []path.ID{path.Bin, path.Full},
	}
)

// ProfileFor returns the profile of a slot.
func ProfileFor(slot int) (Profile, error) {
	switch slot {
	case 0:
		return DCAM0, nil
	case 1:
		return DCAM1, nil
	case 2:
		return DCAM2, nil
	default:
		return Profile{}, fmt.Errorf("no hardware slot %d", slot)
	}
}
