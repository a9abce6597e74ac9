// Package hw describes the capture engine's hardware: the interrupt status
// bits, the register file and the per-slot capability profiles.
package hw

import (
	"fmt"
	"strings"

	"github.com/sarchlab/capseq/path"
)

// IRQ names one interrupt status bit. Values below 32 live in the first
// status word, the rest in the second.
type IRQ int

// Interrupt bits of the first status word.
const (
	SensorSOF IRQ = iota
	SensorEOF
	CapSOF
	CapEOF
	PreviewSOF
	CapLineErr
	CapFrameErr
	Overflow
	MMU
	RawDone
	FullDone
	BinDone
	PDAFDone
	VCH2Done
	VCH3Done
	AEMDone
	HistDone
	AFMIntReq0
	AFMIntReq1
	AFLDone
	LSCMDone
	NR3Done
	GTMDone
)

// Interrupt bits of the second status word.
const (
	FRGBHistDone IRQ = 32 + iota
	DecDone
	SensorSOF1
	SensorSOF2
	SensorSOF3
	DummyStart
	FMCUInt1
	FMCUInt2
	DummyDone

	// NumIRQ bounds the IRQ values.
	NumIRQ
)

var irqNames = map[IRQ]string{
	SensorSOF:    "SENSOR_SOF",
	SensorEOF:    "SENSOR_EOF",
	CapSOF:       "CAP_SOF",
	CapEOF:       "CAP_EOF",
	PreviewSOF:   "PREVIEW_SOF",
	CapLineErr:   "CAP_LINE_ERR",
	CapFrameErr:  "CAP_FRM_ERR",
	Overflow:     "OVERFLOW",
	MMU:          "MMU",
	RawDone:      "RAW_TX_DONE",
	FullDone:     "FULL_TX_DONE",
	BinDone:      "BIN_TX_DONE",
	PDAFDone:     "PDAF_TX_DONE",
	VCH2Done:     "VCH2_TX_DONE",
	VCH3Done:     "VCH3_TX_DONE",
	AEMDone:      "AEM_TX_DONE",
	HistDone:     "HIST_TX_DONE",
	AFMIntReq0:   "AFM_INTREQ0",
	AFMIntReq1:   "AFM_INTREQ1",
	AFLDone:      "AFL_TX_DONE",
	LSCMDone:     "LSCM_TX_DONE",
	NR3Done:      "NR3_TX_DONE",
	GTMDone:      "GTM_DONE",
	FRGBHistDone: "FRGB_HIST_DONE",
	DecDone:      "DEC_DONE",
	SensorSOF1:   "SENSOR_SOF1",
	SensorSOF2:   "SENSOR_SOF2",
	SensorSOF3:   "SENSOR_SOF3",
	DummyStart:   "DUMMY_START",
	FMCUInt1:     "FMCU_INT1",
	FMCUInt2:     "FMCU_INT2",
	DummyDone:    "DUMMY_DONE",
}

func (i IRQ) String() string {
	if n, ok := irqNames[i]; ok {
		return n
	}

	return fmt.Sprintf("INT%d_BIT%d", i.Word(), i.Bit())
}

// Word returns which status word the bit lives in, 0 or 1.
func (i IRQ) Word() int {
	return int(i) / 32
}

// Bit returns the bit position inside its status word.
func (i IRQ) Bit() int {
	return int(i) % 32
}

// Mask returns the bit as a mask of its status word.
func (i IRQ) Mask() uint32 {
	return 1 << uint(i.Bit())
}

// Masks returns the union of the bits of each word.
func Masks(irqs ...IRQ) (word0, word1 uint32) {
	for _, i := range irqs {
		if i.Word() == 0 {
			word0 |= i.Mask()
		} else {
			word1 |= i.Mask()
		}
	}

	return word0, word1
}

func mask0(irqs ...IRQ) uint32 {
	m, _ := Masks(irqs...)
	return m
}

func mask1(irqs ...IRQ) uint32 {
	_, m := Masks(irqs...)
	return m
}

var (
	// Fatal0 are the bus and memory faults that end a session.
	Fatal0 = mask0(Overflow, MMU)

	// Error0 are all error bits of the first word. They are taken out of the
	// ordered walk and reported by the error path.
	Error0 = mask0(Overflow, MMU, CapLineErr, CapFrameErr)

	// Benign0 are bits known to be raised without a handler.
	Benign0 = mask0(AFMIntReq0, GTMDone)

	// TxDone0 and TxDone1 are the write-completion bits of each word.
	TxDone0 = mask0(RawDone, FullDone, BinDone, PDAFDone, VCH2Done,
		VCH3Done, AEMDone, HistDone, AFMIntReq1, AFLDone, LSCMDone, NR3Done,
		GTMDone)
	TxDone1 = mask1(FRGBHistDone, DecDone)
)

var pathDone = [path.NumPaths]IRQ{
	path.Full:     FullDone,
	path.Bin:      BinDone,
	path.Raw:      RawDone,
	path.PDAF:     PDAFDone,
	path.VCH2:     VCH2Done,
	path.VCH3:     VCH3Done,
	path.AEM:      AEMDone,
	path.AFM:      AFMIntReq1,
	path.AFL:      AFLDone,
	path.Hist:     HistDone,
	path.FRGBHist: FRGBHistDone,
	path.NR3:      NR3Done,
	path.LSCM:     LSCMDone,
	path.GTMHist:  GTMDone,
}

// DoneIRQ returns the write-completion bit of a path.
func DoneIRQ(p path.ID) IRQ {
	return pathDone[p]
}

// Describe lists the names of the set bits, for logs.
func Describe(word0, word1 uint32) string {
	var names []string

	for i := IRQ(0); i < NumIRQ; i++ {
		w := word0
		if i.Word() == 1 {
			w = word1
		}

		if w&i.Mask() != 0 {
			names = append(names, i.String())
		}
	}

	return strings.Join(names, "|")
}
