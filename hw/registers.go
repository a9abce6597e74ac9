package hw

import "github.com/sarchlab/capseq/path"

// Reg names a register of one hardware slot.
type Reg int

// Registers the capture core touches.
const (
	RegStatus0 Reg = iota
	RegClear0
	RegStatus1
	RegClear1

	// RegFrameCounter holds the modulo count of captured frames.
	RegFrameCounter

	RegAutoCopy
	RegPathCtrl
	RegAXICountClear
	RegMMUStatus

	RegNR3MEParam
	RegNR3MEOut0
	RegNR3MEOut1

	RegGTMHistIndex
	RegGTMHistValue
	RegGTMSize

	// RegStoreAddr is the first of one write-address register per path.
	RegStoreAddr
)

// StoreAddrReg returns the register that holds the address a path's next
// write goes to.
func StoreAddrReg(p path.ID) Reg {
	return RegStoreAddr + Reg(p)
}

// FrameCounterMask selects the counter bits of RegFrameCounter.
const FrameCounterMask = 0xFF

// Auto-copy bits. Path bits are 1 << path.ID.
const (
	AutoCopyCoef    uint32 = 1 << 20
	AutoCopyCapture uint32 = 1 << 21
)

// AutoCopyPath returns the auto-copy bit of a path.
func AutoCopyPath(p path.ID) uint32 {
	return 1 << uint(p)
}

// Path control operations written to RegPathCtrl as p<<4 | op.
const (
	PathCtrlPause  uint32 = 1
	PathCtrlResume uint32 = 2
)

// PathCtrl encodes a path control command.
func PathCtrl(p path.ID, op uint32) uint32 {
	return uint32(p)<<4 | op
}

// GTMHistBins is the number of tone-mapping histogram bins.
const GTMHistBins = 128

// Registers reads and writes the registers of hardware slots. Accesses never
// fail.
type Registers interface {
	Read(slot int, reg Reg) uint32
	Write(slot int, reg Reg, value uint32)
	MaskedWrite(slot int, reg Reg, mask, value uint32)
}
