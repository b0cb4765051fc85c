//go:build amd64 || arm64

package detour

import _ "unsafe"

// The layouts below mirror the runtime's. Only the leading fields that
// funcSlice reads need to match.

type funcInfo struct {
	*_func
	datap *moduledata
}

type _func struct {
	entryOff uint32 // start pc, as offset from moduledata.text/pcHeader.textStart
	nameOff  int32  // function name, as index into moduledata.funcnametab.

	args        int32  // in/out args size
	deferreturn uint32 // offset of start of a deferreturn call instruction from entry, if any.

	pcsp      uint32
	pcfile    uint32
	pcln      uint32
	npcdata   uint32
	cuOffset  uint32 // runtime.cutab offset of this function's CU
	startLine int32  // line number of start of function (func keyword/TEXT directive)
	funcID    uint8  // set for certain special runtime functions
	flag      uint8
	_         [1]byte // pad
	nfuncdata uint8   // must be last, must end on a uint32-aligned boundary
}

// moduledata records the layout of the executable image. It is written by
// the linker and must match cmd/link/internal/ld/symtab.go:symtab.
type moduledata struct {
	pcHeader     *pcHeader
	funcnametab  []byte
	cutab        []uint32
	filetab      []byte
	pctab        []byte
	pclntable    []byte
	ftab         []functab
	findfunctab  uintptr
	minpc, maxpc uintptr

	text, etext uintptr

	// Struct continues, omitting unused fields.
}

type pcHeader struct {
	magic      uint32 // 0xFFFFFFF1
	pad1, pad2 uint8  // 0,0
	minLC      uint8  // min instruction size
	ptrSize    uint8  // size of a ptr in bytes
	nfunc      int    // number of functions in the module
	nfiles     uint   // number of entries in the file tab
	textStart  uintptr
}

type functab struct {
	entryoff uint32 // relative to runtime.text
	funcoff  uint32
}

//go:linkname findfunc runtime.findfunc
func findfunc(pc uintptr) funcInfo
