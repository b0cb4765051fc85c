package detour

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/arch/arm64/arm64asm"
)

const (
	// -----------------------------------
	// | 100101 | ... 26 bit address ... |
	// -----------------------------------
	_BL = uint32(1<<31 | 5<<26)

	// ADR/ADRP is encoded as:
	// --------------------------------------------------
	// | P | lo 2 bits | 10000 | hi 19 bits | 5-bit reg |
	// --------------------------------------------------
	// Mask for the address:
	adrAddressMask = uint32(3<<29 | 0x7ffff<<5)
)

const closureJumpSize = 24

// insertClosureJump writes the arm64 machine code equivalent of:
//
//	LDR  X26, fv    // 16 bytes ahead
//	LDR  X16, [X26]
//	BR   X16
//	NOP
//	fv (8 bytes)
//
// X26 is the closure context register. Function entries are 16-byte
// aligned, which keeps the literal 8-byte aligned.
func insertClosureJump(buf []byte, fv uintptr) error {
	if len(buf) < closureJumpSize {
		return errors.New("buffer too small for jump instruction")
	}

	binary.LittleEndian.PutUint32(buf[0:], 0x5800009a)
	binary.LittleEndian.PutUint32(buf[4:], 0xf9400350)
	binary.LittleEndian.PutUint32(buf[8:], 0xd61f0200)
	binary.LittleEndian.PutUint32(buf[12:], 0xd503201f)
	binary.LittleEndian.PutUint64(buf[16:], uint64(fv))

	for i := closureJumpSize; i < len(buf); i++ {
		buf[i] = 0
	}

	return nil
}

// relocateFunc copies machine instructions from src into dest translating
// relative instructions as it goes. dest must have at least the capacity
// of src.
//
// The data underlying the slices is assumed to be the same address the code
// would execute from.
func relocateFunc(src, dest []byte) ([]byte, error) {
	if cap(dest) < len(src) {
		return nil, fmt.Errorf("destination too small: %d < %d", cap(dest), len(src))
	}
	dest = dest[:len(src)]
	copy(dest, src)

	srcPC := uintptr(unsafe.Pointer(unsafe.SliceData(src)))

	for i := 0; i+4 <= len(src); i += 4 {
		raw := dest[i : i+4]

		instruction, err := arm64asm.Decode(raw)
		if err != nil {
			// Stop if the bad instruction was padding
			if bytes.Equal(raw, []byte{0, 0, 0, 0}) {
				break
			}
			return nil, fmt.Errorf("decode error at offset %d %v: %w", i, raw, err)
		}

		for _, arg := range instruction.Args {
			if _, ok := arg.(arm64asm.PCRel); ok {
				if err := fixPCRelAddress(instruction, srcPC, raw); err != nil {
					return nil, err
				}
			}
		}
		srcPC += 4
	}

	return dest, nil
}

func fixPCRelAddress(inst arm64asm.Inst, srcPC uintptr, dest []byte) error {
	destPC := uintptr(unsafe.Pointer(unsafe.SliceData(dest)))

	switch inst.Op {
	case arm64asm.ADRP:
		// arm64asm reports the offset in bytes
		oldOffset := int64(inst.Args[1].(arm64asm.PCRel))

		// Page-align both addresses before computing the offset
		newOffsetPages := (int64(srcPC&^uintptr(0xfff)) + oldOffset - int64(destPC&^uintptr(0xfff))) >> 12

		if newOffsetPages < -(1<<20) || newOffsetPages >= (1<<20) {
			return fmt.Errorf("ADRP target out of range: %d pages exceeds 4GiB", newOffsetPages)
		}

		p := uint32(newOffsetPages)
		encoded := binary.LittleEndian.Uint32(dest) &^ adrAddressMask
		encoded |= (p & 3) << 29 // Lowest 2 bits to bits 30 and 29
		encoded |= (p >> 2) << 5 // Highest 19 bits to bits 23 to 5
		binary.LittleEndian.PutUint32(dest, encoded)

	case arm64asm.BL:
		oldOffset := int64(inst.Args[0].(arm64asm.PCRel))
		offset := int64(srcPC) + oldOffset - int64(destPC)

		// BL encodes a 26-bit signed instruction offset.
		if offset < -(1<<27) || offset >= (1<<27) {
			return fmt.Errorf("BL target out of range: %d bytes exceeds 128MiB", offset)
		}

		binary.LittleEndian.PutUint32(dest, _BL|(uint32(offset>>2)&(1<<26-1)))

	default:
		// Go only generates ADRP and BL with targets outside the
		// function.
	}

	return nil
}

func disassemble(code []byte) (string, error) {
	var buf bytes.Buffer

	baseAddr := uintptr(unsafe.Pointer(unsafe.SliceData(code)))

	for i := 0; i < len(code)&^3; i += 4 {
		asm := "?"
		if instruction, err := arm64asm.Decode(code[i:]); err == nil {
			asm = instruction.String()
		}
		fmt.Fprintf(&buf, "0x%08x\t%-20s\t%s\n", baseAddr+uintptr(i), hex.EncodeToString(code[i:i+4]), asm)
	}

	return buf.String(), nil
}
