package main

import "encoding/binary"

// buildPlaceholderShell returns a minimal ELF64/amd64 executable: one
// PT_LOAD segment, readable and executable, whose only code is a two-byte
// "jmp $" (spin forever). It exists so a freshly-made image always has
// something at /bin/shell for elf.Load and the scheduler's first user task
// to exercise end to end, even when the caller supplied no host directory
// tree to copy a real shell binary from.
//
// Field offsets mirror elf.header64/elf.programHeader64 exactly (spec
// §4.6): 64-byte file header immediately followed by one 56-byte program
// header, then the code bytes.
func buildPlaceholderShell() []byte {
	const (
		loadVaddr = 0x400000
		ehsize    = 64
		phsize    = 56
	)
	code := []byte{0xEB, 0xFE} // jmp $

	codeOffset := uint64(ehsize + phsize)
	total := int(codeOffset) + len(code)
	buf := make([]byte, total)

	buf[0], buf[1], buf[2], buf[3] = 0x7F, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // little-endian
	buf[6] = 1 // EV_CURRENT

	binary.LittleEndian.PutUint16(buf[16:18], 2)    // e_type = ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:20], 0x3E) // e_machine = EM_X86_64
	binary.LittleEndian.PutUint32(buf[20:24], 1)    // e_version
	binary.LittleEndian.PutUint64(buf[24:32], loadVaddr+codeOffset) // e_entry
	binary.LittleEndian.PutUint64(buf[32:40], ehsize)               // e_phoff
	binary.LittleEndian.PutUint16(buf[52:54], ehsize)               // e_ehsize
	binary.LittleEndian.PutUint16(buf[54:56], phsize)               // e_phentsize
	binary.LittleEndian.PutUint16(buf[56:58], 1)                    // e_phnum

	ph := buf[ehsize : ehsize+phsize]
	binary.LittleEndian.PutUint32(ph[0:4], 1) // p_type = PT_LOAD
	binary.LittleEndian.PutUint32(ph[4:8], 5) // p_flags = PF_R | PF_X
	binary.LittleEndian.PutUint64(ph[8:16], 0)
	binary.LittleEndian.PutUint64(ph[16:24], loadVaddr)
	binary.LittleEndian.PutUint64(ph[24:32], loadVaddr)
	binary.LittleEndian.PutUint64(ph[32:40], uint64(total))
	binary.LittleEndian.PutUint64(ph[40:48], uint64(total))
	binary.LittleEndian.PutUint64(ph[48:56], 0x1000)

	copy(buf[codeOffset:], code)
	return buf
}
