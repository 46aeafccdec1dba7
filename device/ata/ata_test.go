package ata

import "testing"

func TestStatusBitConstants(t *testing.T) {
	// BSY set, DRQ/ERR clear: still busy.
	status := byte(statusBSY)
	if status&statusBSY == 0 {
		t.Error("expected BSY bit set")
	}
	if status&statusDRQ != 0 {
		t.Error("expected DRQ bit clear")
	}
}

func TestLBA28FieldPacking(t *testing.T) {
	lba := uint32(0x01234567)

	driveSelectByte := 0xE0 | uint8((lba>>24)&0x0F)
	low := uint8(lba & 0xFF)
	mid := uint8((lba >> 8) & 0xFF)
	high := uint8((lba >> 16) & 0xFF)

	if driveSelectByte != 0xE1 {
		t.Errorf("drive select byte = %#x, want 0xE1", driveSelectByte)
	}
	if low != 0x67 {
		t.Errorf("lba low = %#x, want 0x67", low)
	}
	if mid != 0x45 {
		t.Errorf("lba mid = %#x, want 0x45", mid)
	}
	if high != 0x23 {
		t.Errorf("lba high = %#x, want 0x23", high)
	}
}

func TestReadBeforeInitFails(t *testing.T) {
	identified = false
	var buf [SectorSize]byte
	if err := ReadSector(0, &buf); err != errNotReady {
		t.Errorf("ReadSector before init = %v, want errNotReady", err)
	}
	if err := WriteSector(0, &buf); err != errNotReady {
		t.Errorf("WriteSector before init = %v, want errNotReady", err)
	}
}

func TestSectorWordPacking(t *testing.T) {
	buffer := [SectorSize]byte{0xAD, 0xDE}
	word := uint16(buffer[0]) | uint16(buffer[1])<<8
	if word != 0xDEAD {
		t.Errorf("word = %#x, want 0xDEAD", word)
	}
}
