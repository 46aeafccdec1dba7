package partition

import (
	"testing"

	"github.com/talonateox/vyper/kernel"
)

// memDevice is a fixed-size in-memory BlockDevice used only for these
// tests; device/ata provides the real port-I/O implementation.
type memDevice struct {
	sectors [][SectorSize]byte
}

func newMemDevice(numSectors int) *memDevice {
	return &memDevice{sectors: make([][SectorSize]byte, numSectors)}
}

func (m *memDevice) ReadSector(lba uint32, buf *[SectorSize]byte) *kernel.Error {
	if int(lba) >= len(m.sectors) {
		return &kernel.Error{Module: "memdevice", Message: "lba out of range"}
	}
	*buf = m.sectors[lba]
	return nil
}

func (m *memDevice) WriteSector(lba uint32, buf *[SectorSize]byte) *kernel.Error {
	if int(lba) >= len(m.sectors) {
		return &kernel.Error{Module: "memdevice", Message: "lba out of range"}
	}
	m.sectors[lba] = *buf
	return nil
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func writeMBREntry(sector []byte, index int, ptype byte, startLBA, sectorCount uint32) {
	offset := 446 + index*16
	sector[offset+4] = ptype
	putLE32(sector[offset+8:], startLBA)
	putLE32(sector[offset+12:], sectorCount)
}

func TestParseMBRFindsAllFourSlots(t *testing.T) {
	dev := newMemDevice(1)
	var mbr [SectorSize]byte
	writeMBREntry(mbr[:], 0, 0x0B, 2048, 1000)
	writeMBREntry(mbr[:], 1, 0x83, 3048, 2000)
	mbr[510] = 0x55
	mbr[511] = 0xAA
	dev.sectors[0] = mbr

	partitions, err := Parse(dev)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(partitions) != 2 {
		t.Fatalf("len(partitions) = %d, want 2", len(partitions))
	}
	if partitions[0].Type != TypeFat32 || partitions[0].StartLBA != 2048 {
		t.Errorf("partitions[0] = %+v", partitions[0])
	}
	if partitions[1].Type != TypeLinux {
		t.Errorf("partitions[1].Type = %v, want Linux", partitions[1].Type)
	}
}

func TestParseNoSignatureFails(t *testing.T) {
	dev := newMemDevice(1)
	if _, err := Parse(dev); err == nil {
		t.Fatal("expected error for missing MBR signature")
	}
}

func TestFindFat32SkipsNonFat32Entries(t *testing.T) {
	dev := newMemDevice(1)
	var mbr [SectorSize]byte
	writeMBREntry(mbr[:], 0, 0x83, 100, 100)
	writeMBREntry(mbr[:], 1, 0x0C, 200, 300)
	mbr[510] = 0x55
	mbr[511] = 0xAA
	dev.sectors[0] = mbr

	info, err := FindFat32(dev)
	if err != nil {
		t.Fatalf("FindFat32 failed: %v", err)
	}
	if info.StartLBA != 200 || info.Type != TypeFat32 {
		t.Errorf("FindFat32 = %+v", info)
	}
}

func TestProtectiveMBRDispatchesToGPT(t *testing.T) {
	dev := newMemDevice(4)
	var mbr [SectorSize]byte
	mbr[450] = 0xEE
	mbr[510] = 0x55
	mbr[511] = 0xAA
	dev.sectors[0] = mbr

	var header [SectorSize]byte
	copy(header[0:8], "EFI PART")
	putLE32(header[72:], 2)  // partition entry LBA
	putLE32(header[80:], 1)  // num entries
	putLE32(header[84:], 128) // entry size
	dev.sectors[1] = header

	var entrySector [SectorSize]byte
	copy(entrySector[0:16], BasicDataGUID[:])
	putLE32(entrySector[32:], 100) // start lba (low 32 bits)
	putLE32(entrySector[40:], 199) // end lba
	dev.sectors[2] = entrySector

	partitions, err := Parse(dev)
	if err != nil {
		t.Fatalf("Parse (GPT) failed: %v", err)
	}
	if len(partitions) != 1 {
		t.Fatalf("len(partitions) = %d, want 1", len(partitions))
	}
	if partitions[0].Type != TypeFat32 || partitions[0].StartLBA != 100 || partitions[0].SectorCount != 100 {
		t.Errorf("partitions[0] = %+v", partitions[0])
	}
}
