// Package partition discovers the partitions on a raw block device (spec
// §4.11 "Partition discovery"): a minimal MBR parser plus just enough GPT
// support to find the first FAT32-looking partition, so fs/fat32 never has
// to know whether the disk under it is MBR- or GPT-partitioned.
//
// No teacher equivalent (gopher-os never reaches persistent storage); built
// from spec.md §4.11 literally, supplemented per SPEC_FULL.md with the
// "protective MBR then GPT" check and the "scan all four MBR slots" detail
// ported from original_source/vcore/src/vfs/block/partition.rs.
package partition

import (
	"github.com/talonateox/vyper/kernel"
)

// SectorSize is the fixed sector size every block device in this kernel
// uses (spec §4.12, §6).
const SectorSize = 512

// BlockDevice is the capability contract partition discovery and fs/fat32
// both need from whatever sits underneath them -- currently device/ata,
// but expressed here as an interface so fs/fat32 never imports device/ata
// directly (mirrors the original_source generic `D: BlockDevice` split).
type BlockDevice interface {
	ReadSector(lba uint32, buf *[SectorSize]byte) *kernel.Error
	WriteSector(lba uint32, buf *[SectorSize]byte) *kernel.Error
}

// Type classifies a partition table entry's declared contents.
type Type int

const (
	TypeUnknown Type = iota
	TypeFat32
	TypeLinux
	TypeEfiSystem
)

// Info describes one partition table entry.
type Info struct {
	Index       uint8
	StartLBA    uint32
	SectorCount uint32
	Type        Type
}

var (
	errNoSignature = &kernel.Error{Module: "partition", Message: "no MBR signature"}
	errBadGPT      = &kernel.Error{Module: "partition", Message: "invalid GPT signature"}
	errNoFat32     = &kernel.Error{Module: "partition", Message: "no FAT32 partition found"}
)

func mbrType(raw uint8) Type {
	switch raw {
	case 0x0B, 0x0C:
		return TypeFat32
	case 0x83:
		return TypeLinux
	case 0xEF:
		return TypeEfiSystem
	default:
		return TypeUnknown
	}
}

// Parse reads sector 0 and returns every partition it describes: the four
// MBR slots, or (if sector 0 carries a protective MBR, byte 450 == 0xEE)
// the GPT entry table it points at.
func Parse(dev BlockDevice) ([]Info, *kernel.Error) {
	var mbr [SectorSize]byte
	if err := dev.ReadSector(0, &mbr); err != nil {
		return nil, err
	}

	if mbr[510] != 0x55 || mbr[511] != 0xAA {
		return nil, errNoSignature
	}

	if mbr[450] == 0xEE {
		return parseGPT(dev)
	}
	return parseMBR(&mbr), nil
}

func parseMBR(mbr *[SectorSize]byte) []Info {
	var partitions []Info

	for i := 0; i < 4; i++ {
		offset := 446 + i*16
		ptype := mbr[offset+4]
		if ptype == 0 || ptype == 0xEE {
			continue
		}

		startLBA := le32(mbr[offset+8 : offset+12])
		sectorCount := le32(mbr[offset+12 : offset+16])

		partitions = append(partitions, Info{
			Index:       uint8(i),
			StartLBA:    startLBA,
			SectorCount: sectorCount,
			Type:        mbrType(ptype),
		})
	}

	return partitions
}

// EfiSystemGUID, BasicDataGUID and LinuxFSGUID are the little-endian-on-disk
// GUID byte sequences for the partition type GUIDs this driver recognizes.
// Exported so a disk-image writer (cmd/mkvyperimg) can stamp the same bytes
// into a partition entry it creates, rather than inventing its own values.
var (
	EfiSystemGUID = [16]byte{0x28, 0x73, 0x2A, 0xC1, 0x1F, 0xF8, 0xD2, 0x11, 0xBA, 0x4B, 0x00, 0xA0, 0xC9, 0x3E, 0xC9, 0x3B}
	BasicDataGUID = [16]byte{0xA2, 0xA0, 0xD0, 0xEB, 0xE5, 0xB9, 0x33, 0x44, 0x87, 0xC0, 0x68, 0xB6, 0xB7, 0x26, 0x99, 0xC7}
	LinuxFSGUID   = [16]byte{0xAF, 0x3D, 0xC6, 0x0F, 0x83, 0x84, 0x72, 0x47, 0x8E, 0x79, 0x3D, 0x69, 0xD8, 0x47, 0x7D, 0xE4}
)

func identifyGPTType(guid []byte) Type {
	switch {
	case equal16(guid, EfiSystemGUID):
		return TypeEfiSystem
	case equal16(guid, BasicDataGUID):
		return TypeFat32
	case equal16(guid, LinuxFSGUID):
		return TypeLinux
	default:
		return TypeUnknown
	}
}

func equal16(a []byte, b [16]byte) bool {
	if len(a) != 16 {
		return false
	}
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func parseGPT(dev BlockDevice) ([]Info, *kernel.Error) {
	var header [SectorSize]byte
	if err := dev.ReadSector(1, &header); err != nil {
		return nil, err
	}

	if string(header[0:8]) != "EFI PART" {
		return nil, errBadGPT
	}

	partitionEntryLBA := uint32(le64(header[72:80]))
	numEntries := le32(header[80:84])
	entrySize := le32(header[84:88])

	if entrySize == 0 || entrySize > SectorSize {
		return nil, errBadGPT
	}

	entriesPerSector := SectorSize / entrySize
	var partitions []Info

	if numEntries > 128 {
		numEntries = 128
	}

	for i := uint32(0); i < numEntries; i++ {
		sectorOffset := i / entriesPerSector
		entryOffset := (i % entriesPerSector) * entrySize

		var sector [SectorSize]byte
		if err := dev.ReadSector(partitionEntryLBA+sectorOffset, &sector); err != nil {
			return nil, err
		}

		entry := sector[entryOffset : entryOffset+entrySize]
		typeGUID := entry[0:16]
		if allZero(typeGUID) {
			continue
		}

		startLBA := uint32(le64(entry[32:40]))
		endLBA := uint32(le64(entry[40:48]))

		partitions = append(partitions, Info{
			Index:       uint8(i),
			StartLBA:    startLBA,
			SectorCount: endLBA - startLBA + 1,
			Type:        identifyGPTType(typeGUID),
		})
	}

	return partitions, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le64(b []byte) uint64 {
	return uint64(le32(b[0:4])) | uint64(le32(b[4:8]))<<32
}

// First returns the first partition Parse finds, regardless of type.
func First(dev BlockDevice) (*Info, *kernel.Error) {
	partitions, err := Parse(dev)
	if err != nil {
		return nil, err
	}
	if len(partitions) == 0 {
		return nil, nil
	}
	p := partitions[0]
	return &p, nil
}

// FindFat32 returns the first FAT32-typed partition Parse finds.
func FindFat32(dev BlockDevice) (*Info, *kernel.Error) {
	partitions, err := Parse(dev)
	if err != nil {
		return nil, err
	}
	for _, p := range partitions {
		if p.Type == TypeFat32 {
			return &p, nil
		}
	}
	return nil, errNoFat32
}
