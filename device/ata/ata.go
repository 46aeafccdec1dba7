// Package ata implements PIO access to the primary ATA bus (spec §4.12):
// sector read/write over ports 0x1F0-0x1F7, with the BSY/DRQ/ERR status
// polling the hardware requires.
//
// No teacher equivalent exists (gopher-os never drives a block device);
// built from spec.md §4.12 literally over kernel/cpu's Inb/Outb/Inw/Outw,
// cross-checked against original_source/vcore/src/drivers/ata.rs for the
// exact port offsets, drive-select/LBA28 field packing, and poll-loop
// ordering.
package ata

import (
	"github.com/talonateox/vyper/kernel"
	"github.com/talonateox/vyper/kernel/cpu"
	"github.com/talonateox/vyper/kernel/sync"
)

const (
	portData         = 0x1F0
	portError        = 0x1F1
	portSectorCount  = 0x1F2
	portLBALow       = 0x1F3
	portLBAMid       = 0x1F4
	portLBAHigh      = 0x1F5
	portDriveSelect  = 0x1F6
	portCommand      = 0x1F7
	portStatus       = 0x1F7

	cmdReadSectors  = 0x20
	cmdWriteSectors = 0x30
	cmdIdentify     = 0xEC

	statusBSY = 0x80
	statusDRQ = 0x08
	statusERR = 0x01

	pollAttempts = 1_000_000

	// SectorSize is the fixed 512-byte sector size every read/write
	// operates on.
	SectorSize = 512
)

var (
	errTimeoutReady = &kernel.Error{Module: "ata", Message: "timeout waiting for drive ready"}
	errTimeoutData  = &kernel.Error{Module: "ata", Message: "timeout waiting for data request"}
	errDeviceError  = &kernel.Error{Module: "ata", Message: "drive reported an error status"}
	errNoDrive      = &kernel.Error{Module: "ata", Message: "no drive detected on primary bus"}
	errNotReady     = &kernel.Error{Module: "ata", Message: "ata not initialized"}
)

var (
	lock       sync.Spinlock
	identified bool
)

func waitReady() *kernel.Error {
	for i := 0; i < pollAttempts; i++ {
		if cpu.Inb(portStatus)&statusBSY == 0 {
			return nil
		}
	}
	return errTimeoutReady
}

func waitData() *kernel.Error {
	for i := 0; i < pollAttempts; i++ {
		status := cpu.Inb(portStatus)
		if status&statusDRQ != 0 {
			return nil
		}
		if status&statusERR != 0 {
			return errDeviceError
		}
	}
	return errTimeoutData
}

func selectLBA28(lba uint32) {
	cpu.Outb(portDriveSelect, 0xE0|uint8((lba>>24)&0x0F))
	cpu.Outb(portSectorCount, 1)
	cpu.Outb(portLBALow, uint8(lba&0xFF))
	cpu.Outb(portLBAMid, uint8((lba>>8)&0xFF))
	cpu.Outb(portLBAHigh, uint8((lba>>16)&0xFF))
}

// Init probes the primary bus with IDENTIFY; ReadSector/WriteSector fail
// with errNotReady until this succeeds.
func Init() *kernel.Error {
	lock.Acquire()
	defer lock.Release()

	if err := waitReady(); err != nil {
		return err
	}

	cpu.Outb(portDriveSelect, 0xA0)
	cpu.Outb(portSectorCount, 0)
	cpu.Outb(portLBALow, 0)
	cpu.Outb(portLBAMid, 0)
	cpu.Outb(portLBAHigh, 0)
	cpu.Outb(portCommand, cmdIdentify)

	if cpu.Inb(portStatus) == 0 {
		return errNoDrive
	}

	if err := waitData(); err != nil {
		return err
	}

	for i := 0; i < 256; i++ {
		cpu.Inw(portData)
	}

	identified = true
	return nil
}

// ReadSector reads the 512-byte sector at lba into buffer.
func ReadSector(lba uint32, buffer *[SectorSize]byte) *kernel.Error {
	lock.Acquire()
	defer lock.Release()

	if !identified {
		return errNotReady
	}

	if err := waitReady(); err != nil {
		return err
	}

	selectLBA28(lba)
	cpu.Outb(portCommand, cmdReadSectors)

	if err := waitData(); err != nil {
		return err
	}

	for i := 0; i < 256; i++ {
		word := cpu.Inw(portData)
		buffer[i*2] = byte(word & 0xFF)
		buffer[i*2+1] = byte(word >> 8)
	}

	return nil
}

// WriteSector writes buffer to the 512-byte sector at lba.
func WriteSector(lba uint32, buffer *[SectorSize]byte) *kernel.Error {
	lock.Acquire()
	defer lock.Release()

	if !identified {
		return errNotReady
	}

	if err := waitReady(); err != nil {
		return err
	}

	selectLBA28(lba)
	cpu.Outb(portCommand, cmdWriteSectors)

	if err := waitData(); err != nil {
		return err
	}

	for i := 0; i < 256; i++ {
		word := uint16(buffer[i*2]) | uint16(buffer[i*2+1])<<8
		cpu.Outw(portData, word)
	}

	return waitReady()
}
