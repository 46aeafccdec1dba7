package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	vfs "github.com/talonateox/vyper/fs"
	"github.com/talonateox/vyper/fs/fat32"
	"github.com/talonateox/vyper/fs/partition"
	"github.com/talonateox/vyper/kernel"
)

const sectorSize = partition.SectorSize

// fileDevice adapts an *os.File to partition.BlockDevice, the same
// capability contract device/ata implements inside the kernel.
type fileDevice struct {
	f *os.File
}

func (d *fileDevice) ReadSector(lba uint32, buf *[sectorSize]byte) *kernel.Error {
	if _, err := d.f.ReadAt(buf[:], int64(lba)*sectorSize); err != nil {
		return &kernel.Error{Module: "mkvyperimg", Message: err.Error()}
	}
	return nil
}

func (d *fileDevice) WriteSector(lba uint32, buf *[sectorSize]byte) *kernel.Error {
	if _, err := d.f.WriteAt(buf[:], int64(lba)*sectorSize); err != nil {
		return &kernel.Error{Module: "mkvyperimg", Message: err.Error()}
	}
	return nil
}

// partitionStart is the LBA the lone FAT32 partition begins at: 1MiB in,
// the conventional GPT alignment, leaving room for the protective MBR, the
// GPT header and its partition entry array.
const partitionStart = 2048

func buildImage(outputPath string, totalSectors uint32, hostDir string) (int, error) {
	if totalSectors <= partitionStart+64 {
		return 0, fmt.Errorf("image too small: need more than %d sectors", partitionStart+64)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", outputPath, err)
	}
	defer out.Close()

	if err := out.Truncate(int64(totalSectors) * sectorSize); err != nil {
		return 0, fmt.Errorf("truncate: %w", err)
	}

	dev := &fileDevice{f: out}
	partitionSectors := totalSectors - partitionStart

	if err := writeProtectiveMBRAndGPT(dev, totalSectors, partitionStart, partitionSectors); err != nil {
		return 0, err
	}

	if err := formatFat32(dev, partitionStart, partitionSectors); err != nil {
		return 0, err
	}

	fsys, ferr := fat32.New(dev, partitionStart)
	if ferr != nil {
		return 0, fmt.Errorf("open freshly-formatted partition: %v", ferr)
	}

	count := 0
	if hostDir != "" {
		n, err := copyTree(fsys, hostDir, "/")
		if err != nil {
			return 0, err
		}
		count += n
	}

	if !vfs.Exists(fsys, "/bin") {
		if err := fsys.Mkdir("/bin"); err != nil {
			return count, fmt.Errorf("mkdir /bin: %v", err)
		}
	}
	if !vfs.Exists(fsys, "/bin/shell") {
		if err := writeFile(fsys, "/bin/shell", buildPlaceholderShell()); err != nil {
			return count, fmt.Errorf("write /bin/shell: %v", err)
		}
		count++
	}

	return count, nil
}

// writeProtectiveMBRAndGPT lays down sector 0 (a whole-disk protective MBR,
// type 0xEE) and sector 1 (a GPT header) plus sector 2 (its one partition
// entry, typed as a Basic Data / FAT32 partition), matching exactly what
// fs/partition.Parse expects to find.
func writeProtectiveMBRAndGPT(dev *fileDevice, totalSectors, partStart, partSectors uint32) error {
	var mbr [sectorSize]byte
	mbr[450] = 0xEE // partition type: GPT protective
	binary.LittleEndian.PutUint32(mbr[454:458], 1)
	lastLBA := totalSectors - 1
	if lastLBA > 0xFFFFFFFF {
		lastLBA = 0xFFFFFFFF
	}
	binary.LittleEndian.PutUint32(mbr[458:462], lastLBA)
	mbr[510], mbr[511] = 0x55, 0xAA
	if err := dev.WriteSector(0, &mbr); err != nil {
		return err
	}

	var header [sectorSize]byte
	copy(header[0:8], "EFI PART")
	binary.LittleEndian.PutUint32(header[8:12], 0x00010000) // revision 1.0
	binary.LittleEndian.PutUint32(header[12:16], 92)         // header size
	binary.LittleEndian.PutUint64(header[24:32], 1)          // this header's LBA
	binary.LittleEndian.PutUint64(header[32:40], uint64(totalSectors-1))
	binary.LittleEndian.PutUint64(header[40:48], uint64(partStart))
	binary.LittleEndian.PutUint64(header[48:56], uint64(totalSectors-1))
	binary.LittleEndian.PutUint32(header[72:76], 2)   // partition entry LBA
	binary.LittleEndian.PutUint32(header[80:84], 1)   // number of entries
	binary.LittleEndian.PutUint32(header[84:88], 128) // size of each entry
	if err := dev.WriteSector(1, &header); err != nil {
		return err
	}

	var entry [sectorSize]byte
	copy(entry[0:16], partition.BasicDataGUID[:])
	binary.LittleEndian.PutUint64(entry[32:40], uint64(partStart))
	binary.LittleEndian.PutUint64(entry[40:48], uint64(partStart+partSectors-1))
	return dev.WriteSector(2, &entry)
}

// fat32Layout holds the on-disk geometry formatFat32 derives so the boot
// sector and the bootstrapped root directory agree on it.
type fat32Layout struct {
	reservedSectors   uint32
	sectorsPerCluster uint32
	numFats           uint32
	sectorsPerFat     uint32
}

func planFat32Layout(partSectors uint32) fat32Layout {
	l := fat32Layout{reservedSectors: 32, sectorsPerCluster: 8, numFats: 2}

	// sectorsPerFat depends on cluster count, which depends on how many
	// sectors the FATs themselves take -- converges in a few iterations.
	l.sectorsPerFat = 1
	for i := 0; i < 8; i++ {
		dataSectors := partSectors - l.reservedSectors - l.numFats*l.sectorsPerFat
		clusters := dataSectors / l.sectorsPerCluster
		neededBytes := (clusters + 2) * 4
		l.sectorsPerFat = (neededBytes + sectorSize - 1) / sectorSize
	}

	return l
}

// formatFat32 writes the boot sector, reserves FAT entries 0-2 (media
// descriptor, end-of-chain filler, and the root directory's own
// end-of-chain) across every FAT copy, and zeroes the root directory's
// first cluster -- everything fat32.New and a first Mkdir/Open need to find
// a valid, empty filesystem.
func formatFat32(dev *fileDevice, partStart, partSectors uint32) error {
	layout := planFat32Layout(partSectors)

	var boot [sectorSize]byte
	binary.LittleEndian.PutUint16(boot[11:13], sectorSize)
	boot[13] = byte(layout.sectorsPerCluster)
	binary.LittleEndian.PutUint16(boot[14:16], uint16(layout.reservedSectors))
	boot[16] = byte(layout.numFats)
	binary.LittleEndian.PutUint16(boot[19:21], 0) // force the 32-bit total-sectors field
	binary.LittleEndian.PutUint32(boot[32:36], partSectors)
	binary.LittleEndian.PutUint32(boot[36:40], layout.sectorsPerFat)
	binary.LittleEndian.PutUint32(boot[44:48], 2) // root cluster
	boot[510], boot[511] = 0x55, 0xAA
	if err := dev.WriteSector(partStart, &boot); err != nil {
		return err
	}

	var fatSector [sectorSize]byte
	binary.LittleEndian.PutUint32(fatSector[0:4], 0x0FFFFFF8)  // FAT[0]: media descriptor
	binary.LittleEndian.PutUint32(fatSector[4:8], 0x0FFFFFFF)  // FAT[1]: reserved
	binary.LittleEndian.PutUint32(fatSector[8:12], 0x0FFFFFF8) // FAT[2]: root directory, one cluster long
	for fatNum := uint32(0); fatNum < layout.numFats; fatNum++ {
		sector := partStart + layout.reservedSectors + fatNum*layout.sectorsPerFat
		if err := dev.WriteSector(sector, &fatSector); err != nil {
			return err
		}
	}

	dataStart := partStart + layout.reservedSectors + layout.numFats*layout.sectorsPerFat
	var zero [sectorSize]byte
	for i := uint32(0); i < layout.sectorsPerCluster; i++ {
		if err := dev.WriteSector(dataStart+i, &zero); err != nil {
			return err
		}
	}

	return nil
}

// copyTree recursively mirrors hostDir onto fsys at targetPath, returning
// the number of regular files written.
func copyTree(fsys *fat32.Fs, hostDir, targetPath string) (int, error) {
	entries, err := os.ReadDir(hostDir)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", hostDir, err)
	}

	count := 0
	for _, entry := range entries {
		hostChild := filepath.Join(hostDir, entry.Name())
		targetChild := targetPath
		if targetChild != "/" {
			targetChild += "/"
		}
		targetChild += entry.Name()

		if entry.IsDir() {
			if err := fsys.Mkdir(targetChild); err != nil {
				return count, fmt.Errorf("mkdir %s: %v", targetChild, err)
			}
			n, err := copyTree(fsys, hostChild, targetChild)
			count += n
			if err != nil {
				return count, err
			}
			continue
		}

		data, err := os.ReadFile(hostChild)
		if err != nil {
			return count, fmt.Errorf("read %s: %w", hostChild, err)
		}
		if err := writeFile(fsys, targetChild, data); err != nil {
			return count, fmt.Errorf("write %s: %v", targetChild, err)
		}
		count++
	}

	return count, nil
}

func writeFile(fsys *fat32.Fs, path string, data []byte) *vfs.Error {
	h, err := fsys.Open(path, vfs.WriteFlags)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, werr := h.Write(data)
	return werr
}
