package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var (
		output string
		size   string
		dir    string
	)

	cmd := &cobra.Command{
		Use:   "mkvyperimg",
		Short: "Build a bootable GPT/FAT32 disk image for this kernel",
		Long: "mkvyperimg writes a protective MBR, a GPT partition table naming one\n" +
			"FAT32 partition, formats that partition, and copies a directory tree\n" +
			"into it (or a placeholder /bin/shell if none is given).",
		RunE: func(cmd *cobra.Command, args []string) error {
			sectors, err := parseSize(size)
			if err != nil {
				return fmt.Errorf("--size: %w", err)
			}
			n, err := buildImage(output, sectors, dir)
			if err != nil {
				return err
			}
			fmt.Printf("wrote %s: %d bytes (%d sectors), %d files copied\n", output, int64(sectors)*sectorSize, sectors, n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "path to the image file to create (required)")
	cmd.Flags().StringVarP(&size, "size", "s", "64M", "image size, with an optional K/M/G suffix")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "host directory tree to copy into the partition root")
	cmd.MarkFlagRequired("output")

	return cmd
}

// parseSize accepts a bare byte count or one suffixed with K, M or G
// (binary multiples), and returns the image size rounded up to whole
// sectors.
func parseSize(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := uint64(1)
	suffix := s[len(s)-1]
	numPart := s
	switch suffix {
	case 'k', 'K':
		multiplier = 1024
		numPart = s[:len(s)-1]
	case 'm', 'M':
		multiplier = 1024 * 1024
		numPart = s[:len(s)-1]
	case 'g', 'G':
		multiplier = 1024 * 1024 * 1024
		numPart = s[:len(s)-1]
	}

	n, err := strconv.ParseUint(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}

	bytes := n * multiplier
	sectors := (bytes + sectorSize - 1) / sectorSize
	if sectors == 0 {
		return 0, fmt.Errorf("size too small")
	}
	if sectors > 1<<32-1 {
		return 0, fmt.Errorf("size too large")
	}
	return uint32(sectors), nil
}
