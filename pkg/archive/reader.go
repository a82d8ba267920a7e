package archive

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"k8s.io/examples/AI/modelpack/pkg/errdefs"
)

const blockSize = 512

// Header field offsets within a block.
const (
	nameOffset     = 0
	nameSize       = 100
	sizeOffset     = 124
	sizeSize       = 12
	checksumOffset = 148
	checksumSize   = 8
	typeFlagOffset = 156
)

const typeDirectory = '5'

type header struct {
	path string
	kind Kind
	size int64
}

// Parse splits an archive buffer into its entries.
//
// Parsing stops at the first all-zero block or at the end of the buffer. A bad
// checksum, an unparseable or negative size, or content extending past the end of
// the buffer fails the whole parse.
func Parse(data []byte) ([]Entry, error) {
	var entries []Entry
	err := walk(data, true, func(h header, offset int64) {
		e := Entry{Path: h.path, Kind: h.kind}
		if h.kind == KindFile {
			end := offset + h.size
			e.Data = data[offset:end:end]
		}
		entries = append(entries, e)
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Scan locates every entry's content without copying or checksumming it.
// Later entries with the same path replace earlier ones.
func Scan(data []byte) (map[string]Location, error) {
	locations := make(map[string]Location)
	err := walk(data, false, func(h header, offset int64) {
		locations[h.path] = Location{Offset: offset, Size: h.size}
	})
	if err != nil {
		return nil, err
	}
	return locations, nil
}

func walk(data []byte, verifyChecksum bool, visit func(h header, contentOffset int64)) error {
	offset := int64(0)
	total := int64(len(data))
	for offset < total {
		remaining := data[offset:]
		if len(remaining) < blockSize {
			if isZero(remaining) {
				return nil
			}
			return errdefs.Newf(errdefs.ErrFormat, "truncated header at offset %d", offset)
		}
		block := remaining[:blockSize]
		if isZero(block) {
			return nil
		}

		h, err := parseHeader(block, verifyChecksum)
		if err != nil {
			return fmt.Errorf("header at offset %d: %w", offset, err)
		}

		contentOffset := offset + blockSize
		if h.size > total-contentOffset {
			return errdefs.Newf(errdefs.ErrFormat, "entry %q at offset %d: content of %d bytes extends beyond buffer", h.path, offset, h.size)
		}
		visit(h, contentOffset)

		offset = contentOffset + align(h.size)
	}
	return nil
}

func parseHeader(block []byte, verifyChecksum bool) (header, error) {
	var h header
	h.path = strings.ReplaceAll(cString(block[nameOffset:nameOffset+nameSize]), "\x00", "")

	if verifyChecksum {
		stored, err := parseOctal(block[checksumOffset : checksumOffset+checksumSize])
		if err != nil {
			return h, err
		}
		if computed := checksum(block); stored != computed {
			return h, errdefs.Newf(errdefs.ErrFormat, "invalid checksum for %q: stored %o, computed %o", h.path, stored, computed)
		}
	}

	size, err := parseOctal(block[sizeOffset : sizeOffset+sizeSize])
	if err != nil {
		return h, err
	}
	if size < 0 {
		return h, errdefs.Newf(errdefs.ErrFormat, "invalid size %d for %q", size, h.path)
	}
	h.size = size

	h.kind = KindFile
	if block[typeFlagOffset] == typeDirectory {
		h.kind = KindDirectory
	}
	return h, nil
}

// checksum sums the header bytes as unsigned values, counting the checksum field as spaces.
func checksum(block []byte) int64 {
	var sum int64
	for i, b := range block[:blockSize] {
		if i >= checksumOffset && i < checksumOffset+checksumSize {
			sum += ' '
			continue
		}
		sum += int64(b)
	}
	return sum
}

// parseOctal decodes an octal field: optional leading spaces, digits, then only NUL
// or space padding. An empty field is zero.
func parseOctal(field []byte) (int64, error) {
	s := string(bytes.TrimLeft(field, " "))
	end := strings.IndexAny(s, " \x00")
	if end < 0 {
		end = len(s)
	}
	digits, padding := s[:end], s[end:]
	if strings.Trim(padding, " \x00") != "" {
		return 0, errdefs.Newf(errdefs.ErrFormat, "invalid octal field %q", s)
	}
	if digits == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(digits, 8, 64)
	if err != nil {
		return 0, errdefs.Newf(errdefs.ErrFormat, "invalid octal field %q", s)
	}
	return n, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func align(size int64) int64 {
	if r := size % blockSize; r != 0 {
		return size + blockSize - r
	}
	return size
}
