package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"time"
)

// maxPathLength is the capacity of the header name field; Parse does not read the
// USTAR prefix field, so longer paths cannot round-trip.
const maxPathLength = 100

// Write serializes entries as a USTAR archive terminated by zero blocks.
func Write(w io.Writer, entries []Entry) error {
	tw := tar.NewWriter(w)
	for _, e := range entries {
		if len(e.Path) == 0 || len(e.Path) > maxPathLength {
			return fmt.Errorf("entry path %q must be between 1 and %d bytes", e.Path, maxPathLength)
		}

		hdr := &tar.Header{
			Name:    e.Path,
			ModTime: time.Unix(0, 0),
			Format:  tar.FormatUSTAR,
		}
		switch e.Kind {
		case KindDirectory:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		case KindFile, "":
			hdr.Typeflag = tar.TypeReg
			hdr.Mode = 0o644
			hdr.Size = int64(len(e.Data))
		default:
			return fmt.Errorf("entry %q has unknown kind %q", e.Path, e.Kind)
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("writing header for %q: %w", e.Path, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write(e.Data); err != nil {
				return fmt.Errorf("writing content of %q: %w", e.Path, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	return nil
}
