// Package archive reads and writes the single-file container that bundles a model
// package: a sequence of 512-byte USTAR-style headers, each followed by its content
// padded to a block boundary.
package archive

// Kind distinguishes regular files from directory entries.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Entry is a single member of an archive.
type Entry struct {
	Path string
	Kind Kind
	// Data is the entry content; nil for directories. It aliases the parsed
	// buffer and must be treated as read-only.
	Data []byte
}

func (e Entry) IsDir() bool {
	return e.Kind == KindDirectory
}

// Location identifies where an entry's content sits within an archive buffer.
type Location struct {
	Offset int64
	Size   int64
}
