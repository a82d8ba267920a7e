package archive

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"k8s.io/examples/AI/modelpack/pkg/errdefs"
)

// rawEntry hand-assembles a single header block followed by padded content.
func rawEntry(name string, typeFlag byte, sizeField string, content []byte) []byte {
	block := make([]byte, blockSize)
	copy(block[0:], name)
	copy(block[100:], "0000644")
	copy(block[108:], "0000000")
	copy(block[116:], "0000000")
	copy(block[124:], sizeField)
	copy(block[136:], "00000000000")
	block[156] = typeFlag
	copy(block[148:], fmt.Sprintf("%06o\x00 ", checksum(block)))

	out := append(block, content...)
	if r := len(content) % blockSize; r != 0 {
		out = append(out, make([]byte, blockSize-r)...)
	}
	return out
}

func mustWrite(t *testing.T, entries []Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, entries); err != nil {
		t.Fatalf("writing archive: %v", err)
	}
	return buf.Bytes()
}

func TestParseZeroBuffer(t *testing.T) {
	for _, n := range []int{512, 1024, 1536 + 100} {
		entries, err := Parse(make([]byte, n))
		if err != nil {
			t.Fatalf("parsing %d zero bytes: %v", n, err)
		}
		if len(entries) != 0 {
			t.Errorf("expected no entries from %d zero bytes, got %d", n, len(entries))
		}
	}
}

func TestParseSingleEntry(t *testing.T) {
	content := []byte("Hello, World!")
	data := rawEntry("test.txt", '0', fmt.Sprintf("%011o", len(content)), content)
	data = append(data, make([]byte, 2*blockSize)...)

	entries, err := Parse(data)
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Path != "test.txt" || e.Kind != KindFile || string(e.Data) != "Hello, World!" {
		t.Errorf("unexpected entry %q %q %q", e.Path, e.Kind, e.Data)
	}
}

func TestRoundTrip(t *testing.T) {
	in := []Entry{
		{Path: "manifest.json", Kind: KindFile, Data: []byte(`{"variant":"pipeline"}`)},
		{Path: "ops_artifacts/", Kind: KindDirectory},
		{Path: "ops_artifacts/op_1/", Kind: KindDirectory},
		{Path: "ops_artifacts/op_1/model.bin", Kind: KindFile, Data: bytes.Repeat([]byte{0xAB}, 1500)},
		{Path: "empty.txt", Kind: KindFile, Data: nil},
		{Path: "block.bin", Kind: KindFile, Data: make([]byte, 512)},
	}

	out, err := Parse(mustWrite(t, in))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d entries, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i].Path != in[i].Path || out[i].Kind != in[i].Kind || !bytes.Equal(out[i].Data, in[i].Data) {
			t.Errorf("entry %d: got {%q %q %d bytes}, want {%q %q %d bytes}", i,
				out[i].Path, out[i].Kind, len(out[i].Data), in[i].Path, in[i].Kind, len(in[i].Data))
		}
		if out[i].IsDir() != (out[i].Data == nil) {
			t.Errorf("entry %d: directories and only directories should have nil data", i)
		}
	}
}

func TestParseStopsAtZeroBlock(t *testing.T) {
	data := rawEntry("a.txt", '0', "00000000001", []byte("a"))
	data = append(data, make([]byte, blockSize)...)
	data = append(data, []byte("trailing garbage that is never read")...)

	entries, err := Parse(data)
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(entries))
	}
}

func TestParseWithoutTerminator(t *testing.T) {
	data := rawEntry("a.txt", '0', "00000000001", []byte("a"))
	entries, err := Parse(data)
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(entries))
	}
}

func TestChecksumCorruption(t *testing.T) {
	data := mustWrite(t, []Entry{{Path: "x.json", Kind: KindFile, Data: []byte("{}")}})
	for i := checksumOffset; i < checksumOffset+checksumSize; i++ {
		corrupted := bytes.Clone(data)
		corrupted[i] ^= 0xFF
		if _, err := Parse(corrupted); !errors.Is(err, errdefs.ErrFormat) {
			t.Errorf("flipping checksum byte %d: expected format error, got %v", i, err)
		}
	}

	corrupted := bytes.Clone(data)
	corrupted[0] = 'y'
	if _, err := Parse(corrupted); !errors.Is(err, errdefs.ErrFormat) {
		t.Errorf("renaming without fixing checksum: expected format error, got %v", err)
	}
}

func TestSizeValidation(t *testing.T) {
	grid := map[string][]byte{
		"size beyond buffer": rawEntry("big.bin", '0', "00000001750", []byte("short")),
		"negative size":      rawEntry("neg.bin", '0', "-0000000001", nil),
		"unparseable size":   rawEntry("bad.bin", '0', "0000000009z", nil),
		"truncated header":   rawEntry("a.txt", '0', "00000000000", nil)[:300],
	}
	for name, data := range grid {
		if _, err := Parse(data); !errors.Is(err, errdefs.ErrFormat) {
			t.Errorf("%s: expected format error, got %v", name, err)
		}
	}
}

func TestDirectoryFlag(t *testing.T) {
	data := rawEntry("ops_artifacts/a/", '5', "00000000000", nil)
	entries, err := Parse(data)
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		t.Fatalf("expected a single directory entry, got %+v", entries)
	}
}

func TestScan(t *testing.T) {
	data := mustWrite(t, []Entry{
		{Path: "a.txt", Kind: KindFile, Data: []byte("hello")},
		{Path: "dir/", Kind: KindDirectory},
		{Path: "dir/b.bin", Kind: KindFile, Data: make([]byte, 700)},
	})

	locations, err := Scan(data)
	if err != nil {
		t.Fatalf("scanning: %v", err)
	}
	want := map[string]Location{
		"a.txt":     {Offset: 512, Size: 5},
		"dir/":      {Offset: 1536, Size: 0},
		"dir/b.bin": {Offset: 2048, Size: 700},
	}
	if len(locations) != len(want) {
		t.Fatalf("expected %d locations, got %v", len(want), locations)
	}
	for path, loc := range want {
		if got := locations[path]; got != loc {
			t.Errorf("%s: got %+v, want %+v", path, got, loc)
		}
	}
	if got := string(data[512 : 512+5]); got != "hello" {
		t.Errorf("location does not point at content, got %q", got)
	}
}

func TestWriteRejectsLongPaths(t *testing.T) {
	long := string(bytes.Repeat([]byte("a"), maxPathLength+1))
	if err := Write(&bytes.Buffer{}, []Entry{{Path: long, Kind: KindFile}}); err == nil {
		t.Errorf("expected error for path longer than %d bytes", maxPathLength)
	}
}
