package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"

	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelpack/pkg/archive"
	"k8s.io/examples/AI/modelpack/pkg/blobs"
	"k8s.io/examples/AI/modelpack/pkg/modelpack"
)

const usage = `usage:
  modelpack pack <dir> <out>        build a package archive from a directory
  modelpack inspect <file>          print the manifest and entries of a package
  modelpack push <file> <location>  upload a package to gs://<bucket>/<key> or a local path
`

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	klog.InitFlags(nil)
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		return fmt.Errorf("missing command")
	}
	switch cmd, args := args[0], args[1:]; cmd {
	case "pack":
		if len(args) != 2 {
			return fmt.Errorf("pack takes <dir> <out>")
		}
		return pack(ctx, args[0], args[1])
	case "inspect":
		if len(args) != 1 {
			return fmt.Errorf("inspect takes <file>")
		}
		return inspect(args[0])
	case "push":
		if len(args) != 2 {
			return fmt.Errorf("push takes <file> <location>")
		}
		return push(ctx, args[0], args[1])
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func pack(ctx context.Context, dir, out string) error {
	log := klog.FromContext(ctx)

	entries, err := collectEntries(dir)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := archive.Write(&buf, entries); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	// Refuse to produce a package the runtime would reject.
	if _, err := modelpack.FromBytes(buf.Bytes()); err != nil {
		return fmt.Errorf("validating package: %w", err)
	}

	if err := os.WriteFile(out, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing %q: %w", out, err)
	}
	log.Info("packed model package", "dir", dir, "out", out, "entries", len(entries), "bytes", buf.Len())
	return nil
}

// collectEntries lists every file and directory under root, with slash-separated
// paths relative to root and directories suffixed with "/".
func collectEntries(root string) ([]archive.Entry, error) {
	var entries []archive.Entry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		switch {
		case d.IsDir():
			entries = append(entries, archive.Entry{Path: rel + "/", Kind: archive.KindDirectory})
		case d.Type().IsRegular():
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			entries = append(entries, archive.Entry{Path: rel, Kind: archive.KindFile, Data: data})
		default:
			return fmt.Errorf("%q is not a regular file or directory", p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", root, err)
	}
	return entries, nil
}

func inspect(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %q: %w", path, err)
	}
	locations, err := archive.Scan(data)
	if err != nil {
		return err
	}
	pkg, err := modelpack.FromBytes(data)
	if err != nil {
		return err
	}

	manifest := pkg.Manifest()
	fmt.Printf("variant:  %s\n", manifest.Variant)
	if manifest.Name != "" {
		fmt.Printf("name:     %s %s\n", manifest.Name, manifest.Version)
	}
	fmt.Printf("producer: %s %s\n", manifest.ProducerName, manifest.ProducerVersion)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nIO\tNAME\tCONTENT\tDTYPE\tSHAPE")
	for _, spec := range manifest.Inputs {
		fmt.Fprintf(w, "input\t%s\t%s\t%s\t%v\n", spec.Name, spec.ContentType, spec.DType, spec.Shape)
	}
	for _, spec := range manifest.Outputs {
		fmt.Fprintf(w, "output\t%s\t%s\t%s\t%v\n", spec.Name, spec.ContentType, spec.DType, spec.Shape)
	}

	fmt.Fprintln(w, "\nOPERATOR\tTYPE\tARTIFACTS")
	for _, op := range pkg.Ops() {
		var names []string
		for _, a := range pkg.ArtifactsFor(op.ID) {
			names = append(names, strings.TrimPrefix(a.Path, modelpack.ArtifactsDir+op.ID+"/"))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", op.ID, op.Op, strings.Join(names, ","))
	}

	fmt.Fprintln(w, "\nENTRY\tOFFSET\tSIZE")
	paths := make([]string, 0, len(locations))
	for p := range locations {
		paths = append(paths, p)
	}
	slices.SortFunc(paths, func(a, b string) int {
		return int(locations[a].Offset - locations[b].Offset)
	})
	for _, p := range paths {
		fmt.Fprintf(w, "%s\t%d\t%d\n", p, locations[p].Offset, locations[p].Size)
	}
	return w.Flush()
}

func push(ctx context.Context, path, location string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %q: %w", path, err)
	}
	if _, err := modelpack.FromBytes(data); err != nil {
		return fmt.Errorf("validating package: %w", err)
	}

	store, info, err := blobs.ParseStore(location)
	if err != nil {
		return err
	}
	return store.Upload(ctx, path, info)
}
