package ledger

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// segmentPath names a rotated segment by the sequence of its first entry.
func segmentPath(active string, firstSeq uint64) string {
	ext := filepath.Ext(active)
	stem := strings.TrimSuffix(active, ext)
	return fmt.Sprintf("%s.%012d%s", stem, firstSeq, ext)
}

// Segments lists the rotated segments of an active ledger path, oldest first.
func Segments(active string) ([]string, error) {
	ext := filepath.Ext(active)
	stem := strings.TrimSuffix(active, ext)
	matches, err := filepath.Glob(stem + ".*" + ext)
	if err != nil {
		return nil, err
	}
	type seg struct {
		path string
		seq  uint64
	}
	var segs []seg
	for _, m := range matches {
		mid := strings.TrimSuffix(strings.TrimPrefix(m, stem+"."), ext)
		n, err := strconv.ParseUint(mid, 10, 64)
		if err != nil || len(mid) != 12 {
			continue
		}
		segs = append(segs, seg{path: m, seq: n})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].seq < segs[j].seq })
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		out = append(out, s.path)
	}
	return out, nil
}

// chainFiles returns every file of the chain in order: rotated segments then the active file.
func chainFiles(active string) ([]string, error) {
	segs, err := Segments(active)
	if err != nil {
		return nil, err
	}
	return append(segs, active), nil
}

// rawLine is one line read from a ledger file.
type rawLine struct {
	file string
	data []byte
	// complete is false for a trailing line with no newline.
	complete bool
}

// readLines streams every non-empty line of the chain to fn. Missing files are skipped.
func readLines(ctx context.Context, files []string, fn func(rawLine) error) error {
	for _, path := range files {
		if err := readFileLines(ctx, path, fn); err != nil {
			return err
		}
	}
	return nil
}

func readFileLines(ctx context.Context, path string, fn func(rawLine) error) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &IOError{Op: "open", Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			complete := line[len(line)-1] == '\n'
			trimmed := bytes.TrimRight(line, "\r\n")
			if len(bytes.TrimSpace(trimmed)) > 0 {
				if ferr := fn(rawLine{file: path, data: trimmed, complete: complete}); ferr != nil {
					return ferr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &IOError{Op: "read", Path: path, Err: err}
		}
	}
}
