package accesslog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/text/encoding/unicode"
)

// DefaultMarker is the file name fragment of Gerrit's HTTP access logs.
const DefaultMarker = "httpd_log"

const (
	initialLineBuffer = 64 * 1024
	maxLineLength     = 4 * 1024 * 1024
)

// ErrLineTooLong is yielded in place of a line longer than 4 MiB. The rest of
// the line is discarded and reading resumes at the next one.
var ErrLineTooLong = errors.New("line exceeds 4 MiB")

// Compression identifies how a log file is stored on disk.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// compressedSuffixes maps file suffixes to their decompressor.
var compressedSuffixes = map[string]Compression{
	".gz":  CompressionGzip,
	".zst": CompressionZstd,
}

// LogFile is one candidate access log.
type LogFile struct {
	Path        string
	Size        int64
	ModTime     time.Time
	Compression Compression
}

// Source enumerates and reads the access logs of one directory.
type Source struct {
	dir    string
	marker string
}

// NewSource creates a source for dir. An empty marker selects DefaultMarker.
func NewSource(dir, marker string) *Source {
	if marker == "" {
		marker = DefaultMarker
	}
	return &Source{dir: dir, marker: marker}
}

// Dir returns the directory the source reads from.
func (s *Source) Dir() string {
	return s.dir
}

// Files lists the access logs in the directory, newest first.
// Ties on modification time are broken by name so the order is stable.
func (s *Source) Files() ([]LogFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("log directory not found: %s", s.dir)
		}
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	var files []LogFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.Contains(entry.Name(), s.marker) {
			continue
		}
		compression, ok := recognize(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Rotated away between ReadDir and Info.
			continue
		}
		files = append(files, LogFile{
			Path:        filepath.Join(s.dir, entry.Name()),
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			Compression: compression,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].ModTime.After(files[j].ModTime)
		}
		return files[i].Path < files[j].Path
	})

	return files, nil
}

// recognize reports whether name ends in a plain-log or compressed suffix.
// Plain logs have no extension, ".log", or a rotation suffix such as
// ".2024-01-01" or ".3". Anything else (".bz2", ".lock") is not read.
func recognize(name string) (Compression, bool) {
	ext := filepath.Ext(name)
	if c, ok := compressedSuffixes[ext]; ok {
		return c, true
	}
	switch {
	case ext == "", ext == ".log":
		return CompressionNone, true
	case isRotationSuffix(ext[1:]):
		return CompressionNone, true
	}
	return CompressionNone, false
}

func isRotationSuffix(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// Lines lazily yields the decoded lines of a log file. Compressed files are
// decompressed on the fly and invalid UTF-8 bytes are replaced with U+FFFD.
//
// A line longer than 4 MiB is yielded as ErrLineTooLong and reading continues.
// An open failure or a read error is yielded once as a non-nil error, after which
// the sequence ends; lines read before a mid-file error have already been yielded.
func Lines(file LogFile) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		rc, err := openLog(file)
		if err != nil {
			yield("", err)
			return
		}
		defer func() { _ = rc.Close() }()

		for line, err := range ReadLines(rc) {
			if err != nil && !errors.Is(err, ErrLineTooLong) {
				yield("", fmt.Errorf("reading %s: %w", file.Path, err))
				return
			}
			if !yield(line, err) {
				return
			}
		}
	}
}

// ReadLines lazily yields the UTF-8 decoded lines of r with trailing "\r\n" or
// "\n" removed. Overlong lines are skipped as ErrLineTooLong; any other read
// error ends the sequence.
func ReadLines(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		br := bufio.NewReaderSize(unicode.UTF8.NewDecoder().Reader(r), initialLineBuffer)

		var buf []byte
		tooLong := false
		for {
			chunk, err := br.ReadSlice('\n')
			if !tooLong {
				n := len(chunk)
				if err == nil {
					n--
				}
				if len(buf)+n > maxLineLength {
					tooLong = true
					buf = buf[:0]
				} else {
					buf = append(buf, chunk...)
				}
			}

			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			if err != nil && !errors.Is(err, io.EOF) {
				yield("", err)
				return
			}

			switch {
			case tooLong:
				if !yield("", ErrLineTooLong) {
					return
				}
			case err == nil || len(buf) > 0:
				line := bytes.TrimSuffix(bytes.TrimSuffix(buf, []byte("\n")), []byte("\r"))
				if !yield(string(line), nil) {
					return
				}
			}
			buf = buf[:0]
			tooLong = false

			if err != nil {
				return
			}
		}
	}
}

// openLog opens a log file and wraps it in the matching decompressor.
func openLog(file LogFile) (io.ReadCloser, error) {
	f, err := os.Open(file.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	switch file.Compression {
	case CompressionGzip:
		zr, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", file.Path, err)
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{zr, f}}, nil

	case CompressionZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to open zstd stream %s: %w", file.Path, err)
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{zr.IOReadCloser(), f}}, nil

	default:
		return f, nil
	}
}

// stackedCloser closes a decompressor and the file underneath it.
type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
