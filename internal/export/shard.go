package export

import (
	"archive/tar"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// shardPattern names shards in the order they are written.
const shardPattern = "shard-%05d.tar.zst"

// epoch is the modification time stamped on every archived file.
var epoch = time.Unix(0, 0).UTC()

// shardWriter packs files into size bounded .tar.zst archives. A shard is
// closed before the file that would take it past limit uncompressed bytes,
// so a single large file still gets a shard of its own.
type shardWriter struct {
	dir   string
	limit int64

	n       int
	written int64
	name    string
	file    *os.File
	zw      *zstd.Encoder
	tw      *tar.Writer
	names   []string
}

func newShardWriter(dir string, limit int64) *shardWriter {
	return &shardWriter{dir: dir, limit: limit}
}

// add archives data under name and returns the shard it went into.
func (s *shardWriter) add(name string, data []byte) (string, error) {
	size := int64(len(data))
	if s.tw != nil && s.written > 0 && s.written+size > s.limit {
		if err := s.close(); err != nil {
			return "", err
		}
	}
	if s.tw == nil {
		if err := s.open(); err != nil {
			return "", err
		}
	}

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     0644,
		Size:     size,
		ModTime:  epoch,
	}
	if err := s.tw.WriteHeader(hdr); err != nil {
		return "", fmt.Errorf("failed to write header for %s: %w", name, err)
	}
	if _, err := s.tw.Write(data); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", name, err)
	}
	s.written += size
	return s.name, nil
}

func (s *shardWriter) open() error {
	s.n++
	s.name = fmt.Sprintf(shardPattern, s.n)
	f, err := os.Create(filepath.Join(s.dir, s.name)) //nolint:gosec // name is generated
	if err != nil {
		return fmt.Errorf("failed to create shard: %w", err)
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderConcurrency(1))
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	s.file = f
	s.zw = zw
	s.tw = tar.NewWriter(zw)
	s.written = 0
	s.names = append(s.names, s.name)
	return nil
}

// close finishes the open shard, if any.
func (s *shardWriter) close() error {
	if s.tw == nil {
		return nil
	}
	tw, zw, f := s.tw, s.zw, s.file
	s.tw, s.zw, s.file = nil, nil, nil

	if err := tw.Close(); err != nil {
		_ = zw.Close()
		_ = f.Close()
		return fmt.Errorf("failed to close tar stream: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to close zstd stream: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close shard: %w", err)
	}
	return nil
}
