package blockio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	BlockSize     = 65536                     // bytes per block
	SegmentBlocks = 1024                      // blocks per segment file (64 MiB)
	SegmentBytes  = BlockSize * SegmentBlocks // segment file capacity

	// segmentBase offsets generated names so they never collide with the
	// catalog document or other reserved files in the folder.
	segmentBase = 0x100
)

// IOError reports a failed segment-file operation. The whole logical read or
// write that contained the operation fails with it.
type IOError struct {
	Op   string // "open", "read", "write", "close"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("blockio: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// SegmentName returns the file name holding the given segment index.
func SegmentName(seg uint64) string {
	return fmt.Sprintf("%08x.blk", segmentBase+seg)
}

// Manager performs chunked reads and writes against the segment files of one
// storage folder. No file handles are held between calls; every operation
// opens and closes the files it touches. Segment files only grow and are
// never compacted, freed blocks are recycled through the catalog free list.
type Manager struct {
	dir string
	log *logrus.Entry
}

// New creates a manager over the segment files in dir.
func New(dir string, log *logrus.Entry) *Manager {
	return &Manager{dir: dir, log: log}
}

// chunk maps one block-sized slice of the logical buffer to a block index.
type chunk struct {
	index uint64
	off   int // offset within the logical buffer
	n     int // chunk length, BlockSize except for the final chunk
}

// splitChunks lays out total bytes over ceil(total/BlockSize) chunks. A
// zero-length buffer still occupies one zero-length chunk, so every payload
// owns at least one block.
func splitChunks(total int) []chunk {
	count := (total + BlockSize - 1) / BlockSize
	if count == 0 {
		count = 1
	}

	chunks := make([]chunk, count)
	for i := range chunks {
		chunks[i].off = i * BlockSize
		chunks[i].n = BlockSize
	}
	chunks[count-1].n = total - (count-1)*BlockSize
	return chunks
}

// segmentOffset returns (segment index, byte offset within the segment file)
// for a block index.
func segmentOffset(index uint64) (uint64, int64) {
	return index / SegmentBlocks, int64(index%SegmentBlocks) * BlockSize
}

// Write splits data into block-sized chunks, obtains one block index per
// chunk from alloc, and writes every chunk at its byte-exact segment offset.
// Chunks are written concurrently; the call returns only after all of them
// have completed, and any single chunk failure fails the whole write.
func (m *Manager) Write(ctx context.Context, data []byte, alloc func() uint64) ([]uint64, error) {
	chunks := splitChunks(len(data))
	indices := make([]uint64, len(chunks))
	for i := range chunks {
		chunks[i].index = alloc()
		indices[i] = chunks[i].index
	}

	files, err := m.openSegments(chunks, os.O_RDWR|os.O_CREATE)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range chunks {
		seg, off := segmentOffset(c.index)
		f := files[seg]
		buf := data[c.off : c.off+c.n]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, err := f.WriteAt(buf, off); err != nil {
				return &IOError{Op: "write", Path: f.Name(), Err: err}
			}
			return nil
		})
	}

	err = g.Wait()
	if cerr := closeSegments(files); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"bytes":  len(data),
		"blocks": len(chunks),
	}).Debug("blocks written")
	return indices, nil
}

// Read reassembles total bytes from the given block indices, reading each
// chunk at its segment offset. The final chunk reads only the remainder of
// total. Chunk reads run concurrently and the call joins on all of them.
func (m *Manager) Read(ctx context.Context, indices []uint64, total int64) ([]byte, error) {
	chunks := splitChunks(int(total))
	if len(indices) != len(chunks) {
		return nil, fmt.Errorf("blockio: %d blocks cannot carry %d bytes", len(indices), total)
	}
	for i := range chunks {
		chunks[i].index = indices[i]
	}

	files, err := m.openSegments(chunks, os.O_RDONLY)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, total)
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range chunks {
		seg, off := segmentOffset(c.index)
		f := files[seg]
		dst := buf[c.off : c.off+c.n]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if len(dst) == 0 {
				return nil
			}
			if _, err := f.ReadAt(dst, off); err != nil {
				return &IOError{Op: "read", Path: f.Name(), Err: err}
			}
			return nil
		})
	}

	err = g.Wait()
	if cerr := closeSegments(files); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// openSegments opens every segment file the chunks touch. On any open
// failure the already-opened files are closed and the failure is returned.
func (m *Manager) openSegments(chunks []chunk, flag int) (map[uint64]*os.File, error) {
	files := make(map[uint64]*os.File)
	for _, c := range chunks {
		seg, _ := segmentOffset(c.index)
		if _, ok := files[seg]; ok {
			continue
		}
		path := filepath.Join(m.dir, SegmentName(seg))
		f, err := os.OpenFile(path, flag, 0600)
		if err != nil {
			closeSegments(files)
			return nil, &IOError{Op: "open", Path: path, Err: err}
		}
		files[seg] = f
	}
	return files, nil
}

func closeSegments(files map[uint64]*os.File) error {
	var first error
	for _, f := range files {
		if err := f.Close(); err != nil && first == nil {
			first = &IOError{Op: "close", Path: f.Name(), Err: err}
		}
	}
	return first
}
