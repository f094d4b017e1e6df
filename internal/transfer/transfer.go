// Package transfer copies a local file to a remote sink in fixed-size blocks,
// reporting progress after every block.
package transfer

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/eugenetaranov/trs/internal/connector"
)

// BlockSize is the number of bytes read and written per block.
const BlockSize = 32700

// FileMode is the permission mode of the remote file.
const FileMode os.FileMode = 0o644

// SinkOpener opens the remote destination, sized to the source file.
type SinkOpener func(size int64, mode os.FileMode) (io.WriteCloser, error)

// Progress receives transfer updates. Start is only called once both ends
// are open.
type Progress interface {
	// Start is called before the first block with the file size.
	Start(total int64)

	// Block is called after each block is written and flushed.
	Block(sent, total int64, percent float32)

	// Done is called once every block has been written.
	Done()
}

// Send copies src through the sink returned by open, one Write per block.
// Sinks write through, so progress is reported once Write returns. It
// returns the number of bytes written. Failures are *connector.Error values of kind
// FileOpenError or FileIOError; a partially written remote file is left as is.
func Send(ctx context.Context, src string, open SinkOpener, progress Progress) (int64, error) {
	if progress == nil {
		progress = nopProgress{}
	}

	f, err := os.Open(src)
	if err != nil {
		return 0, connector.Errorf(connector.FileOpenError, "Unable to open source file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, connector.Errorf(connector.FileOpenError, "Unable to open source file: %w", err)
	}
	size := info.Size()

	sink, err := open(size, FileMode)
	if err != nil {
		return 0, connector.Errorf(connector.FileOpenError, "Unable to open dest file: %w", err)
	}

	progress.Start(size)

	sent, err := copyBlocks(ctx, f, sink, size, progress)
	if err != nil {
		sink.Close()
		return sent, err
	}

	if err := sink.Close(); err != nil {
		return sent, connector.Errorf(connector.FileIOError, "Unable to write dest file: %w", err)
	}

	progress.Done()
	return sent, nil
}

// Blocks returns the number of blocks needed for size bytes.
func Blocks(size int64) int64 {
	return (size + BlockSize - 1) / BlockSize
}

func copyBlocks(ctx context.Context, r io.Reader, w io.Writer, size int64, progress Progress) (int64, error) {
	blocks := Blocks(size)
	buf := make([]byte, BlockSize)
	var sent int64

	for i := int64(0); i < blocks; i++ {
		if err := ctx.Err(); err != nil {
			return sent, connector.Errorf(connector.FileIOError, "Unable to write dest file: %w", err)
		}

		// The last block may be short
		n, err := io.ReadFull(r, buf)
		if err != nil && !(errors.Is(err, io.ErrUnexpectedEOF) && n > 0) {
			return sent, connector.Errorf(connector.FileIOError, "Unable to read source file: %w", err)
		}

		if _, err := w.Write(buf[:n]); err != nil {
			return sent, connector.Errorf(connector.FileIOError, "Unable to write dest file: %w", err)
		}

		sent += int64(n)
		progress.Block(sent, size, float32(i+1)/float32(blocks)*100)
	}

	return sent, nil
}

type nopProgress struct{}

func (nopProgress) Start(int64)                 {}
func (nopProgress) Block(int64, int64, float32) {}
func (nopProgress) Done()                       {}
