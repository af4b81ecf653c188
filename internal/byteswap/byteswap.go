package byteswap

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/canmv/k230-image-tools/internal/pipeline"
)

// wordSize is the swap granularity.
const wordSize = 4

// streamBufferSize must stay a multiple of wordSize so padding only ever
// happens on the final chunk of a stream.
const streamBufferSize = 64 * 1024

// Swap reverses byte order within each 32-bit word of data and returns a
// new slice. A trailing partial word is zero-padded before swapping, so
// the result length is always a multiple of four.
func Swap(data []byte) []byte {
	padded := len(data)
	if rem := padded % wordSize; rem != 0 {
		padded += wordSize - rem
	}

	out := make([]byte, padded)
	copy(out, data)

	for i := 0; i < padded; i += wordSize {
		out[i], out[i+3] = out[i+3], out[i]
		out[i+1], out[i+2] = out[i+2], out[i+1]
	}

	return out
}

// SwapStream copies src to dst with every 32-bit word byte-reversed.
func SwapStream(dst io.Writer, src io.Reader) error {
	buf := make([]byte, streamBufferSize)

	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			if _, werr := dst.Write(Swap(buf[:n])); werr != nil {
				return werr
			}
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}

		if err != nil {
			return err
		}
	}
}

// SwapFile writes a word-swapped copy of src to dst.
func SwapFile(src, dst string) error {
	if err := pipeline.RequireArtifact(src); err != nil {
		return err
	}

	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, pipeline.DefaultFileMode)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if err := SwapStream(out, in); err != nil {
		_ = out.Close()

		return fmt.Errorf("swap %s: %w", src, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}

	return nil
}
