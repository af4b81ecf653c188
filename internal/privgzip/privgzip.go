package privgzip

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/canmv/k230-image-tools/internal/pipeline"
)

const (
	// methodFieldIndex is the position of the CM (compression method) field
	// in a gzip member header.
	methodFieldIndex = 2

	// standardMethod is the deflate method byte every regular gzip stream carries.
	standardMethod = 0x08

	// privateMethod is the method byte the boot ROM's decompressor expects.
	privateMethod = 0x09

	// Suffix is appended to compressed artifact names.
	Suffix = ".gz"
)

var errNotPrivateStream = errors.New("stream does not carry the private method byte")

// Compress gzips data and rewrites the method field to the private value.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("init gzip writer: %w", err)
	}

	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish compress: %w", err)
	}

	compressed := buf.Bytes()
	if len(compressed) <= methodFieldIndex || compressed[methodFieldIndex] != standardMethod {
		return nil, fmt.Errorf("unexpected gzip header byte at index %d", methodFieldIndex)
	}

	compressed[methodFieldIndex] = privateMethod

	return compressed, nil
}

// Decompress restores the standard method byte and inflates data.
// It is the exact inverse of Compress.
func Decompress(data []byte) ([]byte, error) {
	if len(data) <= methodFieldIndex {
		return nil, errNotPrivateStream
	}

	if data[methodFieldIndex] != privateMethod {
		return nil, errNotPrivateStream
	}

	restored := append([]byte(nil), data...)
	restored[methodFieldIndex] = standardMethod

	reader, err := gzip.NewReader(bytes.NewReader(restored))
	if err != nil {
		return nil, fmt.Errorf("init gzip reader: %w", err)
	}

	defer func() {
		_ = reader.Close()
	}()

	plain, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	return plain, nil
}

// CompressFile compresses src into a sibling file with the Suffix appended,
// keeping the original, and returns the output path.
func CompressFile(src string) (string, error) {
	if err := pipeline.RequireArtifact(src); err != nil {
		return "", err
	}

	contents, err := os.ReadFile(filepath.Clean(src))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", src, err)
	}

	compressed, err := Compress(contents)
	if err != nil {
		return "", fmt.Errorf("compress %s: %w", src, err)
	}

	dst := src + Suffix
	if err := os.WriteFile(dst, compressed, pipeline.DefaultFileMode); err != nil {
		return "", fmt.Errorf("write %s: %w", dst, err)
	}

	return dst, nil
}

// DecompressFile inflates a private-gzip file into dst.
func DecompressFile(src, dst string) error {
	contents, err := os.ReadFile(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	plain, err := Decompress(contents)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", src, err)
	}

	if err := os.WriteFile(dst, plain, pipeline.DefaultFileMode); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}

	return nil
}
