// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how the file payload is compressed. The tag
// is stored in the file envelope, so values are format constants.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (compression Compression) String() string {
	switch compression {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", compression)
	}
}

// ParseCompression parses the configuration spelling of a compression
// algorithm. The empty string selects zstd.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("storage: unknown compression %q", name)
	}
}

// errIncompressible is returned when compressing would not shrink the
// payload; the caller stores it uncompressed instead.
var errIncompressible = errors.New("storage: data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("storage: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("storage: zstd decoder initialization failed: " + err.Error())
	}
}

// compress returns the compressed payload and the tag actually used,
// which falls back to CompressionNone for incompressible input.
func compress(data []byte, compression Compression) ([]byte, Compression, error) {
	var compressed []byte
	var err error
	switch compression {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed = zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			err = errIncompressible
		}
	default:
		return nil, 0, fmt.Errorf("storage: unsupported compression %s", compression)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return compressed, compression, nil
}

func decompress(compressed []byte, compression Compression, uncompressedSize int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("storage: uncompressed payload is %d bytes, expected %d",
				len(compressed), uncompressedSize)
		}
		return compressed, nil

	case CompressionLZ4:
		destination := make([]byte, uncompressedSize)
		read, err := lz4.UncompressBlock(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("storage: lz4 decompress: %w", err)
		}
		if read != uncompressedSize {
			return nil, fmt.Errorf("storage: lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
		}
		return destination, nil

	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("storage: zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("storage: zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("storage: unsupported compression %s", compression)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}
