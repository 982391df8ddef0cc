package launch

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Field tags, in the order they appear in an encoded buffer.
const (
	tagCPU     byte = 0
	tagMemory  byte = 1
	tagStorage byte = 2
)

const fieldSize = 1 + 8

// EncodedSize is the exact length of an encoded Config.
const EncodedSize = 3 * fieldSize

// Encode returns the 27-byte representation of c: three (tag, big-endian
// uint64) pairs for cpu, memory and storage.
func Encode(c Config) []byte {
	buf := make([]byte, 0, EncodedSize)
	buf = appendField(buf, tagCPU, c.CPUCores)
	buf = appendField(buf, tagMemory, c.MemoryGiB)
	buf = appendField(buf, tagStorage, c.StorageGiB)
	return buf
}

func appendField(buf []byte, tag byte, v uint64) []byte {
	buf = append(buf, tag)
	return binary.BigEndian.AppendUint64(buf, v)
}

// Decode parses a buffer produced by Encode. Trailing bytes beyond
// EncodedSize are ignored.
func Decode(data []byte) (Config, error) {
	if len(data) < EncodedSize {
		return Config{}, &DecodeError{Offset: len(data), Reason: fmt.Sprintf("need %d bytes, have %d", EncodedSize, len(data))}
	}

	var c Config
	for i, dst := range []*uint64{&c.CPUCores, &c.MemoryGiB, &c.StorageGiB} {
		off := i * fieldSize
		if want := byte(i); data[off] != want {
			return Config{}, &DecodeError{Offset: off, Reason: fmt.Sprintf("tag %d, want %d", data[off], want)}
		}
		*dst = binary.BigEndian.Uint64(data[off+1 : off+fieldSize])
	}
	return c, nil
}

// ReadFile reads and decodes the metadata file at path.
func ReadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read metadata: %w", err)
	}
	c, err := Decode(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// WriteFile encodes c and writes it to path, replacing any existing file.
func WriteFile(path string, c Config) error {
	if err := os.WriteFile(path, Encode(c), 0644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}
