package transfer

import (
	"errors"
	"fmt"
)

// TransferConfig holds the tunables for splitting and encoding a transfer.
type TransferConfig struct {
	ChunkSize    int `json:"chunk_size"`
	MaxChunkSize int `json:"max_chunk_size"`
	MinChunkSize int `json:"min_chunk_size"`

	// MaxConcurrentReads bounds the splitter's parallel source reads
	MaxConcurrentReads int `json:"max_concurrent_reads"`

	// Serializer is "json" or "binary"
	Serializer string `json:"serializer"`
}

const (
	DefaultChunkSize = 16 * 1024
	// MaxChunkSize keeps a JSON encoded segment below the 64KiB SCTP message limit
	MaxChunkSize = 48 * 1024
	MinChunkSize = 1

	DefaultMaxConcurrentReads = 8
	DefaultSerializer         = "binary"
)

func DefaultTransferConfig() *TransferConfig {
	return &TransferConfig{
		ChunkSize:          DefaultChunkSize,
		MaxChunkSize:       MaxChunkSize,
		MinChunkSize:       MinChunkSize,
		MaxConcurrentReads: DefaultMaxConcurrentReads,
		Serializer:         DefaultSerializer,
	}
}

// Validate checks if the configuration values are valid
func (tc *TransferConfig) Validate() error {
	if tc.ChunkSize <= 0 {
		return invalidConfig(ErrInvalidChunkSize, "chunk_size must be positive")
	}
	if tc.MinChunkSize <= 0 {
		return invalidConfig(ErrInvalidChunkSize, "min_chunk_size must be positive")
	}
	if tc.MaxChunkSize <= 0 {
		return invalidConfig(ErrInvalidChunkSize, "max_chunk_size must be positive")
	}
	if tc.MinChunkSize > tc.MaxChunkSize {
		return invalidConfig(ErrInvalidChunkSize, "min_chunk_size cannot be greater than max_chunk_size")
	}
	if tc.ChunkSize < tc.MinChunkSize {
		return invalidConfig(ErrInvalidChunkSize, "chunk_size cannot be less than min_chunk_size")
	}
	if tc.ChunkSize > tc.MaxChunkSize {
		return invalidConfig(ErrInvalidChunkSize, "chunk_size cannot be greater than max_chunk_size")
	}
	if tc.MaxConcurrentReads <= 0 {
		return invalidConfig(ErrInvalidConfiguration, "max_concurrent_reads must be positive")
	}
	if _, err := SerializerByName(tc.Serializer); err != nil {
		return err
	}
	return nil
}

func invalidConfig(kind error, msg string) error {
	return fmt.Errorf("%w: %w", kind, errors.New(msg))
}

// IsValidChunkSize checks if a chunk size is within acceptable bounds
func (tc *TransferConfig) IsValidChunkSize(chunkSize int) bool {
	return chunkSize >= tc.MinChunkSize && chunkSize <= tc.MaxChunkSize
}

// NewSplitter builds a splitter from the configured chunk size and read limit.
func (tc *TransferConfig) NewSplitter() (*Splitter, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return NewSplitter(tc.ChunkSize, tc.MaxConcurrentReads)
}

// MessageSerializer returns the configured serializer.
func (tc *TransferConfig) MessageSerializer() (MessageSerializer, error) {
	return SerializerByName(tc.Serializer)
}
