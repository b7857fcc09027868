// Package simtest provides helpers for building scratch filesystem images in
// memory, without touching the host filesystem, for use in unit tests.
package simtest

import (
	"testing"

	"github.com/jbesta/simfs/image"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// NewImage formats a fresh in-memory image of sizeBytes and returns it along
// with its superblock.
func NewImage(t *testing.T, sizeBytes uint32) (*image.Image, image.Superblock) {
	t.Helper()

	storage := make([]byte, sizeBytes)
	stream := bytesextra.NewReadWriteSeeker(storage)

	img, sb, err := image.Format(stream, sizeBytes)
	require.Nil(t, err, "formatting scratch image failed: %v", err)
	return img, sb
}

// DefaultSize is a reasonably-sized scratch image: big enough to exercise
// both indirect tables without being slow to zero-fill.
const DefaultSize = 1 << 20 // 1 MiB
