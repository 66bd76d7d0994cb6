package sbt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackCopiesHandles(t *testing.T) {
	const groupCount = 4
	const handleSize = 32

	handles := make([]byte, groupCount*handleSize)
	for i := range handles {
		handles[i] = byte(i)
	}

	packed, err := Pack(handles, groupCount, handleSize)
	require.NoError(t, err)
	assert.Equal(t, handles, packed)

	// The packed table must be an independent copy of the queried handles.
	handles[0] = 0xFF
	assert.NotEqual(t, handles[0], packed[0])
}

func TestPackRejectsInvalidInput(t *testing.T) {
	handles := make([]byte, 64)

	_, err := Pack(handles, 0, 32)
	assert.Error(t, err)

	_, err = Pack(handles, 2, 0)
	assert.Error(t, err)

	_, err = Pack(handles, 3, 32)
	assert.Error(t, err, "handle blob shorter than groupCount*handleSize")

	_, err = Pack(handles, 1, 32)
	assert.Error(t, err, "handle blob longer than groupCount*handleSize")
}
