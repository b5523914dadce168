package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputBlob_CopiesTensor(t *testing.T) {
	input := Tensor{Shape: []int{1, 2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}}

	blob, err := inputBlob(input)
	require.NoError(t, err)
	defer blob.Close()

	// The blob owns its data; later writes to the tensor must not reach it.
	input.Data[0] = 99

	data, err := blob.DataPtrFloat32()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, data)
	assert.Equal(t, []int{1, 2, 3}, blob.Size())
}

func TestInputBlob_ShapeMismatch(t *testing.T) {
	_, err := inputBlob(Tensor{Shape: []int{1, 20, 300}, Data: make([]float32, 10)})
	assert.Error(t, err)

	_, err = inputBlob(Tensor{})
	assert.Error(t, err)
}
