package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeSHA256(t *testing.T) {
	// sha256("abc")
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		ComputeSHA256([]byte("abc")))

	assert.True(t, ValidateSHA256(ComputeSHA256(nil)))
}

func TestValidateSHA256(t *testing.T) {
	assert.False(t, ValidateSHA256("abc"))
	assert.False(t, ValidateSHA256("zz7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"))
	assert.True(t, ValidateSHA256("BA7816BF8F01CFEA414140DE5DAE2223B00361A396177A9CB410FF61F20015AD"))
}
