package encrypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint("Bearer xyz")
	assert.Len(t, a, 16)
	assert.Equal(t, a, Fingerprint("xyz"), "bearer prefix is ignored")
	assert.NotEqual(t, a, Fingerprint("xyz2"))
	assert.NotContains(t, a, "xyz")
	assert.Empty(t, Fingerprint("Bearer "))
}
