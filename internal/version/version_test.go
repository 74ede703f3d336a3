package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	v, c, d := Info()
	assert.NotEmpty(t, v)
	assert.NotEmpty(t, c)
	assert.NotEmpty(t, d)
	assert.Equal(t, v, Version())
}

func TestString(t *testing.T) {
	assert.Equal(t, "version=dev commit=unknown date=unknown", String())
}

func TestFields(t *testing.T) {
	fields := Fields()
	assert.Equal(t, "dev", fields["version"])
	assert.Len(t, fields, 3)
}
