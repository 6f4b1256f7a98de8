package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoString(t *testing.T) {
	assert.Equal(t, "local/1.0.0", Info{Name: "local", Version: "1.0.0"}.String())
}
