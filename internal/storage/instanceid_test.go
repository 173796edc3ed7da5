package storage

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateInstanceID(t *testing.T) {
	a := GenerateInstanceID()
	b := GenerateInstanceID()

	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "-"+strconv.Itoa(os.Getpid())+"-")
}
