package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFull(t *testing.T) {
	full := Full()
	assert.True(t, strings.HasPrefix(full, AppName+"/"))
	assert.NotEmpty(t, GitCommit)
	assert.Equal(t, AppName+"/"+GitCommit, full)
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "a3f8c2d1", shorten("a3f8c2d1e9b74f60"))
	assert.Equal(t, "dev", shorten("dev"))
	assert.Equal(t, "", shorten(""))
}
