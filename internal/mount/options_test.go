package mount

import (
	"testing"

	"github.com/go-pna/pnafs/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestBuildOptionsFsName(t *testing.T) {
	opts := BuildOptions(config.MountConfig{})
	assert.Equal(t, "pnafs", opts.FsName)
}

func TestBuildOptionsAllowOther(t *testing.T) {
	opts := BuildOptions(config.MountConfig{AllowOther: true})
	assert.True(t, opts.AllowOther)
}

func TestBuildOptionsAllowRootAndReadOnly(t *testing.T) {
	opts := BuildOptions(config.MountConfig{AllowRoot: true, ReadOnly: true})
	assert.Contains(t, opts.Options, "allow_root")
	assert.Contains(t, opts.Options, "ro")
}

func TestBuildOptionsReadWriteOmitsRO(t *testing.T) {
	opts := BuildOptions(config.MountConfig{ReadOnly: false})
	assert.NotContains(t, opts.Options, "ro")
}
