// Package mount translates pnafs's mount-time flags into the kernel
// bridge's MountOptions and builds the fuse.Server.
package mount

import (
	"fmt"

	"github.com/go-pna/pnafs/internal/config"
	"github.com/hanwen/go-fuse/v2/fuse"
)

const fsName = "pnafs"

// BuildOptions converts a MountConfig into the bridge's MountOptions.
func BuildOptions(cfg config.MountConfig) *fuse.MountOptions {
	return &fuse.MountOptions{
		FsName:     fsName,
		Name:       fsName,
		AllowOther: cfg.AllowOther,
		Options:    extraOptions(cfg),
	}
}

func extraOptions(cfg config.MountConfig) []string {
	var opts []string
	if cfg.AllowRoot {
		opts = append(opts, "allow_root")
	}
	if cfg.ReadOnly {
		opts = append(opts, "ro")
	}
	return opts
}

// NewServer starts serving rawFS at mountPoint and blocks until the mount
// handshake completes, matching the hanwen/go-fuse fs.Mount convention
// (fuse.NewServer + go server.Serve() + server.WaitMount()).
func NewServer(rawFS fuse.RawFileSystem, mountPoint string, opts *fuse.MountOptions) (*fuse.Server, error) {
	server, err := fuse.NewServer(rawFS, mountPoint, opts)
	if err != nil {
		return nil, fmt.Errorf("mount: create server: %w", err)
	}
	go server.Serve()
	if err := server.WaitMount(); err != nil {
		return nil, fmt.Errorf("mount: wait for mount: %w", err)
	}
	return server, nil
}
