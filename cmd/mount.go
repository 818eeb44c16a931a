// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-pna/pnafs/internal/archive"
	"github.com/go-pna/pnafs/internal/archive/pnafmt"
	"github.com/go-pna/pnafs/internal/config"
	"github.com/go-pna/pnafs/internal/engine"
	"github.com/go-pna/pnafs/internal/fsadapter"
	"github.com/go-pna/pnafs/internal/logger"
	"github.com/go-pna/pnafs/internal/mount"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/jacobsa/timeutil"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	passwordFlag string
	allowRoot    bool
	allowOther   bool
	readOnly     bool
	readWrite    bool
	logFile      string
	logFormat    string
)

var mountCmd = &cobra.Command{
	Use:   "mount <archive> <mount_point>",
	Short: "Mount a password-protected archive at mount_point",
	Args:  cobra.ExactArgs(2),
	RunE:  runMount,
}

func init() {
	flags := mountCmd.Flags()
	flags.StringVar(&passwordFlag, "password", "", "archive password; pass with no value to prompt on a tty")
	flags.Lookup("password").NoOptDefVal = promptSentinel
	flags.BoolVar(&allowRoot, "allow-root", false, "allow root to access the mount")
	flags.BoolVar(&allowOther, "allow-other", false, "allow other users to access the mount")
	flags.BoolVar(&readOnly, "read-only", true, "mount read-only")
	flags.BoolVar(&readWrite, "read-write", false, "mount read-write")
	mountCmd.MarkFlagsMutuallyExclusive("read-only", "read-write")
	flags.StringVar(&logFile, "log-file", "", "path to a log file; stderr when empty")
	flags.StringVar(&logFormat, "log-format", string(config.FormatText), "log format: text or json")
}

// promptSentinel is the value pflag assigns when --password is given with
// no argument; it signals "read from the controlling tty" rather than
// "no password".
const promptSentinel = "\x00prompt\x00"

func runMount(cmd *cobra.Command, args []string) error {
	archivePath, mountPoint := args[0], args[1]

	if readWrite && readOnly {
		readOnly = false
	}

	cfg := config.MountConfig{
		ArchivePath: archivePath,
		MountPoint:  mountPoint,
		AllowRoot:   allowRoot,
		AllowOther:  allowOther,
		ReadOnly:    !readWrite,
		Log: config.LogConfig{
			Severity: severityFromFlag(),
			Format:   config.LogFormat(logFormat),
			File:     logFile,
			Rotate:   config.DefaultLogRotateConfig(),
		},
	}

	if err := logger.InitLogFile(cfg.Log); err != nil {
		return fmt.Errorf("mount: init logging: %w", err)
	}

	password, err := resolvePassword()
	if err != nil {
		return fmt.Errorf("mount: resolve password: %w", err)
	}
	cfg.Password = password

	logger.Infof("opening archive %s", cfg.ArchivePath)

	mgr, err := engine.NewFileManager(cfg.ArchivePath, cfg.Password, timeutil.RealClock(), openArchive)
	if err != nil {
		return fmt.Errorf("mount: populate engine: %w", err)
	}

	createWriter := func(path string) (archive.Writer, error) {
		return pnafmt.Create(path)
	}
	adapter := fsadapter.New(mgr, createWriter)

	opts := mount.BuildOptions(cfg)
	server, err := mount.NewServer(adapter, cfg.MountPoint, opts)
	if err != nil {
		return fmt.Errorf("mount: start server: %w", err)
	}
	logger.Infof("mounted %s at %s", cfg.ArchivePath, cfg.MountPoint)

	waitForUnmount(server)
	return nil
}

func openArchive(path string) (archive.Reader, error) {
	return pnafmt.Open(path)
}

// waitForUnmount blocks until the mount goes away, either because the
// kernel already tore it down (server.Wait unblocks on its own, having
// already dispatched FUSE_DESTROY to Adapter.Destroy) or because we were
// asked to shut down, in which case we ask the server to unmount and let
// that same kernel-driven dispatch run Adapter.Destroy.
func waitForUnmount(server *fuse.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		server.Wait()
		close(done)
	}()

	select {
	case <-sigCh:
		if err := server.Unmount(); err != nil {
			logger.Warnf("unmount failed: %v", err)
		}
		<-done
	case <-done:
	}
}

func resolvePassword() (string, error) {
	if passwordFlag == "" {
		return "", nil
	}
	if passwordFlag != promptSentinel {
		return passwordFlag, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("--password requires a tty to prompt, or pass a value")
	}
	fmt.Fprint(os.Stderr, "Archive password: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
