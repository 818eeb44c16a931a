// Copyright 2024 Google Inc. All Rights Reserved.
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

	"github.com/go-pna/pnafs/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var logSeverity string

var rootCmd = &cobra.Command{
	Use:   "pnafs",
	Short: "Mount a password-protected archive as a local filesystem",
	Long: `pnafs is a FUSE adapter that mounts a password-protected,
structured archive file as a mountable user-space filesystem.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&logSeverity, "log-severity", string(config.INFO),
		"log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF")
	_ = viper.BindPFlag("log-severity", rootCmd.PersistentFlags().Lookup("log-severity"))

	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(completionCmd)
}

func initConfig() {
	viper.SetEnvPrefix("PNAFS")
	viper.AutomaticEnv()
}

func severityFromFlag() config.Severity {
	s := viper.GetString("log-severity")
	if s == "" {
		s = logSeverity
	}
	return config.Severity(s)
}
