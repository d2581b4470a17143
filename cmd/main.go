/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/outreach"
	"github.com/blnkfinance/outreach/config"
	"github.com/blnkfinance/outreach/database"
	"github.com/blnkfinance/outreach/internal/notification"
	"github.com/blnkfinance/outreach/internal/runerror"
)

// Outreach represents the CLI application, encapsulating the root Cobra command.
type Outreach struct {
	cmd *cobra.Command
}

// outreachInstance holds the configuration loaded before any command runs.
type outreachInstance struct {
	cnf *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration file named by --config before any command runs.
func preRun(app *outreachInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf
		return nil
	}
}

// openOutreach opens the writable store at path and binds an Outreach to it.
// The caller closes the returned datasource.
func openOutreach(path string) (*outreach.Outreach, *database.Datasource, error) {
	ds, err := database.OpenDataSource(path)
	if err != nil {
		return nil, nil, err
	}
	o, err := outreach.NewOutreach(ds)
	if err != nil {
		_ = ds.Close()
		return nil, nil, err
	}
	return o, ds, nil
}

// printLine writes one machine readable output line.
func printLine(w io.Writer, token, format string, args ...interface{}) {
	fmt.Fprintf(w, "%s %s\n", token, fmt.Sprintf(format, args...))
}

// NewCLI creates the command-line interface with the job, admin and
// maintenance subcommands.
func NewCLI() *Outreach {
	var configFile string
	o := &outreachInstance{}

	rootCmd := &cobra.Command{
		Use:           "outreach",
		Short:         "Outreach event attribution and cohort reporting",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./"+config.DEFAULT_CONFIG_FILE, "Configuration file for outreach")
	rootCmd.PersistentPreRunE = preRun(o, &configFile)

	rootCmd.AddCommand(captureSyncCommand(o))
	rootCmd.AddCommand(opsReportCommand(o))
	rootCmd.AddCommand(crmCommands(o))
	rootCmd.AddCommand(migrateCommands(o))
	rootCmd.AddCommand(backupCommands(o))
	rootCmd.AddCommand(configCommands(o))

	return &Outreach{cmd: rootCmd}
}

// executeCLI runs the root command and returns the process exit status.
// Classified run errors print their stable token line on stderr.
func (w Outreach) executeCLI() int {
	cmd, err := w.cmd.ExecuteC()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, err)
	notification.NotifyError(context.Background(), cmd.CommandPath(), err)
	return runerror.ExitCode(err)
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	os.Exit(cli.executeCLI())
}
