/*
Copyright 2024 Andes Labs Authors.

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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/andeslabs/campus"
	"github.com/andeslabs/campus/config"
	"github.com/andeslabs/campus/internal/notification"
)

// Campus represents the CLI application, encapsulating the root Cobra command.
type Campus struct {
	cmd *cobra.Command
}

// campusInstance holds the runtime Campus instance and its configuration,
// shared by the server and worker commands.
type campusInstance struct {
	campus *campus.Campus
	cnf    *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun sets up the configuration and initializes the Campus instance before
// running any command.
func preRun(app *campusInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("campus.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newCampus, err := setupCampus()
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.campus = newCampus
		app.cnf = cnf

		return nil
	}
}

// setupCampus creates and initializes a new Campus instance from the loaded
// configuration.
func setupCampus() (*campus.Campus, error) {
	newCampus, err := campus.NewCampus(nil)
	if err != nil {
		return nil, fmt.Errorf("error creating campus: %v", err)
	}
	return newCampus, nil
}

// NewCLI creates the command-line interface for the Campus application.
func NewCLI() *Campus {
	var configFile string
	b := &campusInstance{}

	var rootCmd = &cobra.Command{
		Use:   "campus",
		Short: "Education platform backend",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./campus.json", "Configuration file for campus")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(configCommands())

	return &Campus{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (w Campus) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
