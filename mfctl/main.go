/*
Copyright 2024 KubeAGI.

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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kubeagi/modelfetch/pkg/config"
)

var (
	err error
	cfg *config.Config

	cfgFile string
	rootDir string
	workers int

	civitaiToken string
	hfToken      string

	useXL bool
)

func NewCLI() *cobra.Command {
	mfctl := &cobra.Command{
		Use:   "mfctl [usage]",
		Short: "Command line tools for fetching model artifacts",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}

			// explicit flags win over file and environment
			if cmd.Flags().Changed("root") {
				cfg.Root = rootDir
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = workers
			}
			if cmd.Flags().Changed("civitai-token") {
				cfg.CivitaiToken = civitaiToken
			}
			if cmd.Flags().Changed("hf-token") {
				cfg.HFToken = hfToken
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if _, err := os.Stat(cfg.Root); os.IsNotExist(err) {
				if err := os.MkdirAll(cfg.Root, 0755); err != nil {
					return err
				}
			}

			return nil
		},
	}

	mfctl.AddCommand(NewFetchCmd())
	mfctl.AddCommand(NewResolveCmd())
	mfctl.AddCommand(NewCatalogCmd())
	mfctl.AddCommand(NewRouteCmd())

	mfctl.PersistentFlags().StringVar(&cfgFile, "config", "", "config file to use (default is $HOME/.modelfetch/config.yaml)")
	mfctl.PersistentFlags().StringVar(&rootDir, "root", "", "deployment root directory artifacts are placed under")
	mfctl.PersistentFlags().IntVar(&workers, "workers", 0, "number of parallel downloads")
	mfctl.PersistentFlags().StringVar(&civitaiToken, "civitai-token", "", "API token for civitai downloads")
	mfctl.PersistentFlags().StringVar(&hfToken, "hf-token", "", "access token for gated huggingface repositories")
	mfctl.PersistentFlags().BoolVar(&useXL, "xl", false, "use the SDXL builtin catalog instead of SD 1.5")

	return mfctl
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewCLI().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
