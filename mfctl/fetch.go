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
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/kubeagi/modelfetch/mfctl/printer"
	"github.com/kubeagi/modelfetch/pkg/batch"
	"github.com/kubeagi/modelfetch/pkg/catalog"
	"github.com/kubeagi/modelfetch/pkg/civitai"
	"github.com/kubeagi/modelfetch/pkg/config"
	"github.com/kubeagi/modelfetch/pkg/fetcher"
	"github.com/kubeagi/modelfetch/pkg/storage"
	"github.com/kubeagi/modelfetch/pkg/utils"
)

var (
	// links given directly on the command line, comma separated
	inlineLinks string
	linkFiles   []string
	linkURLs    []string

	// catalog selections by set name, ALL expands a whole section
	modelNames []string
	vaeNames   []string
	cnetNames  []string
	loraNames  []string

	withInpainting bool
	catalogFile    string
)

// NewFetchCmd returns a Cobra command that downloads every selected
// artifact into the deployment root.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch [usage]",
		Short: "Fetch model artifacts and extensions into the deployment root",
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := gatherTokens(cmd.Context())
			if err != nil {
				return err
			}
			if len(tokens) == 0 {
				return errors.New("nothing to fetch, pass --links or a catalog selection")
			}

			orchestrator, err := newOrchestrator(cfg)
			if err != nil {
				return err
			}
			res, err := orchestrator.Run(cmd.Context(), tokens)
			if err != nil {
				return err
			}
			printResult(res)

			if failed := res.Failed() + len(res.CloneFailures); failed > 0 {
				return errors.Errorf("%d of %d items failed", failed, len(res.Outcomes)+len(res.CloneFailures)+len(res.Cloned)+len(res.AlreadyPresent))
			}
			return nil
		},
	}

	addLinkFlags(cmd)
	cmd.Flags().BoolVar(&withInpainting, "inpainting", false, "include inpainting variants of the selected model sets")
	return cmd
}

// addLinkFlags registers the link and catalog selection flags shared by
// fetch and resolve.
func addLinkFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&inlineLinks, "links", "", "comma separated link tokens of the form tag:url[Name.ext]")
	cmd.Flags().StringSliceVar(&linkFiles, "link-file", nil, "local link file, one link per line (repeatable)")
	cmd.Flags().StringSliceVar(&linkURLs, "link-url", nil, "remote link list URL (repeatable)")
	cmd.Flags().StringSliceVar(&modelNames, "models", nil, "catalog model sets to include, ALL for every set")
	cmd.Flags().StringSliceVar(&vaeNames, "vaes", nil, "catalog VAE sets to include, ALL for every set")
	cmd.Flags().StringSliceVar(&cnetNames, "controlnets", nil, "catalog ControlNet sets to include, ALL for every set")
	cmd.Flags().StringSliceVar(&loraNames, "loras", nil, "catalog LoRA sets to include, ALL for every set")
	cmd.Flags().StringVar(&catalogFile, "catalog", "", "external catalog file overriding the builtin one")
}

// gatherTokens expands the catalog selections and merges them with the
// direct link sources, dropping exact duplicates.
func gatherTokens(ctx context.Context) ([]string, error) {
	selections := []struct {
		kind  catalog.Kind
		names []string
	}{
		{catalog.KindModel, modelNames},
		{catalog.KindVAE, vaeNames},
		{catalog.KindControlNet, cnetNames},
		{catalog.KindLoRA, loraNames},
	}

	var tokens []string
	selected := false
	for _, s := range selections {
		if len(s.names) > 0 {
			selected = true
			break
		}
	}
	if selected {
		cat, err := loadCatalog()
		if err != nil {
			return nil, err
		}
		for _, s := range selections {
			ts, err := cat.Tokens(s.kind, s.names, withInpainting)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, ts...)
		}
	}

	collector := batch.NewCollector()
	tokens = append(tokens, collector.Collect(ctx, inlineLinks, linkFiles, linkURLs)...)
	return batch.Dedup(tokens), nil
}

func loadCatalog() (*catalog.Catalog, error) {
	if catalogFile != "" {
		return catalog.Load(catalogFile)
	}
	gen := catalog.GenerationSD15
	if useXL {
		gen = catalog.GenerationSDXL
	}
	return catalog.Builtin(gen)
}

// newOrchestrator wires the fetch strategies and the optional mirror
// from the effective configuration.
func newOrchestrator(cfg *config.Config) (*batch.Orchestrator, error) {
	retry := fetcher.RetryPolicy{Attempts: cfg.RetryAttempts, Delay: cfg.RetryDelayDuration()}

	generic := fetcher.NewGeneric(
		fetcher.WithRetryPolicy(retry),
		fetcher.WithHFToken(cfg.HFToken),
		fetcher.WithConnections(cfg.Connections),
		fetcher.WithPerHostRate(cfg.PerHostRate),
	)
	drive := fetcher.NewDrive(fetcher.WithDriveRetryPolicy(retry))
	marketplace := civitai.NewFetcher(
		civitai.NewClient(civitai.WithToken(cfg.CivitaiToken), civitai.WithRetry(retry)),
		civitai.WithSkipNSFWPreviews(cfg.SkipNSFWPreviews),
		civitai.WithDownloadRetry(retry),
	)

	opts := []batch.Option{
		batch.WithWorkers(cfg.Workers),
		batch.WithSelector(fetcher.NewSelector(generic, drive, marketplace)),
	}
	if cfg.Mirror.Enabled() {
		mirror, err := storage.NewMirror(
			storage.WithEndpoint(cfg.Mirror.Endpoint),
			storage.WithBucket(cfg.Mirror.Bucket),
			storage.WithAccessKey(cfg.Mirror.AccessKey),
			storage.WithSecretKey(cfg.Mirror.SecretKey),
			storage.WithSecure(cfg.Mirror.Secure),
			storage.WithPrefix(cfg.Mirror.Prefix),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, batch.WithMirror(mirror))
	}

	return batch.NewOrchestrator(cfg.Root, opts...), nil
}

type outcomeRow struct {
	Status string `json:"status"`
	Type   string `json:"type"`
	File   string `json:"file"`
	Size   string `json:"size"`
	Time   string `json:"time"`
	Error  string `json:"error"`
}

func printResult(res *batch.Result) {
	rows := make([]any, 0, len(res.Outcomes))
	for _, out := range res.Outcomes {
		row := outcomeRow{
			Status: string(out.Status),
			Type:   out.Route,
			File:   out.Filename,
			Size:   utils.BytesToSizedStr(out.Bytes),
			Time:   out.Duration.Round(time.Millisecond).String(),
		}
		if row.File == "" {
			row.File = out.Token
		}
		if out.Err != nil {
			row.Error = out.Err.Error()
		}
		rows = append(rows, row)
	}
	if len(rows) > 0 {
		printer.Print([]string{"status", "type", "file", "size", "time", "error"}, rows)
	}

	for _, name := range res.Cloned {
		fmt.Printf("cloned extension %s\n", name)
	}
	for _, name := range res.AlreadyPresent {
		fmt.Printf("extension %s already present\n", name)
	}
	for _, ce := range res.CloneFailures {
		fmt.Printf("extension clone failed: %s\n", ce)
	}
	fmt.Printf("finished in %s\n", res.Elapsed)
}
