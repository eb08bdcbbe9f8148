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
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/kubeagi/modelfetch/mfctl/printer"
	"github.com/kubeagi/modelfetch/pkg/fetcher"
	"github.com/kubeagi/modelfetch/pkg/link"
	"github.com/kubeagi/modelfetch/pkg/route"
)

type planRow struct {
	Symbol   string `json:"symbol"`
	Tag      string `json:"tag"`
	Strategy string `json:"strategy"`
	File     string `json:"file"`
	Dest     string `json:"dest"`
}

// NewResolveCmd returns a Cobra command that prints where every link
// would land without downloading anything.
func NewResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [usage]",
		Short: "Resolve links into a download plan without fetching anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			tokens, err := gatherTokens(cmd.Context())
			if err != nil {
				return err
			}
			if len(tokens) == 0 {
				return errors.New("nothing to resolve, pass --links or a catalog selection")
			}

			table := route.Default()
			rows := make([]any, 0, len(tokens))
			provisional := false
			for _, token := range tokens {
				req, err := link.Parse(token)
				if err != nil {
					if errors.Is(err, link.ErrEmptyLink) {
						continue
					}
					fmt.Printf("rejected %q: %s\n", token, err)
					continue
				}
				l := fetcher.Resolve(req, table, cfg.Root)
				file := l.Filename
				if l.Provisional {
					file += " *"
					provisional = true
				}
				rows = append(rows, planRow{
					Symbol:   l.Route.Symbol,
					Tag:      l.Route.Tag,
					Strategy: string(l.Kind),
					File:     file,
					Dest:     l.DestDir,
				})
			}

			printer.Print([]string{"symbol", "tag", "strategy", "file", "dest"}, rows)
			if provisional {
				fmt.Println("* name assigned after metadata lookup")
			}
			return nil
		},
	}

	addLinkFlags(cmd)
	cmd.Flags().BoolVar(&withInpainting, "inpainting", false, "include inpainting variants of the selected model sets")
	return cmd
}
