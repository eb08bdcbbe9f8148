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
	"strings"

	"github.com/spf13/cobra"

	"github.com/kubeagi/modelfetch/mfctl/printer"
	"github.com/kubeagi/modelfetch/pkg/route"
)

func NewRouteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route [usage]",
		Short: "Inspect the link routing table",
	}

	cmd.AddCommand(RouteListCmd())

	return cmd
}

type routeRow struct {
	Symbol  string `json:"symbol"`
	Tag     string `json:"tag"`
	Aliases string `json:"aliases"`
	Subdir  string `json:"subdir"`
}

// RouteListCmd returns a Cobra command for listing link tags and the
// directories they route to.
func RouteListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [usage]",
		Short: "List link tags and their destination directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			table := route.Default()
			rows := make([]any, 0)
			for _, r := range table.Routes() {
				subdir := r.Subdir
				if subdir == "" {
					subdir = "."
				}
				rows = append(rows, routeRow{
					Symbol:  r.Symbol,
					Tag:     r.Tag,
					Aliases: strings.Join(table.Aliases(r.Tag), ", "),
					Subdir:  subdir,
				})
			}
			printer.Print([]string{"symbol", "tag", "aliases", "subdir"}, rows)
			return nil
		},
	}

	return cmd
}
