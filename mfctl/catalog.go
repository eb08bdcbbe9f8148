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
	"github.com/spf13/cobra"

	"github.com/kubeagi/modelfetch/mfctl/printer"
	"github.com/kubeagi/modelfetch/pkg/catalog"
)

func NewCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog [usage]",
		Short: "Inspect the artifact catalogs",
	}

	cmd.AddCommand(CatalogListCmd())

	return cmd
}

type catalogRow struct {
	Section string `json:"section"`
	Name    string `json:"name"`
	Files   int    `json:"files"`
}

// CatalogListCmd returns a Cobra command for listing catalog sets.
func CatalogListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [usage]",
		Short: "List the named sets of the selected catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog()
			if err != nil {
				return err
			}

			var rows []any
			for _, kind := range catalog.Kinds() {
				sec, err := cat.Section(kind)
				if err != nil {
					return err
				}
				for _, name := range cat.Names(kind) {
					rows = append(rows, catalogRow{Section: string(kind), Name: name, Files: len(sec[name])})
				}
			}
			printer.Print([]string{"section", "name", "files"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogFile, "catalog", "", "external catalog file overriding the builtin one")

	return cmd
}
