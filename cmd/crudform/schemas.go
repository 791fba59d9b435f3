package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-crudform/pkg/entity"
	"github.com/goliatone/go-crudform/pkg/schema"
)

func schemasCommand(a *app) *cobra.Command {
	var (
		openAPIPath string
		asYAML      bool
	)
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "List the registered entity schemas",
		Long:  "List the configured entity schemas, or convert the x-entity components of an OpenAPI document with --openapi. --yaml prints a descriptor document usable as schemas.dir input.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				registry *schema.Registry
				err      error
			)
			if openAPIPath != "" {
				raw, rerr := os.ReadFile(openAPIPath)
				if rerr != nil {
					return rerr
				}
				registry, err = schema.FromOpenAPI(cmd.Context(), raw)
			} else {
				registry, err = a.schemas()
			}
			if err != nil {
				return err
			}

			var schemas []entity.Schema
			for _, kind := range registry.Kinds() {
				s, err := registry.Schema(kind)
				if err != nil {
					return err
				}
				schemas = append(schemas, s)
			}

			out := cmd.OutOrStdout()
			if asYAML {
				data, err := schema.MarshalYAML(schemas...)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tROUTE\tEDITABLE\tREFERENCES")
			for _, s := range schemas {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", s.Kind, s.ListPath(), len(s.EditableFields()), len(s.ReferenceFields()))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&openAPIPath, "openapi", "", "Convert schemas from an OpenAPI 3 document instead")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print schemas as a YAML descriptor document")
	return cmd
}
