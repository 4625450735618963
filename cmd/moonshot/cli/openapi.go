package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moonshotdigital/moonshot/internal/openapi"
)

func newOpenAPICmd(version string) *cobra.Command {
	var (
		baseURL    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI document of the admin API",
		Example: `  moonshot openapi                                  # print to stdout
  moonshot openapi --base-url https://api.example.com -o openapi.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpenAPI(cmd, version, baseURL, outputFile)
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:5174", "Server URL advertised in the document")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the document to a file instead of stdout")

	return cmd
}

func runOpenAPI(cmd *cobra.Command, version, baseURL, outputFile string) error {
	doc := openapi.GenerateAdminSpec(baseURL, version)
	if err := doc.Validate(cmd.Context()); err != nil {
		return fmt.Errorf("generated document is invalid: %w", err)
	}

	jsonBytes, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	jsonBytes = append(jsonBytes, '\n')

	if outputFile == "" {
		_, err := cmd.OutOrStdout().Write(jsonBytes)
		return err
	}
	if err := os.WriteFile(outputFile, jsonBytes, 0644); err != nil {
		return fmt.Errorf("write %s: %w", outputFile, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", outputFile)
	return nil
}
