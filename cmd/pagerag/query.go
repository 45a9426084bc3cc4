package main

import (
	"os"
	"strings"

	"github.com/hyperjump/pagerag/internal/cli"
	"github.com/hyperjump/pagerag/internal/models"
	ragerr "github.com/hyperjump/pagerag/pkg/errors"
	"github.com/spf13/cobra"
)

// buildQuery joins positional args; multi-word queries work with or without quotes.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func newQueryCommand(opts *globalOptions) *cobra.Command {
	var (
		k         int
		jsonOut   bool
		noAnswer  bool
		serverURL string
		apiKey    string
	)
	cmd := &cobra.Command{
		Use:   "query <text>...",
		Short: "Retrieve the nearest text and page images and answer the question",
		Example: `  pagerag query what was the revenue in 2023
  pagerag query "quarterly revenue chart" -k 10 --no-answer
  pagerag query --server http://localhost:8080 revenue`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := buildQuery(args)
			if text == "" {
				return ragerr.New(ragerr.CodeSearchQueryInvalid, "query must not be empty")
			}
			include := !noAnswer
			req := &models.QueryRequest{Query: text, K: k, IncludeAnswer: &include}

			format := cli.OutputText
			if jsonOut {
				format = cli.OutputJSON
			}
			markdown := cli.IsTerminal(os.Stdout)

			if serverURL != "" {
				client := newAPIClient(serverURL, apiKeyOrEnv(apiKey))
				resp := &models.QueryResponse{}
				if err := client.do(cmd.Context(), "POST", "/api/v1/query", req, resp); err != nil {
					return err
				}
				return cli.WriteQueryResponse(cmd.OutOrStdout(), resp, format, markdown)
			}

			cfg, logger, err := setup(opts, true)
			if err != nil {
				return err
			}
			defer logger.Sync()
			components, err := initializeComponents(cmd.Context(), cfg, logger, needs{embedder: true, generator: include})
			if err != nil {
				return err
			}
			defer components.Close()

			resp, err := components.Engine.Query(cmd.Context(), scopeFor(opts, cfg), req)
			if err != nil {
				return err
			}
			return cli.WriteQueryResponse(cmd.OutOrStdout(), resp, format, markdown)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&k, "k", "k", 0, "number of results (defaults to search.default_k)")
	f.BoolVar(&jsonOut, "json", false, "output the response as JSON")
	f.BoolVar(&noAnswer, "no-answer", false, "skip answer generation")
	f.StringVar(&serverURL, "server", "", "query a running server at this base URL instead of the local index")
	f.StringVar(&apiKey, "api-key", "", "API key for --server (defaults to $PAGERAG_API_KEY)")
	return cmd
}
