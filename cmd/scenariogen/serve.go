package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/scenariogen/internal/mcp"
	"github.com/dshills/scenariogen/internal/searcher"
	"github.com/dshills/scenariogen/pkg/types"
)

var (
	searchLimit int
	searchMode  string
	searchKinds []string
	searchNS    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve symbol search and pipeline tools over MCP (stdio)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var searchCmd = &cobra.Command{
	Use:   "search TARGET QUERY...",
	Short: "Search the declarations of a target",
	Long: `Rank the classes, functions and aliases of an indexed target against a
free-text query. Hybrid mode fuses embedding similarity with name matching
and falls back to name matching when the target has no embeddings.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum results (default from config)")
	searchCmd.Flags().StringVar(&searchMode, "mode", string(searcher.SearchModeHybrid), "hybrid, vector or keyword")
	searchCmd.Flags().StringSliceVar(&searchKinds, "kind", nil, "restrict to entity kinds: type, function, alias")
	searchCmd.Flags().StringVar(&searchNS, "namespace", "", "restrict to qualified names with this prefix")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := mcp.NewServer(mcp.Options{
		Storage:  a.storage,
		Searcher: a.searcher(),
		Pipeline: a.pipeline,
		Targets:  cfg.ResolveTargets,
		Version:  version,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	logger.Info("starting MCP server",
		zap.String("version", version),
		zap.String("transport", "stdio"))
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down MCP server")
		return nil
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	limit := searchLimit
	if limit <= 0 {
		limit = cfg.Search.Limit
	}
	req := searcher.SearchRequest{
		Target:   args[0],
		Query:    strings.Join(args[1:], " "),
		Limit:    limit,
		Mode:     searcher.SearchMode(searchMode),
		UseCache: true,
	}
	if len(searchKinds) > 0 || searchNS != "" {
		req.Filters = &searcher.SearchFilters{NamespacePrefix: searchNS}
		for _, k := range searchKinds {
			req.Filters.Kinds = append(req.Filters.Kinds, types.EntityKind(k))
		}
	}

	resp, err := a.searcher().Search(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(resp.Results) == 0 {
		fmt.Fprintf(out, "no matches for %q in %s\n", req.Query, req.Target)
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSCORE\tKIND\tNAME\tLOCATION")
	for _, r := range resp.Results {
		fmt.Fprintf(tw, "%d\t%.3f\t%s\t%s\t%s:%d\n",
			r.Rank, r.RelevanceScore, r.Entity.Kind, r.Entity.QualifiedName, r.Entity.File, r.Entity.Line)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d result(s), %s search in %s\n", resp.TotalResults, resp.SearchMode, resp.Duration)
	return nil
}
