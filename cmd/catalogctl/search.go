package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/retail-agent/backend/internal/catalog"
	"github.com/retail-agent/backend/internal/search"
)

var (
	searchKind     string
	searchTenant   string
	searchTerms    []string
	searchMinPrice float64
	searchMaxPrice float64
	searchOffset   int
	searchQuery    string
	searchThread   string
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search a tenant's catalog like the chat agent does",
	Example: `  catalogctl search --kind product --tenant shop-1 --term model="iPhone 12" --max-price 15000000
  catalogctl search --kind service --tenant shop-1 --term product_name="iPhone 12" --thread t-42`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchKind, "kind", "", "catalog kind (required)")
	searchCmd.Flags().StringVar(&searchTenant, "tenant", "", "customer id of the shop (required)")
	searchCmd.Flags().StringArrayVar(&searchTerms, "term", nil, "criterion as name=value, repeatable")
	searchCmd.Flags().Float64Var(&searchMinPrice, "min-price", 0, "lower price bound")
	searchCmd.Flags().Float64Var(&searchMaxPrice, "max-price", 0, "upper price bound")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "result offset")
	searchCmd.Flags().StringVar(&searchQuery, "query", "", "literal user utterance for the relevance filter")
	searchCmd.Flags().StringVar(&searchThread, "thread", "", "conversation id used for the wholesale lookup")
	_ = searchCmd.MarkFlagRequired("kind")
	_ = searchCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(searchCmd)
}

func parseTerms(raw []string) (map[string]string, error) {
	terms := make(map[string]string, len(raw))
	for _, t := range raw {
		name, value, ok := strings.Cut(t, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid --term %q, expected name=value", t)
		}
		terms[strings.TrimSpace(name)] = value
	}
	return terms, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	kind, err := catalog.ParseKind(searchKind)
	if err != nil {
		return err
	}
	terms, err := parseTerms(searchTerms)
	if err != nil {
		return err
	}

	criteria := search.Criteria{
		Terms:         terms,
		Offset:        searchOffset,
		OriginalQuery: searchQuery,
		ThreadID:      searchThread,
	}
	if cmd.Flags().Changed("min-price") {
		criteria.MinPrice = &searchMinPrice
	}
	if cmd.Flags().Changed("max-price") {
		criteria.MaxPrice = &searchMaxPrice
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	app, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	resp := app.Search.Search(ctx, search.Request{Kind: kind, TenantID: searchTenant, Criteria: criteria})
	if resp.Err() != nil {
		return resp.Err()
	}

	header := color.New(color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	for i, item := range resp.Items {
		fmt.Fprintln(cmd.OutOrStdout(), header(fmt.Sprintf("#%d", searchOffset+i+1)))
		fmt.Fprintln(cmd.OutOrStdout(), item)
		fmt.Fprintln(cmd.OutOrStdout())
	}

	var notes []string
	if resp.Fallback {
		notes = append(notes, "fuzzy fallback")
	}
	if resp.Filtered {
		notes = append(notes, "relevance filtered")
	}
	if resp.Wholesale {
		notes = append(notes, "wholesale prices")
	}
	summary := fmt.Sprintf("%d shown, %d matched", resp.Count, resp.Total)
	if len(notes) > 0 {
		summary += " (" + strings.Join(notes, ", ") + ")"
	}
	fmt.Fprintln(cmd.OutOrStdout(), dim(summary))
	return nil
}
