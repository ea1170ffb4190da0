package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"tryon/internal/api"
	"tryon/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Browse and manage saved try-on results",
	}

	historyCmd.AddCommand(newHistoryListCommand(ctx, false))
	historyCmd.AddCommand(newHistoryListCommand(ctx, true))
	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	historyCmd.AddCommand(newHistoryFavoriteCommand(ctx, true))
	historyCmd.AddCommand(newHistoryFavoriteCommand(ctx, false))
	historyCmd.AddCommand(newHistoryDeleteCommand(ctx))
	historyCmd.AddCommand(newHistoryClearCommand(ctx))

	return historyCmd
}

func newHistoryListCommand(ctx *commandContext, favorites bool) *cobra.Command {
	var asJSON bool
	use, short := "list", "List saved results, newest first"
	if favorites {
		use, short = "favorites", "List favorite results, newest first"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(cache *history.Cache) error {
				var results []history.TryOnResult
				if favorites {
					if err := cache.LoadFavorites(cmd.Context()); err != nil {
						return err
					}
					results = cache.Favorites()
				} else {
					if err := cache.LoadHistory(cmd.Context()); err != nil {
						return err
					}
					results = cache.History()
				}
				if asJSON {
					return writeJSON(cmd, api.HistoryListResponse{Results: api.FromTryOnResults(results)})
				}
				out := cmd.OutOrStdout()
				if len(results) == 0 {
					if favorites {
						fmt.Fprintln(out, "No favorites")
					} else {
						fmt.Fprintln(out, "No saved results")
					}
					return nil
				}
				fmt.Fprint(out, renderTable(historyColumns(), buildHistoryRows(results)))
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one saved result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(cache *history.Cache) error {
				result, err := cache.Store().Get(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.HistoryItemResponse{Result: api.FromTryOnResult(*result)})
				}
				printHistoryDetail(cmd.OutOrStdout(), *result, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newHistoryFavoriteCommand(ctx *commandContext, favorite bool) *cobra.Command {
	use, short, verb := "favorite <id...>", "Mark results as favorites", "favorited"
	if !favorite {
		use, short, verb = "unfavorite <id...>", "Remove results from favorites", "unfavorited"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(cache *history.Cache) error {
				for _, id := range args {
					id = strings.TrimSpace(id)
					if err := cache.ToggleFavorite(cmd.Context(), id, favorite); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Result %s %s\n", id, verb)
				}
				return nil
			})
		},
	}
}

func newHistoryDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id...>",
		Short: "Delete saved results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(cache *history.Cache) error {
				for _, id := range args {
					id = strings.TrimSpace(id)
					if err := cache.Delete(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Result %s deleted\n", id)
				}
				return nil
			})
		},
	}
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every saved result, favorites included",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return errors.New("history clear deletes every saved result; rerun with --yes to confirm")
			}
			return ctx.withHistory(func(cache *history.Cache) error {
				if err := cache.ClearAll(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&confirmed, "yes", "y", false, "Confirm deletion")
	return cmd
}

func historyColumns() []column {
	return []column{
		left("ID"),
		left("Garment"),
		left("Favorite"),
		left("Created"),
		urlColumn("Result"),
	}
}

func buildHistoryRows(results []history.TryOnResult) [][]string {
	rows := make([][]string, 0, len(results))
	for _, result := range results {
		rows = append(rows, []string{
			result.ID,
			garmentLabel(result.GarmentType),
			yesNo(result.IsFavorite),
			formatLocalTime(result.CreatedAt),
			orDash(result.ResultImageURL),
		})
	}
	return rows
}

func printHistoryDetail(out io.Writer, result history.TryOnResult, colorize bool) {
	for _, line := range renderSectionHeader("Result "+result.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fields := [][2]string{
		{"Garment", garmentLabel(result.GarmentType)},
		{"Favorite", yesNo(result.IsFavorite)},
		{"Person image", truncateURL(result.PersonImageURL)},
		{"Garment image", truncateURL(result.GarmentImageURL)},
		{"Result", orDash(result.ResultImageURL)},
		{"Created", formatLocalTime(result.CreatedAt)},
	}
	if model, ok := result.Metadata["model"].(string); ok {
		fields = append(fields, [2]string{"Model", model})
	}
	for _, field := range fields {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, field[0]+":", field[1])
	}
}
