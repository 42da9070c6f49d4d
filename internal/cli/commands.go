package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"woolies-preferences/internal/app"
	"woolies-preferences/internal/core/resolution"
	"woolies-preferences/internal/core/shopping"
	"woolies-preferences/internal/pkg/common"

	"github.com/spf13/cobra"
)

func newSetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set <ingredient> <stockcode>",
		Short: "Set the primary product for an ingredient",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := parseStockcode(args[1])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				reply, err := a.Manager.SetPrimary(ctx, opts.user, args[0], code)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), reply, reply.Message)
			})
		},
	}
}

func newFallbacksCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "fallbacks <ingredient> [stockcode...]",
		Short: "Replace the ordered fallback list (no codes clears it)",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codes := make([]int64, 0, len(args)-1)
			for _, raw := range args[1:] {
				code, err := parseStockcode(raw)
				if err != nil {
					return err
				}
				codes = append(codes, code)
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				reply, err := a.Manager.SetFallbacks(ctx, opts.user, args[0], codes)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), reply, reply.Message)
			})
		},
	}
}

func newAddFallbackCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "add-fallback <ingredient> <stockcode>",
		Short: "Append one fallback product",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := parseStockcode(args[1])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				reply, err := a.Manager.AddFallback(ctx, opts.user, args[0], code)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), reply, reply.Message)
			})
		},
	}
}

func newListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved preferences in the order they were added",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				records, err := a.Manager.ListPreferences(ctx, opts.user)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					return opts.print(cmd.OutOrStdout(), records, "no preferences saved")
				}

				var b strings.Builder
				for i, rec := range records {
					if i > 0 {
						b.WriteByte('\n')
					}
					fmt.Fprintf(&b, "%s: %s (%d)", rec.OriginalName, rec.ProductName, rec.PrimaryStockcode)
					if len(rec.FallbackStockcodes) > 0 {
						fmt.Fprintf(&b, " fallbacks %s", joinCodes(rec.FallbackStockcodes))
					}
					fmt.Fprintf(&b, " used %d time(s)", rec.UseCount)
				}
				return opts.print(cmd.OutOrStdout(), records, b.String())
			})
		},
	}
}

func newRemoveCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <ingredient>",
		Short: "Remove the preference for an ingredient",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				reply, err := a.Manager.RemovePreference(ctx, opts.user, args[0])
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), reply, reply.Message)
			})
		},
	}
}

func newResolveCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <ingredient>...",
		Short: "Resolve ingredients through the preference chain",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				results, err := a.Pool.ResolveAll(ctx, a.Manager.User(opts.user), args)
				if err != nil {
					return err
				}
				lines := make([]string, len(results))
				for i, res := range results {
					lines[i] = describeResult(res)
				}
				return opts.print(cmd.OutOrStdout(), results, strings.Join(lines, "\n"))
			})
		},
	}
}

func newMatchCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "match [file]",
		Short: "Match a shopping list (JSON, from a file or stdin) against preferences and search",
		Args:  maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return usageError{msg: err.Error()}
				}
				defer f.Close()
				in = f
			}

			var list struct {
				Items []shopping.ListItem `json:"items"`
			}
			if err := common.DecodeJSONStrict(in, &list); err != nil {
				return usageError{msg: fmt.Sprintf("invalid shopping list: %v", err)}
			}
			if len(list.Items) == 0 {
				return usageError{msg: "shopping list has no items"}
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Matcher.Match(ctx, a.Manager.User(opts.user), list.Items)
				if err != nil {
					return err
				}

				var b strings.Builder
				for _, item := range report.Matched {
					fmt.Fprintf(&b, "%s: %s (%d) $%.2f [%s]\n", item.Ingredient, item.DisplayName, item.Stockcode, item.Price, item.Source)
				}
				for _, item := range report.Unmatched {
					fmt.Fprintf(&b, "%s: unmatched (%s)\n", item.Ingredient, item.Reason)
				}
				fmt.Fprintf(&b, "matched %d of %d, estimated $%.2f", report.TotalMatched, report.TotalItems, report.EstimatedCost)
				return opts.print(cmd.OutOrStdout(), report, b.String())
			})
		},
	}
}

func describeResult(res resolution.Result) string {
	if res.IsHit() {
		return fmt.Sprintf("%s: %s (%d) $%.2f [%s]",
			res.Ingredient, res.Hit.DisplayName, res.Hit.Stockcode, res.Hit.Price, res.Hit.Source)
	}
	return fmt.Sprintf("%s: deferred (%s)", res.Ingredient, res.Deferred)
}

func parseStockcode(raw string) (int64, error) {
	code, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || code <= 0 {
		return 0, usageError{msg: fmt.Sprintf("invalid stockcode %q", raw)}
	}
	return code, nil
}

func joinCodes(codes []int64) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = strconv.FormatInt(c, 10)
	}
	return strings.Join(parts, ", ")
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError{msg: fmt.Sprintf("%s expects %d argument(s), got %d", cmd.Name(), n, len(args))}
		}
		return nil
	}
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > n {
			return usageError{msg: fmt.Sprintf("%s expects at most %d argument(s), got %d", cmd.Name(), n, len(args))}
		}
		return nil
	}
}

func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return usageError{msg: fmt.Sprintf("%s expects at least %d argument(s), got %d", cmd.Name(), n, len(args))}
		}
		return nil
	}
}
