// Package cli 提供管理偏好商品的命令列工具
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"woolies-preferences/internal/app"
	"woolies-preferences/internal/infrastructure/config"
	"woolies-preferences/internal/pkg/common"

	"github.com/spf13/cobra"
)

// 結束代碼
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// Opener 建立命令使用的應用元件
type Opener func(ctx context.Context) (*app.App, error)

type options struct {
	user string
	json bool
	open Opener
}

// OpenFromEnv 依環境變數與 .env 組裝元件；CLI 只輸出警告以上的日誌
func OpenFromEnv(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := common.InitLogger(common.LogOptions{Level: "warn", Mode: cfg.Log.Mode, Service: "prefctl"}); err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

// NewRootCommand 建立根命令
func NewRootCommand(open Opener) *cobra.Command {
	opts := &options{open: open}

	root := &cobra.Command{
		Use:   "prefctl",
		Short: "Manage preferred Woolworths products per ingredient",
		Long: "prefctl stores a preferred product and ordered fallbacks for each ingredient,\n" +
			"and resolves ingredients against the live catalog the same way the API does.",
		Example: `  prefctl set "chicken breast" 123456
  prefctl fallbacks milk 888 999
  prefctl add-fallback milk 777
  prefctl list --user alice --json
  prefctl resolve "Chicken Breasts" milk
  prefctl match list.json`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.user, "user", "u", "", "User id (defaults to the configured default user)")
	pf.BoolVar(&opts.json, "json", false, "Output as JSON")

	root.AddCommand(
		newSetCommand(opts),
		newFallbacksCommand(opts),
		newAddFallbackCommand(opts),
		newListCommand(opts),
		newRemoveCommand(opts),
		newResolveCommand(opts),
		newMatchCommand(opts),
	)
	return root
}

// Execute 執行命令並回傳結束代碼
func Execute(args []string, stdout, stderr io.Writer) int {
	return run(OpenFromEnv, args, stdout, stderr)
}

func run(open Opener, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(open)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		var usage usageError
		if errors.As(err, &usage) {
			return ExitUsage
		}
		return ExitFailure
	}
	return ExitSuccess
}

// Main 供 cmd/prefctl 使用
func Main() {
	os.Exit(Execute(os.Args[1:], os.Stdout, os.Stderr))
}

// usageError 參數錯誤
type usageError struct {
	msg string
}

func (e usageError) Error() string { return e.msg }

// withApp 開啟元件、執行動作後關閉
func (o *options) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := o.open(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		_ = a.Close()
	}()
	return fn(ctx, a)
}

// print 輸出結果；JSON 模式輸出 v，否則輸出 text
func (o *options) print(w io.Writer, v interface{}, text string) error {
	if o.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
