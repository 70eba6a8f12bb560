// Package cli 实现 ragctl 命令行工具。
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docchat-go/internal/app"
	"docchat-go/internal/config"
	"docchat-go/pkg/database"
	"docchat-go/pkg/log"
)

var (
	cfgFile string
	verbose bool

	// application 在第一个子命令执行前组装，测试中可预先注入。
	application *app.App
	loadApp     = defaultLoadApp
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Manage and query the document knowledge base",
	Long: `ragctl ingests documents into the knowledge base and answers questions
from them without running the HTTP server. It reads the same configuration
file as the server and falls back to a local sqlite + in-memory index setup
when the file does not exist.`,
	SilenceUsage:      true,
	PersistentPreRunE: ensureApp,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "./configs/config.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "write service logs to stdout")
}

// Execute 运行根命令。
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func ensureApp(cmd *cobra.Command, args []string) error {
	if application != nil {
		return nil
	}
	a, err := loadApp(cmd.Context(), cfgFile)
	if err != nil {
		return err
	}
	application = a
	return nil
}

func defaultLoadApp(ctx context.Context, path string) (*app.App, error) {
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}
	if verbose {
		log.Init(cfg.Log.Level, cfg.Log.Format, "")
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	// 命令行总是同步入库，结果在命令返回前可见
	a, err := app.New(ctx, cfg, db, nil, app.Options{})
	if err != nil {
		return nil, err
	}
	// 默认配置下索引在内存中，每次启动都要从已保存的文档重建
	_, _ = a.Reconcile(ctx)
	return a, nil
}
