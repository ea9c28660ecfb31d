// ---
// internal/interfaces/cli/root.go
// CLI 根命令定义与全局初始化。
//
// 功能定位：lexextract 命令行入口，负责全局 Flag 注册、配置加载、日志初始化、子命令挂载。
// 核心实现：
//   - RootOptions（ConfigPath/LogLevel/OutputFormat/Verbose/NoColor/Timeout/ServerAddr）
//   - CLIContext（Config/Logger/Client/OutputFormat/Verbose/NoColor）
//   - NewRootCommand：注册 PersistentFlags 与 extract/patterns/serve/worker/version 子命令
//   - PrintResult/PrintError/PrintSuccess/FormatTable 输出辅助
// 配置搜索顺序：--config → ./lexextract.yaml → ./configs/lexextract.yaml →
// ~/.lexextract/config.yaml → /etc/lexextract/config.yaml → 仅环境变量。
// ---
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/turtacn/LexExtract-Intelligence/internal/config"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/pkg/client"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

type cliContextKey struct{}

// skipInit marks commands that run without configuration.
const skipInit = "lexextract/skip-init"

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Verbose      bool
	NoColor      bool
	Timeout      time.Duration
	ServerAddr   string
}

// CLIContext carries initialized dependencies through the command tree.
// Client is set only when --server is given; commands then talk to a running
// server instead of extracting in-process.
type CLIContext struct {
	Config       *config.Config
	ConfigPath   string
	Logger       logging.Logger
	Client       *client.Client
	OutputFormat string
	Verbose      bool
	NoColor      bool
	Timeout      time.Duration
}

// NewRootCommand creates the root command with all global flags and
// subcommands.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "lexextract",
		Short: "LexExtract: hybrid legal entity extraction",
		Long: "LexExtract finds legal entities (citations, statutes, courts, parties, dates)\n" +
			"in documents with a jurisdiction-aware pattern library, optionally refined\n" +
			"by a model backend, and degrades to rules-only when the backend is unavailable.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./lexextract.yaml)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", "text", "output format (text, json, table)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable verbose output")
	pf.BoolVar(&opts.NoColor, "no-color", false, "disable colored output")
	pf.DurationVar(&opts.Timeout, "timeout", 60*time.Second, "global operation timeout")
	pf.StringVar(&opts.ServerAddr, "server", "", "use a running LexExtract server at this address")

	cmd.AddCommand(
		NewExtractCommand(),
		NewPatternsCommand(),
		NewServeCommand(),
		NewWorkerCommand(),
		NewVersionCommand(),
	)
	return cmd
}

// persistentPreRun initializes config, logger and client, then stores the
// CLIContext on the command.
func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	switch strings.ToLower(opts.OutputFormat) {
	case "text", "json", "table":
	default:
		return errors.New(errors.ErrCodeValidation, "invalid output format").WithDetail(opts.OutputFormat)
	}
	if opts.NoColor {
		color.NoColor = true
	}

	cliCtx := &CLIContext{
		OutputFormat: strings.ToLower(opts.OutputFormat),
		Verbose:      opts.Verbose,
		NoColor:      color.NoColor,
		Timeout:      opts.Timeout,
	}
	if _, skip := cmd.Annotations[skipInit]; !skip {
		path, err := resolveConfigPath(opts.ConfigPath)
		if err != nil {
			return err
		}
		cfg, err := config.LoadOrDefault(path)
		if err != nil {
			return fmt.Errorf("config initialization failed: %w", err)
		}
		logger, err := initLogger(cmd, cfg, opts)
		if err != nil {
			return fmt.Errorf("logger initialization failed: %w", err)
		}
		cliCtx.Config, cliCtx.ConfigPath, cliCtx.Logger = cfg, path, logger

		if opts.ServerAddr != "" {
			c, err := client.NewClient(opts.ServerAddr, os.Getenv("LEXEXTRACT_API_KEY"), client.WithTimeout(opts.Timeout))
			if err != nil {
				return err
			}
			cliCtx.Client = c
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cliCtx))
	return nil
}

// resolveConfigPath returns the explicit path, the first default location
// that exists, or "" for environment-only configuration.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", errors.Wrap(err, errors.ErrCodeNotFound, "config file not found").WithDetail(explicit)
		}
		return explicit, nil
	}
	candidates := []string{"./lexextract.yaml", "./configs/lexextract.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".lexextract", "config.yaml"))
	}
	candidates = append(candidates, "/etc/lexextract/config.yaml")
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// initLogger builds the logger. Long-running commands log as configured; the
// others write human-readable lines to stderr so stdout stays parseable.
func initLogger(cmd *cobra.Command, cfg *config.Config, opts *RootOptions) (logging.Logger, error) {
	logCfg := cfg.Log
	if _, daemon := cmd.Annotations[daemonCommand]; !daemon {
		logCfg = logging.LogConfig{
			Level:            logging.LevelWarn,
			Format:           "console",
			OutputPaths:      []string{"stderr"},
			ErrorOutputPaths: []string{"stderr"},
		}
	}
	if opts.LogLevel != "" {
		logCfg.Level = opts.LogLevel
	}
	if opts.Verbose {
		logCfg.Level = logging.LevelDebug
	}
	return logging.NewLogger(logCfg)
}

// daemonCommand marks serve and worker.
const daemonCommand = "lexextract/daemon"

// GetCLIContext extracts CLIContext from a command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.New(errors.ErrCodeInternal, "command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.New(errors.ErrCodeInternal, "CLIContext not found in command context")
	}
	return cliCtx, nil
}

// Execute is the main entry point for the CLI application.
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// tableProvider is implemented by results that render as a table.
type tableProvider interface {
	TableHeaders() []string
	TableRows() [][]string
}

// PrintResult outputs data in the format selected by --output.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	format := "json"
	if cliCtx, err := GetCLIContext(cmd); err == nil {
		format = cliCtx.OutputFormat
	}
	switch format {
	case "json":
		return printJSON(cmd, data)
	case "table":
		if tp, ok := data.(tableProvider); ok {
			fmt.Fprint(cmd.OutOrStdout(), FormatTable(tp.TableHeaders(), tp.TableRows()))
			return nil
		}
		return printText(cmd, data)
	default:
		return printText(cmd, data)
	}
}

func printJSON(cmd *cobra.Command, data interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printText(cmd *cobra.Command, data interface{}) error {
	switch v := data.(type) {
	case string:
		fmt.Fprintln(cmd.OutOrStdout(), v)
	case fmt.Stringer:
		fmt.Fprint(cmd.OutOrStdout(), v.String())
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", v)
	}
	return nil
}

// PrintError writes a formatted error message to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", color.RedString("Error:"), err.Error())
}

// PrintSuccess writes a formatted success message to stdout.
func PrintSuccess(cmd *cobra.Command, msg string) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("OK:"), msg)
}

// FormatTable renders headers and rows as a borderless table.
func FormatTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	table.SetColumnSeparator(" ")
	for _, row := range rows {
		padded := make([]string, len(headers))
		copy(padded, row)
		table.Append(padded)
	}
	table.Render()
	return sb.String()
}

// truncate shortens s to n runes, marking the cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

//Personal.AI order the ending
