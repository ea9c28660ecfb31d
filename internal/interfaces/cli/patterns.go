package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/LexExtract-Intelligence/internal/application/extraction"
	"github.com/turtacn/LexExtract-Intelligence/internal/config"
	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/patterns"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/pipeline"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

// NewPatternsCommand groups the pattern library commands.
func NewPatternsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Validate and inspect pattern catalogs",
	}
	cmd.AddCommand(newPatternsCheckCommand(), newPatternsListCommand())
	return cmd
}

func newPatternsCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check [paths...]",
		Short: "Compile catalogs and report every rejected pattern",
		Long: "Loads catalogs exactly as the server would and lists each pattern that fails\n" +
			"parsing, compilation, complexity limits or its own examples. Exits non-zero\n" +
			"when anything is rejected. Without arguments the configured paths are checked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			paths := args
			if len(paths) == 0 {
				paths = cliCtx.Config.Patterns.Paths()
			}
			report, err := checkCatalogs(cliCtx.Config, cliCtx.Logger, paths)
			if err != nil {
				return err
			}
			if err := PrintResult(cmd, report); err != nil {
				return err
			}
			if len(report.Errors) > 0 {
				return errors.New(errors.ErrCodePatternLoad, "catalog check failed").
					WithDetail(fmt.Sprintf("%d rejected", len(report.Errors)))
			}
			return nil
		},
	}
}

// checkReport is the outcome of compiling a set of catalogs.
type checkReport struct {
	Stats  patterns.Stats       `json:"stats"`
	Errors []patterns.LoadError `json:"errors"`

	lib *patterns.Library
}

func checkCatalogs(cfg *config.Config, logger logging.Logger, paths []string) (*checkReport, error) {
	if len(paths) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "no catalog paths given")
	}
	sources, err := patterns.FromPaths(paths...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePatternLoad, "read catalogs")
	}
	lib, loadErrs := patterns.Load(sources,
		patterns.WithLogger(logger),
		patterns.WithComplexityLimits(cfg.Patterns.Complexity),
	)
	return &checkReport{Stats: lib.Stats(), Errors: loadErrs, lib: lib}, nil
}

func (r *checkReport) TableHeaders() []string {
	return []string{"Source", "Pattern", "Kind", "Message"}
}

func (r *checkReport) TableRows() [][]string {
	rows := make([][]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		rows = append(rows, []string{e.Source, e.PatternID, color.RedString(string(e.Kind)), truncate(e.Message, 80)})
	}
	return rows
}

func (r *checkReport) String() string {
	var sb strings.Builder
	for _, e := range r.Errors {
		fmt.Fprintf(&sb, "%s %s\n", color.RedString("rejected"), e.Error())
	}
	status := color.GreenString("ok")
	if len(r.Errors) > 0 {
		status = color.RedString("failed")
	}
	fmt.Fprintf(&sb, "%s: %d patterns from %d sources, %d rejected\n",
		status, r.Stats.Patterns, r.Stats.Sources, len(r.Errors))
	return sb.String()
}

type listFlags struct {
	jurisdiction string
	entityType   string
}

func newPatternsListCommand() *cobra.Command {
	f := &listFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the active patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			var et common.EntityType
			if f.entityType != "" {
				parsed, ok := common.ParseEntityType(f.entityType)
				if !ok {
					return errors.New(errors.ErrCodeValidation, "unknown entity type").WithDetail(f.entityType)
				}
				et = parsed
			}

			var stats *extraction.PatternStats
			if cliCtx.Client != nil {
				ctx, cancel := context.WithTimeout(cmd.Context(), cliCtx.Timeout)
				defer cancel()
				remote, err := cliCtx.Client.Patterns(ctx, f.jurisdiction, string(et))
				if err != nil {
					return err
				}
				if stats, err = convertStats(remote); err != nil {
					return err
				}
			} else {
				if stats, err = listLocal(cliCtx, f.jurisdiction, et); err != nil {
					return err
				}
			}
			return PrintResult(cmd, &statsView{stats})
		},
	}
	cmd.Flags().StringVarP(&f.jurisdiction, "jurisdiction", "j", "", "only patterns for this jurisdiction")
	cmd.Flags().StringVar(&f.entityType, "entity-type", "", "only patterns producing this entity type")
	return cmd
}

// listLocal loads the configured catalogs and summarises them through the
// same service method the HTTP endpoint uses.
func listLocal(cliCtx *CLIContext, jurisdiction string, et common.EntityType) (*extraction.PatternStats, error) {
	report, err := checkCatalogs(cliCtx.Config, cliCtx.Logger, cliCtx.Config.Patterns.Paths())
	if err != nil {
		return nil, err
	}
	lib := report.lib
	if lib.Len() == 0 {
		return nil, errors.New(errors.ErrCodePatternLoad, "no pattern loaded").
			WithDetail(fmt.Sprintf("%d rejected", len(report.Errors)))
	}
	p := pipeline.New(patterns.NewHolder(lib), nil, cliCtx.Config.Pipeline, pipeline.WithLogger(cliCtx.Logger))
	return extraction.NewService(p).Patterns(jurisdiction, et), nil
}

func convertStats(v interface{}) (*extraction.PatternStats, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode pattern stats")
	}
	var out extraction.PatternStats
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "decode pattern stats")
	}
	return &out, nil
}

type statsView struct{ *extraction.PatternStats }

func (v *statsView) MarshalJSON() ([]byte, error) { return json.Marshal(v.PatternStats) }

func (v *statsView) TableHeaders() []string {
	return []string{"ID", "Type", "Jurisdiction", "Conf", "Priority"}
}

func (v *statsView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Patterns))
	for _, p := range v.Patterns {
		typ := p.EntityType
		if p.Subtype != "" {
			typ += "/" + p.Subtype
		}
		j := p.Jurisdiction
		if j == "" {
			j = "*"
		}
		rows = append(rows, []string{p.ID, typ, j, fmt.Sprintf("%.2f", p.Confidence), fmt.Sprintf("%d", p.Priority)})
	}
	return rows
}

func (v *statsView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d patterns\n", v.Total)
	writeCounts(&sb, "by entity type", v.ByEntityType)
	writeCounts(&sb, "by jurisdiction", v.ByJurisdiction)
	return sb.String()
}

func writeCounts(sb *strings.Builder, title string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(sb, "%s:\n", title)
	for _, k := range keys {
		name := k
		if name == "" {
			name = "*"
		}
		fmt.Fprintf(sb, "  %-24s %d\n", name, counts[k])
	}
}

//Personal.AI order the ending
