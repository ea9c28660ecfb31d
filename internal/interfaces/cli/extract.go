package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/LexExtract-Intelligence/internal/app"
	"github.com/turtacn/LexExtract-Intelligence/internal/application/extraction"
	"github.com/turtacn/LexExtract-Intelligence/internal/config"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/pipeline"
	"github.com/turtacn/LexExtract-Intelligence/pkg/client"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

type extractFlags struct {
	jurisdiction string
	threshold    float64
	stages       []string
	documentID   string
	deadline     time.Duration
}

// NewExtractCommand creates the extract command. Text is read from the file
// argument, or stdin for "-" or no argument.
func NewExtractCommand() *cobra.Command {
	f := &extractFlags{}
	cmd := &cobra.Command{
		Use:   "extract [file|-]",
		Short: "Extract legal entities from a document",
		Example: `  lexextract extract brief.txt -o table
  cat opinion.txt | lexextract extract --jurisdiction us --threshold 0.7
  lexextract extract brief.txt --server http://localhost:8080 -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cliCtx.Timeout)
			defer cancel()

			var res *client.ExtractionResult
			if cliCtx.Client != nil {
				res, err = cliCtx.Client.Extract(ctx, &client.ExtractRequest{
					DocumentID: f.documentID,
					Text:       text,
					Options: client.ExtractOptions{
						ConfidenceThreshold: f.threshold,
						JurisdictionHint:    f.jurisdiction,
						EnabledStages:       f.stages,
						Deadline:            f.deadline,
					},
				})
			} else {
				res, err = extractLocal(ctx, cliCtx, text, f)
			}
			if err != nil {
				return err
			}
			return PrintResult(cmd, &resultView{res})
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.jurisdiction, "jurisdiction", "j", "", "jurisdiction hint (e.g. us, uk)")
	fl.Float64VarP(&f.threshold, "threshold", "t", 0, "drop entities below this confidence")
	fl.StringSliceVar(&f.stages, "stages", nil, "enhancement stages to run (default: all configured)")
	fl.StringVar(&f.documentID, "document-id", "", "document identifier")
	fl.DurationVar(&f.deadline, "deadline", 0, "per-document deadline override")
	return cmd
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeNotFound, "open document")
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return string(data), nil
}

// extractLocal runs the pipeline in-process. Result sinks are disabled; a CLI
// run never publishes.
func extractLocal(ctx context.Context, cliCtx *CLIContext, text string, f *extractFlags) (*client.ExtractionResult, error) {
	opts := pipeline.Options{
		ConfidenceThreshold: f.threshold,
		JurisdictionHint:    f.jurisdiction,
		Deadline:            f.deadline,
	}
	for _, s := range f.stages {
		stage, ok := common.ParseStage(s)
		if !ok {
			return nil, errors.New(errors.ErrCodeValidation, "unknown stage").WithDetail(s)
		}
		opts.EnabledStages = append(opts.EnabledStages, stage)
	}

	a, err := app.Build(ctx, localConfig(cliCtx.Config), cliCtx.Logger)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		return nil, err
	}

	res, err := a.Service.Extract(ctx, &extraction.Request{DocumentID: f.documentID, Text: text, Options: opts})
	if err != nil {
		return nil, err
	}
	return toWire(res)
}

// localConfig copies cfg with every result sink and the pattern watcher
// switched off.
func localConfig(cfg *config.Config) *config.Config {
	local := *cfg
	local.Kafka.Enabled = false
	local.Neo4j.Enabled = false
	local.OpenSearch.Enabled = false
	local.MinIO.ArchiveResults = false
	local.Patterns.Watch = false
	return &local
}

// toWire converts a pipeline result into the SDK type. Both share the HTTP
// JSON encoding.
func toWire(res *pipeline.ExtractionResult) (*client.ExtractionResult, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode result")
	}
	var out client.ExtractionResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "decode result")
	}
	return &out, nil
}

// resultView renders an extraction result for the text and table formats.
type resultView struct{ *client.ExtractionResult }

func (v *resultView) MarshalJSON() ([]byte, error) { return json.Marshal(v.ExtractionResult) }

func (v *resultView) TableHeaders() []string {
	return []string{"#", "Type", "Span", "Conf", "Source", "Text"}
}

func (v *resultView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Entities))
	for i, e := range v.Entities {
		typ := e.Type
		if e.Subtype != "" {
			typ += "/" + e.Subtype
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			typ,
			fmt.Sprintf("%d-%d", e.Span.Start, e.Span.End),
			colorConfidence(e.Confidence),
			e.Provenance,
			truncate(e.Text, 60),
		})
	}
	return rows
}

func (v *resultView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "request %s  mode %s  %.1fms  patterns %d\n",
		v.RequestID, colorMode(v.Mode), v.ProcessingTimeMs, v.PatternCount)
	if v.Partial {
		fmt.Fprintf(&sb, "%s %s\n", color.YellowString("partial:"), strings.Join(v.Annotations, ", "))
	}
	for _, e := range v.Entities {
		fmt.Fprintf(&sb, "%-22s [%d,%d) %s  %s\n", e.Type, e.Span.Start, e.Span.End, colorConfidence(e.Confidence), e.Text)
	}
	for _, r := range v.Relationships {
		fmt.Fprintf(&sb, "  %s %s -> %s (%.2f, %s)\n", r.Type, r.SourceID, r.TargetID, r.Confidence, r.Origin)
	}
	for _, f := range v.MatchFaults {
		fmt.Fprintf(&sb, "%s %s: %s\n", color.RedString("fault"), f.PatternID, f.Reason)
	}
	return sb.String()
}

func colorConfidence(c float64) string {
	s := fmt.Sprintf("%.2f", c)
	switch {
	case c >= 0.8:
		return color.GreenString(s)
	case c >= 0.5:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

func colorMode(m string) string {
	switch m {
	case string(common.ModeFull):
		return color.GreenString(m)
	case string(common.ModeDegraded):
		return color.YellowString(m)
	default:
		return color.CyanString(m)
	}
}

//Personal.AI order the ending
