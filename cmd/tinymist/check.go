package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"golang.org/x/sync/errgroup"

	"github.com/uros-5/tinymist/internal/analysis"
	"github.com/uros-5/tinymist/internal/config"
	"github.com/uros-5/tinymist/internal/content"
	"github.com/uros-5/tinymist/internal/discover"
	"github.com/uros-5/tinymist/internal/dispatch"
	"github.com/uros-5/tinymist/internal/eval"
	"github.com/uros-5/tinymist/internal/memo"
	"github.com/uros-5/tinymist/internal/workspace"
)

var flagFormat string

var errProblems = errors.New("errors found")

var checkCmd = &cobra.Command{
	Use:   "check [root]",
	Short: "Analyse every document under root and print the diagnostics",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			cfg.Root = args[0]
		}
		n, err := check(cmd.Context(), cfg, cmd.OutOrStdout(), flagFormat)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%d %w", n, errProblems)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&flagFormat, "format", "text", "output format: json|text")
}

// Problem is one diagnostic of a checked file.
type Problem struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Severity string `json:"severity"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
}

// check loads the documents under cfg.Root, diagnoses them in parallel and
// writes the problems to w. It returns the number of errors.
func check(ctx context.Context, cfg config.Config, w io.Writer, format string) (int, error) {
	if format != "text" && format != "json" {
		return 0, fmt.Errorf("unknown format %q", format)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	dir, err := filepath.Abs(cfg.Root)
	if err != nil {
		return 0, err
	}
	start := time.Now()

	store := content.NewStore()
	n, err := discover.Load(store, dir, cfg.FileExtensions)
	if err != nil {
		return 0, err
	}
	ev := eval.NewRisorEvaluator(time.Duration(cfg.EvalTimeoutMillis) * time.Millisecond)
	a := analysis.New(discover.URIFromPath(dir), cfg.DefaultExtension, ev)
	d := dispatch.New(store, memo.New(), workspace.New(a, cfg.ImportDepthLimit, cfg.Workers))

	var mu sync.Mutex
	var problems []Problem
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, uri := range store.Snapshot().URIs() {
		uri := uri
		g.Go(func() error {
			resp, err := d.Handle(gctx, dispatch.Diagnostics{URI: uri})
			if err != nil {
				return err
			}
			if resp.Outcome != dispatch.Completed {
				return fmt.Errorf("checking %s: %s", uri, resp.Outcome)
			}
			path, _ := discover.PathFromURI(uri)
			if rel, err := filepath.Rel(dir, path); err == nil {
				path = rel
			}
			diags, _ := resp.Result.([]protocol.Diagnostic)
			mu.Lock()
			for _, diag := range diags {
				problems = append(problems, problem(filepath.ToSlash(path), diag))
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	sort.Slice(problems, func(i, j int) bool {
		a, b := problems[i], problems[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	errs := 0
	for _, p := range problems {
		if p.Severity == "error" {
			errs++
		}
	}

	if format == "json" {
		if problems == nil {
			problems = []Problem{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errs, enc.Encode(problems)
	}
	for _, p := range problems {
		fmt.Fprintf(w, "%s:%d:%d: %s: %s\n", p.File, p.Line, p.Column, p.Severity, p.Message)
	}
	fmt.Fprintf(os.Stderr, "Checked %d files in %s\n", n, time.Since(start).Round(time.Millisecond))
	return errs, nil
}

func problem(file string, d protocol.Diagnostic) Problem {
	p := Problem{
		File:     file,
		Line:     int(d.Range.Start.Line) + 1,
		Column:   int(d.Range.Start.Character) + 1,
		Severity: "error",
		Message:  d.Message,
	}
	if d.Severity != nil && *d.Severity == protocol.DiagnosticSeverityWarning {
		p.Severity = "warning"
	}
	if d.Code != nil {
		if code, ok := d.Code.Value.(string); ok {
			p.Code = code
		}
	}
	return p
}
