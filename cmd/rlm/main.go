// Command rlm is the cmd/rlm binary implementing §6.3's CLI surface for
// C8: probe, chunk, aggregate, parallel_process, and sandbox. Grounded on
// the teacher's cmd/dcode/main.go cobra wiring, generalized from a
// single TUI entry point into five independent, scriptable subcommands
// meant to be invoked by the host assistant during an RLM workflow.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dhanuzh/dcode-hooks/internal/evaluator"
	"github.com/Dhanuzh/dcode-hooks/internal/rlm/aggregate"
	"github.com/Dhanuzh/dcode-hooks/internal/rlm/chunk"
	"github.com/Dhanuzh/dcode-hooks/internal/rlm/parallel"
	"github.com/Dhanuzh/dcode-hooks/internal/rlm/probe"
)

func main() {
	root := &cobra.Command{
		Use:           "rlm",
		Short:         "Probe, chunk, aggregate, and coordinate RLM document processing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(probeCmd(), chunkCmd(), aggregateCmd(), parallelProcessCmd(), sandboxCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func probeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "probe <file>",
		Short: "Analyze a source file and recommend a chunking strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			report := probe.Analyze(string(data))
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chars=%d lines=%d words=%d tokens~%d\n",
				report.CharCount, report.LineCount, report.WordCount, report.TokenEstimate)
			fmt.Fprintf(cmd.OutOrStdout(), "headers=%v code_blocks=%v functions=%v\n",
				report.Structure.HasHeaders, report.Structure.HasCodeBlocks, report.Structure.HasFunctions)
			fmt.Fprintf(cmd.OutOrStdout(), "recommended strategy=%s chunk_size=%d estimated_chunks=%d\n",
				report.Recommendation.Strategy, report.Recommendation.ChunkSize, report.Recommendation.EstimatedChunks)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON instead of human-readable text")
	return cmd
}

func chunkCmd() *cobra.Command {
	var size, overlap int
	var strategy, language, outputDir string
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "chunk <file>",
		Short: "Split a source file into chunks plus a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]
			data, err := os.ReadFile(source)
			if err != nil {
				return fmt.Errorf("read %s: %w", source, err)
			}

			opts := chunk.DefaultOptions()
			opts.Strategy = strategy
			if size > 0 {
				opts.ChunkSize = size
			}
			if overlap >= 0 {
				opts.Overlap = overlap
			}
			opts.Language = language

			chunks, err := chunk.Split(string(data), opts)
			if err != nil {
				return err
			}

			if outputDir == "" {
				outputDir = "rlm_context/chunks"
			}
			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}

			var bar *chunk.Progress
			if showProgress {
				bar = chunk.NewProgress(cmd.OutOrStdout(), len(chunks))
			}

			filename := func(c chunk.Chunk) string {
				return fmt.Sprintf("chunk_%04d.txt", c.ChunkNum)
			}
			for i, c := range chunks {
				path := filepath.Join(outputDir, filename(c))
				if err := os.WriteFile(path, []byte(c.Text), 0644); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				if bar != nil {
					bar.Update(i+1, filename(c))
				}
			}
			if bar != nil {
				bar.Done()
			}

			manifest := chunk.ToManifest(source, opts.Strategy, chunks, filename)
			manifestData, err := json.MarshalIndent(manifest, "", "  ")
			if err != nil {
				return err
			}
			// Manifest is written last so a crash mid-chunk-write never
			// leaves a manifest pointing at files that don't exist (§7).
			return os.WriteFile(filepath.Join(outputDir, "manifest.json"), manifestData, 0644)
		},
	}
	cmd.Flags().IntVar(&size, "size", 0, "chunk size in characters (size strategy) or lines (lines strategy)")
	cmd.Flags().StringVar(&strategy, "strategy", "size", "size|lines|headers|code")
	cmd.Flags().IntVar(&overlap, "overlap", -1, "overlap size (chars or lines)")
	cmd.Flags().StringVar(&language, "language", "", "force a language for the code strategy")
	cmd.Flags().StringVar(&outputDir, "output", "", "output directory (default rlm_context/chunks)")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "print a single updating progress line")
	return cmd
}

func aggregateCmd() *cobra.Command {
	var pattern, query, format, output string
	cmd := &cobra.Command{
		Use:   "aggregate <results_dir>",
		Short: "Aggregate result files from an RLM processing run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			results, err := aggregate.Load(dir, pattern)
			if err != nil {
				return err
			}

			var out string
			switch format {
			case "", "text", "summary":
				out = aggregate.ToText(dir, query, results)
			case "json":
				data, err := json.MarshalIndent(aggregate.ToJSON(dir, results), "", "  ")
				if err != nil {
					return err
				}
				out = string(data)
			default:
				return fmt.Errorf("unknown aggregate format %q", format)
			}

			if output != "" {
				return os.WriteFile(output, []byte(out), 0644)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", "", "glob pattern to filter result files")
	cmd.Flags().StringVar(&query, "query", "", "query string included in the aggregate header")
	cmd.Flags().StringVar(&format, "format", "text", "text|json|summary")
	cmd.Flags().StringVar(&output, "output", "", "write the aggregate to this file instead of stdout")
	return cmd
}

func parallelProcessCmd() *cobra.Command {
	var query, outputDir string
	var batchSize int
	var savePrompts bool

	cmd := &cobra.Command{
		Use:   "parallel_process <manifest>",
		Short: "Partition a chunk manifest into batches for external parallel processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" {
				return fmt.Errorf("--query is required")
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}
			var manifest chunk.Manifest
			if err := json.Unmarshal(data, &manifest); err != nil {
				return fmt.Errorf("parse manifest: %w", err)
			}

			if outputDir == "" {
				outputDir = "rlm_context/results"
			}
			if err := os.MkdirAll(outputDir, 0755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}

			chunksDir := filepath.Dir(args[0])
			cfg := parallel.Build(manifest, chunksDir, outputDir, query, batchSize)

			if savePrompts {
				for _, b := range cfg.Batches {
					promptPath := filepath.Join(outputDir, fmt.Sprintf("batch_%d_prompt.txt", b.BatchNum))
					if err := os.WriteFile(promptPath, []byte(b.Prompt), 0644); err != nil {
						return fmt.Errorf("write prompt file: %w", err)
					}
				}
			}

			cfgData, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			return os.WriteFile(filepath.Join(outputDir, "parallel_config.json"), cfgData, 0644)
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "query every batch should answer (required)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 4, "chunks per batch")
	cmd.Flags().StringVar(&outputDir, "output", "", "output directory (default rlm_context/results)")
	cmd.Flags().BoolVar(&savePrompts, "save-prompts", false, "also write each batch's prompt to its own file")
	return cmd
}

func sandboxCmd() *cobra.Command {
	var code, file, contextStr, contextFile string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run a restricted text-processing script against a context string",
		RunE: func(cmd *cobra.Command, args []string) error {
			src := code
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				src = string(data)
			}
			if strings.TrimSpace(src) == "" {
				return fmt.Errorf("no code provided: use --code or --file")
			}

			ctxText := contextStr
			if contextFile != "" {
				data, err := os.ReadFile(contextFile)
				if err != nil {
					return fmt.Errorf("read %s: %w", contextFile, err)
				}
				ctxText = string(data)
			}

			result := evaluator.Execute(src, ctxText, evaluator.DefaultLimits())

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				return enc.Encode(map[string]any{
					"success": result.Success,
					"output":  result.Output,
					"error":   result.Error,
				})
			}
			if !result.Success {
				fmt.Fprintln(cmd.ErrOrStderr(), result.Error)
				return errExitOne
			}
			fmt.Fprint(cmd.OutOrStdout(), result.Output)
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "inline script source")
	cmd.Flags().StringVar(&file, "file", "", "path to a script file")
	cmd.Flags().StringVar(&contextStr, "context", "", "inline context string")
	cmd.Flags().StringVar(&contextFile, "context-file", "", "path to a context file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit {success, output, error} as JSON instead of exit-code semantics")
	return cmd
}

// errExitOne signals cobra to exit 1 without printing cobra's own usage
// text a second time (§6.3: "Exit 1 on error when not --json").
var errExitOne = fmt.Errorf("sandbox execution failed")
