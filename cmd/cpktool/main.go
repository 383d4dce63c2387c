// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

// Command cpktool lists, extracts, patches, packs and mod-builds CPK archives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/woozymasta/cpk"
	"github.com/woozymasta/cpk/crilayla"
	"github.com/woozymasta/cpk/modbuild"
	"github.com/woozymasta/cpk/vfs"
	"github.com/woozymasta/pathrules"
	"rsc.io/getopt"
)

const usage = `usage: cpktool <command> [options] args...

commands:
  list    [-a] [-p prefix] archive
  extract [-r] [-i pattern]... [-j workers] archive outdir
  replace [-o out] archive entry hostfile
  batch   [-o out] archive mapping
  pack    [-i pattern]... [--itoc] [--etoc] dir out.cpk
  build   [--profile key] -s sourcedir -o outdir mod...

common options:
  -l, --legacy    use the legacy CRILAYLA layout
  -c, --compress  recompress replacements of compressed entries (pack: compress every entry)
  -v, --verbose   debug logging
`

// config holds parsed flags shared by every command.
type config struct {
	output   string
	prefix   string
	profile  string
	source   string
	include  ruleList
	workers  int
	all      bool
	compress bool
	etoc     bool
	itoc     bool
	legacy   bool
	raw      bool
	verbose  bool
}

// ruleList collects repeated include patterns.
type ruleList []pathrules.Rule

// String returns the patterns joined by commas.
func (r *ruleList) String() string {
	patterns := make([]string, 0, len(*r))
	for _, rule := range *r {
		patterns = append(patterns, rule.Pattern)
	}

	return strings.Join(patterns, ",")
}

// Set adds one include pattern.
func (r *ruleList) Set(v string) error {
	*r = append(*r, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: v})
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}

	cmd := args[0]
	cfg, rest, err := parseFlags(cmd, args[1:], stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprint(stdout, usage)
			return 0
		}

		return 2
	}

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	switch cmd {
	case "list":
		err = cmdList(cfg, rest, stdout)
	case "extract":
		err = cmdExtract(ctx, cfg, rest, logger)
	case "replace":
		err = cmdReplace(ctx, cfg, rest, stdout, logger)
	case "batch":
		err = cmdBatch(ctx, cfg, rest, stdout, logger)
	case "pack":
		err = cmdPack(ctx, cfg, rest, stdout, logger)
	case "build":
		err = cmdBuild(ctx, cfg, rest, stdout, logger)
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(stdout, usage)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "cpktool: unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	if err != nil {
		_, _ = fmt.Fprintf(stderr, "cpktool %s: %v\n", cmd, err)
		return 1
	}

	return 0
}

// parseFlags parses command options with GNU-style long and short names.
func parseFlags(cmd string, args []string, stderr io.Writer) (config, []string, error) {
	var cfg config
	fs := getopt.NewFlagSet("cpktool "+cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.BoolVar(&cfg.legacy, "legacy", false, "use the legacy CRILAYLA layout")
	fs.BoolVar(&cfg.compress, "compress", false, "compress payloads")
	fs.BoolVar(&cfg.verbose, "verbose", false, "debug logging")
	fs.BoolVar(&cfg.all, "all", false, "list header and content entries too")
	fs.BoolVar(&cfg.raw, "raw", false, "extract stored bytes without decompression")
	fs.BoolVar(&cfg.itoc, "itoc", false, "write an ITOC table")
	fs.BoolVar(&cfg.etoc, "etoc", false, "write an ETOC table")
	fs.StringVar(&cfg.output, "output", "", "output path")
	fs.StringVar(&cfg.prefix, "prefix", "", "entry path prefix")
	fs.StringVar(&cfg.profile, "profile", modbuild.KeyCPK, "build profile")
	fs.StringVar(&cfg.source, "source", "", "source data directory")
	fs.IntVar(&cfg.workers, "jobs", 0, "extraction workers")
	fs.Var(&cfg.include, "include", "include pattern (repeatable)")

	fs.Alias("l", "legacy")
	fs.Alias("c", "compress")
	fs.Alias("v", "verbose")
	fs.Alias("a", "all")
	fs.Alias("r", "raw")
	fs.Alias("o", "output")
	fs.Alias("p", "prefix")
	fs.Alias("s", "source")
	fs.Alias("j", "jobs")
	fs.Alias("i", "include")

	if err := fs.Parse(args); err != nil {
		return cfg, nil, err
	}

	return cfg, fs.Args(), nil
}

// layout returns the CRILAYLA layout selected by flags.
func (cfg config) layout() crilayla.Layout {
	if cfg.legacy {
		return crilayla.LayoutLegacy
	}

	return crilayla.LayoutModern
}

// rebuildOptions returns rebuild options selected by flags.
func (cfg config) rebuildOptions(logger *slog.Logger) cpk.RebuildOptions {
	return cpk.RebuildOptions{
		Logger:   logger,
		Layout:   cfg.layout(),
		Compress: cfg.compress,
	}
}

// wantArgs fails unless exactly n positional arguments are present.
func wantArgs(args []string, n int, names string) error {
	if len(args) != n {
		return fmt.Errorf("want %s, got %d argument(s)", names, len(args))
	}

	return nil
}

// cmdList prints archive entries as a table.
func cmdList(cfg config, args []string, stdout io.Writer) error {
	if err := wantArgs(args, 1, "archive"); err != nil {
		return err
	}

	entries, err := cpk.ListEntries(args[0])
	if err != nil {
		return err
	}
	if !cfg.all {
		entries, err = cpk.FilterEntries(entries, cpk.EntryFilter{Prefix: cfg.prefix, Rules: cfg.include})
		if err != nil {
			return err
		}
	}

	// SIZE and EXTRACT are exact byte counts; HUMAN rounds the extracted size.
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tOFFSET\tSIZE\tEXTRACT\tHUMAN\tTYPE\tCOMP\tPATH")
	for _, e := range entries {
		id := ""
		if e.HasID {
			id = strconv.FormatUint(e.ID, 10)
		}

		comp := "-"
		if e.IsCompressed() {
			comp = "lz"
		}

		_, _ = fmt.Fprintf(tw, "%s\t0x%08x\t%d\t%d\t%s\t%s\t%s\t%s\n",
			id,
			e.FileOffset,
			e.FileSize,
			e.DecodedSize(),
			humanize.Bytes(e.DecodedSize()),
			e.Type,
			comp,
			e.Path())
	}

	return tw.Flush()
}

// cmdExtract writes selected entries below an output directory.
func cmdExtract(ctx context.Context, cfg config, args []string, logger *slog.Logger) error {
	if err := wantArgs(args, 2, "archive and output directory"); err != nil {
		return err
	}

	r, err := cpk.OpenWithOptions(args[0], cpk.ReaderOptions{Layout: cfg.layout()})
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	entries, err := cpk.FilterEntries(r.Files(), cpk.EntryFilter{Prefix: cfg.prefix})
	if err != nil {
		return err
	}

	var count int
	err = r.Extract(ctx, args[1], cpk.ExtractOptions{
		Entries:    entries,
		Rules:      cfg.include,
		Raw:        cfg.raw,
		MaxWorkers: cfg.workers,
		OnEntryDone: func(e cpk.Entry, written int64, outputPath string) {
			count++
			logger.Debug("extracted", "entry", e.Path(), "size", written, "path", outputPath)
		},
	})
	if err != nil {
		return err
	}

	logger.Info("extract done", "entries", count)

	return nil
}

// cmdReplace replaces one entry from a host file.
func cmdReplace(ctx context.Context, cfg config, args []string, stdout io.Writer, logger *slog.Logger) error {
	if err := wantArgs(args, 3, "archive, entry and host file"); err != nil {
		return err
	}

	res, err := cpk.ReplaceEntry(ctx, args[0], cfg.output, args[1], args[2], cfg.rebuildOptions(logger))
	if err != nil {
		return err
	}

	return printRebuild(stdout, res)
}

// cmdBatch replaces entries listed in a mapping file.
func cmdBatch(ctx context.Context, cfg config, args []string, stdout io.Writer, logger *slog.Logger) error {
	if err := wantArgs(args, 2, "archive and mapping file"); err != nil {
		return err
	}

	res, err := cpk.ReplaceBatch(ctx, args[0], cfg.output, args[1], cfg.rebuildOptions(logger))
	if err != nil {
		return err
	}

	return printRebuild(stdout, res)
}

// cmdPack creates a new archive from a host directory.
func cmdPack(ctx context.Context, cfg config, args []string, stdout io.Writer, logger *slog.Logger) error {
	if err := wantArgs(args, 2, "input directory and output archive"); err != nil {
		return err
	}

	tree, err := vfs.BuildFromHostDirectory(afero.NewOsFs(), args[0])
	if err != nil {
		return err
	}

	inputs, err := cpk.InputsFromTree(tree)
	if err != nil {
		return err
	}

	rules := []pathrules.Rule(cfg.include)
	if cfg.compress && len(rules) == 0 {
		rules = []pathrules.Rule{{Action: pathrules.ActionInclude, Pattern: "*"}}
	}

	res, err := cpk.CreateFile(ctx, args[1], inputs, cpk.CreateOptions{
		Logger:   logger,
		Compress: rules,
		Layout:   cfg.layout(),
		ITOC:     cfg.itoc,
		ETOC:     cfg.etoc,
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(stdout, "%d entries, %d compressed, %s content\n",
		res.WrittenEntries, res.CompressedEntries, humanize.Bytes(uint64(res.DataSize))) //nolint:gosec // size is non-negative

	return err
}

// cmdBuild stages mods over a data tree and rebuilds touched archives.
func cmdBuild(ctx context.Context, cfg config, args []string, stdout io.Writer, logger *slog.Logger) error {
	if len(args) == 0 {
		return errors.New("want at least one mod directory")
	}

	reg := modbuild.NewRegistry()
	if err := modbuild.RegisterBuiltins(reg); err != nil {
		return err
	}

	key := cfg.profile
	if cfg.legacy && key == modbuild.KeyCPK {
		key = modbuild.KeyCPKLegacy
	}

	b, err := reg.New(key, modbuild.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("%w (known: %s)", err, strings.Join(reg.Keys(), ", "))
	}

	res, err := b.Build(ctx, modbuild.Request{SourceDir: cfg.source, OutputDir: cfg.output, Mods: args})
	if err != nil {
		return err
	}

	for _, ar := range res.Archives {
		if _, err := fmt.Fprintf(stdout, "%s: %d replaced, %s\n", ar.Path, ar.Rebuild.Replaced,
			humanize.Bytes(uint64(ar.Rebuild.Written))); err != nil { //nolint:gosec // size is non-negative
			return err
		}
	}
	_, err = fmt.Fprintf(stdout, "%d archive(s), %d loose file(s)\n", len(res.Archives), res.Files)

	return err
}

// printRebuild prints rebuild statistics and skipped targets.
func printRebuild(w io.Writer, res *cpk.RebuildResult) error {
	for _, key := range res.Skipped {
		if _, err := fmt.Fprintf(w, "skipped %s: not in archive\n", key); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "%d entries, %d replaced, %d recompressed, %s written\n",
		res.Entries, res.Replaced, res.Compressed, humanize.Bytes(uint64(res.Written))) //nolint:gosec // size is non-negative

	return err
}
