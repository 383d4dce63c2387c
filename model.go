// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/woozymasta/cpk/crilayla"
	"github.com/woozymasta/pathrules"
)

// Archive layout defaults.
const (
	// DefaultAlign is the payload alignment used between entries.
	DefaultAlign = 0x800
	// DefaultMinCompressSize disables compression for smaller entries on create.
	DefaultMinCompressSize = 512
	// DefaultMaxCompressSize disables compression for larger entries on create.
	DefaultMaxCompressSize = 64 * 1024 * 1024
)

// Synthesized entry names.
const (
	// ContentOffsetEntry marks the start of the content region.
	ContentOffsetEntry = "CONTENT_OFFSET"
)

// EntryType classifies entries in the unified offset-sorted list.
type EntryType string

// Entry kinds.
const (
	// EntryFile is a payload file indexed by TOC.
	EntryFile EntryType = "FILE"
	// EntryHeader is a synthesized entry for one section table.
	EntryHeader EntryType = "HDR"
	// EntryContent marks content region start.
	EntryContent EntryType = "CONTENT"
)

// Entry describes one region of the archive: a file payload, a section table or the content marker.
type Entry struct {
	// DirName is the directory part; empty for root files and synthesized entries.
	DirName string `json:"dir_name,omitempty" yaml:"dir_name,omitempty"`
	// FileName is the file name or synthesized entry name.
	FileName string `json:"file_name" yaml:"file_name"`
	// UserString is the optional TOC user string.
	UserString string `json:"user_string,omitempty" yaml:"user_string,omitempty"`
	// Type is the entry kind.
	Type EntryType `json:"type" yaml:"type"`
	// FileOffset is the absolute payload offset.
	FileOffset uint64 `json:"file_offset" yaml:"file_offset"`
	// FileSize is the stored payload size.
	FileSize uint64 `json:"file_size" yaml:"file_size"`
	// ExtractSize is the decoded size when HasExtractSize is set.
	ExtractSize uint64 `json:"extract_size,omitempty" yaml:"extract_size,omitempty"`
	// ID is the entry identifier when HasID is set.
	ID uint64 `json:"id,omitempty" yaml:"id,omitempty"`
	// Row is the row index in the section table the entry came from.
	Row int `json:"row" yaml:"row"`
	// Section is the section the entry record came from.
	Section SectionKind `json:"section" yaml:"section"`
	// SizeWidth is the column type of the FileSize field.
	SizeWidth ColumnType `json:"size_width" yaml:"size_width"`
	// ExtractWidth is the column type of the ExtractSize field.
	ExtractWidth ColumnType `json:"extract_width" yaml:"extract_width"`
	// HasID reports whether ID is present.
	HasID bool `json:"has_id,omitempty" yaml:"has_id,omitempty"`
	// HasExtractSize reports whether ExtractSize is present.
	HasExtractSize bool `json:"has_extract_size,omitempty" yaml:"has_extract_size,omitempty"`
}

// Path returns entry path as "dir/file" or "file" for root entries.
func (e *Entry) Path() string {
	if e.DirName == "" {
		return e.FileName
	}

	return e.DirName + "/" + e.FileName
}

// Key returns lower-case lookup key "dir/file", or "/file" without directory.
func (e *Entry) Key() string {
	return strings.ToLower(e.DirName + "/" + e.FileName)
}

// IsCompressed reports whether the stored payload is CRILAYLA compressed.
func (e *Entry) IsCompressed() bool {
	return e.HasExtractSize && e.ExtractSize > e.FileSize
}

// DecodedSize returns ExtractSize when present, otherwise FileSize.
func (e *Entry) DecodedSize() uint64 {
	if e.HasExtractSize {
		return e.ExtractSize
	}

	return e.FileSize
}

// Input describes one source stream packed into a new archive.
type Input struct {
	// ModTime is optional entry timestamp.
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
	// Open returns raw source stream for this entry.
	Open func() (io.ReadCloser, error) `json:"-" yaml:"-"`
	// Path is destination "dir/file" inside the archive.
	Path string `json:"path" yaml:"path"`
	// SizeHint is expected size in bytes (zero when unknown).
	SizeHint int64 `json:"size_hint,omitempty" yaml:"size_hint,omitempty"`
}

// ReaderOptions configures reader behavior.
type ReaderOptions struct {
	// Layout selects the CRILAYLA bitstream layout for decompression.
	Layout crilayla.Layout `json:"layout,omitempty" yaml:"layout,omitempty"`
}

// ExtractOptions configures Extract behavior.
type ExtractOptions struct {
	// OnEntryDone is called after one entry is fully written to disk.
	OnEntryDone func(entry Entry, written int64, outputPath string) `json:"-" yaml:"-"`
	// FileMode controls output file creation policy.
	FileMode ExtractFileMode `json:"file_mode,omitempty" yaml:"file_mode,omitempty"`
	// Rules select entries by path; empty means every file entry.
	Rules []pathrules.Rule `json:"rules,omitempty" yaml:"rules,omitempty"`
	// RulesMatcherOptions control selection rule matching.
	RulesMatcherOptions pathrules.MatcherOptions `json:"rules_matcher_options,omitzero" yaml:"rules_matcher_options,omitzero"`
	// Entries limits extraction to selected metadata list; nil means all file entries.
	Entries []Entry `json:"-" yaml:"-"`
	// MaxWorkers is number of extraction workers (zero means GOMAXPROCS).
	MaxWorkers int `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`
	// Raw writes stored bytes without decompression.
	Raw bool `json:"raw,omitempty" yaml:"raw,omitempty"`
	// RawNames disables output path sanitization.
	RawNames bool `json:"raw_names,omitempty" yaml:"raw_names,omitempty"`
}

// ExtractFileMode controls output file open behavior during extraction.
type ExtractFileMode string

// Output file creation policies for extraction.
const (
	// ExtractFileModeAuto first tries create-only, then falls back to truncate for existing files.
	ExtractFileModeAuto ExtractFileMode = "auto"
	// ExtractFileModeTruncate opens existing files with truncate and creates missing files.
	ExtractFileModeTruncate ExtractFileMode = "truncate"
	// ExtractFileModeCreateOnly creates files only when absent and fails on existing files.
	ExtractFileModeCreateOnly ExtractFileMode = "create_only"
)

// RebuildProgress is one processed entry event from rebuild flow.
type RebuildProgress struct {
	// Key is the entry lookup key.
	Key string `json:"key" yaml:"key"`
	// FileOffset is the new absolute offset.
	FileOffset uint64 `json:"file_offset" yaml:"file_offset"`
	// FileSize is the new stored size.
	FileSize uint64 `json:"file_size" yaml:"file_size"`
	// ExtractSize is the new decoded size.
	ExtractSize uint64 `json:"extract_size,omitempty" yaml:"extract_size,omitempty"`
	// Type is the entry kind.
	Type EntryType `json:"type" yaml:"type"`
	// Replaced reports whether payload came from the overlay.
	Replaced bool `json:"replaced,omitempty" yaml:"replaced,omitempty"`
	// Compressed reports whether replacement payload was recompressed.
	Compressed bool `json:"compressed,omitempty" yaml:"compressed,omitempty"`
}

// RebuildOptions configures rebuild behavior.
type RebuildOptions struct {
	// Logger receives progress records; nil discards them.
	Logger *slog.Logger `json:"-" yaml:"-"`
	// OnEntryDone is called after one entry is written.
	OnEntryDone func(progress RebuildProgress) `json:"-" yaml:"-"`
	// Layout selects the CRILAYLA layout for recompressed payloads.
	Layout crilayla.Layout `json:"layout,omitempty" yaml:"layout,omitempty"`
	// Compress recompresses replacements whose original payload was compressed.
	Compress bool `json:"compress,omitempty" yaml:"compress,omitempty"`
}

// RebuildResult contains rebuild statistics.
type RebuildResult struct {
	// Skipped lists overlay keys that match no archive entry.
	Skipped []string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	// Entries is number of entries written, synthesized entries included.
	Entries int `json:"entries" yaml:"entries"`
	// Replaced is number of payloads taken from the overlay.
	Replaced int `json:"replaced,omitempty" yaml:"replaced,omitempty"`
	// Compressed is number of replacements stored compressed.
	Compressed int `json:"compressed,omitempty" yaml:"compressed,omitempty"`
	// Written is total output size in bytes.
	Written int64 `json:"written" yaml:"written"`
	// Duration is end-to-end rebuild duration.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// CreateEntryProgress is one completed entry write event from create flow.
type CreateEntryProgress struct {
	// Path is entry path written to archive.
	Path string `json:"path" yaml:"path"`
	// ID is assigned entry identifier.
	ID uint64 `json:"id" yaml:"id"`
	// FileOffset is payload offset in resulting archive.
	FileOffset uint64 `json:"file_offset" yaml:"file_offset"`
	// FileSize is stored payload size in bytes.
	FileSize uint64 `json:"file_size" yaml:"file_size"`
	// ExtractSize is decoded payload size in bytes.
	ExtractSize uint64 `json:"extract_size" yaml:"extract_size"`
	// CompressionCandidate reports whether compression path was selected for this input entry.
	CompressionCandidate bool `json:"compression_candidate,omitempty" yaml:"compression_candidate,omitempty"`
	// Compressed reports whether compressed payload was actually written.
	Compressed bool `json:"compressed,omitempty" yaml:"compressed,omitempty"`
}

// CreateOptions configures new archive creation.
type CreateOptions struct {
	// Logger receives progress records; nil discards them.
	Logger *slog.Logger `json:"-" yaml:"-"`
	// OnEntryDone is called after one entry is fully written to archive payload.
	OnEntryDone func(entry CreateEntryProgress) `json:"-" yaml:"-"`
	// Compress defines ordered path rules for compression candidate selection.
	Compress []pathrules.Rule `json:"compress,omitempty" yaml:"compress,omitempty"`
	// CompressMatcherOptions control compression path rule matching.
	CompressMatcherOptions pathrules.MatcherOptions `json:"compress_matcher_options,omitzero" yaml:"compress_matcher_options,omitzero"`
	// MinCompressSize disables compression for entries smaller than this size.
	MinCompressSize uint32 `json:"min_compress_size,omitempty" yaml:"min_compress_size,omitempty"`
	// MaxCompressSize disables compression for entries larger than this size.
	MaxCompressSize uint32 `json:"max_compress_size,omitempty" yaml:"max_compress_size,omitempty"`
	// Align is payload alignment; zero means DefaultAlign.
	Align uint32 `json:"align,omitempty" yaml:"align,omitempty"`
	// Layout selects the CRILAYLA layout for compressed payloads.
	Layout crilayla.Layout `json:"layout,omitempty" yaml:"layout,omitempty"`
	// ITOC also writes an ID-indexed table.
	ITOC bool `json:"itoc,omitempty" yaml:"itoc,omitempty"`
	// ETOC also writes a table of timestamps and local directories after the content.
	ETOC bool `json:"etoc,omitempty" yaml:"etoc,omitempty"`
	// Mask XOR-masks every written table.
	Mask bool `json:"mask,omitempty" yaml:"mask,omitempty"`
}

// CreateResult contains create output statistics.
type CreateResult struct {
	// WrittenEntries is number of file entries written to archive.
	WrittenEntries int `json:"written_entries" yaml:"written_entries"`
	// DataSize is content region size in bytes.
	DataSize int64 `json:"data_size" yaml:"data_size"`
	// RawBytes is total bytes written for uncompressed payload entries.
	RawBytes int64 `json:"raw_bytes,omitempty" yaml:"raw_bytes,omitempty"`
	// CompressedBytes is total bytes written for compressed payload entries.
	CompressedBytes int64 `json:"compressed_bytes,omitempty" yaml:"compressed_bytes,omitempty"`
	// CompressedEntries is number of entries written with compressed payload.
	CompressedEntries int `json:"compressed_entries,omitempty" yaml:"compressed_entries,omitempty"`
	// SkippedCompressionEntries is number of compression candidates stored as raw payload.
	SkippedCompressionEntries int `json:"skipped_compression_entries,omitempty" yaml:"skipped_compression_entries,omitempty"`
	// Duration is end-to-end create duration.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// EditOptions configures file-based archive edit flow.
type EditOptions struct {
	// RebuildOptions are applied when staged replacements are committed.
	RebuildOptions RebuildOptions `json:"rebuild_options,omitzero" yaml:"rebuild_options,omitzero"`
	// BackupKeep controls how many backup generations are kept after successful commit.
	// 0 means remove backup, 1 keeps only `<archive>.bak`, N keeps `.bak` + `.bak.1..N-1`.
	BackupKeep int `json:"backup_keep,omitempty" yaml:"backup_keep,omitempty"`
	// CompressBackups stores rotated generations as zstd `.zst` files.
	CompressBackups bool `json:"compress_backups,omitempty" yaml:"compress_backups,omitempty"`
}

// applyDefaults fills zero-valued create options with defaults.
func (opts *CreateOptions) applyDefaults() {
	if opts.MinCompressSize == 0 {
		opts.MinCompressSize = DefaultMinCompressSize
	}

	if opts.MaxCompressSize == 0 || opts.MaxCompressSize <= opts.MinCompressSize {
		opts.MaxCompressSize = DefaultMaxCompressSize
	}

	if opts.Align == 0 {
		opts.Align = DefaultAlign
	}

	if opts.CompressMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.CompressMatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionExclude,
		}
	}

	if opts.CompressMatcherOptions.DefaultAction == pathrules.ActionUnknown {
		opts.CompressMatcherOptions.DefaultAction = pathrules.ActionExclude
	}

	opts.Logger = loggerOrDiscard(opts.Logger)
}

// applyDefaults fills zero-valued extract options with defaults.
func (opts *ExtractOptions) applyDefaults() {
	if opts.FileMode == "" {
		opts.FileMode = ExtractFileModeAuto
	}

	if opts.RulesMatcherOptions == (pathrules.MatcherOptions{}) {
		opts.RulesMatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionExclude,
		}
	}
}

// applyDefaults fills zero-valued rebuild options with defaults.
func (opts *RebuildOptions) applyDefaults() {
	opts.Logger = loggerOrDiscard(opts.Logger)
}

// applyDefaults fills zero-valued edit options with defaults.
func (opts *EditOptions) applyDefaults() {
	opts.RebuildOptions.applyDefaults()

	if opts.BackupKeep < 0 {
		opts.BackupKeep = 0
	}
}

// loggerOrDiscard returns logger or a logger that drops every record.
func loggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}

	return logger
}
