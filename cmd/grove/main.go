package main

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aproctor/grove"
	"github.com/aproctor/grove/langtab"
	"github.com/aproctor/grove/sitterraw"
)

var (
	flagCacheDir string
	flagFormat   string
	flagVerbose  bool
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "grove",
	Short:         "Tiered syntax tree cache for code intelligence",
	Long:          "Grove parses source files with tree-sitter into compact flat trees and keeps them queryable across hot, warm, cold, and frozen cache tiers.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
	// No Run — prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagCacheDir, "cache-dir", "", "cache directory (default: .grove relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "log cache activity to stderr")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(inspectCmd)
}

var (
	flagColdStart bool
	flagLanguages string
	flagSweeps    int
)

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Parse a directory's source files into the cache",
	Long:  "Discovers source files (git ls-files when available, filesystem walk otherwise), parses each with tree-sitter, and inserts the trees into the cache. Frozen entries persist under the cache directory.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&flagColdStart, "cold-start", false, "insert parsed trees at the cold tier instead of hot")
	scanCmd.Flags().StringVar(&flagLanguages, "languages", "", "comma-separated language filter (e.g. go,rust)")
	scanCmd.Flags().IntVar(&flagSweeps, "sweeps", 0, "run this many sweep passes after scanning")
}

func runScan(cmd *cobra.Command, args []string) error {
	start := time.Now()

	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return err
	}

	langFilter := parseLanguageFilter(flagLanguages)

	var opts []grove.Option
	if flagColdStart {
		opts = append(opts, grove.WithColdStartInsertion(true))
	}

	c, err := openCache(targetDir, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	paths, err := listSourceFiles(targetDir)
	if err != nil {
		return outputError("scan", err)
	}

	// Filter serially, then parse across a bounded worker pool. The cache
	// takes concurrent inserts, so workers write to it directly.
	type workItem struct {
		path  string
		parse grove.ParseFunc
	}
	var items []workItem
	var skipped int
	for _, path := range paths {
		lang, ok := langtab.LanguageForFile(path)
		if !ok || (langFilter != nil && !langFilter[lang]) {
			skipped++
			continue
		}
		parse, ok := sitterraw.Parser(lang)
		if !ok {
			skipped++
			continue
		}
		items = append(items, workItem{path: path, parse: parse})
	}

	var scanned, failed atomic.Int64
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(runtime.NumCPU(), 1))
	for _, item := range items {
		g.Go(func() error {
			content, err := os.ReadFile(item.path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: reading %s: %s\n", item.path, err)
				failed.Add(1)
				return nil
			}
			hash := fmt.Sprintf("%x", sha256.Sum256(content))
			rel := relativeTo(targetDir, item.path)
			if _, err := c.GetOrParse(ctx, rel, hash, content, item.parse); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: parsing %s: %s\n", item.path, err)
				failed.Add(1)
				return nil
			}
			scanned.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outputError("scan", err)
	}

	for i := 0; i < flagSweeps; i++ {
		c.SweepNow()
	}

	fmt.Fprintf(os.Stderr, "Scanned %d files in %s (%d skipped, %d failed)\n",
		scanned.Load(), time.Since(start).Round(time.Millisecond), skipped, failed.Load())

	return outputResult(CLIResult{
		Command: "scan",
		Results: cliStatsFrom(c.Stats()),
	})
}

// parseLanguageFilter converts the --languages flag into a set, nil when
// the flag is empty.
func parseLanguageFilter(s string) map[string]bool {
	if s == "" {
		return nil
	}
	set := make(map[string]bool)
	for _, lang := range strings.Split(s, ",") {
		set[strings.TrimSpace(lang)] = true
	}
	return set
}

// listSourceFiles discovers candidate files under root with git ls-files,
// falling back to a filesystem walk when root is not a git repository.
func listSourceFiles(root string) ([]string, error) {
	paths, err := gitListFiles(root)
	if err != nil {
		return walkListFiles(root)
	}
	return paths, nil
}

// gitListFiles uses git ls-files to discover tracked and untracked (but not
// ignored) files under root, filtered to supported languages.
func gitListFiles(root string) ([]string, error) {
	// --cached: tracked files, --others: untracked files,
	// --exclude-standard: respect .gitignore, .git/info/exclude, global excludes.
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		absPath := filepath.Join(root, line)
		if _, ok := langtab.LanguageForFile(absPath); ok {
			paths = append(paths, absPath)
		}
	}
	return paths, nil
}

// skipDirs are directory names the filesystem walk never descends into.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"target":       true,
}

// walkListFiles discovers files by walking the filesystem, used as a
// fallback when git is not available. Skips hidden directories and the
// usual dependency directories.
func walkListFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := langtab.LanguageForFile(path); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}

// openCache opens the cache for targetDir, honoring --cache-dir and
// --verbose.
func openCache(targetDir string, opts ...grove.Option) (*grove.Cache, error) {
	if flagVerbose {
		opts = append(opts, grove.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, nil))))
	}
	c, err := grove.New(resolveCacheDir(targetDir), opts...)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	return c, nil
}

// resolveTargetDir returns the absolute path of the directory to scan.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root without finding .git.
			return startDir
		}
		dir = parent
	}
}

// resolveCacheDir returns the cache directory from the --cache-dir flag or
// the default .grove under the repo root.
func resolveCacheDir(targetDir string) string {
	if flagCacheDir != "" {
		if filepath.IsAbs(flagCacheDir) {
			return flagCacheDir
		}
		return filepath.Join(targetDir, flagCacheDir)
	}
	return filepath.Join(findRepoRoot(targetDir), ".grove")
}

// relativeTo keys cache entries by repo-relative path so a cache directory
// moves with its repository.
func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
