// Package main is the Hondana CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hyperjump/hondana/internal/config"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/hondana/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if it exists, so running from a project checkout picks up
// the project's settings. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err == nil {
		return
	}
	if !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	var uerr usageError
	if errors.As(err, &uerr) {
		printUsage(os.Stderr)
	}
	os.Exit(1)
}

// usageError marks failures caused by how the CLI was invoked.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...interface{}) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

// run dispatches a command. It returns instead of exiting so tests can drive it.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return usagef("no command given")
	}
	command, rest := args[0], args[1:]
	switch command {
	case "server":
		return runServer(ctx, rest)
	case "embed":
		return runEmbed(ctx, rest, stdout)
	case "embed-book":
		return runEmbedBook(ctx, rest, stdout)
	case "migrate":
		return runMigrate(ctx, rest, stdout)
	case "plagiarism":
		return runPlagiarism(ctx, rest, stdout)
	case "similar":
		return runSimilar(ctx, rest, stdout)
	case "recommend":
		return runRecommend(ctx, rest, stdout)
	case "similarity":
		return runSimilarity(ctx, rest, stdout)
	case "status":
		return runStatus(ctx, rest, stdout)
	case "config":
		return runConfig(rest, stdout)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "hondana version %s\n", version)
		return nil
	case "help", "--help", "-h":
		printUsage(stdout)
		return nil
	default:
		return usagef("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `hondana - Book recommendation and semantic embedding engine

Usage:
  hondana server [flags]                        Start the HTTP API
  hondana embed [flags] <chapter-id>...         Generate embeddings for chapters
  hondana embed-book [flags] <book-id>...       Embed book metadata
  hondana migrate [flags]                       Regenerate embeddings for the whole corpus
  hondana plagiarism [flags] <chapter-id>       Find chunks of other books that copy a chapter
  hondana similar [flags] <book-id>             List books similar to a book
  hondana recommend [flags] <user-id>           Recommend books for a user
  hondana similarity refresh [flags] [user-id]  Recompute user similarity snapshots
  hondana status [flags]                        Show storage and index status
  hondana config init [flags]                   Write a config file with default settings
  hondana version                               Show version
  hondana help                                  Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/hondana/config.yaml,
                     or ./config.yaml when present)
  --debug            Enable debug logging
  --output string    Output format: text or json (default: text)

Command Flags:
  migrate --batch-size int   Chapters per batch (default from config, clamped to 1..200)
  similar --count int        Number of similar books (default: 10)
  recommend --count int      Number of recommendations (default from config)
  status --server string     Query a running server instead of the local databases
  config init --force        Overwrite an existing config file

Examples:
  hondana server
  hondana embed ch-0001 ch-0002
  hondana migrate --batch-size 50
  hondana recommend reader-42 --count 10 --output json
  hondana similarity refresh
  hondana status --server http://localhost:8090`)
}
