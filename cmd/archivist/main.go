// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/archivist"
	"github.com/poiesic/archivist/config"
	"github.com/poiesic/archivist/core"
	"github.com/poiesic/archivist/storage"
	"github.com/urfave/cli/v2"
)

const (
	datasetSnapshots = "snapshots"
	datasetVersions  = "versions"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "archivist",
		Usage:  "Versioned store for tracked legal documents",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML, TOML or JSON configuration file",
				EnvVars: []string{"ARCHIVIST_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error), overriding log_level of the configuration",
			},
			&cli.StringFlag{
				Name:    "dataset",
				Aliases: []string{"d"},
				Usage:   "Repository to work on (snapshots, versions)",
				Value:   datasetVersions,
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "record",
				Usage:     "Record a file as a new snapshot or version",
				ArgsUsage: "<file|->",
				Action:    recordCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "service", Aliases: []string{"s"}, Usage: "Service ID", Required: true},
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Document type", Required: true},
					&cli.StringFlag{Name: "mime-type", Aliases: []string{"m"}, Usage: "MIME type of the content", Value: "text/html"},
					&cli.StringFlag{Name: "fetch-date", Usage: "RFC 3339 fetch date (defaults to now)"},
					&cli.StringFlag{Name: "snapshot-id", Usage: "Snapshot the version was extracted from"},
					&cli.BoolFlag{Name: "refilter", Usage: "Mark the version as a refilter"},
					&cli.StringSliceFlag{Name: "metadata", Usage: "Extra key=value attribute (repeatable)"},
				},
			},
			{
				Name:   "latest",
				Usage:  "Show the latest record of a document",
				Action: latestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "service", Aliases: []string{"s"}, Usage: "Service ID", Required: true},
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Document type", Required: true},
					&cli.BoolFlag{Name: "defer-content", Usage: "Omit record content"},
				},
			},
			{
				Name:      "show",
				Usage:     "Show a record by ID",
				ArgsUsage: "<id>",
				Action:    showCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "defer-content", Usage: "Omit record content"},
				},
			},
			{
				Name:   "history",
				Usage:  "List every record in fetch date order, one JSON object per line",
				Action: historyCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "defer-content", Usage: "Omit record content"},
				},
			},
			{
				Name:   "count",
				Usage:  "Count records",
				Action: countCommand,
			},
			{
				Name:   "reset",
				Usage:  "Remove every record of the dataset",
				Action: resetCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Usage: "Confirm the removal"},
				},
			},
			{
				Name:   "transfer",
				Usage:  "Copy snapshots and versions into the archive described by another configuration",
				Action: transferCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "to", Usage: "Destination configuration file", Required: true},
				},
			},
		},
	}
}

// logLevel is shared by the default logger so the configuration can lower or
// raise it once loaded.
var logLevel = new(slog.LevelVar)

func setupLogger(c *cli.Context) error {
	level := slog.LevelInfo
	if c.IsSet("log-level") {
		var err error
		if level, err = parseLogLevel(c.String("log-level")); err != nil {
			return err
		}
	}
	logLevel.Set(level)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch levelStr := strings.ToLower(s); levelStr {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}
}

// applyConfigLogLevel uses the log level of the archive configuration unless
// --log-level was given.
func applyConfigLogLevel(c *cli.Context, a *archivist.Archive) error {
	if c.IsSet("log-level") {
		return nil
	}
	level, err := parseLogLevel(a.Config().LogLevel)
	if err != nil {
		return err
	}
	logLevel.Set(level)
	return nil
}

// openArchive loads the configuration named by --config and opens the archive.
func openArchive(c *cli.Context, path string) (*archivist.Archive, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return archivist.Open(c.Context, cfg)
}

// withDataset runs fn against the repository selected by --dataset.
func withDataset(c *cli.Context, fn func(a *archivist.Archive, repo storage.Repository) error) error {
	dataset := c.String("dataset")
	if dataset != datasetSnapshots && dataset != datasetVersions {
		return fmt.Errorf("invalid dataset %q: must be one of snapshots, versions", dataset)
	}

	a, err := openArchive(c, c.String("config"))
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(c.Context))
	if err := applyConfigLogLevel(c, a); err != nil {
		return err
	}

	repo := a.Versions()
	if dataset == datasetSnapshots {
		repo = a.Snapshots()
	}
	return fn(a, repo)
}

func readOptions(c *cli.Context) []storage.ReadOption {
	if c.Bool("defer-content") {
		return []storage.ReadOption{storage.WithDeferredContent()}
	}
	return nil
}

func recordCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one file argument")
	}
	content, err := readInput(c.App.Reader, c.Args().First())
	if err != nil {
		return err
	}

	fetchDate := time.Now().UTC()
	if s := c.String("fetch-date"); s != "" {
		if fetchDate, err = time.Parse(time.RFC3339Nano, s); err != nil {
			return fmt.Errorf("invalid fetch date: %w", err)
		}
	}

	opts := []core.RecordOption{
		core.WithContent(content),
		core.WithRefilter(c.Bool("refilter")),
		core.WithSnapshotID(core.ID(c.String("snapshot-id"))),
	}
	for _, kv := range c.StringSlice("metadata") {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid metadata %q: expected key=value", kv)
		}
		opts = append(opts, core.WithMetadata(key, value))
	}

	record, err := core.NewRecord(c.String("service"), c.String("type"), c.String("mime-type"), fetchDate, opts...)
	if err != nil {
		return err
	}

	return withDataset(c, func(a *archivist.Archive, repo storage.Repository) error {
		rec, err := a.NewRecorder()
		if err != nil {
			return err
		}
		defer rec.Release()

		var saved *core.Record
		if c.String("dataset") == datasetSnapshots {
			saved, err = rec.RecordSnapshot(c.Context, record)
		} else {
			saved, err = rec.RecordVersion(c.Context, nil, record)
		}
		if err != nil {
			return err
		}
		if saved == nil {
			return writeJSON(c.App.Writer, map[string]any{"unchanged": true, "serviceId": record.ServiceID, "documentType": record.DocumentType})
		}
		return writeRecord(c.App.Writer, saved)
	})
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		if stdin == nil {
			stdin = os.Stdin
		}
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

func latestCommand(c *cli.Context) error {
	return withDataset(c, func(_ *archivist.Archive, repo storage.Repository) error {
		record, err := repo.FindLatestByServiceIDAndDocumentType(c.Context, c.String("service"), c.String("type"), readOptions(c)...)
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("no record for %s %s", c.String("service"), c.String("type"))
		}
		return writeRecord(c.App.Writer, record)
	})
}

func showCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one record ID")
	}
	id := core.ID(c.Args().First())

	return withDataset(c, func(_ *archivist.Archive, repo storage.Repository) error {
		record, err := repo.FindByID(c.Context, id, readOptions(c)...)
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("record %s not found", id)
		}
		return writeRecord(c.App.Writer, record)
	})
}

func historyCommand(c *cli.Context) error {
	return withDataset(c, func(_ *archivist.Archive, repo storage.Repository) error {
		for record, err := range repo.Iterate(c.Context, readOptions(c)...) {
			if err != nil {
				return err
			}
			if err := writeRecord(c.App.Writer, record); err != nil {
				return err
			}
		}
		return nil
	})
}

func countCommand(c *cli.Context) error {
	return withDataset(c, func(_ *archivist.Archive, repo storage.Repository) error {
		n, err := repo.Count(c.Context)
		if err != nil {
			return err
		}
		return writeJSON(c.App.Writer, map[string]any{"dataset": c.String("dataset"), "count": n})
	})
}

func resetCommand(c *cli.Context) error {
	if !c.Bool("yes") {
		return errors.New("refusing to remove every record without --yes")
	}
	return withDataset(c, func(_ *archivist.Archive, repo storage.Repository) error {
		if err := repo.RemoveAll(c.Context); err != nil {
			return err
		}
		return writeJSON(c.App.Writer, map[string]any{"dataset": c.String("dataset"), "reset": true})
	})
}

func transferCommand(c *cli.Context) error {
	src, err := openArchive(c, c.String("config"))
	if err != nil {
		return err
	}
	defer src.Close(context.WithoutCancel(c.Context))
	if err := applyConfigLogLevel(c, src); err != nil {
		return err
	}

	dst, err := openArchive(c, c.String("to"))
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	defer dst.Close(context.WithoutCancel(c.Context))

	stats, err := src.TransferTo(c.Context, dst)
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, stats)
}

// recordView is the JSON form of a record. Text content is written as is,
// anything else as base64.
type recordView struct {
	*core.Record
	Content       string `json:"content,omitempty"`
	ContentBase64 []byte `json:"contentBase64,omitempty"`
}

func writeRecord(w io.Writer, record *core.Record) error {
	view := recordView{Record: record}
	if record.HasContent() {
		if strings.HasPrefix(record.MimeType, "text/") {
			view.Content = string(record.Content)
		} else {
			view.ContentBase64 = record.Content
		}
	}
	return writeJSON(w, view)
}

func writeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
