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
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/poiesic/bulkimport"
	"github.com/urfave/cli/v2"
)

const envPrefix = "BULKIMPORT_"

func main() {
	// a missing .env is not an error
	_ = godotenv.Load(".env")

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "bulkimport",
		Usage: "Bulk import file trees and CSV feeds into a document store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{envPrefix + "LOG_LEVEL"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Import a directory tree or CSV file",
				ArgsUsage: "<path>",
				Action:    importCommand,
				Flags:     append(storeFlags(false), importFlags()...),
			},
			{
				Name:   "jobs",
				Usage:  "List recorded import jobs",
				Action: jobsCommand,
				Flags: append(storeFlags(true),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Show at most N jobs (0 for all)",
						Value: 20,
					},
				),
			},
			{
				Name:      "show",
				Usage:     "Print a document and its children",
				ArgsUsage: "<path>",
				Action:    showCommand,
				Flags:     storeFlags(true),
			},
			{
				Name:      "treegen",
				Usage:     "Generate a synthetic tree for load testing",
				ArgsUsage: "<output>",
				Action:    treegenCommand,
				Flags:     treegenFlags(),
			},
		},
	}
}

// storeFlags are the flags selecting the document store. The import command
// leaves --db optional so that dry runs need no store.
func storeFlags(required bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "db",
			Aliases:  []string{"d"},
			Usage:    "Path to the document store directory",
			Required: required,
			EnvVars:  []string{envPrefix + "DB"},
		},
		&cli.StringFlag{
			Name:    "engine",
			Usage:   "Storage engine (badger, pebble)",
			Value:   string(bulkimport.EngineBadger),
			EnvVars: []string{envPrefix + "ENGINE"},
		},
	}
}

func openStore(c *cli.Context) (*bulkimport.Store, error) {
	dbPath := c.String("db")
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	engine, err := bulkimport.ParseEngine(c.String("engine"))
	if err != nil {
		return nil, err
	}
	store, err := bulkimport.Open(dbPath, bulkimport.WithEngine(engine))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
