// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command memhash is an interactive shell over a memhash region file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"gopkg.in/yaml.v3"

	"github.com/bpowers/memhash"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("SET"),
	readline.PcItem("GET"),
	readline.PcItem("DEL"),
	readline.PcItem("APPEND"),
	readline.PcItem("EXISTS"),
	readline.PcItem("KEYS"),
	readline.PcItem(".stat"),
	readline.PcItem(".sync",
		readline.PcItem("async"),
		readline.PcItem("sync"),
	),
	readline.PcItem(".check"),
	readline.PcItem(".probe"),
	readline.PcItem(".export"),
	readline.PcItem(".import"),
	readline.PcItem(".load"),
	readline.PcItem(".help"),
	readline.PcItem(".exit"),
)

const helpText = `
Commands:
  SET key value           - Store value under key
  GET key                 - Print the value stored under key
  DEL key                 - Delete key
  APPEND key value        - Append value to the value stored under key
  EXISTS key              - Report whether key is stored
  KEYS                    - List every key

  .stat                   - Show node and block usage
  .sync [async|sync]      - Flush the region to disk
  .check                  - Verify the region's consistency
  .probe                  - Show the region's fixed shape
  .export FILE [codec]    - Write a snapshot (codec: none, lz4 or zstd)
  .import FILE            - Load every record of a snapshot
  .load FILE              - Load key:value lines
  .help                   - Show this help message
  .exit                   - Exit the program

Keys are non-zero unsigned 64-bit integers.
`

type settings struct {
	path    string
	cfg     memhash.Config
	verbose bool
	// shapeSet records whether any of the region's fixed dimensions came
	// from the command line or a config file.
	shapeSet bool
}

func parseArgs(args []string, stderr io.Writer) (settings, error) {
	fset := flag.NewFlagSet("memhash", flag.ContinueOnError)
	fset.SetOutput(stderr)
	fset.Usage = func() {
		fmt.Fprintf(fset.Output(), "Usage: memhash [options] path\n\nOptions:\n")
		fset.PrintDefaults()
		fmt.Fprint(fset.Output(), helpText)
	}

	def := memhash.DefaultConfig()
	configPath := fset.String("config", "", "YAML `file` with region settings; flags override it")
	levels := fset.Int("levels", def.Levels, "number of hash levels")
	bound := fset.Uint("bound", uint(def.LevelBound), "upper bound for level capacities")
	pool := fset.Int("pool", def.PoolSize, "number of blocks in the pool")
	retention := fset.Duration("retention", def.Retention, "entry lifetime (0 disables expiry)")
	syncEvery := fset.Int("sync-every", def.SyncEvery, "flush after this many mutations (0 disables)")
	var syncMode memhash.SyncMode
	fset.TextVar(&syncMode, "sync-mode", def.SyncMode, "`mode` for periodic flushes: async or sync")
	mlock := fset.Bool("mlock", def.Mlock, "pin the region in memory")
	verbose := fset.Bool("v", false, "log debug output")

	if err := fset.Parse(args); err != nil {
		return settings{}, err
	}
	if fset.NArg() != 1 {
		fset.Usage()
		return settings{}, errors.New("expected exactly one region path")
	}

	s := settings{
		path:    fset.Arg(0),
		cfg:     def,
		verbose: *verbose,
	}
	if *configPath != "" {
		set, err := loadConfig(*configPath, &s.cfg)
		if err != nil {
			return settings{}, err
		}
		s.shapeSet = set
	}

	fset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "levels":
			s.cfg.Levels = *levels
			s.shapeSet = true
		case "bound":
			s.cfg.LevelBound = uint32(*bound)
			s.shapeSet = true
		case "pool":
			s.cfg.PoolSize = *pool
			s.shapeSet = true
		case "retention":
			s.cfg.Retention = *retention
		case "sync-every":
			s.cfg.SyncEvery = *syncEvery
		case "sync-mode":
			s.cfg.SyncMode = syncMode
		case "mlock":
			s.cfg.Mlock = *mlock
		}
	})
	return s, nil
}

// loadConfig decodes a YAML file over cfg and reports whether it set any
// of the region's fixed dimensions.
func loadConfig(path string, cfg *memhash.Config) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("os.ReadFile: %w", err)
	}
	var keys map[string]any
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}
	_, levels := keys["levels"]
	_, bound := keys["level_bound"]
	_, pool := keys["pool_size"]
	return levels || bound || pool, nil
}

func openStore(s settings, logger *slog.Logger) (*memhash.Store, error) {
	cfg := s.cfg
	if !s.shapeSet {
		// an existing region's shape comes from its header
		shape, err := memhash.Probe(s.path)
		switch {
		case err == nil:
			cfg.Levels = shape.Levels
			cfg.LevelBound = shape.LevelBound
			cfg.PoolSize = shape.PoolSize
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}
	return memhash.Open(s.path, cfg, memhash.WithLogger(logger))
}

func main() {
	s, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(2)
	}

	level := slog.LevelInfo
	if s.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := openStore(s, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening region: %s\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Sync(memhash.SyncSync); err != nil {
			fmt.Fprintf(os.Stderr, "Error syncing region: %s\n", err)
		}
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing region: %s\n", err)
		}
	}()

	runInteractive(store)
}

func runInteractive(store *memhash.Store) {
	fmt.Printf("memhash: %s (%s)\n", store.Path(), describeShape(store.Shape()))
	fmt.Println("Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".memhash_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "memhash> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		return
	}
	defer rl.Close()

	sh := &shell{store: store, out: rl.Stdout()}
	for {
		line, readErr := rl.Readline()
		if readErr != nil {
			if errors.Is(readErr, readline.ErrInterrupt) {
				if len(line) == 0 {
					return
				}
				continue
			} else if errors.Is(readErr, io.EOF) {
				return
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := sh.exec(line); errors.Is(err, errExit) {
			return
		} else if err != nil {
			fmt.Fprintf(sh.out, "Error: %s\n", err)
		}
	}
}

func describeShape(shape memhash.Shape) string {
	return fmt.Sprintf("levels=%d bound=%d pool=%d", shape.Levels, shape.LevelBound, shape.PoolSize)
}
