// Copyright 2024 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bpowers/memhash"
	"github.com/bpowers/memhash/internal/unsafestring"
)

var errExit = errors.New("exit")

type shell struct {
	store *memhash.Store
	out   io.Writer
}

func parseKey(s string) (uint64, error) {
	key, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid key %q", s)
	}
	return key, nil
}

// splitArgs splits line into the command, up to n-1 fields, and the rest
// of the line verbatim (so values may contain spaces).
func splitArgs(line string, n int) []string {
	var parts []string
	rest := line
	for len(parts) < n-1 {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			return parts
		}
		field, tail, _ := strings.Cut(rest, " ")
		parts = append(parts, field)
		rest = tail
	}
	if rest = strings.TrimLeft(rest, " \t"); rest != "" {
		parts = append(parts, rest)
	}
	return parts
}

func (sh *shell) exec(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToUpper(parts[0])

	if strings.HasPrefix(cmd, ".") {
		return sh.dot(strings.ToLower(cmd), parts[1:])
	}

	switch cmd {
	case "SET", "APPEND":
		parts = splitArgs(line, 3)
		if len(parts) < 2 {
			return fmt.Errorf("usage: %s key [value]", cmd)
		}
		key, err := parseKey(parts[1])
		if err != nil {
			return err
		}
		var value []byte
		if len(parts) == 3 {
			// Set and Append copy value into the region
			value = unsafestring.ToBytes(parts[2])
		}
		if cmd == "SET" {
			err = sh.store.Set(key, value)
		} else {
			err = sh.store.Append(key, value)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "OK")

	case "GET":
		if len(parts) != 2 {
			return errors.New("usage: GET key")
		}
		key, err := parseKey(parts[1])
		if err != nil {
			return err
		}
		value, err := sh.store.Get(key)
		if errors.Is(err, memhash.ErrNotFound) {
			fmt.Fprintln(sh.out, "(not found)")
			return nil
		} else if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%q\n", value)

	case "DEL":
		if len(parts) != 2 {
			return errors.New("usage: DEL key")
		}
		key, err := parseKey(parts[1])
		if err != nil {
			return err
		}
		if err := sh.store.Delete(key); errors.Is(err, memhash.ErrNotFound) {
			fmt.Fprintln(sh.out, "(not found)")
			return nil
		} else if err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "OK")

	case "EXISTS":
		if len(parts) != 2 {
			return errors.New("usage: EXISTS key")
		}
		key, err := parseKey(parts[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(sh.out, sh.store.Exists(key))

	case "KEYS":
		n := 0
		for k, ok := sh.store.Next(0); ok; k, ok = sh.store.Next(k) {
			fmt.Fprintln(sh.out, k)
			n++
		}
		fmt.Fprintf(sh.out, "(%d keys)\n", n)

	default:
		return fmt.Errorf("unknown command %q (try .help)", parts[0])
	}
	return nil
}

func (sh *shell) dot(cmd string, args []string) error {
	switch cmd {
	case ".help":
		fmt.Fprint(sh.out, helpText)

	case ".exit", ".quit":
		return errExit

	case ".stat":
		st := sh.store.Stat()
		fmt.Fprintf(sh.out, "nodes:  %d/%d (%d%%)\n", st.NodesUsed, st.NodeCapacity, st.NodeUsedPercent)
		fmt.Fprintf(sh.out, "blocks: %d/%d (%d%%)\n", st.BlocksUsed, st.BlockCapacity, st.BlockUsedPercent)

	case ".sync":
		mode := memhash.SyncSync
		if len(args) > 0 {
			if err := mode.UnmarshalText([]byte(args[0])); err != nil {
				return err
			}
		}
		if err := sh.store.Sync(mode); err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "OK")

	case ".check":
		if err := sh.store.Check(); err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "OK")

	case ".probe":
		shape, err := memhash.Probe(sh.store.Path())
		if err != nil {
			return err
		}
		fmt.Fprintln(sh.out, describeShape(shape))

	case ".export":
		if len(args) < 1 || len(args) > 2 {
			return errors.New("usage: .export FILE [none|lz4|zstd]")
		}
		codec := memhash.CodecZstd
		if len(args) == 2 {
			var err error
			if codec, err = memhash.ParseCodec(args[1]); err != nil {
				return err
			}
		}
		n, err := sh.store.Export(args[0], codec)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "exported %d records\n", n)

	case ".import":
		if len(args) != 1 {
			return errors.New("usage: .import FILE")
		}
		n, err := sh.store.Import(args[0])
		fmt.Fprintf(sh.out, "imported %d records\n", n)
		return err

	case ".load":
		if len(args) != 1 {
			return errors.New("usage: .load FILE")
		}
		n, err := sh.load(args[0])
		fmt.Fprintf(sh.out, "loaded %d records\n", n)
		return err

	default:
		return fmt.Errorf("unknown command %q (try .help)", cmd)
	}
	return nil
}

// load Sets every key:value line of the file at path.
func (sh *shell) load(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("os.Open: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), memhash.MaxValueSize+64)
	n := 0
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		k, v, ok := bytes.Cut(line, []byte{':'})
		if !ok {
			return n, fmt.Errorf("%s:%d: missing ':'", path, lineNo)
		}
		key, err := parseKey(unsafestring.ToString(k))
		if err != nil {
			return n, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		if err := sh.store.Set(key, v); err != nil {
			return n, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("scanner.Err: %w", err)
	}
	return n, nil
}
