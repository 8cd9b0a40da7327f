// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command tracegraph loads observations into an entity store and answers
// cascade, confidence, and history questions about them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/tracegraph/services/trace/cascade"
	"github.com/AleutianAI/tracegraph/services/trace/entity"
)

// Exit codes.
const (
	exitOK             = 0
	exitError          = 1
	exitUnknownEntity  = 2
	exitBudgetExceeded = 3
	exitNotFound       = 4
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	code := exitCode(err)
	if err != nil {
		reportError(a, stdout, stderr, err, code)
	}
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, cascade.ErrUnknownEntity):
		return exitUnknownEntity
	case errors.Is(err, entity.ErrNotFound):
		return exitNotFound
	case errors.Is(err, cascade.ErrTraversalBudgetExceeded):
		return exitBudgetExceeded
	default:
		return exitError
	}
}

func reportError(a *app, stdout, stderr io.Writer, err error, code int) {
	msg := err.Error()
	switch code {
	case exitUnknownEntity:
		msg = "unknown entity: " + msg
	case exitBudgetExceeded:
		msg = "traversal budget exceeded: " + msg
	case exitNotFound:
		msg = "not found: " + msg
	}

	if a.flags.format == formatJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{
			"success":   false,
			"error":     msg,
			"exit_code": code,
		})
		return
	}
	fmt.Fprintf(stderr, "Error: %s\n", msg)
}
