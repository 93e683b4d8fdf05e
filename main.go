// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Freeloader - crosshead control for the Freeloader materials test machine.

package main

import (
	"os"

	"github.com/Thermoquad/freeloader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
