// Copyright 2025 go-lightsched Authors
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

// schedshow builds a named workload, applies the GPU scheduling rule for a
// target, and prints the loop nests before and after.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ajroetker/go-lightsched/internal/workload"
	"github.com/ajroetker/go-lightsched/sched/gpu"
	"github.com/ajroetker/go-lightsched/target"
	"github.com/ajroetker/go-lightsched/tir"
)

var (
	flagTarget string
	flagBefore bool
)

func main() {
	root := &cobra.Command{
		Use:   "schedshow <workload>",
		Short: "Print a workload's loop nests before and after GPU scheduling",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return run(args[0])
		},
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&flagTarget, "target", "t", "cuda", "device backend or name (cuda, rocm, metal, nvidia/...)")
	root.Flags().BoolVar(&flagBefore, "before", false, "print only the unscheduled form")

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available workloads",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(strings.Join(workload.Names(), "\n"))
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(name string) error {
	fn, err := workload.Build(name)
	if err != nil {
		return err
	}
	heading(name, "before")
	fmt.Print(tir.Script(fn))
	if flagBefore {
		return nil
	}

	tgt, err := target.Parse(flagTarget)
	if err != nil {
		return errors.Wrap(err, "resolving target")
	}
	s, ok := gpu.DecodeGEMV{}.Apply(fn, tgt, false)
	if !ok {
		return errors.Errorf("workload %q does not match the rule", name)
	}
	heading(name, "after")
	fmt.Print(tir.Script(s.Func()))
	return nil
}

func heading(name, phase string) {
	title := cases.Title(language.English).String(phase)
	fmt.Printf("=== %s: %s ===\n", title, name)
}
