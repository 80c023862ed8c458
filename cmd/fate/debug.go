package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/fate/sched/clock"
	"github.com/hrygo/fate/sched/oracle"
	"github.com/hrygo/fate/sched/resultfile"
	"github.com/hrygo/fate/sched/statedir"
	"github.com/hrygo/fate/sched/taskspec"
)

// debugCmd groups ad-hoc, non-scheduling operator tooling, supplementing
// a feature dropped by spec.md's distillation (grounded on
// src/fate/cli/command/debug.py: dumping resolved state without
// executing anything, and running one task or program ad-hoc).
var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "ad-hoc inspection and execution commands",
}

var debugStateCmd = &cobra.Command{
	Use:   "state",
	Short: "dump the resolved state directory and which tasks are currently due, without running anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, stateDir, err := loadTasks()
		if err != nil {
			logConfigError(err)
			os.Exit(exitCodeFor(err))
		}

		fmt.Printf("state directory: %s\n", stateDir)
		fmt.Printf("run id: %s\n", statedir.RunID(viper.GetStringSlice("conf")))

		confDir := filepath.Join(stateDir, "conf")
		entries, err := os.ReadDir(confDir)
		if err != nil {
			fmt.Printf("conf/ directory: (unreadable: %v)\n", err)
		} else {
			fmt.Println("conf/ contents:")
			for _, e := range entries {
				target, _ := os.Readlink(filepath.Join(confDir, e.Name()))
				fmt.Printf("  %s -> %s\n", e.Name(), target)
			}
		}

		oc, err := oracle.New()
		if err != nil {
			return err
		}

		cs := clock.NewCheckState(filepath.Join(stateDir, "lastcheck"))
		lastCheck, ok, err := cs.LastCheck()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("last check: (none recorded — next run treats every task as not due)")
		} else {
			fmt.Printf("last check: %s\n", lastCheck.Format(time.RFC3339))
		}

		now := time.Now()
		fmt.Println("due as of now:")
		dueCount := 0
		for _, spec := range tasks {
			due, err := oc.Scheduled(spec, lastCheck, now)
			if err != nil {
				fmt.Printf("  %-20s error evaluating schedule: %v\n", spec.Name, err)
				continue
			}
			if due {
				dueCount++
			}
			fmt.Printf("  %-20s due=%v schedule=%q\n", spec.Name, due, spec.Schedule)
		}
		if dueCount == 0 {
			fmt.Println("  (none)")
		}

		return nil
	},
}

var debugRunFlags struct {
	stdin  string
	record bool
}

func findTask(tasks []taskspec.TaskSpec, name string) (taskspec.TaskSpec, bool) {
	for _, t := range tasks {
		if t.Name == name {
			return t, true
		}
	}
	return taskspec.TaskSpec{}, false
}

var debugRunCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "run a single configured task ad-hoc, without scheduling",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, _, err := loadTasks()
		if err != nil {
			logConfigError(err)
			os.Exit(exitCodeFor(err))
		}

		spec, ok := findTask(tasks, args[0])
		if !ok {
			return fmt.Errorf("task not found: %q", args[0])
		}

		stdin := spec.Param
		if debugRunFlags.stdin != "" {
			stdin = []byte(debugRunFlags.stdin)
		}

		var stdout bytes.Buffer
		c := exec.Command(spec.Exec[0], spec.Exec[1:]...)
		c.Stdin = bytes.NewReader(stdin)
		c.Stdout = &stdout
		c.Stderr = os.Stderr

		runErr := c.Run()
		os.Stdout.Write(stdout.Bytes())

		if debugRunFlags.record && runErr == nil && spec.MayResult() && stdout.Len() > 0 {
			writeFile := func(path string, data []byte) error { return os.WriteFile(path, data, 0o644) }
			path, encErr := resultfile.Write(writeFile, spec.ResultRoot, spec.Name, time.Now(), stdout.Bytes())
			if encErr != nil {
				fmt.Fprintln(os.Stderr, "result does not appear to match a known encoding: will write to file without suffix:", encErr)
			}
			fmt.Fprintln(os.Stderr, "result recorded at", path)
		}

		return runErr
	},
}

var debugExecuteCmd = &cobra.Command{
	Use:   "execute <command> [args...]",
	Short: "execute an arbitrary program as an ad-hoc task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := exec.Command(args[0], args[1:]...)
		if debugRunFlags.stdin != "" {
			c.Stdin = bytes.NewReader([]byte(debugRunFlags.stdin))
		}
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		return c.Run()
	},
}

func init() {
	debugExecuteCmd.Flags().StringVarP(&debugRunFlags.stdin, "stdin", "i", "", "standard input (parameterization) for the command")
	debugRunCmd.Flags().StringVarP(&debugRunFlags.stdin, "stdin", "i", "", "override standard input for the task (default: from configuration)")
	debugRunCmd.Flags().BoolVar(&debugRunFlags.record, "record", false, "record the task's result")

	debugCmd.AddCommand(debugStateCmd, debugRunCmd, debugExecuteCmd)
}
