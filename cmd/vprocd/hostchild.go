package main

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/fatih/color"
	"github.com/jesseduffield/kill"
	"github.com/mgutz/str"

	"github.com/emkey1/pscal-vproc/pkg/utils"
	"github.com/emkey1/pscal-vproc/pkg/vproc"
)

// hostChild pairs a task-table entry with the real host process the demo
// shell spawned for it, so "kill" can force-reap via process-group-aware
// termination instead of just flipping the vproc's own bookkeeping.
type hostChild struct {
	cmd   *exec.Cmd
	entry *vproc.VProcTaskEntry
	table *vproc.VProcTaskTable
}

// forceReap kills the host process group and marks the task exited
// immediately: it does not wait for the child to notice anything.
func (h *hostChild) forceReap() error {
	err := kill.Kill(h.cmd)
	_ = h.table.MarkExit(h.entry.Pid, -1)
	return err
}

// runHostCommand splits a typed command line into argv, spawns it as a
// real host subprocess tracked by a new task-table entry, and registers it
// for "kill"/"ps" to find.
func (sh *shell) runHostCommand(args []string) {
	if len(args) == 0 {
		fmt.Println(utils.ColoredString("usage: run <command...>", color.FgRed))
		return
	}
	commandStr := strings.Join(args, " ")
	argv := str.ToArgv(commandStr)
	if len(argv) == 0 {
		return
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	kill.PrepareForChildren(cmd)

	if err := cmd.Start(); err != nil {
		fmt.Println(utils.ColoredString(err.Error(), color.FgRed))
		return
	}

	entry := sh.taskTable.Create(vproc.CreateOptions{
		ParentPid: sh.vp.Pid(),
		Label:     vproc.TruncateLabel(commandStr),
	})

	child := &hostChild{cmd: cmd, entry: entry, table: sh.taskTable}
	sh.mu.Lock()
	sh.hostCmds[entry.Pid] = child
	sh.mu.Unlock()

	go func() {
		err := cmd.Wait()
		code := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}
		_ = sh.taskTable.MarkExit(entry.Pid, code)
	}()

	fmt.Printf("started pid %d: %s\n", entry.Pid, commandStr)
}
