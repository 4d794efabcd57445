// Command vprocd is a headless demo/bootstrap binary wiring the vproc
// runtime together: task table, pty table, path virtualization, the
// cooperative session-input reader, and the interposition engine. It
// exposes a tiny line-oriented shell over stdin for exercising the wiring
// interactively; it is not the sandboxed host process itself, which is an
// external collaborator.
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-errors/errors"
	"github.com/integrii/flaggy"
	"github.com/jesseduffield/yaml"
	"github.com/samber/lo"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	"github.com/emkey1/pscal-vproc/pkg/config"
	"github.com/emkey1/pscal-vproc/pkg/interpose"
	"github.com/emkey1/pscal-vproc/pkg/pathvirt"
	"github.com/emkey1/pscal-vproc/pkg/pty"
	"github.com/emkey1/pscal-vproc/pkg/sessioninput"
	"github.com/emkey1/pscal-vproc/pkg/tasks"
	"github.com/emkey1/pscal-vproc/pkg/utils"
	"github.com/emkey1/pscal-vproc/pkg/vlog"
	"github.com/emkey1/pscal-vproc/pkg/vproc"
)

const defaultVersion = "unversioned"

var (
	commit      string
	version     = defaultVersion
	date        string
	buildSource = "unknown"

	configFlag    = false
	debuggingFlag = false
	prefixFlag    = ""
	colsFlag      = 80
	rowsFlag      = 24
)

func main() {
	updateBuildInfo()

	info := fmt.Sprintf(
		"%s\nDate: %s\nBuildSource: %s\nCommit: %s\nOS: %s\nArch: %s",
		version, date, buildSource, commit, runtime.GOOS, runtime.GOARCH,
	)

	flaggy.SetName("vprocd")
	flaggy.SetDescription("headless bootstrap shell for the vproc runtime")
	flaggy.DefaultParser.AdditionalHelpPrepend = "https://github.com/emkey1/pscal-vproc"

	flaggy.Bool(&configFlag, "c", "config", "Print the default runtime config")
	flaggy.Bool(&debuggingFlag, "d", "debug", "Enable debug logging and the go-deadlock detector")
	flaggy.String(&prefixFlag, "p", "prefix", "Path-virtualization root (sets PATH_TRUNCATE)")
	flaggy.Int(&colsFlag, "", "cols", "Initial terminal column count")
	flaggy.Int(&rowsFlag, "", "rows", "Initial terminal row count")
	flaggy.SetVersion(info)

	flaggy.Parse()

	if configFlag {
		var buf bytes.Buffer
		if err := yaml.NewEncoder(&buf).Encode(config.GetDefaultRuntimeConfig()); err != nil {
			log.Fatal(err.Error())
		}
		fmt.Printf("%v\n", buf.String())
		os.Exit(0)
	}

	appConfig, err := config.NewAppConfig("vprocd", version, commit, date, buildSource, debuggingFlag)
	if err != nil {
		log.Fatal(err.Error())
	}

	deadlock.Opts.Disable = !appConfig.Debug

	entry := vlog.New(appConfig, "vprocd")

	if err := run(appConfig, entry); err != nil {
		newErr := errors.Wrap(err, 0)
		entry.Error(newErr.ErrorStack())
		log.Fatalf("vprocd: %s", err.Error())
	}
}

func updateBuildInfo() {
	if version == defaultVersion {
		if buildInfo, ok := debug.ReadBuildInfo(); ok {
			revision, ok := lo.Find(buildInfo.Settings, func(setting debug.BuildSetting) bool {
				return setting.Key == "vcs.revision"
			})
			if ok {
				commit = revision.Value
				version = utils.SafeTruncate(revision.Value, 7)
			}
			buildTime, ok := lo.Find(buildInfo.Settings, func(setting debug.BuildSetting) bool {
				return setting.Key == "vcs.time"
			})
			if ok {
				date = buildTime.Value
			}
		}
	}
}

// shell bundles everything a command handler needs: the runtime's core
// tables plus the activation handle identifying this goroutine.
type shell struct {
	appConfig *config.AppConfig
	log       *logrus.Entry

	pathTruncate *pathvirt.Truncate
	taskTable    *vproc.VProcTaskTable
	ptyTable     *pty.Table
	engine       *interpose.Engine

	th    *vproc.ThreadHandle
	vp    *vproc.VProc
	stdio *sessioninput.VProcSessionStdio

	taskManager *tasks.TaskManager

	mu       sync.Mutex
	hostCmds map[int32]*hostChild
}

func run(appConfig *config.AppConfig, log *logrus.Entry) error {
	pathTruncate := pathvirt.New()
	if prefixFlag != "" {
		pathTruncate.ApplyEnvironment(prefixFlag, log)
	}

	taskTable := vproc.NewTaskTable(appConfig.RuntimeConfig, log)

	var provisioner pty.Provisioner
	if pathTruncate.Enabled() {
		provisioner = pathvirt.SlaveProvisioner{Prefix: prefixFlag, Log: log}
	} else {
		provisioner = noopProvisioner{}
	}
	ptyTable := pty.NewTable(appConfig.RuntimeConfig.MaxPtys, provisioner, log)

	engine := interpose.NewEngine()
	registerWarmUpOperations(engine)
	mainThreadForWarmUp := interpose.NewThreadHandle(true)
	interpose.WarmUp(engine, mainThreadForWarmUp)
	engine.Gate.SetMasterEnabled(true)
	engine.Gate.SetReady(true)

	vp, err := vproc.Create(taskTable, appConfig.RuntimeConfig, vproc.Options{
		Label:     vproc.TruncateLabel("vprocd-shell"),
		Cols:      uint16(colsFlag),
		Rows:      uint16(rowsFlag),
		ParentPid: 0,
	}, log)
	if err != nil {
		return err
	}

	th := vproc.NewThreadHandle()
	vproc.Activate(th, vp)
	defer vproc.Deactivate(th)

	sessionInput := sessioninput.New(os.Stdin, log)
	stdio := sessioninput.NewStdio(0, 1, 2, vp.Pid(), sessionInput)
	sessioninput.Activate(th, stdio)
	defer stdio.Destroy()
	defer sessioninput.Deactivate(th)

	sh := &shell{
		appConfig:    appConfig,
		log:          log,
		pathTruncate: pathTruncate,
		taskTable:    taskTable,
		ptyTable:     ptyTable,
		engine:       engine,
		th:           th,
		vp:           vp,
		stdio:        stdio,
		taskManager:  tasks.NewTaskManager(),
		hostCmds:     map[int32]*hostChild{},
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		sessionInput.StopReader()
	}()

	fmt.Println(utils.ColoredString("vprocd ready — type 'help' for commands", color.FgCyan))
	return sh.loop(sessionInput)
}

// noopProvisioner backs pty allocation when no path-virtualization prefix
// is configured: pty numbers are still tracked, there is just no on-disk
// placeholder to create or remove.
type noopProvisioner struct{}

func (noopProvisioner) ProvisionSlave(num int) error { return nil }
func (noopProvisioner) RemoveSlave(num int) error    { return nil }

// registerWarmUpOperations installs the fixed set of raw operations
// interpose.WarmUp pre-invokes before the gate is marked bootstrapped. The
// shim halves are never exercised during warm-up — they exist so the same
// Engine can later route these names through the shim path once a session
// is active.
func registerWarmUpOperations(e *interpose.Engine) {
	e.Register("getpid", interpose.Operation{
		Raw:  func(args ...any) (any, error) { return os.Getpid(), nil },
		Shim: func(args ...any) (any, error) { return os.Getpid(), nil },
	})
	e.Register("read-dev-null", interpose.Operation{
		Raw: func(args ...any) (any, error) {
			f, err := os.Open(os.DevNull)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			var buf [1]byte
			n, _ := f.Read(buf[:0])
			return n, nil
		},
		Shim: func(args ...any) (any, error) { return 0, nil },
	})
	e.Register("write-dev-null", interpose.Operation{
		Raw: func(args ...any) (any, error) {
			f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			return f.Write(nil)
		},
		Shim: func(args ...any) (any, error) { return 0, nil },
	})
	e.Register("stat", interpose.Operation{
		Raw:  func(args ...any) (any, error) { return os.Stat(os.DevNull) },
		Shim: func(args ...any) (any, error) { return os.Stat(os.DevNull) },
	})
	e.Register("access", interpose.Operation{
		Raw:  func(args ...any) (any, error) { _, err := os.Stat(os.DevNull); return nil, err },
		Shim: func(args ...any) (any, error) { _, err := os.Stat(os.DevNull); return nil, err },
	})
}

func (sh *shell) loop(source *sessioninput.VProcSessionInput) error {
	scanner := bufio.NewScanner(source)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if sh.dispatch(line) {
			return nil
		}
	}
	return nil
}

// dispatch runs one command line and reports whether the shell should
// exit.
func (sh *shell) dispatch(line string) (exit bool) {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		sh.printHelp()
	case "ps":
		sh.printSnapshot()
	case "pty":
		sh.demoPty()
	case "run":
		sh.runHostCommand(args)
	case "kill":
		sh.killTask(args)
	case "watch":
		sh.watchSnapshot()
	default:
		fmt.Println(utils.ColoredString(fmt.Sprintf("unknown command %q — try 'help'", cmd), color.FgRed))
	}
	return false
}

func (sh *shell) printHelp() {
	fmt.Println(strings.Join([]string{
		"help            show this message",
		"ps              list vproc task-table entries",
		"pty             allocate and immediately tear down a demo pty pair",
		"run <cmd...>    spawn a real host command as a tracked task",
		"kill <pid>      force-reap a tracked task (host process if present)",
		"watch           print the task table every second until replaced or stopped",
		"quit | exit     leave the shell",
	}, "\n"))
}

func (sh *shell) printSnapshot() {
	rows := snapshotRows(sh.taskTable.SnapshotAll())
	table, err := utils.RenderTable(rows)
	if err != nil {
		fmt.Println(utils.ColoredString(err.Error(), color.FgRed))
		return
	}
	fmt.Println(table)
}

func snapshotRows(entries []vproc.TaskSnapshot) [][]string {
	rows := [][]string{{"PID", "PPID", "PGID", "SID", "STATE", "LABEL"}}
	for _, e := range entries {
		state := "running"
		if e.Exited {
			state = "exited"
		} else if e.Stopped {
			state = "stopped"
		}
		rows = append(rows, []string{
			strconv.Itoa(int(e.Pid)),
			strconv.Itoa(int(e.ParentPid)),
			strconv.Itoa(int(e.Pgid)),
			strconv.Itoa(int(e.Sid)),
			state,
			e.Label,
		})
	}
	return rows
}

func (sh *shell) demoPty() {
	master, err := sh.ptyTable.OpenMaster()
	if err != nil {
		fmt.Println(utils.ColoredString(err.Error(), color.FgRed))
		return
	}
	master.Unlock(false)
	slave, err := sh.ptyTable.OpenSlave(master.Num())
	if err != nil {
		fmt.Println(utils.ColoredString(err.Error(), color.FgRed))
		_ = master.Close()
		return
	}
	fmt.Printf("allocated pty #%d\n", master.Num())
	_ = slave.Close()
	_ = master.Close()
}

func (sh *shell) watchSnapshot() {
	_ = sh.taskManager.NewTask(func(stop chan struct{}) {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		sh.printSnapshot()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				sh.printSnapshot()
			}
		}
	})
}

func (sh *shell) killTask(args []string) {
	if len(args) != 1 {
		fmt.Println(utils.ColoredString("usage: kill <pid>", color.FgRed))
		return
	}
	pid64, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		fmt.Println(utils.ColoredString(err.Error(), color.FgRed))
		return
	}
	pid := int32(pid64)

	sh.mu.Lock()
	child, tracked := sh.hostCmds[pid]
	sh.mu.Unlock()

	if tracked {
		if err := child.forceReap(); err != nil {
			fmt.Println(utils.ColoredString(err.Error(), color.FgRed))
		}
		sh.mu.Lock()
		delete(sh.hostCmds, pid)
		sh.mu.Unlock()
		return
	}

	if err := sh.taskTable.Kill(pid, syscall.SIGKILL); err != nil {
		fmt.Println(utils.ColoredString(err.Error(), color.FgRed))
	}
}
