package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"stashd/internal/store"
	"stashd/pkg/logx"
)

// ExecRunner shells out to an external backup tool once per account.
//
// The command is a template; each argument may contain the placeholders
// {type}, {account}, {destination} and {root}, substituted per operation.
// The tool's stdout/stderr stream into the debug log line by line. The last
// line of stdout is treated as the produced artifact filename (backup runs),
// with an optional second field naming a companion artifact.
//
// No timeout is imposed: a backup must never be truncated mid-write, so a
// stuck tool blocks the pass until it returns on its own.
type ExecRunner struct {
	Command []string
	Log     logx.Logger
}

func NewExecRunner(command []string, log logx.Logger) (*ExecRunner, error) {
	if len(command) == 0 {
		return nil, errors.New("runner command is empty")
	}
	return &ExecRunner{Command: command, Log: log}, nil
}

func (r *ExecRunner) RunAccount(ctx context.Context, op Operation) (Result, error) {
	argv := make([]string, len(r.Command))
	repl := strings.NewReplacer(
		"{type}", string(op.Type),
		"{account}", op.Account,
		"{destination}", op.Destination.ID,
		"{root}", op.Destination.Root,
	)
	for i, a := range r.Command {
		argv[i] = repl.Replace(a)
	}

	log := r.Log.With(
		logx.String("account", op.Account),
		logx.String("destination", op.Destination.ID),
	)
	log.Debug("invoking backup tool", logx.Strings("argv", argv))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, err
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		lastLine string
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stdout)
		for sc.Scan() {
			line := sc.Text()
			mu.Lock()
			if strings.TrimSpace(line) != "" {
				lastLine = line
			}
			mu.Unlock()
			log.Debug("tool stdout", logx.String("line", line))
		}
	}()
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			log.Debug("tool stderr", logx.String("line", sc.Text()))
		}
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return Result{OK: false, Message: err.Error()}, nil
	}

	res := Result{OK: true, Message: "ok"}
	if op.Type == store.JobBackup {
		mu.Lock()
		fields := strings.Fields(lastLine)
		mu.Unlock()
		if len(fields) > 0 {
			res.Artifact = fields[0]
		}
		if len(fields) > 1 {
			res.Companion = fields[1]
		}
		if res.Artifact == "" {
			res.OK = false
			res.Message = "tool reported no artifact"
		}
	}
	return res, nil
}
