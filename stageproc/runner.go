// Package stageproc runs the external stage processors. Each pipeline stage
// maps to an operator-configured command template executed without a shell;
// only success or failure (with its retry classification) is reported back.
package stageproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
	"unicode/utf8"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"podqueued/config"
	"podqueued/task"
)

// Runner executes stage commands for tasks.
type Runner struct {
	cfg      *config.Config
	commands map[task.Stage][]string
	workDir  string
	log      *slog.Logger
}

// NewRunner splits and validates every configured stage command up front, so
// a broken template fails the daemon at startup rather than the first task.
func NewRunner(cfg *config.Config, log *slog.Logger) (*Runner, error) {
	if log == nil {
		log = slog.Default()
	}

	commands := make(map[task.Stage][]string, len(task.Stages()))
	templates := cfg.StageCommands()
	for _, st := range task.Stages() {
		tpl, ok := templates[string(st)]
		if !ok || tpl == "" {
			return nil, fmt.Errorf("no command configured for stage %s", st)
		}
		args, err := SplitCommand(tpl)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", st, err)
		}
		if err := ValidateArgs(args); err != nil {
			return nil, fmt.Errorf("stage %s: %w", st, err)
		}
		commands[st] = args
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		dir, err := os.MkdirTemp("", "podqueued_")
		if err != nil {
			return nil, fmt.Errorf("could not create work directory: %w", err)
		}
		workDir = dir
		cfg.WorkDir = dir
	}
	log.Info("stage runner initialized", "work_dir", workDir)

	return &Runner{
		cfg:      cfg,
		commands: commands,
		workDir:  workDir,
		log:      log.With("component", "stageproc"),
	}, nil
}

// Process runs the command for the task's current stage. Failures are wrapped
// as task.StageError so the retry policy can classify them without guessing.
func (r *Runner) Process(ctx context.Context, t *task.Task) error {
	tplArgs, ok := r.commands[t.Stage]
	if !ok {
		return task.Fatal(fmt.Errorf("no processor for stage %s", t.Stage))
	}

	// Resource pressure is a transient condition; backoff and retry.
	if err := r.checkResources(); err != nil {
		return task.Transient(err)
	}

	args := make([]string, len(tplArgs))
	for i, a := range tplArgs {
		args[i] = substitute(a, t.EpisodeID, t.PodcastSlug, t.EpisodeSlug, r.workDir)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("PODQUEUED_MAX_AUDIO_SIZE=%d", r.cfg.MaxAudioSize),
	)
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf

	r.log.Debug("executing stage command",
		"task_id", t.ID, "stage", t.Stage, "cmd", args[0])

	err := cmd.Run()
	if err == nil {
		return nil
	}

	output := truncate(outputBuf.String(), 2048)

	if ctx.Err() != nil {
		return task.Transient(fmt.Errorf("stage %s timed out: %w", t.Stage, ctx.Err()))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Convention shared with the stage processors: exit code 2 means the
		// input itself is unusable and retrying cannot help.
		if exitErr.ExitCode() == 2 {
			return task.Fatal(fmt.Errorf("stage %s rejected input: %s", t.Stage, output))
		}
		return task.Transient(fmt.Errorf("stage %s exited %d: %s", t.Stage, exitErr.ExitCode(), output))
	}

	// Missing binary, permission problems and the like.
	return task.Fatal(fmt.Errorf("stage %s could not start: %w", t.Stage, err))
}

// checkResources verifies that the system has enough free resources to start
// a stage.
func (r *Runner) checkResources() error {
	// CPU
	p, err := cpu.Percent(time.Second, false)
	if err != nil {
		r.log.Warn("could not get CPU usage", "error", err)
	} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
		return fmt.Errorf("not enough idle CPU: current usage %.2f%%, idle threshold %.2f%%", p[0], r.cfg.ThrottleCPU)
	}

	// Memory
	vm, err := mem.VirtualMemory()
	if err != nil {
		r.log.Warn("could not get memory usage", "error", err)
	} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
		return fmt.Errorf("not enough free memory: available %d, required %d", vm.Available, r.cfg.ThrottleFreeMem)
	}

	// Disk
	du, err := disk.Usage(r.workDir)
	if err != nil {
		r.log.Warn("could not get disk usage", "error", err)
	} else if du.Free < uint64(r.cfg.ThrottleFreeDisk) {
		return fmt.Errorf("not enough free disk: free %d, required %d", du.Free, r.cfg.ThrottleFreeDisk)
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary so a multi-byte character is never split.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
