package pool

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"queuectl/internal/ipc"
)

// WorkerArg is the hidden argv queuectl's own binary is re-executed with
// to become a worker child: a subprocess forked from the same binary
// rather than a separate executable.
const WorkerArg = "__worker__"

// ProcessSpawner spawns real OS processes by re-executing the current
// binary with WorkerArg.
type ProcessSpawner struct {
	Logger *zap.SugaredLogger
}

func (p *ProcessSpawner) Spawn(id string) (*Handle, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.Command(exe, WorkerArg)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = stderrLogWriter{id: id, logger: p.Logger}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", id, err)
	}

	return &Handle{
		ID:     id,
		Writer: ipc.NewWriter(stdin),
		Reader: ipc.NewReader(stdout),
		Stop: func() error {
			if cmd.Process == nil {
				return nil
			}
			return cmd.Process.Kill()
		},
		Wait: func() error {
			return cmd.Wait()
		},
	}, nil
}

// stderrLogWriter forwards a worker child's stderr to the shared logger
// instead of letting it leak onto the parent's own stderr unlabeled.
type stderrLogWriter struct {
	id     string
	logger *zap.SugaredLogger
}

func (w stderrLogWriter) Write(p []byte) (int, error) {
	if w.logger != nil {
		w.logger.Warnw("worker stderr", "worker", w.id, "output", string(p))
	}
	return len(p), nil
}

var _ io.Writer = stderrLogWriter{}
