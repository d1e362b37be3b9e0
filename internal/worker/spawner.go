package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Spawner runs one plan in some isolation context.
type Spawner interface {
	Spawn(ctx context.Context, plan Plan) (*Result, error)
}

// GoroutineSpawner runs every worker in the current process. Workers share
// the Env's stores but build private buffers and metrics.
type GoroutineSpawner struct {
	Env Env
}

func (s GoroutineSpawner) Spawn(ctx context.Context, plan Plan) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, NewWorkerError(plan.WorkerID, errors.Errorf("panic: %v", r))
		}
	}()
	return New(plan, s.Env).Run(ctx)
}

// Message is the single JSON document a worker process writes to stdout.
type Message struct {
	Result *Result      `json:"result,omitempty"`
	Error  *WorkerError `json:"error,omitempty"`
}

// ProcessSpawner re-executes a binary with the worker subcommand, writing
// the plan to its stdin and reading a Message from its stdout.
type ProcessSpawner struct {
	// Binary defaults to the running executable.
	Binary string
	// Args precede the worker subcommand, e.g. global flags.
	Args []string
	// Env is appended to the parent's environment.
	Env    []string
	Stderr io.Writer
	Logger *zap.Logger
}

func (s ProcessSpawner) Spawn(ctx context.Context, plan Plan) (*Result, error) {
	bin := s.Binary
	if bin == "" {
		var err error
		if bin, err = os.Executable(); err != nil {
			return nil, errors.Wrap(err, "failed to locate executable")
		}
	}

	payload, err := json.Marshal(plan)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode plan")
	}

	args := append(append([]string{}, s.Args...), "worker")
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if s.Logger != nil {
		s.Logger.Info("Spawning worker process", zap.Int("worker", plan.WorkerID), zap.String("binary", bin))
	}
	runErr := cmd.Run()

	var msg Message
	if err := json.Unmarshal(stdout.Bytes(), &msg); err != nil {
		if runErr != nil {
			return nil, errors.Wrapf(runErr, "worker %d process", plan.WorkerID)
		}
		return nil, errors.Wrapf(err, "worker %d wrote an undecodable result", plan.WorkerID)
	}
	if msg.Error != nil {
		return nil, msg.Error
	}
	if runErr != nil {
		return nil, errors.Wrapf(runErr, "worker %d process", plan.WorkerID)
	}
	if msg.Result == nil {
		return nil, errors.Errorf("worker %d wrote no result", plan.WorkerID)
	}
	return msg.Result, nil
}

// Serve is the worker side of ProcessSpawner: it reads a plan from r, runs
// it and writes a Message to w. The returned error mirrors Message.Error.
func Serve(ctx context.Context, r io.Reader, w io.Writer, env Env) error {
	var plan Plan
	if err := json.NewDecoder(r).Decode(&plan); err != nil {
		return writeMessage(w, Message{Error: NewWorkerError(-1, errors.Wrap(err, "failed to decode plan"))})
	}

	res, err := GoroutineSpawner{Env: env}.Spawn(ctx, plan)
	if err != nil {
		return writeMessage(w, Message{Error: NewWorkerError(plan.WorkerID, err)})
	}
	return writeMessage(w, Message{Result: res})
}

func writeMessage(w io.Writer, msg Message) error {
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		return errors.Wrap(err, "failed to write worker message")
	}
	if msg.Error != nil {
		return msg.Error
	}
	return nil
}
