package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	shellwords "github.com/mattn/go-shellwords"
)

// audioPlaceholder in the command template is replaced with the path
// of the temporary WAV file. Without it the path is appended.
const audioPlaceholder = "{audio}"

// ExecBatch is the on-device tier: it runs a local recognizer command
// (whisper.cpp and friends) against a WAV file and parses JSON from
// stdout: {"text": "...", "confidence": 0.87}.
type ExecBatch struct {
	name    string
	argv    []string
	timeout time.Duration
	log     *slog.Logger
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecBatch(name, command string, timeout time.Duration, logger *slog.Logger) (*ExecBatch, error) {
	argv, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse recognizer command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("recognizer command is empty")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecBatch{
		name:    name,
		argv:    argv,
		timeout: timeout,
		log:     logger.With("component", "engine", "engine", name),
	}, nil
}

func (e *ExecBatch) Name() string { return e.name }

func (e *ExecBatch) Transcribe(ctx context.Context, a Audio) (Result, error) {
	path, cleanup, err := tempWAV(a)
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	argv := make([]string, len(e.argv))
	substituted := false
	for i, arg := range e.argv {
		if strings.Contains(arg, audioPlaceholder) {
			arg = strings.ReplaceAll(arg, audioPlaceholder, path)
			substituted = true
		}
		argv[i] = arg
	}
	if !substituted {
		argv = append(argv, path)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.log.Debug("running local recognizer", "command", argv[0], "duration", a.Duration())
	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("local recognizer: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	var out execResult
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		return Result{}, fmt.Errorf("parse recognizer output: %w", err)
	}
	e.log.Debug("local recognition complete", "confidence", out.Confidence)
	return Result{Text: strings.TrimSpace(out.Text)}, nil
}
