package llm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// CommandEngine runs an external inference binary per completion. The
// prompt is written to the child's stdin and the completion read from
// its stdout; the decoding profile is passed through LLM_* environment
// variables so any llama.cpp style CLI can be wrapped with a small
// shell script.
//
// A completion that ends with the literal trailer "[length]" is
// reported with FinishLength (the wrapper script emits it when the
// backend hits the token cap); anything else finishes as stop.
type CommandEngine struct {
	args        []string
	contextSize int
}

const lengthTrailer = "[length]"

// NewCommandEngine wraps the given command line as an Engine.
func NewCommandEngine(args []string, contextSize int) (*CommandEngine, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command must not be empty: %w", ErrEngineFailed)
	}

	return &CommandEngine{args: args, contextSize: contextSize}, nil
}

func (e *CommandEngine) Complete(ctx context.Context, prompt string, opts Options) (Completion, error) {
	cmd := exec.CommandContext(ctx, e.args[0], e.args[1:]...)

	cmd.Env = append(os.Environ(),
		"LLM_MAX_TOKENS="+strconv.Itoa(opts.MaxTokens),
		"LLM_TEMPERATURE="+strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
		"LLM_TOP_P="+strconv.FormatFloat(opts.TopP, 'f', -1, 64),
		"LLM_TOP_K="+strconv.Itoa(opts.TopK),
		"LLM_MIN_P="+strconv.FormatFloat(opts.MinP, 'f', -1, 64),
		"LLM_REPEAT_PENALTY="+strconv.FormatFloat(opts.RepeatPenalty, 'f', -1, 64),
	)

	cmd.Stdin = bytes.NewReader([]byte(prompt))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Take the child down with us if the broker dies uncleanly.
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGTERM}

	if err := cmd.Run(); err != nil {
		log.WithFields(log.Fields{
			"args":   e.args,
			"stderr": stderr.String(),
			"error":  err,
		}).Error("inference command failed")

		return Completion{}, fmt.Errorf("running %s: %v: %w", e.args[0], err, ErrEngineFailed)
	}

	text := stdout.String()
	finish := FinishStop

	if trimmed, ok := bytes.CutSuffix(bytes.TrimRight([]byte(text), "\n"), []byte(lengthTrailer)); ok {
		text = string(trimmed)
		finish = FinishLength
	}

	return Completion{Text: text, FinishReason: finish}, nil
}

func (e *CommandEngine) ContextWindow() int { return e.contextSize }
