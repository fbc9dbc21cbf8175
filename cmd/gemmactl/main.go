// Package main provides gemmactl, a client and admin tool for a
// running gemmad region.
//
// Usage:
//
//	gemmactl submit [--text STR | --file PATH] [flags]
//	gemmactl status [flags]
//	gemmactl reset  [flags]
//	gemmactl info   [--runtime-file PATH]
//
// Commands:
//
//	submit   Submit a summarization request and wait for the response.
//	         The input is either plain dialogue text (--text/--file) or
//	         a full request JSON on stdin with --json. The response
//	         envelope is printed to stdout.
//	status   Print the status of every slot in the region.
//	reset    Administrative reset: zero the region, returning every
//	         slot to EMPTY. Discards in-flight work.
//	info     Print the broker's runtime info file.
//
// Common flags:
//
//	--shm-name NAME   region name (default gemma_ipc_shm)
//	--slot-count N    region slot count (default 5)
//	--slot-size N     region slot size in bytes (default 8192)
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/gemma-ipc/gemmad/internal/protocol"
	"github.com/gemma-ipc/gemmad/pkg/slotipc"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: gemmactl <submit|status|reset|info> [flags]")

		return 2
	}

	var err error

	switch args[0] {
	case "submit":
		err = cmdSubmit(args[1:], stdin, stdout)
	case "status":
		err = cmdStatus(args[1:], stdout)
	case "reset":
		err = cmdReset(args[1:], stdout)
	case "info":
		err = cmdInfo(args[1:], stdout)
	default:
		fmt.Fprintf(stderr, "gemmactl: unknown command %q\n", args[0])

		return 2
	}

	if err != nil {
		fmt.Fprintf(stderr, "gemmactl: %v\n", err)

		return 1
	}

	return 0
}

// regionFlags adds the shared region flags to a flag set.
func regionFlags(flags *pflag.FlagSet) *slotipc.Options {
	opts := &slotipc.Options{}

	flags.StringVar(&opts.Name, "shm-name", "gemma_ipc_shm", "region name")
	flags.IntVar(&opts.SlotCount, "slot-count", 5, "region slot count")
	flags.IntVar(&opts.SlotSize, "slot-size", 8192, "region slot size in bytes")
	flags.StringVar(&opts.Dir, "shm-dir", "", "region backing directory")

	return opts
}

func cmdSubmit(args []string, stdin io.Reader, stdout io.Writer) error {
	flags := pflag.NewFlagSet("submit", pflag.ContinueOnError)
	opts := regionFlags(flags)

	var (
		text     = flags.String("text", "", "dialogue text to summarize")
		file     = flags.String("file", "", "file holding the dialogue text")
		fromJSON = flags.Bool("json", false, "read a full request JSON from stdin")
		txID     = flags.String("transaction-id", "", "transactionid echoed in the response")
		timeout  = flags.Duration("timeout", 120*time.Second, "how long to wait for the response")
		interval = flags.Duration("poll-interval", 200*time.Millisecond, "response poll interval")
	)

	if err := flags.Parse(args); err != nil {
		return err
	}

	payload, requestID, err := buildRequest(*text, *file, *fromJSON, *txID, stdin)
	if err != nil {
		return err
	}

	region, err := slotipc.Attach(*opts)
	if err != nil {
		return fmt.Errorf("attaching to region: %w", err)
	}
	defer func() { _ = region.Close() }()

	sched := slotipc.NewScheduler(region)

	slot, err := sched.SubmitRequest(requestID, payload)
	if err != nil {
		if errors.Is(err, slotipc.ErrNoSlot) {
			return fmt.Errorf("region full, try again later: %w", err)
		}

		return fmt.Errorf("submitting request: %w", err)
	}

	fmt.Fprintf(stdout, "request %s submitted to slot %d\n", requestID, slot)

	response, err := sched.WaitResponse(slot, *interval, *timeout)
	if err != nil {
		return fmt.Errorf("waiting for response: %w", err)
	}

	var pretty json.RawMessage = response
	formatted, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		// Not JSON; print raw.
		fmt.Fprintln(stdout, string(response))

		return nil
	}

	fmt.Fprintln(stdout, string(formatted))

	return nil
}

func buildRequest(text, file string, fromJSON bool, txID string, stdin io.Reader) (payload []byte, requestID string, err error) {
	if fromJSON {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, "", fmt.Errorf("reading request from stdin: %w", err)
		}

		req, err := protocol.ParseRequest(raw)
		if err != nil {
			return nil, "", err
		}

		return raw, req.RequestID, nil
	}

	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, "", fmt.Errorf("reading dialogue file: %w", err)
		}

		text = string(raw)
	}

	if text == "" {
		return nil, "", errors.New("nothing to submit: use --text, --file or --json")
	}

	requestID = uuid.NewString()[:8]

	req := protocol.Request{
		RequestID:     requestID,
		TransactionID: txID,
		SequenceNo:    "0",
		Text:          text,
		Timestamp:     float64(time.Now().Unix()),
	}

	payload, err = json.Marshal(req)
	if err != nil {
		return nil, "", fmt.Errorf("encoding request: %w", err)
	}

	return payload, requestID, nil
}

func cmdStatus(args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
	opts := regionFlags(flags)

	if err := flags.Parse(args); err != nil {
		return err
	}

	region, err := slotipc.Attach(*opts)
	if err != nil {
		return fmt.Errorf("attaching to region: %w", err)
	}
	defer func() { _ = region.Close() }()

	statuses, err := region.Snapshot()
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "region %s (%d slots x %d bytes)\n", region.Path(), region.SlotCount(), region.SlotSize())

	for i, status := range statuses {
		fmt.Fprintf(stdout, "  slot %d: %s\n", i, status)
	}

	return nil
}

func cmdReset(args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("reset", pflag.ContinueOnError)
	opts := regionFlags(flags)

	if err := flags.Parse(args); err != nil {
		return err
	}

	region, err := slotipc.Attach(*opts)
	if err != nil {
		return fmt.Errorf("attaching to region: %w", err)
	}
	defer func() { _ = region.Close() }()

	if err := region.Reset(); err != nil {
		return fmt.Errorf("resetting region: %w", err)
	}

	fmt.Fprintf(stdout, "region %s reset: all %d slots EMPTY\n", region.Name(), region.SlotCount())

	return nil
}

func cmdInfo(args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("info", pflag.ContinueOnError)
	runtimeFile := flags.String("runtime-file", "/run/gemmad/runtime.json", "broker runtime info file")

	if err := flags.Parse(args); err != nil {
		return err
	}

	raw, err := os.ReadFile(*runtimeFile)
	if err != nil {
		return fmt.Errorf("reading runtime file: %w", err)
	}

	_, err = stdout.Write(raw)

	return err
}
