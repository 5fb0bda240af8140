package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/stone-age-io/remediator/internal/agent"
	"github.com/stone-age-io/remediator/internal/config"
	"github.com/stone-age-io/remediator/internal/errors"
	"github.com/stone-age-io/remediator/internal/remediation"
	"github.com/stone-age-io/remediator/internal/request"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

// missingParameters is printed to stdout when no parameter blob is given
const missingParameters = "Error: Missing parameters"

// handler runs one parsed request
type handler interface {
	Handle(ctx context.Context, req *request.Request) (*remediation.Outcome, error)
	Shutdown()
}

var newHandler = func(configPath, version string) (handler, error) {
	return agent.New(configPath, version)
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and returns the process exit code
func execute(args []string, stdout, stderr io.Writer) int {
	code := 0
	cmd := newRootCmd(stdout, &code)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	// Flag and argument errors still produce a result document
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		writeDocument(stdout, remediation.NewErrorDocument(errors.NewValidationError("invalid invocation: "+err.Error(), nil)))
		return 1
	}
	return code
}

func newRootCmd(stdout io.Writer, code *int) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "remediator [flags] '<json parameters>'",
		Short: "Restart a stuck VPN client and verify connectivity",
		Long: `remediator runs one remediation action and prints the outcome as JSON.

Parameters are a JSON object:
  action   vpn_restart (default), vpn_status or check_network
  service  service to manage, or "auto" to detect (default)
  config   optional configuration to start the service with

The exit code is 0 when the action succeeded and 1 otherwise.`,
		Example: `  remediator '{"service": "auto"}'
  remediator --config /etc/remediator/config.yaml '{"action": "vpn_restart", "service": "openvpn", "config": "office"}'`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			*code = run(cmd.Context(), configPath, args, stdout)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.GetDefaultConfigPath(), "path to YAML config file (optional)")
	cmd.SetVersionTemplate("remediator {{.Version}}\n")

	return cmd
}

// run handles one invocation. Any panic below this point is reported as a
// generic failure document.
func run(ctx context.Context, configPath string, args []string, stdout io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			writeDocument(stdout, remediation.NewErrorDocument(errors.NewInternalError(fmt.Sprintf("unexpected failure: %v", r), nil)))
			code = 1
		}
	}()

	if len(args) == 0 {
		fmt.Fprintln(stdout, missingParameters)
		return 1
	}

	req, err := request.Parse(args[0])
	if err != nil {
		writeDocument(stdout, remediation.NewErrorDocument(err))
		return 1
	}

	a, err := newHandler(configPath, version)
	if err != nil {
		writeDocument(stdout, remediation.NewErrorDocument(err))
		return 1
	}
	defer a.Shutdown()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcome, err := a.Handle(ctx, req)
	if err != nil {
		writeDocument(stdout, remediation.NewErrorDocument(err))
		return 1
	}

	writeDocument(stdout, outcome)
	if !outcome.Success {
		return 1
	}
	return 0
}

func writeDocument(w io.Writer, doc interface{}) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		data, _ = json.Marshal(remediation.NewErrorDocument(err))
	}
	fmt.Fprintln(w, string(data))
}
