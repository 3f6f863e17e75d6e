// Command td is a terminal client for todo-keeper: accounts and a live, sorted task list.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/and161185/todo-keeper/internal/app"
	"github.com/and161185/todo-keeper/internal/client/remote"
	"github.com/and161185/todo-keeper/internal/config"
	"github.com/and161185/todo-keeper/internal/errs"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorText(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "td",
		Short:         "Manage your todo list from the terminal",
		Version:       fmt.Sprintf("%s (%s)", version, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file")
	config.RegisterClientFlags(root.PersistentFlags())

	open := func(cmd *cobra.Command) (*env, error) { return openEnv(cmd, configFile) }
	root.AddCommand(
		newRegisterCmd(open),
		newLoginCmd(open),
		newLogoutCmd(open),
		newWhoamiCmd(open),
		newListCmd(open),
		newWatchCmd(open),
		newAddCmd(open),
		newRmCmd(open),
		newToggleCmd(open),
	)
	return root
}

// env is one CLI invocation's connection, client core and output.
type env struct {
	cfg    config.Client
	log    *zap.Logger
	conn   *grpc.ClientConn
	client *remote.Client
	app    *app.App
	out    io.Writer
}

type opener func(cmd *cobra.Command) (*env, error)

// openEnv dials the server, restores the saved session and starts the client core.
func openEnv(cmd *cobra.Command, configFile string) (*env, error) {
	cfg, err := config.LoadClient(cmd.Flags(), configFile)
	if err != nil {
		return nil, err
	}
	if cfg.StateDir == "" {
		cfg.StateDir = remote.DefaultStateDir()
	}
	log := newLogger(cfg.Debug)

	conn, err := remote.Dial(remote.DialOptions{
		Addr:      cfg.Addr,
		CACert:    cfg.CACert,
		Insecure:  cfg.Insecure,
		Plaintext: cfg.Plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}
	client := remote.New(conn, remote.Config{
		State:     remote.StateFile{Dir: cfg.StateDir},
		Timeout:   cfg.Timeout,
		Plaintext: cfg.Plaintext,
	}, log.Named("remote"))

	ctx := cmd.Context()
	if err := client.Restore(ctx); err != nil {
		client.Close()
		_ = conn.Close()
		return nil, err
	}
	a := app.New(client, log)
	a.Start(ctx)
	return &env{cfg: cfg, log: log, conn: conn, client: client, app: a, out: cmd.OutOrStdout()}, nil
}

func (e *env) Close() {
	e.app.Close()
	e.client.Close()
	_ = e.conn.Close()
	_ = e.log.Sync()
}

// requireUser returns the signed-in principal id or a hint to log in.
func (e *env) requireUser() (string, error) {
	p := e.app.Session.State().Principal
	if p == nil {
		return "", &errs.AuthenticationError{Msg: "not signed in (run td login)", Err: errs.ErrUnauthorized}
	}
	return p.ID, nil
}

// waitSynced blocks until the first snapshot is mirrored, bounded by the request timeout.
func (e *env) waitSynced(ctx context.Context) error {
	if _, err := e.requireUser(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	return e.app.Tasks.WaitSynced(ctx)
}

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// errorText renders errors for people: provider messages verbatim, the rest as is.
func errorText(err error) string {
	var ae *errs.AuthenticationError
	if errors.As(err, &ae) && ae.Msg != "" {
		return ae.Msg
	}
	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	return err.Error()
}
