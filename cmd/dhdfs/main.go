// Command dhdfs runs filesystem commands against an HDFS cluster.
//
// Usage:
//
//	dhdfs [--config FILE] [--host HOST] [--port PORT] [--user USER] <command> [args]
//
// Options are resolved from the Hadoop XML configuration (HADOOP_CONF_DIR and
// friends), then the dhdfs configuration file, then DHDFS_* environment
// variables, then the command line flags.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittohdfs/internal/logger"
	"github.com/marmos91/dittohdfs/pkg/config"
	"github.com/marmos91/dittohdfs/pkg/hdfs"
	"github.com/marmos91/dittohdfs/pkg/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// session carries the global flags and the connection of one invocation.
type session struct {
	configPath string
	host       string
	port       int
	user       string
	logLevel   string

	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	s := &session{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "dhdfs",
		Short:         "Run filesystem commands against HDFS",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&s.configPath, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/dhdfs/config.yaml)")
	flags.StringVar(&s.host, "host", "", "Name node host or hdfs://host:port URL")
	flags.IntVar(&s.port, "port", 0, "Name node RPC port")
	flags.StringVar(&s.user, "user", "", "Effective user name")
	flags.StringVar(&s.logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")

	addCommands(root, s)
	return root
}

// options resolves the client options for this invocation.
func (s *session) options(cmd *cobra.Command) (*config.Options, error) {
	var base *config.Options
	if dir := config.DiscoverHadoopConfDir(); dir != "" {
		opts, ok, err := config.FromHadoopConf(dir)
		if err != nil {
			return nil, fmt.Errorf("hadoop configuration in %s: %w", dir, err)
		}
		if ok {
			base = opts
		}
	}

	opts, err := config.LoadOver(base, s.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		opts.Host = s.host
		if !flags.Changed("port") {
			// let an hdfs://host:port value carry its own port
			opts.Port = 0
		}
	}
	if flags.Changed("port") {
		opts.Port = s.port
	}
	if flags.Changed("user") {
		opts.User = s.user
	}
	if flags.Changed("log-level") {
		opts.Logging.Level = s.logLevel
	}
	config.ApplyDefaults(opts)
	if err := config.Validate(opts); err != nil {
		return nil, err
	}
	return opts, nil
}

// connect builds a connected FileSystem from the resolved options. The
// returned release disconnects it and stops the metrics endpoint, if any.
func (s *session) connect(cmd *cobra.Command) (fs *hdfs.FileSystem, release func() error, err error) {
	opts, err := s.options(cmd)
	if err != nil {
		return nil, nil, err
	}

	logger.SetOutput(s.stderr)
	logger.SetLevel(opts.Logging.Level)

	stopMetrics := func() {}
	if opts.Metrics.Enabled && opts.Metrics.Addr != "" {
		if stopMetrics, err = serveMetrics(cmd.Context(), opts.Metrics.Addr); err != nil {
			return nil, nil, err
		}
	}

	fs, err = hdfs.New(opts, config.InitializeMetrics(opts))
	if err == nil {
		err = fs.Connect(cmd.Context())
	}
	if err != nil {
		stopMetrics()
		return nil, nil, err
	}
	logger.Debug("Connected to %s as %s", opts.Address(), opts.User)

	release = func() error {
		defer stopMetrics()
		return fs.Disconnect()
	}
	return fs, release, nil
}

// serveMetrics runs the /metrics endpoint until the returned stop is called.
func serveMetrics(ctx context.Context, addr string) (stop func(), err error) {
	metrics.InitRegistry()
	srv, err := metrics.NewServer(metrics.ServerConfig{Addr: addr})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Start(ctx); err != nil {
			logger.Warn("Metrics endpoint: %v", err)
		}
	}()
	logger.Info("Serving metrics at http://%s/metrics", srv.Addr())
	return func() {
		cancel()
		<-done
	}, nil
}

// withFS adapts a filesystem action to a cobra RunE, connecting before it and
// disconnecting after it.
func (s *session) withFS(action func(ctx context.Context, fs *hdfs.FileSystem, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		fs, release, err := s.connect(cmd)
		if err != nil {
			return err
		}
		err = action(cmd.Context(), fs, args)
		if rerr := release(); err == nil {
			err = rerr
		}
		return err
	}
}
