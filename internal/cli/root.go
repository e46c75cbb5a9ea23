package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/taskpipe/internal/config"
	"github.com/shaiso/taskpipe/internal/mq"
)

// BrokerFunc лениво подключается к брокеру после парсинга флагов.
type BrokerFunc func(ctx context.Context) (*Broker, error)

// RootOptions — зависимости корневой команды.
type RootOptions struct {
	Version string

	// Defaults — значения флагов подключения по умолчанию (из окружения).
	Defaults config.RabbitMQ

	// Dialer (опционально; если nil — AMQPDialer).
	Dialer mq.Dialer

	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// NewRootCmd создаёт корневую команду taskctl.
func NewRootCmd(opts RootOptions) *cobra.Command {
	var (
		url        string
		retries    int
		retryDelay time.Duration
		deadLetter bool
		jsonOutput bool
	)

	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	rootCmd := &cobra.Command{
		Use:           "taskctl",
		Short:         "taskctl — task event pipeline tool",
		Version:       opts.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().StringVar(&url, "url", opts.Defaults.URL, "RabbitMQ URL")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", opts.Defaults.MaxRetries, "Connection attempts before giving up")
	rootCmd.PersistentFlags().DurationVar(&retryDelay, "retry-delay", opts.Defaults.RetryDelay, "Fixed delay between connection attempts")
	rootCmd.PersistentFlags().BoolVar(&deadLetter, "dead-letter", opts.Defaults.DeadLetter, "Declare task_created with the task_created.dead queue")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	brokerFn := func(ctx context.Context) (*Broker, error) {
		return Connect(ctx, BrokerConfig{
			URL:        url,
			MaxRetries: retries,
			RetryDelay: retryDelay,
			Topology:   mq.TopologyConfig{DeadLetter: deadLetter},
			Dialer:     opts.Dialer,
			Logger:     opts.Logger,
		})
	}
	outputFn := func() *Output { return NewOutputTo(jsonOutput, stdout, stderr) }

	rootCmd.AddCommand(
		NewPublishCmd(brokerFn, outputFn),
		NewTopologyCmd(brokerFn, outputFn),
	)

	return rootCmd
}
