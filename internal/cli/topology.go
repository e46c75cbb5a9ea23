package cli

import (
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/taskpipe/internal/mq"
)

// NewTopologyCmd создаёт команду объявления и просмотра топологии.
func NewTopologyCmd(brokerFn BrokerFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Declare the pipeline queues and show their state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := outputFn()
			ctx := cmd.Context()

			b, err := brokerFn(ctx)
			if err != nil {
				if errors.Is(err, mq.ErrUnavailable) {
					return unavailable("declare topology: %w", err)
				}
				return err
			}
			defer b.Close()

			out.Text(b.Topology() + "\n")

			queues, err := b.Queues(ctx)
			if err != nil {
				return err
			}

			headers := []string{"QUEUE", "MESSAGES", "CONSUMERS"}
			rows := make([][]string, len(queues))
			for i, q := range queues {
				rows[i] = []string{string(q.Name), strconv.Itoa(q.Messages), strconv.Itoa(q.Consumers)}
			}

			out.Print(headers, rows, queues)
			return nil
		},
	}
}
