package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaiso/taskpipe/internal/domain"
	"github.com/shaiso/taskpipe/internal/mq"
)

// NewPublishCmd создаёт команду публикации task_created.
func NewPublishCmd(brokerFn BrokerFunc, outputFn func() *Output) *cobra.Command {
	var record domain.TaskRecord

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish task_created for an already stored task",
		Long: `Publish a task_created event for a task record that the record store has
already saved. If the event cannot be enqueued the task stays saved and the
partial success is reported: exit code 3 when the broker is unavailable,
exit code 4 when the broker refused the publish.`,
		Example: `  taskctl publish --task-id t1 --user-id u1 --title "Buy milk"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := outputFn()
			ctx := cmd.Context()

			if err := record.Validate(); err != nil {
				return err
			}

			// Запись уже сохранена: любая ошибка дальше — частичный успех
			b, err := brokerFn(ctx)
			if err != nil {
				return notEnqueued(out, record, err)
			}
			defer b.Close()

			evt, err := b.PublishTaskCreated(ctx, record)
			if err != nil {
				return notEnqueued(out, record, err)
			}

			headers := []string{"TASK_ID", "USER_ID", "TITLE", "QUEUE"}
			rows := [][]string{{evt.TaskID, evt.UserID, evt.Title, string(mq.QueueTaskCreated)}}
			out.Print(headers, rows, evt)
			out.Success("task_created event enqueued")
			return nil
		},
	}

	cmd.Flags().StringVar(&record.ID, "task-id", "", "Task ID assigned by the record store (required)")
	cmd.Flags().StringVar(&record.UserID, "user-id", "", "Owner of the task (required)")
	cmd.Flags().StringVar(&record.Title, "title", "", "Task title (required)")
	_ = cmd.MarkFlagRequired("task-id")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

// notEnqueued сообщает о частичном успехе: задача сохранена, события нет.
func notEnqueued(out *Output, record domain.TaskRecord, err error) error {
	out.Warn(fmt.Sprintf("task %s is saved, but its task_created event was not enqueued", record.ID))
	if errors.Is(err, mq.ErrUnavailable) {
		return unavailable("publish task_created for task %s: %w", record.ID, err)
	}
	return notEnqueuedErr("publish task_created for task %s: %w", record.ID, err)
}
