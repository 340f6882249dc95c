package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var taskHeaders = []string{"CODE", "FLOW", "SEQ", "STATE", "PROCESSOR", "RETRIES", "MIN_START", "ERROR"}

func printTasks(out *Output, tasks []TaskResponse) {
	rows := make([][]string, len(tasks))
	for i, t := range tasks {
		rows[i] = []string{
			t.Code,
			strconv.FormatInt(t.FlowID, 10),
			strconv.Itoa(t.Sequence),
			t.State,
			orDash(t.ProcessorID),
			fmt.Sprintf("%d/%d", t.RetryCount, t.MaxRetryCount),
			t.MinStartAt,
			orDash(t.ErrorText),
		}
	}
	out.Print(taskHeaders, rows, tasks)
}

// NewTaskCmd создаёт группу команд для задач.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Search and reset tasks",
	}

	cmd.AddCommand(
		newTaskListCmd(clientFn, outputFn),
		newTaskResetCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts SearchTasksOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Search tasks by processor and state",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := clientFn().SearchTasks(opts)
			if err != nil {
				return err
			}
			printTasks(outputFn(), tasks)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.ProcessorID, "processor", "", "Filter by processor identifier")
	cmd.Flags().StringVar(&opts.State, "state", "", "Filter by state (PENDING, RUNNING, SUCCEEDED, FAILED_RETRYABLE, FAILED_TERMINAL, CANCELED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Max number of tasks")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of tasks to skip")

	return cmd
}

func newTaskResetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "reset CODE",
		Short: "Reset a completed task so it runs again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			task, err := clientFn().ResetTask(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Task reset: %s", task.Code))
			printTasks(out, []TaskResponse{*task})
			return nil
		},
	}
}
