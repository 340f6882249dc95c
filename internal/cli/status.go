package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewStatusCmd создаёт команду состояния процессоров.
func NewStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show maintenance state and pending work",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := clientFn().Status()
			if err != nil {
				return err
			}

			row := []string{strconv.Itoa(status.Buildable), strconv.Itoa(status.Runnable), "-", "-", "-"}
			if m := status.Maintenance; m != nil {
				row[2] = orDash(m.ProcessorID)
				row[3] = orDash(m.LastRunAt)
				row[4] = orDash(m.NextRunAt)
			}

			outputFn().Print(
				[]string{"BUILDABLE", "RUNNABLE", "MAINTENANCE_OWNER", "LAST_RUN", "NEXT_RUN"},
				[][]string{row},
				status,
			)
			return nil
		},
	}
}
