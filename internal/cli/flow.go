package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var flowHeaders = []string{"CODE", "TYPE", "SUBJECT", "STATE", "PRIORITY", "REQUESTED", "RESULT"}

func flowRow(f *FlowResponse) []string {
	return []string{
		f.Code,
		strconv.FormatInt(f.TypeID, 10),
		orDash(f.SubjectCode),
		f.State,
		strconv.Itoa(f.PriorityLevel),
		f.RequestedAt,
		orDash(f.ResultValue),
	}
}

// NewFlowCmd создаёт группу команд для управления flow.
func NewFlowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Request and inspect flows",
	}

	cmd.AddCommand(
		newFlowListCmd(clientFn, outputFn),
		newFlowRequestCmd(clientFn, outputFn),
		newFlowShowCmd(clientFn, outputFn),
		newFlowTasksCmd(clientFn, outputFn),
		newFlowCancelCmd(clientFn, outputFn),
	)

	return cmd
}

func newFlowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			flows, err := clientFn().ListFlows(limit, offset)
			if err != nil {
				return err
			}

			rows := make([][]string, len(flows))
			for i := range flows {
				rows[i] = flowRow(&flows[i])
			}

			outputFn().Print(flowHeaders, rows, flows)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Max number of flows")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of flows to skip")

	return cmd
}

func newFlowRequestCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req RequestFlowRequest

	cmd := &cobra.Command{
		Use:   "request TYPE_NAME",
		Short: "Request a new flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			req.TypeName = args[0]

			flow, err := clientFn().RequestFlow(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow requested: %s", flow.Code))
			out.Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.SubjectCode, "subject", "", "Subject code")
	cmd.Flags().StringVar(&req.RequestKey, "request-key", "", "Idempotency key")
	cmd.Flags().BoolVar(&req.BuildDebug, "build-debug", false, "Hold the flow for manual build")

	return cmd
}

func newFlowShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show CODE",
		Short: "Show flow details and task progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			flow, err := clientFn().GetFlow(args[0])
			if err != nil {
				return err
			}

			headers := flowHeaders
			row := flowRow(flow)
			if p := flow.Progress; p != nil {
				headers = append(append([]string{}, flowHeaders...), "TASKS")
				row = append(row, fmt.Sprintf("%d/%d done, %d running, %d failed, %d canceled",
					p.Succeeded, p.Total, p.Running, p.FailedTerminal, p.Canceled))
			}

			out.Print(headers, [][]string{row}, flow)
			return nil
		},
	}
}

func newFlowTasksCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks CODE",
		Short: "List the task chain of a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := clientFn().ListFlowTasks(args[0])
			if err != nil {
				return err
			}
			printTasks(outputFn(), tasks)
			return nil
		},
	}
}

func newFlowCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel CODE",
		Short: "Request flow cancellation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			flow, err := clientFn().CancelFlow(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Cancel requested: %s", flow.Code))
			out.Print(flowHeaders, [][]string{flowRow(flow)}, flow)
			return nil
		},
	}
}
