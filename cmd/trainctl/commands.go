package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"trainhub/internal/job"
)

func submitCmd(client func() *apiClient) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "submit [job-json]",
		Short: "Submit a training job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			switch {
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("reading job file: %w", err)
				}
				raw = data
			case len(args) == 1:
				raw = []byte(args[0])
			default:
				return fmt.Errorf("provide the job as a JSON argument or with --file")
			}

			var req job.Request
			if err := json.Unmarshal(raw, &req); err != nil {
				return fmt.Errorf("invalid job JSON: %w", err)
			}

			j, err := client().submit(req)
			if err != nil {
				return err
			}
			fmt.Printf("Job %s submitted (%s).\n", j.ID, j.Status)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the job definition from a file")
	return cmd
}

func getCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show a job's full state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := client().get(args[0])
			if err != nil {
				return err
			}
			return printJSON(j)
		},
	}
}

func listCmd(client func() *apiClient) *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			query := ""
			if len(q) > 0 {
				query = "?" + q.Encode()
			}

			resp, err := client().list(query)
			if err != nil {
				return err
			}
			if resp.Count == 0 {
				fmt.Println("No jobs.")
				return nil
			}

			fmt.Printf("%-24s %-10s %-10s %7s %s\n", "ID", "STATUS", "PHASE", "PCT", "MODEL")
			for _, j := range resp.Jobs {
				fmt.Printf("%-24s %-10s %-10s %6.1f%% %s\n",
					j.ID, j.Status, j.Progress.Phase, j.Progress.Percentage, j.Config.Training.Model)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of jobs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of jobs to skip")
	return cmd
}

func cancelCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := client().cancel(args[0])
			if err != nil {
				return err
			}
			if j.Status == job.StatusCancelled {
				fmt.Printf("Job %s cancelled.\n", j.ID)
			} else {
				fmt.Printf("Cancellation requested for job %s (%s).\n", j.ID, j.Status)
			}
			return nil
		},
	}
}

func watchCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Stream a job's events until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().watch(args[0], func(eventType string, ev job.Event) {
				switch job.EventType(eventType) {
				case job.EventSnapshot:
					if ev.Snapshot != nil {
						fmt.Printf("[snapshot] status=%s phase=%s %.1f%%\n",
							ev.Snapshot.Status, ev.Snapshot.Progress.Phase, ev.Snapshot.Progress.Percentage)
					}
				case job.EventPhaseChanged:
					fmt.Printf("[phase] %s\n", ev.Phase)
				case job.EventProgress:
					fmt.Printf("[progress] step %d/%d %.1f%%\n", ev.Step, ev.TotalSteps, ev.Percentage)
				case job.EventCompleted:
					fmt.Println("[completed]")
				case job.EventFailed:
					msg := ""
					if ev.Err != nil {
						msg = ev.Err.Message
					}
					fmt.Printf("[failed] %s\n", msg)
				case job.EventCancelled:
					fmt.Println("[cancelled]")
				case job.EventHeartbeat:
					// Keepalive only.
				}
			})
		},
	}
}

func statsCmd(client func() *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue and delivery statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := client().stats()
			if err != nil {
				return err
			}
			return printJSON(s)
		},
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
