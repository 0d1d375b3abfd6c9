package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect dead-lettered work items",
}

var dlqShowCmd = &cobra.Command{
	Use:   "show <job-id> [item-id]",
	Short: "Show dead-lettered items for a job, or one item's detail",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runDLQShow,
}

var dlqJobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List job ids with dead-lettered items",
	Args:  cobra.NoArgs,
	RunE:  runDLQJobs,
}

func init() {
	dlqCmd.AddCommand(dlqShowCmd)
	dlqCmd.AddCommand(dlqJobsCmd)
	rootCmd.AddCommand(dlqCmd)
}

func runDLQShow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	jobID := args[0]
	if len(args) == 2 {
		item, err := a.dlq.Get(jobID, args[1])
		if err != nil {
			return fmt.Errorf("get dlq item %s/%s: %w", jobID, args[1], err)
		}
		return printJSON(item)
	}

	items, err := a.dlq.List(jobID)
	if err != nil {
		return fmt.Errorf("list dlq items for %s: %w", jobID, err)
	}
	if GetOutput() == "json" {
		return printJSON(items)
	}
	if len(items) == 0 {
		fmt.Printf("no dead-lettered items for job %s\n", jobID)
		return nil
	}
	for _, it := range items {
		fmt.Printf("%s\t%s\t%s\n", it.ItemID, it.ErrorType, it.ErrorMessage)
	}
	return nil
}

func runDLQJobs(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	jobs, err := a.dlq.Jobs()
	if err != nil {
		return fmt.Errorf("list dlq jobs: %w", err)
	}
	if GetOutput() == "json" {
		return printJSON(jobs)
	}
	for _, j := range jobs {
		fmt.Println(j)
	}
	return nil
}

func printJSON(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
