package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cwbudde/marchingcubes/internal/server"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listJobs(fmt.Sprintf("%s/api/v1/jobs", serverURL))
	}
	jobID := args[0]
	return getJobStatus(fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

func getJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(url string) error {
	var jobs []server.Job
	if _, err := getJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Printf("Job ID: %s\n", job.ID)
		fmt.Printf("  State: %s\n", job.State)
		fmt.Printf("  Source: %s\n", job.Config.Source())
		fmt.Printf("  Grid: %v  Iso: %.4f\n", job.Config.GridLog2, job.Config.IsoValue)
		if job.State == server.StateCompleted {
			fmt.Printf("  Triangles: %s\n", humanize.Comma(int64(job.Triangles)))
		}
		if job.Error != "" {
			fmt.Printf("  Error: %s\n", job.Error)
		}
		fmt.Println()
	}
	return nil
}

type jobStatus struct {
	server.Job
	Geometry string  `json:"geometry"`
	Elapsed  float64 `json:"elapsed"`
}

func getJobStatus(url, jobID string) error {
	var status jobStatus
	code, err := getJSON(url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Job: %s\n", status.ID)
	fmt.Printf("State: %s\n", status.State)
	fmt.Println()

	c := status.Config
	fmt.Println("Configuration:")
	fmt.Printf("  Source: %s\n", c.Source())
	fmt.Printf("  Grid (log2): %v\n", c.GridLog2)
	fmt.Printf("  Isovalue: %.4f\n", c.IsoValue)
	fmt.Printf("  Skip empty: %v\n", !c.Dense)
	if c.Backend != "" {
		fmt.Printf("  Backend: %s\n", c.Backend)
	}
	fmt.Println()

	fmt.Println("Progress:")
	if status.Stage != "" {
		fmt.Printf("  Last stage: %s\n", status.Stage)
	}
	if status.State == server.StateCompleted {
		fmt.Printf("  Active voxels: %s\n", humanize.Comma(int64(status.ActiveVoxels)))
		fmt.Printf("  Vertices: %s (%s triangles, %s)\n",
			humanize.Comma(int64(status.TotalVerts)), humanize.Comma(int64(status.Triangles)), status.Geometry)
	}
	if status.RunID != "" {
		fmt.Printf("  Run ID: %s\n", status.RunID)
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Printf("  Elapsed: %s\n", elapsed.Round(time.Millisecond))

	if status.Error != "" {
		fmt.Printf("\nError: %s\n", status.Error)
	}
	return nil
}
