// invsentryctl is the operator CLI: trigger a refresh, poll a job to
// completion with a progress bar, or print a job's raw JSON, all against a running
// invsentry-server's HTTP surface. Grounded on the teacher's cobra root
// command layout (sendense-backup-client/main.go) and its
// progressbar/go-ansi polling idiom (sna/progress/model.go).
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"
)

// providerFlag binds --provider to the enumerated provider names via
// enumflag, the same pattern the teacher binds its disk-bus-type flag with.
type providerFlag enumflag.Flag

const (
	providerVMware providerFlag = iota
	providerOvirt
	providerHyperV
	providerAzure
	providerCedia
)

var providerIDs = map[providerFlag][]string{
	providerVMware: {"vmware"},
	providerOvirt:  {"ovirt"},
	providerHyperV: {"hyperv"},
	providerAzure:  {"azure"},
	providerCedia:  {"cedia"},
}

var (
	addr     string
	provider providerFlag
	hosts    []string
	force    bool
	jobID    string
)

var rootCmd = &cobra.Command{
	Use:   "invsentryctl",
	Short: "Operate an invsentry-server inventory aggregator",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Print how to run the HTTP server (it does not start one; use invsentry-server)",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("invsentryctl serve: run the invsentry-server binary directly; this subcommand only documents the operation.")
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Trigger a refresh for a provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"hosts": hosts, "force": force}
		raw, _ := json.Marshal(body)

		resp, err := http.Post(apiURL("/refresh"), "application/json", strings.NewReader(string(raw)))
		if err != nil {
			return fmt.Errorf("refresh request failed: %w", err)
		}
		defer resp.Body.Close()

		var job struct {
			JobID string `json:"job_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		fmt.Printf("triggered job %s\n", job.JobID)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Poll a job to a terminal state, showing a progress bar",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jobID == "" {
			return fmt.Errorf("--job-id is required")
		}
		return pollJob(jobID)
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Fetch a job by ID and print its raw JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jobID == "" {
			return fmt.Errorf("--job-id is required")
		}
		resp, err := http.Get(apiURL("/jobs/" + jobID))
		if err != nil {
			return fmt.Errorf("jobs request failed: %w", err)
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		fmt.Println(string(raw))
		return nil
	},
}

func apiURL(suffix string) string {
	return fmt.Sprintf("%s/api/v1/%s%s", addr, providerIDs[provider][0], suffix)
}

// pollJob shows a percentage bar the way sna/progress.PercentageProgressBar
// drives replication progress, polling /jobs/{id} until Status is terminal.
func pollJob(id string) error {
	bar := progressbar.NewOptions64(100,
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetDescription(fmt.Sprintf("job %s", id)),
	)
	defer fmt.Fprint(os.Stderr, "\n")

	for {
		resp, err := http.Get(fmt.Sprintf("%s/api/v1/%s/jobs/%s", addr, providerIDs[provider][0], id))
		if err != nil {
			return fmt.Errorf("poll failed: %w", err)
		}
		var job struct {
			Status string `json:"Status"`
		}
		err = json.NewDecoder(resp.Body).Decode(&job)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode poll response: %w", err)
		}

		switch job.Status {
		case "succeeded":
			bar.Finish()
			return nil
		case "failed", "expired":
			bar.Finish()
			return fmt.Errorf("job ended with status %s", job.Status)
		default:
			_ = bar.Add(10)
			time.Sleep(2 * time.Second)
		}
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8082", "invsentry-server base URL")
	rootCmd.PersistentFlags().Var(
		enumflag.New(&provider, "provider", providerIDs, enumflag.EnumCaseInsensitive),
		"provider", "provider to operate on (vmware|ovirt|hyperv|azure|cedia)")

	refreshCmd.Flags().StringSliceVar(&hosts, "hosts", nil, "host filter, comma-separated")
	refreshCmd.Flags().BoolVar(&force, "force", false, "bypass cooldown")

	statusCmd.Flags().StringVar(&jobID, "job-id", "", "job ID to poll")
	jobsCmd.Flags().StringVar(&jobID, "job-id", "", "job ID to fetch")

	rootCmd.AddCommand(serveCmd, refreshCmd, statusCmd, jobsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
