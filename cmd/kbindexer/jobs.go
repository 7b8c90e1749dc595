package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"KnowledgeBase/internal/app"
	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/usecase"
)

var (
	scrapeResume string
	scrapeBatch  int
	scrapeFollow bool

	vectorizeBatch    int
	vectorizeForceAll bool
	vectorizeFollow   bool

	searchLimit int
	searchJSON  bool

	jobsLimit     int
	recoverOlder  time.Duration
	recoverStatus string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Start or resume a scrape job",
	Long: `Starts a new scrape job, or resumes one with --resume.
With --follow every batch runs in this process until the job completes;
otherwise one batch runs and the continuation is left on the configured queue.`,
	Args: cobra.NoArgs,
	RunE: runScrape,
}

var vectorizeCmd = &cobra.Command{
	Use:   "vectorize",
	Short: "Embed pending articles into the vector store",
	Args:  cobra.NoArgs,
	RunE:  runVectorize,
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search vectorized articles",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and repair scrape jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent scrape jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Close running jobs that stopped making progress",
	Args:  cobra.NoArgs,
	RunE:  runJobsRecover,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and seed schedules",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeResume, "resume", "", "job id to resume")
	scrapeCmd.Flags().IntVarP(&scrapeBatch, "batch-size", "b", 0, "urls per batch (default 20, max 50)")
	scrapeCmd.Flags().BoolVarP(&scrapeFollow, "follow", "f", false, "run batches until the job completes")

	vectorizeCmd.Flags().IntVarP(&vectorizeBatch, "batch-size", "b", 0, "articles per batch (default 50)")
	vectorizeCmd.Flags().BoolVar(&vectorizeForceAll, "force-all", false, "re-embed every article")
	vectorizeCmd.Flags().BoolVarP(&vectorizeFollow, "follow", "f", false, "run batches until the backlog is empty")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")

	jobsListCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "number of jobs to show")
	jobsRecoverCmd.Flags().DurationVar(&recoverOlder, "older-than", 30*time.Minute, "minimum time without progress")
	jobsRecoverCmd.Flags().StringVar(&recoverStatus, "status", "failed", "terminal status to assign (failed or completed)")

	jobsCmd.AddCommand(jobsListCmd, jobsRecoverCmd)
	rootCmd.AddCommand(scrapeCmd, vectorizeCmd, searchCmd, jobsCmd, migrateCmd)
}

func runScrape(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	if scrapeFollow {
		cfg.Queue.Backend = "none"
	}

	ctx := cmd.Context()
	return withApp(ctx, cmd, cfg, func(a *app.Application) error {
		jobID := scrapeResume
		for {
			result, err := a.Scrape.StartOrResume(ctx, jobID, scrapeBatch)
			if err != nil {
				return fmt.Errorf("scrape failed: %w", err)
			}
			jobID = result.JobID
			cmd.Printf("job %s: %d/%d processed, %d failed\n", result.JobID, result.Processed, result.Total, result.Failed)

			if result.Complete {
				cmd.Println("job complete")
				return nil
			}
			if !scrapeFollow {
				// The in-memory queue does not outlive this process.
				if result.NextBatch && a.PendingContinuations() < 0 {
					cmd.Println("next batch queued")
				} else {
					cmd.Printf("resume with: kbindexer scrape --resume %s\n", result.JobID)
				}
				return nil
			}
		}
	})
}

func runVectorize(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	if vectorizeFollow {
		cfg.Queue.Backend = "none"
	}

	ctx := cmd.Context()
	return withApp(ctx, cmd, cfg, func(a *app.Application) error {
		forceAll := vectorizeForceAll
		for {
			result, err := a.Vectorize.Run(ctx, vectorizeRequest(forceAll))
			if err != nil {
				return fmt.Errorf("vectorize failed: %w", err)
			}
			forceAll = false
			cmd.Printf("processed %d, failed %d, remaining %d\n", result.Processed, result.Failed, result.Remaining)

			if result.Complete || !vectorizeFollow || result.Processed == 0 {
				return nil
			}
		}
	})
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	cfg.Queue.Backend = "none"

	ctx := cmd.Context()
	return withApp(ctx, cmd, cfg, func(a *app.Application) error {
		resp, err := a.Search.Search(ctx, args[0], searchLimit)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		if searchJSON {
			data, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal results: %w", err)
			}
			cmd.Println(string(data))
			return nil
		}

		if resp.TotalFound == 0 {
			cmd.Println("No results found.")
			return nil
		}
		for i, r := range resp.Results {
			cmd.Printf("  [%d] %s (%.2f)\n", i+1, r.Title, r.SimilarityScore)
			cmd.Printf("      %s\n", r.URL)
			if r.ContentPreview != "" {
				cmd.Printf("      %s\n", r.ContentPreview)
			}
			cmd.Println()
		}
		return nil
	})
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	cfg.Queue.Backend = "none"

	ctx := cmd.Context()
	return withApp(ctx, cmd, cfg, func(a *app.Application) error {
		jobs, err := a.Scrape.RecentJobs(ctx, jobsLimit)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		if len(jobs) == 0 {
			cmd.Println("No jobs.")
			return nil
		}
		for _, job := range jobs {
			cmd.Printf("%s  %-9s  %d/%d processed, %d failed  %s\n",
				job.ID, job.Status, job.Processed, job.TotalURLs, job.Failed,
				job.CreatedAt.Format(time.RFC3339))
		}
		return nil
	})
}

func runJobsRecover(cmd *cobra.Command, _ []string) error {
	status, err := domain.ParseJobStatus(recoverStatus)
	if err != nil {
		return err
	}

	cfg := loadConfig()
	cfg.Queue.Backend = "none"

	ctx := cmd.Context()
	return withApp(ctx, cmd, cfg, func(a *app.Application) error {
		n, err := a.Scrape.RecoverStale(ctx, recoverOlder, status)
		if err != nil {
			return fmt.Errorf("recover jobs: %w", err)
		}
		cmd.Printf("recovered %d job(s)\n", n)
		return nil
	})
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	cfg.Queue.Backend = "none"

	ctx := cmd.Context()
	return withApp(ctx, cmd, cfg, func(a *app.Application) error {
		schedules, err := a.Schedules(ctx)
		if err != nil {
			return fmt.Errorf("list schedules: %w", err)
		}
		cmd.Printf("database ready, %d schedule(s)\n", len(schedules))
		return nil
	})
}

func vectorizeRequest(forceAll bool) usecase.VectorizeRequest {
	return usecase.VectorizeRequest{BatchSize: vectorizeBatch, ForceAll: forceAll}
}
