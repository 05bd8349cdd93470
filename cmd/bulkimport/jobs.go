package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/poiesic/bulkimport/core"
	"github.com/urfave/cli/v2"
)

func jobsCommand(c *cli.Context) error {
	ctx := context.Background()

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	jobs, err := store.JobRepository().ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	if limit := c.Int("limit"); limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	if len(jobs) == 0 {
		fmt.Fprintln(c.App.Writer, "No jobs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tCOMMITTED\tFAILED\tSKIPPED\tERRORS\tSOURCE")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			job.Id,
			job.Status,
			humanize.Time(job.StartedAt),
			humanize.Comma(job.Report.Committed),
			humanize.Comma(job.Report.Failed),
			humanize.Comma(job.Report.Skipped),
			humanize.Comma(job.Report.Errors),
			job.Source,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, job := range jobs {
		if job.Status == core.JobStatusFailed && job.Reason != "" {
			fmt.Fprintf(c.App.Writer, "\n%s failed: %s\n", job.Id, job.Reason)
		}
	}
	return nil
}

func showCommand(c *cli.Context) error {
	ctx := context.Background()
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one document path, got %d", c.NArg())
	}
	docPath := core.JoinPath(c.Args().First(), "")

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	repo := store.DocumentRepository()
	w := c.App.Writer

	if docPath != "/" {
		doc, err := repo.GetDocument(ctx, docPath)
		if err != nil {
			return fmt.Errorf("failed to get %s: %w", docPath, err)
		}
		fmt.Fprintf(w, "Path:     %s\n", doc.Path)
		fmt.Fprintf(w, "Type:     %s\n", doc.Type)
		if !doc.IsFolder() {
			fmt.Fprintf(w, "Size:     %s\n", humanize.Bytes(uint64(doc.Size)))
		}
		fmt.Fprintf(w, "Source:   %s\n", doc.SourceID)
		fmt.Fprintf(w, "Inserted: %s\n", doc.InsertedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "Updated:  %s\n", doc.UpdatedAt.Format("2006-01-02 15:04:05"))
		for k, v := range doc.Properties {
			fmt.Fprintf(w, "  %s = %s\n", k, v)
		}
	}

	children, err := repo.ListChildren(ctx, docPath)
	if err != nil {
		return fmt.Errorf("failed to list children of %s: %w", docPath, err)
	}
	if len(children) == 0 {
		return nil
	}

	fmt.Fprintf(w, "\n%d children:\n", len(children))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, child := range children {
		size := ""
		if !child.IsFolder() {
			size = humanize.Bytes(uint64(child.Size))
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", child.Name, child.Type, size)
	}
	return tw.Flush()
}
