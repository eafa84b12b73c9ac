package main

import (
	"context"
	"fmt"

	"codelens-go/internal/config"
	"codelens-go/internal/service"
	"codelens-go/internal/source"
	"codelens-go/pkg/githost"
	"codelens-go/pkg/log"

	"github.com/spf13/cobra"
)

func newEstimateCmd(configPath *string) *cobra.Command {
	var (
		githubToken string
		verbose     bool
	)
	cmd := &cobra.Command{
		Use:   "estimate <repository-url>",
		Short: "Count the files in a repository without downloading them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
			defer log.Sync()

			host, err := githost.NewClient(cfg.GitHub)
			if err != nil {
				return err
			}
			loader := source.NewLoader(host, nil, cfg.Pipeline.FetchConcurrency)
			return runEstimate(cmd.Context(), cmd, loader, args[0], githubToken, verbose)
		},
	}
	cmd.Flags().StringVar(&githubToken, "token", "", "repository access token (defaults to github.token from config)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list ignored files")
	return cmd
}

func runEstimate(ctx context.Context, cmd *cobra.Command, lister service.FileLister, repoURL, githubToken string, verbose bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	repo, err := githost.ParseRepoURL(repoURL)
	if err != nil {
		return err
	}
	ref, files, skipped, err := lister.ListFiles(ctx, repo, githubToken)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	total := len(files) + len(skipped)
	fmt.Fprintf(out, "%s@%s: %d file(s) in tree, %d to index, %d ignored\n", repo, ref, total, len(files), len(skipped))
	fmt.Fprintf(out, "credits required: more than %d\n", total)
	if verbose {
		for _, s := range skipped {
			fmt.Fprintf(out, "  ignored %s (%s)\n", s.Path, s.Reason)
		}
	}
	return nil
}
