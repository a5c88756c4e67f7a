package cli

import (
	"bufio"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jask/budgettracker/internal/ledgererr"
	"github.com/jask/budgettracker/internal/service"
)

func newAnnotateCommand(a *app) *cobra.Command {
	var provider, model string
	var batchSize, concurrency, maxBatches int
	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Fill description, category and originator of unannotated rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ac := &a.cfg.Annotation
			if provider != "" {
				ac.Provider = provider
			}
			if model != "" {
				ac.Model = model
			}
			if batchSize > 0 {
				ac.BatchSize = batchSize
			}
			if concurrency > 0 {
				ac.Concurrency = concurrency
			}
			if maxBatches > 0 {
				ac.MaxBatches = maxBatches
			}
			annotator, err := a.annotator(cmd.Context())
			if err != nil {
				return err
			}
			repo, err := a.store()
			if err != nil {
				return err
			}
			p := &service.AnnotationPipeline{
				Transactions: repo,
				Annotator:    annotator,
				Diagnostics:  a.diagnostics(),
				Log:          a.log,
				Concurrency:  ac.Concurrency,
				MaxBatches:   ac.MaxBatches,
				CallTimeout:  ac.CallTimeout,
			}
			rep, err := p.Run(cmd.Context(), ac.BatchSize)
			if err != nil {
				return err
			}
			return a.print(rep)
		},
	}
	f := cmd.Flags()
	f.StringVar(&provider, "provider", "", "heuristic, openai or gemini (default annotation.provider)")
	f.StringVar(&model, "model", "", "model name (default annotation.model)")
	f.IntVar(&batchSize, "batch-size", 0, "rows per collaborator call (default annotation.batch_size)")
	f.IntVar(&concurrency, "concurrency", 0, "concurrent calls (default annotation.concurrency)")
	f.IntVar(&maxBatches, "max-batches", 0, "batches per run (default annotation.max_batches)")
	return cmd
}

func newKeyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage stored annotation provider API keys",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <provider>",
		Short: "Store the key read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(a.in).ReadString('\n')
			key := strings.TrimSpace(line)
			if key == "" {
				if err != nil {
					return ledgererr.Validation("key set", "no key on stdin: %v", err)
				}
				return ledgererr.Validation("key set", "no key on stdin")
			}
			s, err := a.secretStore()
			if err != nil {
				return err
			}
			if err := s.StoreProviderKey(args[0], key); err != nil {
				return err
			}
			return a.print(map[string]string{"stored": strings.ToLower(args[0])})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <provider>",
		Short: "Forget the stored key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.secretStore()
			if err != nil {
				return err
			}
			if err := s.DeleteProviderKey(args[0]); err != nil {
				return err
			}
			return a.print(map[string]string{"deleted": strings.ToLower(args[0])})
		},
	})
	return cmd
}
