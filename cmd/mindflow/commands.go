package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/blob"
	"github.com/dharsanguruparan/mindflow/internal/config"
	"github.com/dharsanguruparan/mindflow/internal/library"
	"github.com/dharsanguruparan/mindflow/internal/logger"
	"github.com/dharsanguruparan/mindflow/internal/model"
	pdfutil "github.com/dharsanguruparan/mindflow/internal/pdf"
	"github.com/dharsanguruparan/mindflow/internal/processing"
	"github.com/dharsanguruparan/mindflow/internal/storage"
)

type rootOptions struct {
	processingURL string
	timeout       time.Duration
	logLevel      string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "mindflow",
		Short: "MindFlow reader CLI",
		Long: `MindFlow CLI talks to the document processing service, inspects PDFs locally and
runs the common development workflows for the reader backend.`,
		SilenceUsage: true,
	}
	// Flag defaults come from the same MINDFLOW_* environment as the server.
	defaults, err := config.Load()
	if err != nil {
		defaults = &config.Config{ProcessingURL: "http://localhost:8000", ProcessingTimeout: 2 * time.Minute}
	}
	cmd.PersistentFlags().StringVar(&opts.processingURL, "processing-url", defaults.ProcessingURL, "Base URL of the processing service")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaults.ProcessingTimeout, "Timeout for processing service calls")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level written to stderr")
	cmd.AddCommand(
		newIngestCmd(opts),
		newDefineCmd(opts),
		newConceptsCmd(opts),
		newSamplesCmd(opts),
		newTextCmd(),
		newDevCmd(),
	)
	return cmd
}

func (o *rootOptions) logger(cmd *cobra.Command) (*zap.Logger, error) {
	return logger.New(logger.Options{Level: o.logLevel, Console: cmd.ErrOrStderr()})
}

func (o *rootOptions) client(log *zap.Logger) *processing.Client {
	return processing.NewClient(strings.TrimRight(o.processingURL, "/"),
		processing.WithTimeout(o.timeout),
		processing.WithLogger(log),
	)
}

// scratchLibrary is a throwaway in-memory library for one-shot commands.
func scratchLibrary(log *zap.Logger) (*library.Store, *blob.Registry) {
	handles := blob.NewRegistry(storage.NewMemoryBackend(0), blob.WithLogger(log))
	return library.New(handles, library.WithLogger(log)), handles
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>",
		Short: "Send a file through the processing service and print the resulting document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := opts.logger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			file, err := readSource(args[0])
			if err != nil {
				return err
			}
			lib, handles := scratchLibrary(log)
			defer handles.Close()
			defer lib.Close()

			doc, err := processing.NewIngestor(opts.client(log), lib, log).Ingest(cmd.Context(), file)
			if err != nil {
				return fmt.Errorf("ingest %s: %w", args[0], err)
			}
			// The blob URL is meaningless once this process exits.
			doc.BlobURL = ""
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
}

func newDefineCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "define <term>",
		Short: "Look up the definition of a concept",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := opts.logger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			term := strings.Join(args, " ")
			def, err := opts.client(log).Definition(cmd.Context(), term)
			if err != nil {
				return err
			}
			if def == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no definition\n", term)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", term, *def)
			return nil
		},
	}
}

func newConceptsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "concepts [text...]",
		Short: "List the key concepts of a passage, read from the arguments or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := opts.logger(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}
			concepts, err := opts.client(log).ExtractConcepts(cmd.Context(), text)
			if err != nil {
				return err
			}
			for _, c := range concepts {
				fmt.Fprintln(cmd.OutOrStdout(), c.Term)
			}
			return nil
		},
	}
}

func newSamplesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "samples",
		Short: "Print the sample documents a fresh library is seeded with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := opts.logger(cmd)
			if err != nil {
				return err
			}
			lib, handles := scratchLibrary(log)
			defer handles.Close()
			lib.AddSampleDocuments()
			return printJSON(cmd.OutOrStdout(), lib.Documents())
		},
	}
}

func newTextCmd() *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "text <file.pdf>",
		Short: "Extract page text from a local PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			pages, err := pdfutil.ExtractPages(data)
			if err != nil {
				return fmt.Errorf("extract %s: %w", args[0], err)
			}
			if page > 0 {
				if page > len(pages) {
					return fmt.Errorf("page %d out of range, %d pages with text", page, len(pages))
				}
				pages = pages[page-1 : page]
			}
			out := cmd.OutOrStdout()
			for i, text := range pages {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintln(out, text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&page, "page", "p", 0, "Only print this page (1-based, counting pages with text)")
	return cmd
}

func newDevCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Development workflows",
	}
	cmd.AddCommand(newTestCmd(), newServeCmd())
	return cmd
}

func newTestCmd() *cobra.Command {
	var race bool
	var cover bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if cover {
				goArgs = append(goArgs, "-cover")
			}
			goArgs = append(goArgs, pkgs...)
			return runCommand(cmd.Context(), "go", goArgs...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "go run ./cmd/server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), "go", append([]string{"run", "./cmd/server"}, args...)...)
		},
	}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}

func readSource(path string) (model.SourceFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.SourceFile{}, err
	}
	return model.SourceFile{
		Name:        filepath.Base(path),
		ContentType: http.DetectContentType(data),
		Size:        int64(len(data)),
		Data:        data,
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
