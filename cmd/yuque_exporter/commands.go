package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/italolelis/yuque_exporter/internal/config"
	"github.com/italolelis/yuque_exporter/internal/exporter"
	"github.com/italolelis/yuque_exporter/internal/http/rest"
	"github.com/italolelis/yuque_exporter/internal/logctx"
	"github.com/italolelis/yuque_exporter/internal/vault"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "yuque_exporter",
		Short:         "Export Yuque documents and their videos into a local vault",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newVaultCmd(cfg),
		newExportCmd(cfg),
		newHistoryCmd(cfg),
		newServeCmd(cfg),
	)

	return root
}

// withApp runs fn with the shared dependencies and closes them afterwards.
func withApp(cmd *cobra.Command, cfg *config.Config, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()

	prompter := &vault.TerminalPrompter{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()}

	a, err := newApp(ctx, cfg, prompter)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	return fn(ctx, a)
}

func newVaultCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the directory exports are written into",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <directory>",
			Short: "Choose the vault directory, replacing any previous one",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
					root, err := filepath.Abs(args[0])
					if err != nil {
						return err
					}

					return setVault(ctx, a, root, cmd.OutOrStdout())
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Forget the configured vault",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
					if err := a.store.Clear(ctx); err != nil {
						return err
					}

					fmt.Fprintln(cmd.OutOrStdout(), "vault cleared")

					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the vault and whether it can be written to",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
					state, err := a.store.Load(ctx)
					if err != nil {
						return err
					}

					printVaultStatus(cmd.OutOrStdout(), state, a.store.Root())

					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "grant",
			Short: "Grant write permission again to a vault that lost it",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
					if _, err := a.store.Load(ctx); err != nil {
						return err
					}

					if err := a.store.Regrant(ctx); err != nil {
						return err
					}

					printVaultStatus(cmd.OutOrStdout(), a.store.State(), a.store.Root())

					return nil
				})
			},
		},
	)

	return cmd
}

// setVault replaces the vault with root after the user grants write access.
func setVault(ctx context.Context, a *app, root string, out io.Writer) error {
	handle, err := a.opener()(root)
	if err != nil {
		return err
	}

	perm, err := handle.RequestPermission(ctx)
	if err != nil {
		return err
	}

	if perm != vault.PermissionGranted {
		return vault.ErrPermissionDenied
	}

	if state, err := a.store.Load(ctx); err != nil {
		return err
	} else if state != vault.StateNotConfigured {
		if err := a.store.Clear(ctx); err != nil {
			return err
		}
	}

	if err := a.store.Save(ctx, handle); err != nil {
		return err
	}

	printVaultStatus(out, a.store.State(), a.store.Root())

	return nil
}

func printVaultStatus(out io.Writer, state vault.State, root string) {
	if root == "" {
		fmt.Fprintf(out, "vault: %s\n", state)

		return
	}

	fmt.Fprintf(out, "vault: %s (%s)\n", state, root)
}

func newExportCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "export <document-url>",
		Short: "Export one Yuque document as markdown into the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				if _, err := a.store.Load(ctx); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				console := exporter.SinkFunc(func(_ context.Context, s exporter.Status) {
					fmt.Fprintln(out, s.Message)
				})

				rt, err := a.newExportRuntime(ctx, console)
				if err != nil {
					return err
				}
				defer rt.Close()

				res, err := rt.exporter.Export(ctx, args[0])
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "%s: %d video(s), %d embed(s) rewritten in %s\n",
					res.Filename, res.Videos, res.Replaced, res.Duration.Round(time.Millisecond))

				return nil
			})
		},
	}
}

func newHistoryCmd(cfg *config.Config) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent export runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				recs, err := a.history.ListExports(ctx, limit)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "STARTED\tSTATE\tSTAGE\tFILE\tVIDEOS\tERROR")

				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
						humanize.Time(r.StartedAt), r.State, r.Stage, r.Filename, r.Assets, r.Error)
				}

				return tw.Flush()
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")

	return cmd
}

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control API with a long-lived browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Nobody answers prompts on a server; AUTO_GRANT decides.
			cmd.SetIn(eofReader{})

			return withApp(cmd, cfg, serve)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	logger := logctx.LoggerFromContext(ctx)

	state, err := a.store.Load(ctx)
	if err != nil {
		return err
	}

	logger.Info("vault loaded", "state", state, "root", a.store.Root())

	rt, err := a.newExportRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	control := rest.NewControlHandler(
		a.cfg.Web.Username,
		a.cfg.Web.Password,
		a.store,
		a.opener(),
		rt.exporter,
		a.history,
		a.tel,
	)

	r := chi.NewRouter()
	r.Mount("/", control.Routes())

	server := &http.Server{
		Addr:         a.cfg.Web.BindAddress,
		ReadTimeout:  a.cfg.Web.ReadTimeout,
		WriteTimeout: a.cfg.Web.WriteTimeout,
		IdleTimeout:  a.cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Initializing API support", "host", a.cfg.Web.BindAddress)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	})

	return g.Wait()
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

