package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/db"
	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/generation/harness"
	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/metrics"
	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/personas"
	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/scheduler"
)

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.ConnectToDBWithConfig(&db.LibSQLConfig{
				DSN:          a.cfg.PDS.Database.DSN,
				AuthToken:    a.cfg.PDS.Database.AuthToken,
				MaxOpenConns: a.cfg.PDS.Database.MaxOpenConns,
			}, a.logger)
			if err != nil {
				return err
			}
			defer conn.Close()
			a.logger.Info().Msg("Database is up to date")
			return nil
		},
	}
}

func (a *app) personasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "personas",
		Short: "Manage personas",
	}

	var experiment string
	load := &cobra.Command{
		Use:   "load FILE",
		Short: "Enroll the personas of a YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := personas.LoadFile(args[0])
			if err != nil {
				return err
			}
			rt, cleanup, err := a.runtime()
			if err != nil {
				return err
			}
			defer cleanup()

			stored, err := personas.Enroll(cmd.Context(), rt.Store, doc, experiment)
			if err != nil {
				return err
			}
			for _, p := range stored {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\tactive=%t\n", p.ID, p.TenantID, p.Username, p.Active)
			}
			return nil
		},
	}
	load.Flags().StringVarP(&experiment, "experiment", "e", "", "experiment to enroll into, overriding the document")

	var tenant string
	list := &cobra.Command{
		Use:   "list",
		Short: "List active personas",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cleanup, err := a.runtime()
			if err != nil {
				return err
			}
			defer cleanup()

			tenants := []string{tenant}
			if tenant == "" {
				if tenants, err = rt.Store.ListTenants(cmd.Context()); err != nil {
					return err
				}
			}
			for _, t := range tenants {
				ps, err := rt.Store.ListActivePersonas(cmd.Context(), t)
				if err != nil {
					return err
				}
				for _, p := range ps {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", p.ID, p.TenantID, p.Username)
				}
			}
			return nil
		},
	}
	list.Flags().StringVarP(&tenant, "experiment", "e", "", "only list this experiment")

	cmd.AddCommand(load, list)
	return cmd
}

// postCmd publishes a human top-level post. Persona replies run after the commit and
// the command waits for them before exiting.
func (a *app) postCmd() *cobra.Command {
	var (
		experiment string
		username   string
		profileID  string
	)
	cmd := &cobra.Command{
		Use:   "post CONTENT",
		Short: "Publish a post as a human and let personas respond",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if experiment == "" {
				return errors.New("--experiment is required")
			}
			if profileID == "" {
				profileID = uuid.NewString()
			}
			rt, cleanup, err := a.runtime()
			if err != nil {
				return err
			}
			defer cleanup()

			post, err := rt.Store.CreatePost(cmd.Context(), discourse.TopLevel(experiment, discourse.HumanAuthor(profileID, username), args[0]))
			if err != nil {
				return err
			}
			rt.Dispatcher.Wait()
			fmt.Fprintln(cmd.OutOrStdout(), post.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&experiment, "experiment", "e", "", "experiment the post belongs to")
	cmd.Flags().StringVarP(&username, "username", "u", "anonymous", "author username")
	cmd.Flags().StringVar(&profileID, "profile", "", "author profile ID (random when empty)")
	return cmd
}

func (a *app) dispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch POST_ID",
		Short: "Select personas to respond to an existing post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cleanup, err := a.runtime()
			if err != nil {
				return err
			}
			defer cleanup()

			sel, err := rt.Dispatcher.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rt.Dispatcher.Wait()
			a.logger.Info().Str("post_id", sel.PostID).Strs("personas", sel.PersonaIDs).Strs("scheduled", sel.Scheduled).Msg("Dispatch finished")
			return nil
		},
	}
}

func (a *app) generatePostCmd() *cobra.Command {
	var (
		experiment string
		force      bool
	)
	cmd := &cobra.Command{
		Use:   "generate-post",
		Short: "Let a random active persona write an original post",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, cleanup, err := a.runtime()
			if err != nil {
				return err
			}
			defer cleanup()

			s := scheduler.NewScheduler(rt.Store, rt.Orchestrator, harness.NewTimeSeededRandom(), scheduler.Options{TenantID: experiment, Force: force}, a.logger)
			id, err := s.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if id == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no post created")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&experiment, "experiment", "e", "", "restrict to one experiment")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "ignore the activity heuristic")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and metrics endpoint until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, cleanup, err := a.runtime()
			if err != nil {
				return err
			}
			defer cleanup()

			if a.cfg.Scheduler.Enabled {
				s := scheduler.NewScheduler(rt.Store, rt.Orchestrator, harness.NewTimeSeededRandom(), scheduler.Options{
					TenantID: a.cfg.Scheduler.TenantID,
					Force:    a.cfg.Scheduler.Force,
				}, a.logger)
				if err := s.Schedule(ctx, a.cfg.Scheduler.Spec); err != nil {
					return err
				}
				s.Start()
				defer s.Stop()
				a.logger.Info().Str("spec", a.cfg.Scheduler.Spec).Msg("Scheduler started")
			}

			var wg conc.WaitGroup
			errs := make(chan error, 1)
			if a.cfg.Metrics.Enabled {
				wg.Go(func() {
					if err := metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger); err != nil {
						errs <- fmt.Errorf("metrics server: %w", err)
					}
				})
			}

			a.logger.Info().Msg("Serving; press Ctrl+C to stop")
			select {
			case <-ctx.Done():
				a.logger.Info().Msg("Shutting down")
			case err = <-errs:
			}
			wg.Wait()
			return err
		},
	}
}
