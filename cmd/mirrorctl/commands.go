package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"staffHub/internal/config"
	"staffHub/internal/database"
	"staffHub/internal/logging"
	"staffHub/internal/mirror"
)

// env 保存各子命令共享的配置与日志。
type env struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	e := &env{}
	var logLevel string

	cmd := &cobra.Command{
		Use:           "mirrorctl",
		Short:         "Remote mirror maintenance",
		Long:          "Maintenance commands for the remote file mirror and the employee database.",
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			e.cfg = cfg
			e.logger = logging.New(cfg.Log, false)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newPublishAllCommand(e))
	cmd.AddCommand(newListCommand(e))
	cmd.AddCommand(newCheckCommand(e))
	cmd.AddCommand(newMigrateCommand(e))

	return cmd
}

// open 初始化远程镜像，未启用时返回错误。
func (e *env) open(ctx context.Context) (mirror.Mirror, error) {
	m, err := mirror.New(ctx, e.cfg, e.logger)
	if err != nil {
		return nil, err
	}
	if !m.Enabled() {
		return nil, errors.New("remote mirror is not configured (MIRROR_BACKEND)")
	}
	return m, nil
}

func newPublishAllCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish-all [folder-id]",
		Short: "Grant public read on every mirrored file",
		Long:  "Walks the folder (default: the root folder) and grants public read on every file below it.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := e.open(ctx)
			if err != nil {
				return err
			}
			folder := m.RootFolderID()
			if len(args) == 1 {
				folder = args[0]
			}

			report, err := mirror.PublishAll(ctx, m, folder)
			out := cmd.OutOrStdout()
			for id, ferr := range report.Failed {
				fmt.Fprintf(out, "failed  %s: %v\n", id, ferr)
			}
			fmt.Fprintf(out, "published %d file(s), %d failure(s)\n", report.Published, len(report.Failed))
			if err != nil {
				return err
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%d file(s) could not be published", len(report.Failed))
			}
			return nil
		},
	}

	return cmd
}

func newListCommand(e *env) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "ls [folder-id]",
		Short: "List mirrored files",
		Long:  "Lists the children of a remote folder (default: the root folder).",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := e.open(ctx)
			if err != nil {
				return err
			}
			folder := m.RootFolderID()
			if len(args) == 1 {
				folder = args[0]
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tSIZE\tMODIFIED\tID")
			show := func(_ string, entry mirror.Entry) error {
				kind := "file"
				if entry.IsFolder {
					kind = "dir"
				}
				modified := "-"
				if !entry.ModifiedAt.IsZero() {
					modified = entry.ModifiedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", kind, entry.Size, modified, entry.ID)
				return nil
			}

			if recursive {
				err = mirror.Walk(ctx, m, folder, show)
			} else {
				var entries []mirror.Entry
				entries, err = m.ListChildren(ctx, folder)
				for _, entry := range entries {
					_ = show(folder, entry)
				}
			}
			if ferr := w.Flush(); err == nil {
				err = ferr
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "List all nested folders")

	return cmd
}

func newCheckCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <file-id> <folder-id>",
		Short: "Check folder membership of a file",
		Long:  "Reports whether the remote file is a child of the given folder, the same check used to authorize access.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := e.open(ctx)
			if err != nil {
				return err
			}
			ok, err := m.IsMember(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("membership check failed: %w", err)
			}
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is in %s\n", args[0], args[1])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is NOT in %s\n", args[0], args[1])
			return errors.New("not a member")
		},
	}

	return cmd
}

func newMigrateCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long:  "Applies pending database migrations and exits.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.InitDatabase(e.cfg.Database)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			e.logger.Info("migrations applied", slog.String("driver", e.cfg.Database.Driver))
			return nil
		},
	}

	return cmd
}
