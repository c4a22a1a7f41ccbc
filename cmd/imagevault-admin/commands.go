package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/prn-tf/imagevault/internal/auth"
	"github.com/prn-tf/imagevault/internal/bootstrap"
	"github.com/prn-tf/imagevault/internal/domain"
	"github.com/prn-tf/imagevault/internal/pkg/chunk"
	"github.com/prn-tf/imagevault/internal/pkg/crypto"
	"github.com/prn-tf/imagevault/internal/pkg/logging"
	"github.com/prn-tf/imagevault/internal/repository"
	"github.com/prn-tf/imagevault/internal/service"
)

// env is an opened database plus wired services.
type env struct {
	logger   zerolog.Logger
	db       repository.Database
	repos    *repository.Repositories
	coord    *bootstrap.Coordination
	services *bootstrap.Services
}

func (e *env) close() {
	e.services.Usage.Stop()
	_ = e.coord.Close()
	_ = e.db.Close()
}

// open connects to the configured backends and migrates the schema.
func (a *app) open(ctx context.Context) (*env, error) {
	logger := logging.New(a.cfg.Logging, os.Stderr)

	db, repos, err := bootstrap.OpenDatabase(ctx, a.cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	coord, err := bootstrap.OpenCoordination(ctx, a.cfg.Redis, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	archiver, err := bootstrap.OpenArchiver(ctx, a.cfg.Archive, logger)
	if err != nil {
		_ = coord.Close()
		_ = db.Close()
		return nil, err
	}

	return &env{
		logger:   logger,
		db:       db,
		repos:    repos,
		coord:    coord,
		services: bootstrap.NewServices(a.cfg, repos, coord, archiver, nil, logger),
	}, nil
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s database\n", a.cfg.Database.Driver)
			return nil
		},
	}
}

func newCleanupCmd(a *app) *cobra.Command {
	var (
		daysOld int
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete unused, unattached images",
		RunE: func(cmd *cobra.Command, args []string) error {
			if daysOld < service.MinDaysOld || daysOld > service.MaxDaysOld {
				return domain.ErrInvalidDaysOld
			}

			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			res, err := e.services.Retention.Sweep(cmd.Context(), service.SweepInput{DaysOld: daysOld, DryRun: dryRun})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case res.Skipped:
				fmt.Fprintln(out, "another cleanup is in progress")
			case res.DryRun:
				fmt.Fprintf(out, "dry run: %d unused images older than %s would be removed\n", res.DeletedCount, res.Cutoff.Format(time.RFC3339))
			default:
				fmt.Fprintf(out, "removed %d unused images (archived=%d errors=%d) in %s\n", res.DeletedCount, res.Archived, res.Errors, res.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&daysOld, "days-old", service.DefaultDaysOld, "remove images created more than N days ago (1-365)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count matching images without deleting")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var (
		owner        string
		target       string
		subIndex     int
		mimetype     string
		keepOriginal bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Store an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if mimetype == "" {
				mimetype = http.DetectContentType(data)
			}

			var ref *domain.AttachmentRef
			if target != "" {
				ref = &domain.AttachmentRef{TargetID: target}
				if cmd.Flags().Changed("sub-index") {
					ref.SubIndex = &subIndex
				}
			}

			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			out, err := e.services.Ingest.Ingest(cmd.Context(), service.IngestInput{
				Data:                     data,
				OriginalName:             filepath.Base(args[0]),
				DeclaredMimetype:         mimetype,
				OwnerID:                  owner,
				AttachmentRef:            ref,
				KeepOriginalOnCodecError: keepOriginal,
			})
			if err != nil {
				return err
			}

			b := out.Blob
			verb := "stored"
			if out.Duplicate {
				verb = "reused"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %dx%d %s (%d chunks, usage %d)\n",
				verb, b.ID, b.Mimetype, b.Width, b.Height, b.FormattedSize(), b.ChunkCount, b.UsageCount)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (required)")
	cmd.Flags().StringVar(&target, "target", "", "attachment target id")
	cmd.Flags().IntVar(&subIndex, "sub-index", 0, "attachment sub-index")
	cmd.Flags().StringVar(&mimetype, "mimetype", "", "declared mimetype (sniffed when empty)")
	cmd.Flags().BoolVar(&keepOriginal, "keep-original-on-error", false, "store raw bytes when processing fails")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <id>",
		Short: "Show an image's metadata and check its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			ctx := cmd.Context()
			blob, err := e.repos.Blob.GetByID(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:          %s\n", blob.ID)
			fmt.Fprintf(out, "name:        %s\n", blob.OriginalName)
			fmt.Fprintf(out, "owner:       %s\n", blob.OwnerID)
			fmt.Fprintf(out, "mimetype:    %s\n", blob.Mimetype)
			fmt.Fprintf(out, "size:        %d -> %d (%s)\n", blob.OriginalSize, blob.ProcessedSize, blob.FormattedSize())
			fmt.Fprintf(out, "dimensions:  %dx%d\n", blob.Width, blob.Height)
			fmt.Fprintf(out, "hash:        %s\n", blob.Hash)
			fmt.Fprintf(out, "usage:       %d\n", blob.UsageCount)
			if blob.AttachmentRef != nil {
				fmt.Fprintf(out, "attached to: %s\n", blob.AttachmentRef.TargetID)
			}
			fmt.Fprintf(out, "created:     %s\n", blob.CreatedAt.Format(time.RFC3339))

			if err := checkLayout(blob); err != nil {
				return err
			}
			chunks, err := e.repos.Blob.GetChunks(ctx, blob.ID)
			if err != nil {
				return err
			}
			if err := chunk.Verify(chunks, blob.ChunkCount); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrCorruptChunks, err)
			}
			data, err := chunk.Join(chunks)
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrCorruptChunks, err)
			}
			if int64(len(data)) != blob.ProcessedSize {
				return fmt.Errorf("%w: reconstructed %d bytes, expected %d", domain.ErrCorruptChunks, len(data), blob.ProcessedSize)
			}

			fmt.Fprintf(out, "chunks:      %d x %d ok, sha256 %s\n", blob.ChunkCount, blob.ChunkSize, crypto.ComputeSHA256(data))
			return nil
		},
	}
}

// checkLayout validates the recorded metadata before any chunk is read.
func checkLayout(blob *domain.Blob) error {
	if !crypto.ValidateSHA256(blob.Hash) {
		return fmt.Errorf("%w: malformed content hash %q", domain.ErrCorruptChunks, blob.Hash)
	}
	want := chunk.Count(chunk.EncodedLen(int(blob.ProcessedSize)), blob.ChunkSize)
	if blob.ChunkCount != want {
		return fmt.Errorf("%w: %d chunks recorded for %d bytes, expected %d",
			domain.ErrCorruptChunks, blob.ChunkCount, blob.ProcessedSize, want)
	}
	return nil
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}
			tok, err := auth.GenerateToken(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer, args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "user", "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
