package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarcoPoloResearchLab/stockroom/internal/auth"
	"github.com/MarcoPoloResearchLab/stockroom/internal/logging"
	"github.com/MarcoPoloResearchLab/stockroom/internal/replication"
	"github.com/spf13/cobra"
)

func newExportCommand() *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a full snapshot of the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(logging.FormatConsole)
			if err != nil {
				return err
			}
			defer rt.Close()

			directory, err := rt.users()
			if err != nil {
				return err
			}
			snapshot, err := replication.ExportStore(cmd.Context(), rt.store, directory)
			if err != nil {
				return err
			}

			file, closeFile, err := openOutput(output)
			if err != nil {
				return err
			}
			if err := replication.EncodeSnapshot(file, snapshot, snapshotFormat(format, output)); err != nil {
				_ = closeFile()
				return err
			}
			return closeFile()
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Snapshot format (json, yaml); inferred from --output when empty")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file, - for stdout")
	return cmd
}

func newImportCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Merge a snapshot into the local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(logging.FormatConsole)
			if err != nil {
				return err
			}
			defer rt.Close()

			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			snapshot, err := replication.DecodeSnapshot(file, snapshotFormat(format, args[0]))
			if err != nil {
				return err
			}
			report, err := replication.ImportStore(cmd.Context(), rt.store, snapshot, rt.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"inserted %d, updated %d, unchanged %d, conflicts %d, skipped %d, movements %d new / %d known\n",
				report.Inserted, report.Accepted, report.Identical, report.Conflicts, report.Skipped,
				report.MovementsApplied, report.MovementsDuplicate)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Snapshot format (json, yaml); inferred from the file name when empty")
	return cmd
}

func snapshotFormat(explicit, path string) string {
	if format := strings.ToLower(strings.TrimSpace(explicit)); format != "" {
		return format
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return replication.FormatYAML
	default:
		return replication.FormatJSON
	}
}

func newTokenCommand() *cobra.Command {
	var (
		userID      string
		displayName string
		email       string
		admin       bool
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for a replica or script",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(logging.FormatConsole)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.config.RequireSigningSecret(); err != nil {
				return err
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(rt.config.SigningSecret),
				Issuer:        rt.config.Issuer,
				TokenTTL:      rt.config.TokenTTL,
			})
			if err != nil {
				return err
			}
			var roles []string
			if admin {
				roles = append(roles, auth.RoleAdmin)
			}
			token, expiresAt, err := issuer.Issue(auth.TokenSubject{
				UserID:      userID,
				Email:       email,
				DisplayName: displayName,
				Roles:       roles,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format("2006-01-02 15:04 MST"))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "Subject of the token, e.g. replica:front-desk")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name recorded on movements")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the admin role (snapshot import)")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
