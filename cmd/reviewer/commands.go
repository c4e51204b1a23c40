package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pavelanni/reviewer/internal/assistant"
	"github.com/pavelanni/reviewer/internal/extract"
	"github.com/pavelanni/reviewer/internal/ingest"
	"github.com/pavelanni/reviewer/internal/model"
	"github.com/pavelanni/reviewer/internal/reply"
)

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <file|->",
		Short: "Print the multiple-choice questions found in a reviewer file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExtract,
	}
	f := cmd.Flags()
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated by size")
	return cmd
}

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Answer one message from a profile's stored knowledge",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	f := cmd.Flags()
	f.Uint64("seed", 0, "Seed for reply selection (0 picks a random seed)")
	addCommonFlags(f)
	addProfileFlags(cmd)
	return cmd
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Feed a reviewer file into a profile's knowledge",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}
	f := cmd.Flags()
	f.StringP("subject", "s", "custom", "Subject label for the knowledge")
	addCommonFlags(f)
	addProfileFlags(cmd)
	return cmd
}

func importLegacyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-legacy <storage.json>...",
		Short: "Import browser storage dumps from the legacy web app",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImportLegacy,
	}
	f := cmd.Flags()
	f.Bool("force", false, "Re-import files that changed since the last import")
	addCommonFlags(f)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export profile data as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("profile-name", "", "Student name")
	f.String("grade", "", "Student grade")
	f.Bool("all", false, "Export every stored profile")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addCommonFlags(f)
	return cmd
}

func runExtract(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	var (
		text string
		err  error
	)
	if args[0] == "-" {
		// One byte past the limit is enough for ValidateFile to reject it.
		data, rerr := io.ReadAll(io.LimitReader(cmd.InOrStdin(), ingest.MaxFileSize+1))
		if rerr != nil {
			return fmt.Errorf("read stdin: %w", rerr)
		}
		text, err = ingest.ValidateFile("stdin.txt", int64(len(data)), data)
	} else {
		var data []byte
		data, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		text, err = ingest.ValidateFile(filepath.Base(args[0]), int64(len(data)), data)
	}
	if err != nil {
		return fmt.Errorf("validate %s: %w", args[0], err)
	}

	questions := extract.Questions(text)
	slog.Debug("extracted questions", "source", args[0], "count", len(questions))
	return writeOutput(v.GetString("output"), questions)
}

func profileFromFlags(cmd *cobra.Command) (model.Profile, error) {
	v := viperForCmd(cmd)
	p := model.Profile{Name: v.GetString("profile-name"), Grade: v.GetString("grade")}
	return p, p.Validate()
}

func runAsk(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	p, err := profileFromFlags(cmd)
	if err != nil {
		return err
	}
	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	var opts []reply.Option
	if seed := v.GetUint64("seed"); seed != 0 {
		opts = append(opts, reply.WithSeed(seed))
	}
	a := assistant.New(db, reply.New(opts...), model.Config{})

	r, err := a.Ask(localContext(v.GetString("lang")), p, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), r.Text)
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	p, err := profileFromFlags(cmd)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	a := assistant.New(db, reply.New(), model.Config{Subject: v.GetString("subject")})
	res, err := a.FeedFile(localContext(v.GetString("lang")), p, v.GetString("subject"),
		filepath.Base(args[0]), int64(len(data)), data)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Acknowledgement)
	slog.Info("ingested file", "path", args[0], "profile", p.String(), "questions", len(res.Questions))
	return nil
}

func runImportLegacy(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("storage dump unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" && !v.GetBool("force") {
			slog.Warn("storage dump changed since last import, skipping (use --force to re-import)", "path", path)
			continue
		}

		var dump map[string]string
		if err := json.Unmarshal(data, &dump); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		stats, err := db.ImportLegacy(dump)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}

		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		if err := db.SetMetadata("last_legacy_import", time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("record import time: %w", err)
		}
		slog.Info("imported storage dump",
			"path", path,
			"profiles", stats.Profiles,
			"knowledge", stats.Knowledge,
			"questions", stats.Questions,
			"logs", stats.Logs,
			"skipped", stats.Skipped,
		)
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	var profiles []model.Profile
	if v.GetBool("all") {
		if profiles, err = db.ListProfiles(); err != nil {
			return fmt.Errorf("list profiles: %w", err)
		}
	} else {
		p, err := profileFromFlags(cmd)
		if err != nil {
			return fmt.Errorf("--profile-name and --grade are required without --all: %w", err)
		}
		profiles = []model.Profile{p}
	}

	exports := make([]model.ProfileExport, 0, len(profiles))
	for _, p := range profiles {
		exp, err := db.ExportProfile(p)
		if err != nil {
			return fmt.Errorf("export %s: %w", p, err)
		}
		exports = append(exports, exp)
	}

	if !v.GetBool("all") {
		return writeOutput(v.GetString("output"), exports[0])
	}
	return writeOutput(v.GetString("output"), exports)
}

func writeOutput(outPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
