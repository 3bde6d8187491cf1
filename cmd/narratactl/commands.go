package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MrWong99/narrata/internal/batch"
	"github.com/MrWong99/narrata/internal/chunker"
	"github.com/MrWong99/narrata/internal/packager"
	"github.com/MrWong99/narrata/internal/synth"
	"github.com/MrWong99/narrata/pkg/store"
)

// readText returns the text named by arg: a file path, or "-" for stdin.
func readText(cmd *cobra.Command, arg string) (string, error) {
	var (
		data []byte
		err  error
	)
	if arg == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(arg)
	}
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("Missing required field: text")
	}
	return text, nil
}

// ── chunk ─────────────────────────────────────────────────────────────────────

func newChunkCmd() *cobra.Command {
	var maxLength int
	cmd := &cobra.Command{
		Use:   "chunk FILE",
		Short: "Show how a text would be split for synthesis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args[0])
			if err != nil {
				return err
			}
			chunks := chunker.Chunk(text, maxLength)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tCHARS\tRANGE\tSTART")
			for _, c := range chunks {
				fmt.Fprintf(tw, "%d\t%s\t%d-%d\t%s\n",
					c.Index, humanize.Comma(int64(utf8.RuneCountInString(c.Text))),
					c.StartChar, c.EndChar, preview(c.Text, 40))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d chunks, %s characters\n",
				len(chunks), humanize.Comma(int64(utf8.RuneCountInString(text))))
			return nil
		},
	}
	cmd.Flags().IntVarP(&maxLength, "max", "m", 2500, "maximum characters per chunk")
	return cmd
}

// preview shortens s to at most n runes on one line.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// ── voices ────────────────────────────────────────────────────────────────────

func newVoicesCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "voices PROVIDER",
		Short: "List the voices offered by a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := newClient(g).voices(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !l.Success {
				return errors.New(l.Error)
			}
			out := cmd.OutOrStdout()
			if l.UsingFallback {
				msg := "live voice list unavailable, showing defaults"
				if l.Error != "" {
					msg += ": " + l.Error
				}
				fmt.Fprintln(cmd.ErrOrStderr(), msg)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDESCRIPTION")
			for _, v := range l.Voices {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", v.ID, v.Name, preview(v.Description, 50))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if len(l.Models) > 0 {
				fmt.Fprintln(out)
				tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "MODEL\tNAME\tPRICING")
				for _, m := range l.Models {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ID, m.Name, m.Pricing)
				}
				return tw.Flush()
			}
			return nil
		},
	}
}

// ── generate ──────────────────────────────────────────────────────────────────

type generateFlags struct {
	provider    string
	voiceID     string
	voice       string
	model       string
	out         string
	bundle      bool
	batchSize   int
	cooldown    time.Duration
	callTimeout time.Duration
}

func newGenerateCmd(g *globals) *cobra.Command {
	var f generateFlags
	cmd := &cobra.Command{
		Use:   "generate FILE",
		Short: "Synthesise a long text in paced batches and save the audio",
		Long: "generate splits FILE (or stdin with \"-\") into chunks sized for the provider,\n" +
			"sends them in batches through the server and writes every completed chunk to\n" +
			"the output directory. Interrupting keeps the chunks finished so far.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, g, f, args[0])
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.provider, "provider", "fishaudio", "provider id (elevenlabs, fishaudio, minimax)")
	fl.StringVar(&f.voiceID, "voice-id", "", "provider voice identifier")
	fl.StringVar(&f.voice, "voice", "", "voice label used in file names")
	fl.StringVar(&f.model, "model", "", "model override")
	fl.StringVarP(&f.out, "out", "o", ".", "output directory")
	fl.BoolVar(&f.bundle, "bundle", false, "write one ZIP archive instead of separate files")
	fl.IntVar(&f.batchSize, "batch-size", batch.DefaultBatchSize, "chunks sent concurrently")
	fl.DurationVar(&f.cooldown, "cooldown", batch.DefaultCooldown, "wait between batches")
	fl.DurationVar(&f.callTimeout, "call-timeout", batch.DefaultCallTimeout, "limit for one chunk call (0 disables)")
	_ = cmd.MarkFlagRequired("voice-id")
	return cmd
}

func runGenerate(cmd *cobra.Command, g *globals, f generateFlags, arg string) error {
	ctx := cmd.Context()
	text, err := readText(cmd, arg)
	if err != nil {
		return err
	}
	c := newClient(g)
	p, err := c.provider(ctx, f.provider)
	if err != nil {
		return err
	}
	if !p.Configured {
		return fmt.Errorf("%s is not configured on the server", p.DisplayName)
	}

	chunks := chunker.Chunk(text, p.ChunkSize)
	template := synth.Request{Provider: f.provider, Voice: f.voice, Model: f.model}.WithVoice(f.voiceID)
	s := batch.NewSession(store.NewID(), template, chunks)

	orch := batch.New(&batch.HTTPDispatcher{
		Endpoint: c.endpoint("/api/generate-audio"),
		Username: g.User,
		Password: g.Password,
	},
		batch.WithBatchSize(f.batchSize),
		batch.WithCooldown(f.cooldown),
		batch.WithCallTimeout(f.callTimeout),
	)

	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "%d chunks in %d batches via %s\n",
		len(chunks), len(chunker.Split(chunks, orch.BatchSize())), p.DisplayName)

	updates, unsubscribe := s.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		reportProgress(stderr, updates)
	}()
	runErr := orch.Run(ctx, s)
	unsubscribe()
	<-done

	if err := writeResults(cmd.OutOrStdout(), s, p.DisplayName, f); err != nil {
		return err
	}
	return runErr
}

// reportProgress prints one line whenever the visible progress changes.
func reportProgress(w io.Writer, updates <-chan batch.Snapshot) {
	var last string
	for snap := range updates {
		pr := snap.Progress
		line := fmt.Sprintf("batch %d/%d  completed %d  failed %d  of %d",
			pr.CurrentBatch, pr.TotalBatches, pr.CompletedChunks, pr.FailedChunks, pr.TotalChunks)
		if snap.CooldownSeconds > 0 {
			line += fmt.Sprintf("  next batch in %ds", snap.CooldownSeconds)
		}
		if snap.Message != "" {
			line += "  " + snap.Message
		}
		if line != last {
			fmt.Fprintln(w, line)
			last = line
		}
	}
}

// writeResults saves the completed chunks of s and lists the failures.
func writeResults(w io.Writer, s *batch.Session, displayName string, f generateFlags) error {
	if err := os.MkdirAll(f.out, 0o755); err != nil {
		return err
	}
	chunks := s.Chunks()
	for _, c := range chunks {
		if c.Status == batch.StatusFailed {
			fmt.Fprintf(w, "chunk %d failed: %s\n", c.ChunkIndex, c.Error)
		}
	}

	if f.bundle {
		a, err := packager.Bundle(chunks, displayName, time.Now())
		if errors.Is(err, packager.ErrNothingToDownload) {
			return errors.New("No completed audio chunks to download")
		}
		if err != nil {
			return err
		}
		path := filepath.Join(f.out, a.Name)
		if err := os.WriteFile(path, a.Data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote %s (%d files, %s)\n", path, len(a.Entries), humanize.Bytes(uint64(len(a.Data))))
		return nil
	}

	var written int
	var total uint64
	width := packager.PadWidth(chunks)
	for _, c := range chunks {
		if c.Status != batch.StatusCompleted {
			continue
		}
		_, data, err := packager.Single(c)
		if err != nil {
			fmt.Fprintf(w, "chunk %d skipped: %v\n", c.ChunkIndex, err)
			continue
		}
		path := filepath.Join(f.out, packager.NumberedName(c, width))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		written++
		total += uint64(len(data))
	}
	if written == 0 {
		return errors.New("No completed audio chunks to download")
	}
	fmt.Fprintf(w, "wrote %d files to %s (%s)\n", written, f.out, humanize.Bytes(total))
	return nil
}
