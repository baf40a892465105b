package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	speechmodel "github.com/zhouzirui/rabbitt-console/internal/model/speech"
	"github.com/zhouzirui/rabbitt-console/internal/service/speech"
)

func init() {
	cmd := &cobra.Command{
		Use:   "speak <text>",
		Short: "Synthesize text and write the audio to a file",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSpeak,
	}
	cmd.Flags().StringP("out", "o", "", "Output file (default: speak-<pid>.<format>)")

	rootCmd.AddCommand(cmd)
}

// filePlayer writes played audio to disk.
type filePlayer struct {
	path    string
	written int
}

func (p *filePlayer) Play(_ context.Context, audio []byte, format string) error {
	if p.path == "" {
		p.path = fmt.Sprintf("speak-%d.%s", os.Getpid(), format)
	}
	if err := os.WriteFile(p.path, audio, 0o644); err != nil {
		return err
	}
	p.written = len(audio)
	return nil
}

func runSpeak(cmd *cobra.Command, args []string) {
	logger := newLogger()
	client := newClient(logger)
	out, _ := cmd.Flags().GetString("out")

	player := &filePlayer{path: out}
	ctrl := speech.NewController(client, player, nil, logger)

	var path speech.Path
	ctrl.OnDone(func(p speech.Path) { path = p })
	ctrl.Speak(strings.Join(args, " "))
	ctrl.Wait()

	result := map[string]any{"path": path}
	if path == speech.PathRemote {
		result["file"] = player.path
		result["bytes"] = player.written
		result["format"] = speechmodel.FormatMP3
	}
	printJSON(result)
	if path != speech.PathRemote {
		os.Exit(1)
	}
}
