package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/rabbitt-console/internal/notify"
	"github.com/zhouzirui/rabbitt-console/internal/service/voice"
)

func init() {
	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Run a recorded clip through the capture pipeline and print the text",
		Args:  cobra.ExactArgs(1),
		Run:   runTranscribe,
	}

	rootCmd.AddCommand(cmd)
}

// fileDevice replays an audio file as a single captured chunk.
type fileDevice struct {
	path string
}

func (d fileDevice) Supported() bool { return true }

func (d fileDevice) Acquire(context.Context) (voice.Capture, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, err
	}
	return fileCapture(data), nil
}

type fileCapture []byte

func (c fileCapture) Stop(context.Context) ([][]byte, error) { return [][]byte{c}, nil }
func (c fileCapture) Release()                               {}

func runTranscribe(cmd *cobra.Command, args []string) {
	logger := newLogger()
	client := newClient(logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	recorder := &notify.Recorder{}
	var text string
	ctrl := voice.NewController(fileDevice{path: args[0]}, client, notify.Tee(recorder, notify.NewLogSink(logger)), func(s string) {
		text = s
	}, logger)

	if err := ctrl.Start(ctx); err != nil {
		exitErr("start capture", err)
	}
	if err := ctrl.Stop(ctx); err != nil {
		exitErr("stop capture", err)
	}

	printJSON(map[string]any{
		"file":    filepath.Base(args[0]),
		"text":    text,
		"notices": recorder.Notices(),
	})
	if text == "" {
		os.Exit(1)
	}
}
