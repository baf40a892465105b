package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/rabbitt-console/internal/model/filter"
	"github.com/zhouzirui/rabbitt-console/internal/notify"
	"github.com/zhouzirui/rabbitt-console/internal/service/hydration"
)

var hydrateFilters filter.State

func init() {
	cmd := &cobra.Command{
		Use:   "hydrate",
		Short: "Fetch all six dashboard datasets for a filter selection",
		Run:   runHydrate,
	}
	cmd.Flags().StringVar(&hydrateFilters.Region, "region", "", "Region filter")
	cmd.Flags().StringVar(&hydrateFilters.Category, "category", "", "Category filter")
	cmd.Flags().StringVar(&hydrateFilters.Channel, "channel", "", "Channel filter")
	cmd.Flags().StringVar(&hydrateFilters.PromoFlag, "promo", "", "Promo flag filter")
	cmd.Flags().StringVar(&hydrateFilters.Start, "start", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&hydrateFilters.End, "end", "", "End date (YYYY-MM-DD)")
	cmd.Flags().String("preset", "", "Date preset label, e.g. \"Last 30 Days\"")

	rootCmd.AddCommand(cmd)
}

func runHydrate(cmd *cobra.Command, args []string) {
	logger := newLogger()
	client := newClient(logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	state := hydrateFilters
	if label, _ := cmd.Flags().GetString("preset"); label != "" {
		opts, err := client.FetchFilters(ctx)
		if err != nil {
			exitErr("fetch filters", err)
		}
		preset, ok := filter.FindPreset(time.Now(), opts, label)
		if !ok {
			exitErr("preset", fmt.Errorf("unknown preset %q", label))
		}
		state.Start, state.End = preset.Start, preset.End
	}

	recorder := &notify.Recorder{}
	orch := hydration.New(client, notify.Tee(recorder, notify.NewLogSink(logger)), logger)

	snap, err := orch.Hydrate(ctx, state)
	if err != nil {
		exitErr("hydrate", err)
	}

	printJSON(map[string]any{
		"payload":  filter.ToPayload(state),
		"snapshot": snap,
		"notices":  recorder.Notices(),
	})
}
