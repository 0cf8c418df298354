package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"meetcore/internal/core/domain"
	"meetcore/internal/core/services"

	"github.com/spf13/cobra"
)

var (
	gradeSendID string
	gradeRecvID string
)

var gradeCmd = &cobra.Command{
	Use:   "grade [stats.json]",
	Short: "Grade a transport stats payload read from a file or stdin",
	Args:  cobra.MaximumNArgs(1),
	RunE:  gradeMain,
}

func init() {
	gradeCmd.Flags().StringVar(&gradeSendID, "send", "", "send transport id (default from config)")
	gradeCmd.Flags().StringVar(&gradeRecvID, "recv", "", "receive transport id (default from config)")

	rootCmd.AddCommand(gradeCmd)
}

func gradeMain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var payload []byte
	if len(args) == 1 && args[0] != "-" {
		payload, err = os.ReadFile(args[0])
	} else {
		payload, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return fmt.Errorf("read stats: %w", err)
	}

	reports, err := services.DecodeTransportStats(payload)
	if err != nil {
		return err
	}

	sendID, recvID := cfg.Stats.SendTransportID, cfg.Stats.RecvTransportID
	if gradeSendID != "" {
		sendID = gradeSendID
	}
	if gradeRecvID != "" {
		recvID = gradeRecvID
	}

	qs := services.NewQualityService(services.QualityThresholds{
		GoodMaxLossPercent: cfg.Quality.GoodMaxLossPercent,
		BadMaxLossPercent:  cfg.Quality.BadMaxLossPercent,
	})
	sample := qs.Classify(reports, domain.TransportID(sendID), domain.TransportID(recvID))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sample)
}
