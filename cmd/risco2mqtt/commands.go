package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daemonp/risco2mqtt/internal/cache"
	"github.com/daemonp/risco2mqtt/internal/risco"
)

var (
	decodePanelID int
	keyscanFrom   int
	cacheDir      string
)

var decodeCmd = &cobra.Command{
	Use:   "decode <hex frame>",
	Short: "Decode a captured panel frame",
	Example: `  # Decode a frame captured on the wire
  risco2mqtt decode --panel-id 1 "02 11 ... 03"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		frame, err := parseHex(strings.Join(args, ""))
		if err != nil {
			return err
		}
		seq, text, err := decodeFrame(frame, decodePanelID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "encrypted: %v\ncloud: %v\nseq: %q\ncommand: %q\n",
			risco.IsEncrypted(frame), risco.IsCloudFrame(frame), seq, text)
		return nil
	},
}

var keyscanCmd = &cobra.Command{
	Use:   "keyscan <hex frame>",
	Short: "Find the panel id that decodes an encrypted frame",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		frame, err := parseHex(strings.Join(args, ""))
		if err != nil {
			return err
		}
		if !risco.IsEncrypted(frame) {
			return errors.New("frame is not encrypted, any panel id decodes it")
		}
		id, ok := risco.SearchPanelID(frame, keyscanFrom)
		if !ok {
			return fmt.Errorf("no panel id from %d down to 0 decodes the frame", keyscanFrom)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "panel id: %04d\n", id)
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the discovered credentials cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the cached panel id and access code",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cacheDir
		if dir == "" {
			var err error
			if dir, err = cache.Dir(); err != nil {
				return err
			}
		}
		return cache.DeleteCache(dir)
	},
}

func init() {
	decodeCmd.Flags().IntVar(&decodePanelID, "panel-id", 1, "Panel id whose key decodes the frame")
	keyscanCmd.Flags().IntVar(&keyscanFrom, "from", 9999, "Highest panel id to try")
	cacheClearCmd.Flags().StringVar(&cacheDir, "dir", "", "Cache directory (default ~/.cache/risco2mqtt)")

	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(keyscanCmd)
	rootCmd.AddCommand(cacheCmd)
}

// parseHex accepts hex with or without separators.
func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "", "\n", "").Replace(s)
	frame, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex frame: %w", err)
	}
	return frame, nil
}

func decodeFrame(frame []byte, panelID int) (string, string, error) {
	seq, text, ok := risco.DecodeFrame(frame, risco.BuildPseudoBuffer(panelID))
	if !ok {
		return "", "", fmt.Errorf("frame does not decode with panel id %d: %w", panelID, risco.ErrBadCRC)
	}
	return seq, text, nil
}
