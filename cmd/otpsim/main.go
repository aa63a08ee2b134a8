// Command otpsim simulates the OTP and Management applets over a plain
// APDU and HID-frame surface, for manual exploration and scripting against
// pkg/otpcard without real firmware.
package main

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/otpcard/cmd/otpsim/internal/config"
	"github.com/barnettlynn/otpcard/pkg/otpcard"
)

var startTime = time.Now()

type millisClock struct{}

func (millisClock) Millis() uint32 { return uint32(time.Since(startTime).Milliseconds()) }

type autoButton struct{ declined bool }

func (b autoButton) Wait() bool { return b.declined }

type stdoutKeyboard struct{}

func (stdoutKeyboard) Write(p []byte) { fmt.Print(string(p)) }

func main() {
	var (
		verbose    bool
		logFormat  string
		configPath string
	)

	root := &cobra.Command{
		Use:   "otpsim",
		Short: "Simulate a Yubico-style OTP and Management applet",
	}
	root.PersistentFlags().BoolVarP(&verbose, "v", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "otpsim.yaml", "preload config path")

	var dev *otpcard.Device
	var otpApp *otpcard.OTPApplet
	var manApp *otpcard.ManagementApplet

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		opts := &slog.HandlerOptions{Level: level}
		if logFormat == "json" {
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
		} else {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
		}

		d, err := buildDevice(configPath)
		if err != nil {
			return fmt.Errorf("build device: %w", err)
		}
		dev = d
		otpApp = &otpcard.OTPApplet{Dev: dev}
		manApp = &otpcard.ManagementApplet{Dev: dev}
		return nil
	}

	root.AddCommand(
		newStatusCmd(&otpApp),
		newConfigureCmd(&otpApp),
		newAPDUCmd(&otpApp, &manApp),
		newHIDCmd(&otpApp),
		newPressCmd(&otpApp),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildDevice(path string) (*otpcard.Device, error) {
	store := otpcard.NewMemoryStore()

	var serial [4]byte
	var major, minor byte = 5, 4

	if _, err := os.Stat(path); err == nil {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		raw, err := hex.DecodeString(cfg.Serial)
		if err != nil || len(raw) != 4 {
			return nil, fmt.Errorf("config.serial must be 4 bytes of hex")
		}
		copy(serial[:], raw)

		for id, slot := range map[otpcard.FileID]*config.SlotPreload{
			otpcard.EFOTPSlot1: cfg.Slot1,
			otpcard.EFOTPSlot2: cfg.Slot2,
		} {
			if slot == nil {
				continue
			}
			rec, err := buildSlotConfig(slot)
			if err != nil {
				return nil, err
			}
			buf := make([]byte, 0, 66)
			buf = append(buf, rec.Marshal()...)
			buf = append(buf, make([]byte, 8)...)
			store.PutData(id, buf)
		}
	} else {
		binary.BigEndian.PutUint32(serial[:], 12345678)
	}

	dev := otpcard.NewDevice(store, rand.Reader, nil, autoButton{}, serial, major, minor)
	dev.Clock = millisClock{}
	return dev, nil
}

func buildSlotConfig(s *config.SlotPreload) (*otpcard.SlotConfig, error) {
	rec := &otpcard.SlotConfig{
		ExtFlags: s.ExtFlags,
		TktFlags: s.TktFlags,
		CfgFlags: s.CfgFlags,
	}
	fields := []struct {
		name string
		dst  []byte
		src  string
	}{
		{"fixed_data", rec.FixedData[:], s.FixedData},
		{"uid", rec.UID[:], s.UID},
		{"aes_key", rec.AESKey[:], s.AESKey},
		{"acc_code", rec.AccCode[:], s.AccCode},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		raw, err := hex.DecodeString(f.src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		if len(raw) != len(f.dst) {
			return nil, fmt.Errorf("%s must be %d bytes, got %d", f.name, len(f.dst), len(raw))
		}
		copy(f.dst, raw)
	}
	rec.FixedSize = byte(len(rec.FixedData))
	rec.SetCRC()
	return rec, nil
}

func newStatusCmd(app **otpcard.OTPApplet) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the OTP applet status block",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp := (*app).Select()
			fmt.Printf("status: %s (sw=0x%04X)\n", hex.EncodeToString(resp.Data), resp.SW)
			return nil
		},
	}
}

func newConfigureCmd(app **otpcard.OTPApplet) *cobra.Command {
	var slot int
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Re-run the preload configure against slot 1 or 2 (round-trip smoke test)",
		RunE: func(cmd *cobra.Command, args []string) error {
			p1 := byte(0x01)
			id := otpcard.EFOTPSlot1
			if slot == 2 {
				p1 = 0x03
				id = otpcard.EFOTPSlot2
			}
			rec, err := otpcard.UnmarshalSlotConfig((*app).Dev.Store.GetData(id))
			if err != nil {
				return fmt.Errorf("slot %d has no preloaded record", slot)
			}
			data := append(rec.Marshal(), rec.AccCode[:]...)
			resp := (*app).Dispatch(otpcard.APDU{INS: 0x01, P1: p1, Data: data})
			fmt.Printf("response: %s (sw=0x%04X)\n", hex.EncodeToString(resp.Data), resp.SW)
			return nil
		},
	}
	cmd.Flags().IntVar(&slot, "slot", 1, "slot number (1 or 2)")
	return cmd
}

func newAPDUCmd(otpApp **otpcard.OTPApplet, manApp **otpcard.ManagementApplet) *cobra.Command {
	return &cobra.Command{
		Use:   "apdu [hex]",
		Short: "Send one raw APDU (CLA INS P1 P2 [data...]) and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hex.DecodeString(args[0])
			if err != nil || len(raw) < 4 {
				return fmt.Errorf("invalid APDU hex")
			}
			a := otpcard.APDU{CLA: raw[0], INS: raw[1], P1: raw[2], P2: raw[3], Data: raw[4:]}

			var resp otpcard.Response
			switch {
			case a.CLA == 0x00 && a.INS == 0xA4:
				resp = otpcard.OK(nil)
			case a.INS == 0x1D || a.INS == 0x1C || a.INS == 0x1E:
				resp = (*manApp).Dispatch(a)
			default:
				resp = (*otpApp).Dispatch(a)
			}
			fmt.Printf("%s%04X\n", hex.EncodeToString(resp.Data), resp.SW)
			return nil
		},
	}
}

func newHIDCmd(app **otpcard.OTPApplet) *cobra.Command {
	return &cobra.Command{
		Use:   "hid",
		Short: "Feed 8-byte HID feature reports (one hex-encoded report per line on stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dev := (*app).Dev
			adapter := &otpcard.FrameAdapter{
				Dispatch: (*app).Dispatch,
				Status:   dev.HIDStatus,
				Log:      slog.Default(),
			}

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := scanner.Text()
				raw, err := hex.DecodeString(line)
				if err != nil || len(raw) != 8 {
					return fmt.Errorf("each line must be 8 bytes of hex, got %q", line)
				}
				var report [8]byte
				copy(report[:], raw)
				adapter.SetReport(report)

				out := adapter.GetReport()
				fmt.Println(hex.EncodeToString(out[:]))
			}
			return scanner.Err()
		},
	}
}

func newPressCmd(app **otpcard.OTPApplet) *cobra.Command {
	var slot int
	cmd := &cobra.Command{
		Use:   "press",
		Short: "Simulate a physical button press on a slot, printing emitted keystrokes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := (*app).ButtonPressed(slot, stdoutKeyboard{}); err != nil {
				return err
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().IntVar(&slot, "slot", 1, "slot number (1 or 2)")
	return cmd
}
