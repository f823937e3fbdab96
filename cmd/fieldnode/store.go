package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"fieldnode-go/services/logstore"
	"fieldnode-go/services/node"
	"fieldnode-go/services/sensors"
	"fieldnode-go/x/timex"

	"github.com/spf13/cobra"
)

func openLog(opts *RootOptions) (*logstore.Store, func(), error) {
	cfg, err := opts.load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.FlashPath == "" {
		return nil, nil, fmt.Errorf("device %s keeps its log in memory; set store.flash_path", cfg.Device)
	}
	st, _, closer, err := node.OpenStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	done := func() {
		if closer != nil {
			_ = closer.Close()
		}
	}
	return st, done, nil
}

// ---- dump ----

type DumpOptions struct {
	*RootOptions
	From  uint32
	Limit int
}

func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print retained records, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Uint32Var(&opts.From, "from", 0, "first record id (clamped to the oldest retained)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many records (0 for all)")
	return cmd
}

type recordJSON struct {
	ID          uint32  `json:"id"`
	Timestamp   uint32  `json:"ts"`
	Time        string  `json:"time,omitempty"`
	Slot        uint8   `json:"slot"`
	TypeID      uint16  `json:"type_id"`
	ProtocolID  uint8   `json:"protocol_id"`
	Data        string  `json:"data"`
	DeciC       *int16  `json:"deci_c,omitempty"`
	DeciRH      *uint16 `json:"deci_rh,omitempty"`
	MessageType uint8   `json:"msg_type"`
	EOS         uint8   `json:"eos"`
	GaugeTemp   int8    `json:"gauge_temp_c"`
	ChipTemp    int8    `json:"chip_temp_c"`
	Diag        uint8   `json:"diag"`
}

func toJSON(r logstore.Record) recordJSON {
	out := recordJSON{
		ID:          r.ID,
		Timestamp:   r.Timestamp,
		Slot:        r.Sensor.Slot,
		TypeID:      r.Sensor.TypeID,
		ProtocolID:  r.Sensor.ProtocolID,
		Data:        hex.EncodeToString(r.Sensor.Payload()),
		MessageType: uint8(r.Base.MessageType),
		EOS:         r.Base.BatteryEOS,
		GaugeTemp:   r.Base.GaugeTemp,
		ChipTemp:    r.Base.ControllerTemp,
		Diag:        r.Base.DiagnosticBits,
	}
	if r.Timestamp != 0 {
		out.Time = timex.FromUnixSeconds(r.Timestamp).Format("2006-01-02T15:04:05Z")
	}
	if v, ok := sensors.ParseClimate(r.Sensor.Payload()); ok {
		out.DeciC, out.DeciRH = &v.DeciC, &v.DeciRH
	}
	return out
}

func runDump(opts *DumpOptions, w io.Writer) error {
	st, done, err := openLog(opts.RootOptions)
	if err != nil {
		return err
	}
	defer done()
	if _, err := st.Recover(); err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	n := 0
	err = st.Range(opts.From, func(r logstore.Record) bool {
		j := toJSON(r)
		if opts.Format == "json" {
			_ = enc.Encode(j)
		} else {
			fmt.Fprintf(w, "%6d %-20s slot=%d type=0x%04x eos=%3d diag=0x%02x data=%s\n",
				j.ID, j.Time, j.Slot, j.TypeID, j.EOS, j.Diag, j.Data)
		}
		n++
		return opts.Limit == 0 || n < opts.Limit
	})
	return err
}

// ---- recover ----

func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Rebuild the log cursor and report how it was found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(rootOpts, cmd.OutOrStdout())
		},
	}
}

type recoverJSON struct {
	NextID    uint32 `json:"next_id"`
	OldestID  uint32 `json:"oldest_id"`
	Source    string `json:"source"`
	Probes    int    `json:"probes"`
	Available uint32 `json:"available"`
	Capacity  uint32 `json:"capacity"`
}

func runRecover(opts *RootOptions, w io.Writer) error {
	st, done, err := openLog(opts)
	if err != nil {
		return err
	}
	defer done()
	rc, err := st.Recover()
	if err != nil {
		return err
	}
	out := recoverJSON{
		NextID:    rc.NextID,
		OldestID:  rc.OldestID,
		Source:    rc.Source.String(),
		Probes:    int(rc.Probes),
		Available: st.CountAvailable(),
		Capacity:  st.Capacity(),
	}
	if opts.Format == "json" {
		return json.NewEncoder(w).Encode(out)
	}
	fmt.Fprintf(w, "next=%d oldest=%d available=%d/%d source=%s probes=%d\n",
		out.NextID, out.OldestID, out.Available, out.Capacity, out.Source, out.Probes)
	return nil
}

// ---- erase ----

func NewEraseCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase the whole measurement log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to erase without --yes")
			}
			return runErase(rootOpts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the erase")
	return cmd
}

func runErase(opts *RootOptions, w io.Writer) error {
	st, done, err := openLog(opts)
	if err != nil {
		return err
	}
	defer done()
	last := uint8(255)
	return st.EraseAll(func(p logstore.Progress) {
		if pct := p.Percent(); pct/10 != last/10 || p.Done() {
			last = pct
			fmt.Fprintf(w, "erase %3d%%\n", pct)
		}
	})
}
