package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/keylink/internal/adapters/crypto"
	"github.com/bft-labs/keylink/internal/adapters/protocol"
	"github.com/bft-labs/keylink/internal/adapters/sim"
	"github.com/bft-labs/keylink/pkg/keylink"
)

// vehicleFlags configure the simulated vehicle.
type vehicleFlags struct {
	asleep   bool
	unpaired bool
	faults   sim.Faults
}

func (v *vehicleFlags) register(fs *pflag.FlagSet) {
	fs.BoolVar(&v.asleep, "asleep", false, "start the vehicle asleep")
	fs.BoolVar(&v.unpaired, "unpaired", false, "vehicle rejects the controller key")
	fs.IntVar(&v.faults.DropWrites, "drop", 0, "drop this many unit writes")
	fs.IntVar(&v.faults.FailWrites, "fail", 0, "fail this many unit writes")
	fs.IntVar(&v.faults.Silent, "silent", 0, "leave this many messages unanswered")
	fs.IntVar(&v.faults.Garbage, "garbage", 0, "corrupt this many replies")
	fs.IntVar(&v.faults.Busy, "busy", 0, "answer this many commands with a busy fault")
	fs.IntVar(&v.faults.StaleCounter, "stale", 0, "reject this many commands as replays")
}

func (c *cli) newVehicle(vf vehicleFlags) (*sim.Vehicle, error) {
	kc := c.cfg.Keylink()
	kc.SetDefaults()

	var key []byte
	if path := c.vehicleKeyPath(); path != "" {
		var err error
		if key, err = crypto.LoadOrCreateKey(path); err != nil {
			return nil, fmt.Errorf("vehicle key: %w", err)
		}
	}

	v, err := sim.New(sim.Config{
		Transport:  kc.Transport,
		PrivateKey: key,
		Asleep:     vf.asleep,
		Unpaired:   vf.unpaired,
		Logger:     c.logger("vehicle"),
	})
	if err != nil {
		return nil, err
	}
	v.Inject(vf.faults)
	return v, nil
}

func newSendCommand(c *cli) *cobra.Command {
	var vf vehicleFlags

	cmd := &cobra.Command{
		Use:   "send <action> [value]",
		Short: "Send one command and wait for its result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			param := ""
			if len(args) == 2 {
				param = args[1]
			}
			p, err := keylink.ParsePayload(args[0], param)
			if err != nil {
				return err
			}

			vehicle, err := c.newVehicle(vf)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			client, stop, err := c.start(ctx, vehicle)
			if err != nil {
				return err
			}
			defer stop()

			res, err := client.Send(ctx, p, "cli")
			printResult(cmd.OutOrStdout(), p, res)
			return err
		},
	}
	vf.register(cmd.Flags())
	return cmd
}

func newWatchCommand(c *cli) *cobra.Command {
	var (
		vf         vehicleFlags
		sleepAfter time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the vehicle and print status until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.PollVCSEC == 0 {
				def := keylink.DefaultPollConfig()
				c.cfg.PollVCSEC = def.VCSECInterval
				if c.cfg.PollData == 0 {
					c.cfg.PollData = def.InfotainmentInterval
				}
				if c.cfg.PollActive == 0 {
					c.cfg.PollActive = def.ActiveInterval
				}
			}

			vehicle, err := c.newVehicle(vf)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			out := cmd.OutOrStdout()
			client, stop, err := c.start(ctx, vehicle,
				keylink.WithStatusSink(statusPrinter{out: out}),
				keylink.WithPollHandler(func(r keylink.Result) {
					if r.Err != nil {
						fmt.Fprintf(out, "poll %s failed: %v\n", r.ID, r.Err)
						return
					}
					printResponse(out, r.Response)
				}),
			)
			if err != nil {
				return err
			}
			defer stop()

			if sleepAfter > 0 {
				time.AfterFunc(sleepAfter, vehicle.Sleep)
			}

			c.log.Info().
				Dur("vcsec", c.cfg.PollVCSEC).
				Dur("data", c.cfg.PollData).
				Msg("watching vehicle, press Ctrl-C to stop")

			<-ctx.Done()
			if client.Status() == keylink.StateCrashed {
				return errors.New("client crashed")
			}
			return nil
		},
	}
	vf.register(cmd.Flags())
	cmd.Flags().DurationVar(&sleepAfter, "sleep-after", 0, "put the vehicle to sleep after this long")
	return cmd
}

func newActionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List the supported actions",
		Args:  cobra.NoArgs,
		// No configuration needed.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACTION\tDOMAIN\tVALUE")
			for _, spec := range keylink.Actions() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", spec.Name, spec.Domain, paramHelp(spec))
			}
			return w.Flush()
		},
	}
}

func paramHelp(spec keylink.ActionSpec) string {
	switch spec.Param {
	case keylink.ParamBool:
		return "on|off"
	case keylink.ParamInt:
		return fmt.Sprintf("%d..%d", spec.Min, spec.Max)
	default:
		return "-"
	}
}

func newSessionsCommand(c *cli) *cobra.Command {
	var forget bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show or forget persisted sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg.Keylink()
			if forget {
				if err := keylink.ForgetSessions(cmd.Context(), cfg); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "sessions forgotten")
				return nil
			}

			sessions, err := keylink.StoredSessions(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no stored sessions")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DOMAIN\tCOUNTER\tEPOCH\tUPDATED")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%d\t%x\t%s\n", s.Domain, s.Counter, s.Epoch, s.Updated.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&forget, "forget", false, "delete stored sessions")
	return cmd
}

func printResult(w io.Writer, p keylink.Payload, r keylink.Result) {
	if r.Err != nil {
		fmt.Fprintf(w, "%s failed after %d attempt(s) in %s: %v\n",
			p.Action, r.Attempts, r.Elapsed.Round(time.Millisecond), r.Err)
		return
	}
	fmt.Fprintf(w, "%s ok after %d attempt(s) in %s\n",
		p.Action, r.Attempts, r.Elapsed.Round(time.Millisecond))
	printResponse(w, r.Response)
}

// printResponse prints the readable part of a response, if any.
func printResponse(w io.Writer, env keylink.Envelope) {
	if env.Vehicle != nil {
		printStatus(w, " ", env.From, env.Vehicle)
		return
	}
	if env.From != keylink.DomainInfotainment || len(env.Body) == 0 {
		return
	}
	cs, err := protocol.DecodeChargeState(env.Body)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "  battery=%d%% limit=%d%% amps=%d charging=%v\n",
		cs.BatteryLevel, cs.ChargeLimit, cs.ChargingAmps, cs.Charging)
}

func printStatus(w io.Writer, prefix string, d keylink.Domain, s *keylink.VehicleStatus) {
	fmt.Fprintf(w, "%s %s: sleep=%s locked=%v user_present=%v\n", prefix, d, s.Sleep, s.Locked, s.UserPresent)
}

// statusPrinter prints unsolicited status pushes.
type statusPrinter struct {
	out io.Writer
}

func (p statusPrinter) OnStatus(d keylink.Domain, status *keylink.VehicleStatus, raw []byte) {
	if status == nil {
		fmt.Fprintf(p.out, "push from %s (%d bytes)\n", d, len(raw))
		return
	}
	printStatus(p.out, "push", d, status)
}

var _ keylink.StatusSink = statusPrinter{}
