package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/nodehealth/pkg/alarm"
	"github.com/cuemby/nodehealth/pkg/config"
	"github.com/cuemby/nodehealth/pkg/event"
	"github.com/cuemby/nodehealth/pkg/hbs"
	"github.com/cuemby/nodehealth/pkg/log"
	"github.com/cuemby/nodehealth/pkg/metrics"
	"github.com/cuemby/nodehealth/pkg/msg"
	"github.com/cuemby/nodehealth/pkg/types"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// loopQuantum is the sub-period sleep between main loop passes.
const loopQuantum = 5 * time.Millisecond

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hbsagent",
	Short: "Heartbeat agent for the node health subsystem",
	Long: `hbsagent emits periodic pulse requests to every known peer on up
to two independent networks and counts misses until configured thresholds
trigger degrade or failure events towards the maintenance master. It also
exchanges a cluster-view snapshot with the peer service manager.`,
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"hbsagent version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("config", config.MtcConfPath, "Maintenance config file")
	rootCmd.Flags().String("config-overlay", config.MtcOverlayPath, "Maintenance config overlay file")
	rootCmd.Flags().Int("controller-id", 0, "Identity of this controller (0 or 1)")
	rootCmd.Flags().String("mgmnt-iface", "", "Management network interface")
	rootCmd.Flags().String("clstr-iface", "", "Cluster network interface (empty disables)")
	rootCmd.Flags().String("metrics-addr", "", "Prometheus endpoint address (empty disables)")
	rootCmd.Flags().Bool("active", false, "Start in active controller mode")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init("hbsagent", log.Config{
		Level:      logLevel,
		JSONOutput: logJSON,
	})
}

func run(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	overlayPath, _ := cmd.Flags().GetString("config-overlay")
	ctrlID, _ := cmd.Flags().GetInt("controller-id")
	mgmntIface, _ := cmd.Flags().GetString("mgmnt-iface")
	clstrIface, _ := cmd.Flags().GetString("clstr-iface")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	startActive, _ := cmd.Flags().GetBool("active")

	cfg, err := config.LoadHbs(configPath, overlayPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("hostname lookup failed: %w", err)
	}

	logger := log.WithComponent("hbsagent")
	logger.Info().
		Str("hostname", hostname).
		Int("controller_id", ctrlID).
		Int("period_msecs", cfg.HeartbeatPeriodMsecs).
		Str("failure_action", string(cfg.FailureAction)).
		Msg("starting heartbeat agent")

	// best-effort pxeboot address discovery; empty is tolerated
	if pxeboot := msg.PxebootAddrController(mgmntIface); pxeboot != "" {
		logger.Info().Str("pxeboot_addr", pxeboot).Msg("pxeboot address learned from interface file")
	} else if pxeboot := msg.PxebootAddrWorker(mgmntIface); pxeboot != "" {
		logger.Info().Str("pxeboot_addr", pxeboot).Msg("pxeboot address learned from dhcp lease")
	}

	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(metricsAddr); err != nil {
				logger.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	setRealtimePriority(cfg.SchedulingPriority)

	// pulse socket factory; reinvoked on interface reinit
	factory := func(n types.Network) (hbs.PulseSocket, hbs.PulseSocket, error) {
		iface := mgmntIface
		agentPort := cfg.AgentMgmntPort
		clientPort := cfg.ClientMgmntPort
		if n == types.NetworkClstr {
			iface = clstrIface
			agentPort = cfg.AgentClstrPort
			clientPort = cfg.ClientClstrPort
		}
		rx, err := msg.BindRx(cfg.Multicast, agentPort, iface, false, true)
		if err != nil {
			return nil, nil, err
		}
		rx.SetRcvBuf(1 << 20)
		tx, err := msg.BindTx(cfg.Multicast, clientPort, iface)
		if err != nil {
			rx.Close()
			return nil, nil, err
		}
		if err := tx.SetPriority(); err != nil {
			logger.Warn().Err(err).Str("network", n.String()).Msg("pulse socket priority not applied")
		}
		return rx, tx, nil
	}

	fm := alarm.NewFMStore()

	events, err := event.NewUDPSender(cfg.HbsToMtcEventPort, event.NewFeed())
	if err != nil {
		return fmt.Errorf("event channel setup failed: %w", err)
	}
	defer events.Close()

	engine := hbs.NewEngine(cfg, hostname, ctrlID, fm, events, factory)
	if err := engine.EnableNetwork(types.NetworkMgmnt); err != nil {
		return fmt.Errorf("mgmnt network setup failed: %w", err)
	}
	if clstrIface != "" {
		if err := engine.EnableNetwork(types.NetworkClstr); err != nil {
			return fmt.Errorf("clstr network setup failed: %w", err)
		}
	}
	engine.SetActive(startActive)

	cmdSock, err := msg.BindRx("127.0.0.1", cfg.MtcToHbsCmdPort, "", false, false)
	if err != nil {
		return fmt.Errorf("command port bind failed: %w", err)
	}
	defer cmdSock.Close()
	commands := hbs.NewCommandChannel(engine, cmdSock)

	smRx, err := msg.BindRx("127.0.0.1", cfg.SMServerPort, "", false, false)
	if err != nil {
		return fmt.Errorf("sm server port bind failed: %w", err)
	}
	defer smRx.Close()
	smTx, err := msg.BindTx("127.0.0.1", cfg.SMClientPort, "")
	if err != nil {
		return fmt.Errorf("sm client port bind failed: %w", err)
	}
	defer smTx.Close()
	sm := hbs.NewSMServer(engine, smRx, smTx)

	alarmSock, err := msg.BindRx("127.0.0.1", cfg.MtcAlarmReqPort, "", false, false)
	if err != nil {
		return fmt.Errorf("alarm request port bind failed: %w", err)
	}
	defer alarmSock.Close()
	alarmQueue := alarm.NewQueue(alarmSock, engine.Alarms())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	events.Send(&event.Event{
		Type:     event.TypeHeartbeatReady,
		Hostname: hostname,
		Service:  "heartbeat",
	})

	// single-threaded main loop with a sub-period quantum
	nextTick := time.Now()
	for {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			return nil
		default:
		}

		commands.Service()
		sm.Service()
		alarmQueue.Service()
		engine.DrainResponses()

		if now := time.Now(); !now.Before(nextTick) {
			engine.Tick()
			nextTick = now.Add(time.Duration(engine.PeriodMsecs()) * time.Millisecond)
		}
		time.Sleep(loopQuantum)
	}
}

// setRealtimePriority requests SCHED_RR at the configured priority.
// Best effort: an unprivileged run logs and continues.
func setRealtimePriority(priority int) {
	if priority <= 0 {
		return
	}
	attr := &unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_RR,
		Priority: uint32(priority),
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		rtLogger := log.WithComponent("hbsagent")
		rtLogger.Warn().Err(err).Int("priority", priority).Msg("realtime scheduling not applied")
	}
}
