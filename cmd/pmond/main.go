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
	"github.com/cuemby/nodehealth/pkg/log"
	"github.com/cuemby/nodehealth/pkg/metrics"
	"github.com/cuemby/nodehealth/pkg/msg"
	"github.com/cuemby/nodehealth/pkg/pmon"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pmond",
	Short: "Process monitor for the node health subsystem",
	Long: `pmond supervises a dynamic set of locally configured processes
using passive, active and status monitoring, restarts them through their
service manager or init script, classifies failures by severity, reports
alarms, and pulses the host watchdog and heartbeat client.`,
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"pmond version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.Flags().String("config", config.PmonConfPath, "Process monitor config file")
	rootCmd.Flags().String("process-dir", config.PmonDirPath, "Process profile directory")
	rootCmd.Flags().String("metrics-addr", "", "Prometheus endpoint address (empty disables)")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init("pmond", log.Config{
		Level:      logLevel,
		JSONOutput: logJSON,
	})
}

func run(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	processDir, _ := cmd.Flags().GetString("process-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := config.LoadPmon(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("hostname lookup failed: %w", err)
	}

	logger := log.WithComponent("pmond")
	logger.Info().
		Str("hostname", hostname).
		Int("audit_period_msecs", cfg.AuditPeriodMsecs).
		Msg("starting process monitor")

	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(metricsAddr); err != nil {
				logger.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	fm := alarm.NewFMStore()

	events, err := event.NewUDPSender(cfg.EventPort, event.NewFeed())
	if err != nil {
		return fmt.Errorf("event channel setup failed: %w", err)
	}
	defer events.Close()

	sup := pmon.NewSupervisor(cfg, hostname, fm, events)

	procs, err := config.LoadProcessDir(processDir)
	if err != nil {
		return fmt.Errorf("process profile load failed: %w", err)
	}
	sup.Load(procs)

	watcher, err := config.NewWatcher(processDir)
	if err != nil {
		return fmt.Errorf("profile watcher setup failed: %w", err)
	}
	defer watcher.Close()

	cmdSock, err := msg.BindRx("127.0.0.1", cfg.PmonCmdPort, "", false, false)
	if err != nil {
		return fmt.Errorf("command port bind failed: %w", err)
	}
	defer cmdSock.Close()
	inbox := pmon.NewInbox(sup, cmdSock, nil)

	alarmSock, err := msg.BindRx("127.0.0.1", cfg.MtcAlarmReqPort, "", false, false)
	if err != nil {
		return fmt.Errorf("alarm request port bind failed: %w", err)
	}
	defer alarmSock.Close()
	alarmQueue := alarm.NewQueue(alarmSock, sup.Alarms())

	hostwdSock, err := msg.DialHostwd(pmon.HostwdSocketName)
	if err != nil {
		logger.Warn().Err(err).Msg("host watchdog unreachable; updates disabled until restart")
	}
	var hostwd *pmon.HostwdPulser
	if hostwdSock != nil {
		hostwd = pmon.NewHostwdPulser(sup, hostwdSock, hostname, cfg.HostwdUpdatePeriodSecs)
		defer hostwdSock.Close()
	}

	pulser, err := pmon.NewPulser(hostname, cfg.PulsePort, time.Second)
	if err != nil {
		logger.Warn().Err(err).Msg("heartbeat client pulse unavailable")
	} else {
		defer pulser.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	events.Send(&event.Event{
		Type:     event.TypeMonitorReady,
		Hostname: hostname,
		Service:  "pmond",
	})

	auditPeriod := time.Duration(cfg.AuditPeriodMsecs) * time.Millisecond
	quantum := auditPeriod / 10
	nextAudit := time.Now()

	for {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			return nil
		default:
		}

		inbox.Service()
		alarmQueue.Service()

		if now := time.Now(); !now.Before(nextAudit) {
			if watcher.Pending() {
				if sup.RestartInProgress() {
					// postponed one audit while a manual restart runs
					watcher.Defer()
				} else if watcher.Ack() {
					sup.Reload(processDir)
				}
			}
			sup.Audit()
			inbox.ServiceStopRecovery()
			metrics.TimersActive.Set(float64(sup.Timers().ActiveCount()))
			if hostwd != nil {
				hostwd.Service()
			}
			if pulser != nil {
				pulser.Service()
			}
			nextAudit = now.Add(auditPeriod)
		}
		time.Sleep(quantum)
	}
}
