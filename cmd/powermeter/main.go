package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/powermeter/hardware/panel"
	"github.com/temoto/powermeter/hardware/pzem"
	"github.com/temoto/powermeter/internal/admin"
	"github.com/temoto/powermeter/internal/boot"
	"github.com/temoto/powermeter/internal/link"
	"github.com/temoto/powermeter/internal/persist"
	"github.com/temoto/powermeter/internal/publisher"
	"github.com/temoto/powermeter/internal/queue"
	"github.com/temoto/powermeter/internal/sampler"
	"github.com/temoto/powermeter/internal/stat"
	"github.com/temoto/powermeter/internal/state"
	"github.com/temoto/powermeter/internal/watchdog"
	"github.com/temoto/powermeter/log2"
)

var BuildVersion = "unknown" // set by ldflags -X

const energyResetDelay = 50 * time.Millisecond

func main() {
	flagConfig := flag.String("config", "powermeter.hcl", "")
	flag.Parse()

	log := log2.NewStderr(log2.LDebug)
	if sdnotify("start") {
		// under systemd journal adds timestamps
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}
	log.Infof("powermeter version=%s", BuildVersion)
	started := time.Now()

	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	if !config.Log.Debug {
		log.SetLevel(log2.LInfo)
	}
	if err := run(log, config, started); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}

func run(log *log2.Log, config *state.Config, started time.Time) error {
	a := alive.NewAlive()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := stat.New()
	log.SetErrorFunc(func(error) { st.LogErrors.Inc() })

	bootRecord, err := persist.OpenBoot(log, config.Persist.Root)
	if err != nil {
		return errors.Annotate(err, "boot record")
	}
	log.Infof("boot=%d id=%s", bootRecord.Report().Boot, bootRecord.Report().BootID)
	wd := watchdog.New(log, &config.Watchdog, bootRecord, st)

	var pnl *panel.Panel
	if config.Panel.Enable {
		if pnl, err = panel.Open(log, config.Panel.Chip, uint32(config.Panel.LED), uint32(config.Panel.EnergyResetButton)); err != nil {
			log.Error(errors.Annotate(err, "panel disabled"))
			pnl = nil
		}
	}
	defer pnl.Close()
	pnl.StartBlink(panel.DefaultBlinkPeriod)

	drivers := openSensors(log, config.Sensors)
	if pressed, err := pnl.ButtonPressed(); err != nil {
		log.Error(errors.Annotate(err, "energy reset button"))
	} else if pressed {
		resetEnergy(log, drivers)
	}

	probe := boot.NewProbe(log)
	info, err := probe.WaitNetwork(ctx, config.Network.Interface, config.Network.JoinTimeout())
	if err != nil {
		log.Error(err)
		wd.Restart(watchdog.ReasonNetworkJoin)
		return nil
	}
	if err = probe.WaitClock(ctx, config.Network.ClockTimeout()); err != nil {
		log.Error(err)
		wd.Restart(watchdog.ReasonClockSync)
		return nil
	}

	resolver, err := link.NewResolver(log, config.Broker.URL, config.Broker.ResolveInterval(), st)
	if err != nil {
		return errors.Trace(err)
	}
	_, _ = resolver.Resolve(ctx)

	link.SetClientLog(log, config.Broker.LogDebug)
	topics := link.MakeTopics(&config.Broker, info.MACString())
	lnk, err := link.New(log, &config.Broker, topics, st, mqtt.NewClient)
	if err != nil {
		return errors.Trace(err)
	}
	// failed connect is caught by connection monitor on first publish iteration
	if err = lnk.Connect(); err != nil {
		log.Error(err)
	} else {
		log.Infof("broker connected client=%s publish log=%s power=%s", topics.ClientID, topics.Log, topics.Power)
		if err = boot.Announce(log, lnk, info, BuildVersion, started, bootRecord.Report()); err != nil {
			log.Error(err)
		}
	}

	q := queue.New(config.Queue.Capacity)
	sensors := make([]sampler.Sensor, len(drivers))
	for i, d := range drivers {
		sensors[i] = d
	}
	smp := sampler.New(log, &config.Sampling, sensors, q, wd, st)
	monitor := publisher.NewConnectionMonitor(log, lnk, wd, config.Broker.CheckInterval())
	pub := publisher.New(log, q, lnk, monitor, resolver, wd, st, config.Publish.Yield())

	srv := admin.New(log, config.Admin.Listen, st.Registry, func() admin.Status {
		return admin.Status{
			Version:       BuildVersion,
			Started:       started,
			Sensors:       smp.Health(),
			QueueLength:   q.Len(),
			QueueCapacity: q.Cap(),
			Connected:     lnk.Connected(),
			BrokerAddr:    resolver.Addr(),
			Restarting:    wd.Restarting(),
			RestartReason: wd.Reason(),
			Boot:          bootRecord.Report(),
		}
	})
	if err = srv.Serve(a); err != nil {
		log.Error(err)
	}

	for _, loop := range []func(context.Context){smp.Run, pub.Run} {
		loop := loop
		a.Add(1)
		go func() {
			defer a.Done()
			loop(ctx)
			a.Stop()
		}()
	}

	pnl.StopBlink()
	wd.Ready()
	log.Infof("running sensors=%d", len(sensors))

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigch:
		log.Infof("signal=%v stopping", sig)
	case <-a.StopChan():
	}
	a.Stop()
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.Broker.ConnectTimeout())
	defer shutdownCancel()
	if err = srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err)
	}
	a.Wait()
	lnk.Disconnect()
	if reason := wd.Reason(); reason != "" {
		// restart primitive returned, only possible in tests or without privileges
		return errors.Errorf("restart reason=%s", reason)
	}
	return nil
}

func openSensors(log *log2.Log, sensors []state.SensorConfig) []*pzem.Driver {
	uarts := make(map[string]pzem.Uarter)
	drivers := make([]*pzem.Driver, 0, len(sensors))
	for i := range sensors {
		sc := &sensors[i]
		u, ok := uarts[sc.Uart]
		if !ok {
			u = pzem.NewFileUart()
			// unopened uart fails every read, channel dies the regular way
			if err := u.Open(sc.Uart, pzem.DefaultBaud); err != nil {
				log.Error(errors.Annotate(err, sc.String()))
			}
			uarts[sc.Uart] = u
		}
		drivers = append(drivers, pzem.NewDriver(log, u, uint8(sc.Address)))
		log.Debugf("%s ready", sc.String())
	}
	return drivers
}

func resetEnergy(log *log2.Log, drivers []*pzem.Driver) {
	log.Infof("energy reset button pressed, resetting %d sensors", len(drivers))
	for i, d := range drivers {
		if err := d.ResetEnergy(); err != nil {
			log.Error(errors.Annotatef(err, "sensor=%d energy reset", i))
		}
		time.Sleep(energyResetDelay)
	}
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log2.NewStderr(log2.LError).Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
