package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	gosip "github.com/ghettovoice/gosip"
	gosiplog "github.com/ghettovoice/gosip/log"
	"github.com/sirupsen/logrus"
	"github.com/tebeka/atexit"
	"gopkg.in/ini.v1"

	"localchan"
	"localchan/engine"
)

const techLocal = "Local"

var (
	mainLog *logrus.Entry
	sipLog  *logrus.Entry

	sipServer gosip.Server
)

func startSIP(settings *Settings) error {
	mainLog.Info("starting SIP server")

	logger := gosiplog.NewLogrusLogger(sipLog.Logger, "SIP", nil)
	sipServer = gosip.NewServer(gosip.ServerConfig{
		Host:      settings.PublicAddress(),
		UserAgent: settings.UserAgent(),
	}, nil, nil, logger)

	var listenErr error
	for i := 0; i <= settings.SIPPortRange(); i++ {
		addr := fmt.Sprintf(":%d", settings.SIPPort()+i)
		listenErr = sipServer.Listen("udp", addr)
		if listenErr == nil {
			mainLog.Infof("SIP server listening on %s/udp", addr)
			return newGateway(sipServer, settings).start()
		}
		mainLog.Warnf("failed to listen on %s: %v", addr, listenErr)
	}
	return fmt.Errorf("sip listen: %w", listenErr)
}

func buildDialPlan(cfg *ini.File) *engine.MapDialPlan {
	dp := engine.NewMapDialPlan()
	for _, key := range cfg.Section("dialplan").Keys() {
		for _, ext := range key.Strings(",") {
			if ext != "" {
				dp.Add(key.Name(), ext)
			}
		}
	}
	return dp
}

func main() {
	path := "localpbx.ini"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := ini.Load(path)
	if err != nil {
		fmt.Printf("failed to load settings: %v\n", err)
		return
	}
	settings, err := LoadSettings(cfg)
	if err != nil {
		fmt.Printf("failed to parse settings: %v\n", err)
		return
	}
	if err := engine.InitLogging(cfg); err != nil {
		fmt.Printf("failed to init logging: %v\n", err)
		return
	}
	atexit.Register(engine.CloseLogging)

	logSec := cfg.Section("logging")
	mainLog = engine.NewLogger("main", engine.ToLogLevel(logSec.Key("main").MustInt(2)))
	sipLog = engine.NewLogger("sip", engine.ToLogLevel(logSec.Key("sip").MustInt(2)))

	engine.SetDialPlan(buildDialPlan(cfg))
	engine.SetPBX(&asyncPBX{context: settings.Context(), ringTimeout: settings.RingTimeout()})
	engine.SetMusicOnHoldHooks(
		func(c *engine.Channel, class string) {
			mainLog.Debugf("hold music (%s) starts on %s", class, c.NameLocked())
		},
		func(c *engine.Channel) {
			mainLog.Debugf("hold music stops on %s", c.NameLocked())
		},
	)

	if err := localchan.Configure(cfg); err != nil {
		mainLog.Fatalf("failed to configure local channel driver: %v", err)
	}
	if err := localchan.Register(); err != nil {
		mainLog.Fatalf("failed to register local channel driver: %v", err)
	}

	if err := startSIP(settings); err != nil {
		mainLog.Fatalf("failed to start SIP server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	mainLog.Info("performing a graceful shutdown...")
	if err := localchan.Unregister(); err != nil {
		mainLog.Warnf("unregistering local channel driver: %v", err)
	}
	time.Sleep(time.Second)
	atexit.Exit(0)
}
