package main

import (
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/zulandar/signalbox/internal/automation"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/events"
	"github.com/zulandar/signalbox/internal/gateway"
	"github.com/zulandar/signalbox/internal/gateway/discord"
	"github.com/zulandar/signalbox/internal/gateway/slack"
	"github.com/zulandar/signalbox/internal/gateway/telegram"
	"github.com/zulandar/signalbox/internal/gateway/twilio"
	"github.com/zulandar/signalbox/internal/gateway/zapi"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/processor"
	"github.com/zulandar/signalbox/internal/scheduler"
	"gorm.io/gorm"
)

const defaultConfigPath = "signalbox.yaml"

// connectFromConfig loads the config file and opens the database.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, gormDB, nil
}

// app holds every long-lived component of a running process.
type app struct {
	cfg       *config.Config
	db        *gorm.DB
	log       *logrus.Logger
	gateway   *gateway.Router
	events    events.Publisher
	engine    *automation.Engine
	processor *processor.Processor
	closers   []func()
}

// Close releases everything in reverse order of construction.
func (r *app) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func newApp(configPath string, out io.Writer) (*app, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	r := &app{cfg: cfg, db: gormDB}
	r.closers = append(r.closers, func() { db.Close(gormDB) })

	fail := func(err error) (*app, error) {
		r.Close()
		return nil, err
	}

	log, err := logging.New(cfg.Log, out)
	if err != nil {
		return fail(err)
	}
	r.log = log

	flush, err := logging.InitSentry(cfg.Sentry, Version)
	if err != nil {
		return fail(err)
	}
	r.closers = append(r.closers, flush)

	r.gateway, err = buildGateway(cfg, log)
	if err != nil {
		return fail(err)
	}

	r.events = events.Nop{}
	if cfg.AMQP.Enabled {
		pub, err := events.NewAMQP(events.AMQPOpts{URL: cfg.AMQP.URL, Exchange: cfg.AMQP.Exchange})
		if err != nil {
			return fail(err)
		}
		r.events = pub
		r.closers = append(r.closers, func() { pub.Close() })
	}

	r.engine, err = automation.NewEngine(automation.EngineOpts{
		DB:      gormDB,
		Gateway: r.gateway,
		Events:  r.events,
		Logger:  log.WithField("component", "engine"),
	})
	if err != nil {
		return fail(err)
	}

	var lock scheduler.Lock
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		r.closers = append(r.closers, func() { rdb.Close() })
		lock, err = scheduler.NewRedisLock(scheduler.RedisLockOpts{
			Client: rdb,
			Key:    cfg.Redis.LockKey,
			TTL:    cfg.Redis.LockTTL(),
		})
		if err != nil {
			return fail(err)
		}
	}

	s := cfg.Scheduler
	r.processor, err = processor.New(processor.Opts{
		DB:           gormDB,
		Engine:       r.engine,
		Gateway:      r.gateway,
		Events:       r.events,
		Lock:         lock,
		Report:       logging.CaptureError,
		Logger:       log.WithField("component", "processor"),
		BatchSize:    s.BatchSize,
		Retention:    s.Retention(),
		Window:       s.ScheduleWindow(),
		SendTimeout:  s.SendTimeout(),
		JobTimeout:   s.JobTimeout(),
		DrainSpec:    s.DrainSpec,
		ScheduleSpec: s.ScheduleSpec,
		MetricsSpec:  s.MetricsSpec,
		CleanupSpec:  s.CleanupSpec,
	})
	if err != nil {
		return fail(err)
	}
	return r, nil
}

// buildGateway registers a sender for every platform. Platforms without
// credentials fall back to the simulated sender.
func buildGateway(cfg *config.Config, log logrus.FieldLogger) (*gateway.Router, error) {
	g := cfg.Gateways
	router := gateway.NewRouter(gateway.RouterOpts{
		Timeout: cfg.Scheduler.SendTimeout(),
		Logger:  log,
	})
	simulated := func(platform string) gateway.Sender {
		return gateway.Simulated{Platform: platform, Logger: log}
	}

	switch g.WhatsApp.Provider {
	case "zapi":
		c, err := zapi.New(zapi.ClientOpts{
			BaseURL:     g.WhatsApp.ZAPI.BaseURL,
			InstanceID:  g.WhatsApp.ZAPI.InstanceID,
			Token:       g.WhatsApp.ZAPI.Token,
			ClientToken: g.WhatsApp.ZAPI.ClientToken,
		})
		if err != nil {
			return nil, err
		}
		router.Register("whatsapp", c)
	case "twilio":
		c, err := twilio.New(twilio.ClientOpts{
			AccountSID: g.WhatsApp.Twilio.AccountSID,
			AuthToken:  g.WhatsApp.Twilio.AuthToken,
			From:       g.WhatsApp.Twilio.From,
		})
		if err != nil {
			return nil, err
		}
		router.Register("whatsapp", c)
	default:
		router.Register("whatsapp", simulated("whatsapp"))
	}

	if g.Telegram.BotToken != "" {
		c, err := telegram.New(telegram.ClientOpts{APIURL: g.Telegram.APIURL, BotToken: g.Telegram.BotToken})
		if err != nil {
			return nil, err
		}
		router.Register("telegram", c)
	} else {
		router.Register("telegram", simulated("telegram"))
	}

	if g.Slack.BotToken != "" {
		s, err := slack.New(slack.SenderOpts{BotToken: g.Slack.BotToken})
		if err != nil {
			return nil, err
		}
		router.Register("slack", s)
	}

	if g.Discord.BotToken != "" {
		s, err := discord.New(discord.SenderOpts{BotToken: g.Discord.BotToken})
		if err != nil {
			return nil, err
		}
		router.Register("discord", s)
	}

	router.Register("instagram", simulated("instagram"))
	return router, nil
}
