package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"presshook/internal/config"
	"presshook/internal/db"
	"presshook/internal/dispatch"
	"presshook/internal/health"
	"presshook/internal/hook"
	"presshook/internal/logging"
	"presshook/internal/metrics"
	"presshook/internal/retention"
	"presshook/internal/store"
	"presshook/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("presshook-worker")

	shutdown, err := tracing.InitTracing(ctx, "presshook-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("tracing init failed")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	deliveries := store.NewDeliveryStore(pool)
	audits := store.NewAuditStore(pool)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	client := hook.NewClient(cfg.Revalidate.Secret, cfg.Revalidate.SecretHeader, cfg.Delivery.AttemptTimeout)
	policy := hook.Policy{
		MaxAttempts:   cfg.Delivery.MaxAttempts,
		BaseDelay:     cfg.Delivery.BaseDelay,
		Multiplier:    cfg.Delivery.Multiplier,
		MaxDelay:      cfg.Delivery.MaxDelay,
		JitterPercent: cfg.Delivery.JitterPercent,
	}
	proc := dispatch.NewProcessor(deliveries, client, policy, logger)

	conf := nsq.NewConfig()
	conf.MaxInFlight = cfg.Worker.MaxInFlight
	// Requeue delays must be allowed to reach the backoff cap.
	conf.MaxRequeueDelay = cfg.Delivery.MaxDelay
	consumer, err := nsq.NewConsumer(cfg.NSQ.RevalidationsTopic, cfg.NSQ.WorkerChannel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}

	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		m.DisableAutoResponse() // we manually requeue or finish
		defer func() {
			if !m.HasResponded() {
				logger.Plain().Warn("message had no response, finishing")
				m.Finish()
			}
		}()

		var t dispatch.Task
		if err := json.Unmarshal(m.Body, &t); err != nil {
			logger.Plain().WithError(err).Error("bad task payload")
			m.Finish() // terminal: don't retry bad payloads
			return nil
		}

		d := proc.Process(ctx, t)
		if d.Requeue {
			m.Requeue(d.Delay)
			return nil
		}
		m.Finish()
		return nil
	}))

	// Connecting directly to nsqd forces channel creation, instead of the
	// channel being lazily created on first publish.
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	sweeper := retention.NewSweeper(deliveries, audits, cfg.Retention.DeliveryWindow, cfg.Retention.AuditWindow, logger)
	cr := cron.New()
	if _, err := cr.AddFunc(cfg.Retention.Schedule, func() { sweeper.Run(ctx) }); err != nil {
		logger.Plain().WithError(err).Fatal("retention schedule invalid")
	}
	cr.Start()

	stopMonitor := startBacklogMonitor(cfg, logger)

	logger.Plain().Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down worker service")
	consumer.Stop()
	<-consumer.StopChan
	close(stopMonitor)
	<-cr.Stop().Done()
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}

// startBacklogMonitor polls nsqd stats and exports the depth of the worker
// channel so a growing backlog shows up before deliveries start timing out.
func startBacklogMonitor(cfg config.Config, logger *logging.Logger) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		httpClient := &http.Client{Timeout: 5 * time.Second}
		url := fmt.Sprintf("http://%s/stats?format=json", cfg.NSQ.NsqdHTTPAddr)

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			resp, err := httpClient.Get(url)
			if err != nil {
				logger.Plain().WithError(err).Error("nsqd stats fetch failed")
				continue
			}

			var stats struct {
				Topics []struct {
					Name     string `json:"topic_name"`
					Channels []struct {
						Name  string `json:"channel_name"`
						Depth int64  `json:"depth"`
					} `json:"channels"`
				} `json:"topics"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
				resp.Body.Close()
				logger.Plain().WithError(err).Error("nsqd stats decode failed")
				continue
			}
			resp.Body.Close()

			for _, topic := range stats.Topics {
				if topic.Name != cfg.NSQ.RevalidationsTopic {
					continue
				}
				for _, channel := range topic.Channels {
					if channel.Name == cfg.NSQ.WorkerChannel {
						metrics.QueueBacklog.Set(float64(channel.Depth))
					}
				}
			}
		}
	}()
	return stop
}
