package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	appconfig "cascadeflow/config"
	"cascadeflow/internal/alert"
	liqchannel "cascadeflow/internal/channel/liq"
	"cascadeflow/internal/dashboard"
	"cascadeflow/internal/engine"
	"cascadeflow/internal/metrics"
	"cascadeflow/internal/models"
	"cascadeflow/internal/processor"
	"cascadeflow/internal/profile"
	"cascadeflow/internal/reader/binance"
	"cascadeflow/internal/reader/bybit"
	"cascadeflow/internal/reader/kucoin"
	"cascadeflow/internal/reader/okx"
	"cascadeflow/internal/risk"
	"cascadeflow/internal/symbols"
	"cascadeflow/internal/threshold"
	"cascadeflow/internal/velocity"
	"cascadeflow/internal/writer"
	"cascadeflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := appconfig.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Cascadeflow.Name,
		"version": cfg.Cascadeflow.Version,
	}).Info("starting cascadeflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Metrics.Prometheus.Enabled {
		metrics.Init(cfg.Metrics.Prometheus.Address)
	}
	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	channels := liqchannel.NewChannels(cfg.Channels.RawBuffer)
	defer channels.Close()

	go metrics.StartChannelSizeMetrics(ctx, channels, 30*time.Second)

	marketData := profile.NewBinanceMarketData(cfg.Profile.RequestsPerSecond, cfg.Profile.RequestBurst)
	profiles := profile.NewCache(marketData, cfg.Profile.TTL.Std())
	thresholds := threshold.NewEngine(profiles, cfg.Threshold.CacheTTL.Std())
	vel := velocity.NewEngine(cfg.Velocity.HistorySize)
	calculator := risk.NewCalculator(cfg.Risk)
	table := symbols.NewTable()

	var notifier alert.Notifier
	if cfg.Alert.WebhookURL != "" {
		notifier = alert.NewWebhookNotifier(cfg.Alert.WebhookURL, cfg.Alert.RequestsPerSecond, cfg.Alert.RequestBurst)
	} else {
		log.WithComponent("main").Info("no webhook configured; alerts go to the log")
		notifier = alert.NewLogNotifier()
	}

	var archiveWriter *writer.ArchiveWriter
	var archiveEvents chan models.LiquidationEvent
	if cfg.Storage.S3.Enabled {
		archiveEvents = make(chan models.LiquidationEvent, cfg.Channels.RawBuffer)
		archiveWriter, err = writer.NewArchiveWriter(cfg, archiveEvents)
		if err != nil {
			log.WithError(err).Error("failed to create archive writer")
			os.Exit(1)
		}
		notifier = writer.WrapNotifier(notifier, archiveWriter)
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping archive writer")
	}

	dispatcher := alert.NewDispatcher(notifier, cfg.Alert.Cooldown.Std())

	eng := engine.New(cfg.Engine, cfg.Risk, profiles, thresholds, vel, calculator, dispatcher, table)
	eng.Start()

	proc := processor.NewLiquidationProcessor(cfg, channels, eng)
	if archiveEvents != nil {
		proc.SetArchive(archiveEvents)
	}

	binanceSymbols := canonicalSymbols("binance", cfg.Source.Binance)
	bybitSymbols := upperSymbols(cfg.Source.Bybit)
	kucoinSymbols := upperSymbols(cfg.Source.Kucoin)

	var binanceReader *binance.Binance_LIQ_Reader
	var bybitReader *bybit.Bybit_LIQ_Reader
	var kucoinReader *kucoin.Kucoin_LIQ_Reader
	var okxReader *okx.OKX_LIQ_Reader

	if cfg.Source.Binance.Enabled {
		binanceReader = binance.Binance_LIQ_NewReader(cfg, channels, binanceSymbols)
	}
	if cfg.Source.Bybit.Enabled {
		bybitReader = bybit.Bybit_LIQ_NewReader(cfg, channels, bybitSymbols)
	}
	if cfg.Source.Kucoin.Enabled {
		kucoinReader = kucoin.Kucoin_LIQ_NewReader(cfg, channels, kucoinSymbols)
	}
	if cfg.Source.Okx.Enabled {
		okxReader = okx.OKX_LIQ_NewReader(cfg, channels)
	}

	var srv *dashboard.Server
	if cfg.Dashboard.Enabled {
		srv, err = dashboard.NewServer(cfg.Dashboard, eng, log)
		if err != nil {
			log.WithError(err).Error("failed to create dashboard server")
			os.Exit(1)
		}
	}

	var wg sync.WaitGroup

	if err := proc.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start processor")
		os.Exit(1)
	}

	if archiveWriter != nil {
		if err := archiveWriter.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start archive writer")
			os.Exit(1)
		}
	}

	if binanceReader != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := binanceReader.Binance_LIQ_Start(ctx); err != nil {
				log.WithError(err).Warn("binance liquidation reader failed to start")
			}
		}()
	}
	if bybitReader != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bybitReader.Bybit_LIQ_Start(ctx); err != nil {
				log.WithError(err).Warn("bybit liquidation reader failed to start")
			}
		}()
	}
	if kucoinReader != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := kucoinReader.Kucoin_LIQ_Start(ctx); err != nil {
				log.WithError(err).Warn("kucoin liquidation reader failed to start")
			}
		}()
	}
	if okxReader != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := okxReader.OKX_LIQ_Start(ctx); err != nil {
				log.WithError(err).Warn("okx liquidation reader failed to start")
			}
		}()
	}

	if srv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.WithError(err).Warn("dashboard server exited with error")
			}
		}()
		log.WithFields(logger.Fields{"address": srv.Address()}).Info("dashboard server started")
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping readers")
	if binanceReader != nil {
		binanceReader.Binance_LIQ_Stop()
	}
	if bybitReader != nil {
		bybitReader.Bybit_LIQ_Stop()
	}
	if kucoinReader != nil {
		kucoinReader.Kucoin_LIQ_Stop()
	}
	if okxReader != nil {
		okxReader.OKX_LIQ_Stop()
	}

	log.Info("stopping processor")
	proc.Stop()

	log.Info("stopping engine")
	eng.Stop()

	if archiveWriter != nil {
		log.Info("stopping archive writer")
		archiveWriter.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("cascadeflow stopped")
}

// canonicalSymbols maps configured symbols to the exchange-independent form
// used for engine-level filtering and status lookups.
func canonicalSymbols(exchange string, src appconfig.ExchangeSourceConfig) []string {
	out := make([]string, 0, len(src.Symbols))
	for _, s := range src.Symbols {
		if canon := symbols.ToCanonical(exchange, s); canon != "" {
			out = append(out, canon)
		}
	}
	return out
}

func upperSymbols(src appconfig.ExchangeSourceConfig) []string {
	out := make([]string, 0, len(src.Symbols))
	for _, s := range src.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
