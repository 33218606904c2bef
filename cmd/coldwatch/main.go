// Command coldwatch monitors a ThingSpeak cold-storage channel, alerts on
// critical readings and serves the dashboard API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sweeney/coldwatch/internal/alert"
	"github.com/sweeney/coldwatch/internal/auth"
	"github.com/sweeney/coldwatch/internal/chat"
	"github.com/sweeney/coldwatch/internal/config"
	"github.com/sweeney/coldwatch/internal/gpio"
	"github.com/sweeney/coldwatch/internal/logic"
	"github.com/sweeney/coldwatch/internal/monitor"
	"github.com/sweeney/coldwatch/internal/mqtt"
	"github.com/sweeney/coldwatch/internal/session"
	"github.com/sweeney/coldwatch/internal/status"
	"github.com/sweeney/coldwatch/internal/store"
	"github.com/sweeney/coldwatch/internal/thingspeak"
	"github.com/sweeney/coldwatch/internal/web"
	"github.com/sweeney/coldwatch/internal/websocket"
)

// pruneInterval is how often expired sessions are closed.
const pruneInterval = time.Minute

func main() {
	configPath := flag.String("config", "", "Config file (default ./coldwatch.yaml)")
	envFile := flag.String("env-file", ".env.local", "dotenv file loaded before the config (ignored if missing)")
	httpAddr := flag.String("http", "", "HTTP listen address (overrides http.addr)")
	printState := flag.Bool("print-state", false, "Print the latest reading and exit")

	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal: invalid config: %v", err)
	}
	if err := run(cfg, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg config.Config, printState bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	source := thingspeak.New(thingspeak.Config{
		BaseURL:     cfg.ThingSpeak.BaseURL,
		ChannelID:   cfg.ThingSpeak.ChannelID,
		ReadAPIKey:  cfg.ThingSpeak.ReadAPIKey,
		WriteAPIKey: cfg.ThingSpeak.WriteAPIKey,
		Timeout:     cfg.ThingSpeak.Timeout,
	})

	// Print state mode
	if printState {
		return printLatest(ctx, os.Stdout, source, st)
	}

	// Initialize MQTT. Left as nil interfaces when no broker is configured.
	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, mqttStatus = p, p
	}

	notifier, closeNotifier, err := buildNotifier(cfg, publisher)
	if err != nil {
		return fmt.Errorf("init alerts: %w", err)
	}
	defer closeNotifier()

	// Initialize the alarm output
	var alarm gpio.Alarm = gpio.NoopAlarm{}
	if cfg.GPIO.Chip != "" {
		a, err := gpio.NewRealAlarm(cfg.GPIO.Chip, cfg.GPIO.AlarmPin)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		alarm = a
		log.Printf("gpio: alarm on %s line %d", cfg.GPIO.Chip, cfg.GPIO.AlarmPin)
	}
	defer alarm.Close()
	driver := gpio.NewDriver(alarm)

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		Channel:      cfg.ThingSpeak.ChannelID,
		PollMs:       cfg.Monitor.PollInterval.Milliseconds(),
		HistorySeed:  cfg.Monitor.HistorySeed,
		Broker:       cfg.MQTT.Broker,
		HTTPAddr:     cfg.HTTP.Addr,
		StoreBackend: cfg.Store.Backend,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	hub := websocket.NewHub()
	go hub.Run(ctx)

	fanout := &sinks{tracker: tracker, publisher: publisher, driver: driver, hub: hub}
	factory := func() *monitor.Engine {
		return monitor.New(monitor.Config{
			PollInterval: cfg.Monitor.PollInterval,
			HistorySeed:  cfg.Monitor.HistorySeed,
		}, source, st, alert.NewDispatcher(notifier, time.Now))
	}
	sessions := session.NewManager(ctx, factory, session.Hooks{
		Started: fanout.attach,
		Stopped: fanout.detach,
	})
	defer sessions.Shutdown()

	var authMgr *auth.Manager
	if cfg.AuthEnabled() {
		authMgr = auth.NewManager(cfg.Auth)
		log.Printf("auth: sign-in required (%d users, signup=%v)", len(cfg.Auth.Users), cfg.Auth.AllowSignUp)
	} else {
		if _, err := sessions.Pin(); err != nil {
			return fmt.Errorf("start monitoring: %w", err)
		}
		log.Printf("auth: no users configured, monitoring runs unattended")
	}

	relay, chatClient := buildChat(cfg)

	// Publish startup event with full status snapshot
	if publisher != nil {
		snap := tracker.Snapshot()
		startupEvent := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      "STARTUP",
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
		}
		if err := publisher.PublishSystem(startupEvent); err != nil {
			log.Printf("failed to publish startup event: %v", err)
		} else {
			log.Printf("published startup event")
		}
	}

	// Start HTTP server
	srv := web.New(cfg.HTTP.Addr, web.Deps{
		Tracker:  tracker,
		Sessions: sessions,
		Upstream: source,
		Auth:     authMgr,
		Hub:      hub,
		Chat:     chatClient,
		Relay:    relay,
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()
	defer srv.Shutdown(context.Background())
	log.Printf("http server listening on %s", cfg.HTTP.Addr)

	log.Printf("started: channel=%s poll=%v store=%s broker=%s", cfg.ThingSpeak.ChannelID, cfg.Monitor.PollInterval, cfg.Store.Backend, cfg.MQTT.Broker)

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(sessions, publisher, mqttStatus, tracker, time.Now, ticker.C, sigCh)
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		rs, err := store.NewRedisStore(ctx, store.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { rs.Close() }, nil
	case config.BackendFile:
		fs, err := store.NewFileStore(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
	return store.NewMemoryStore(), func() {}, nil
}

// buildNotifier combines every configured alert channel. Delivery succeeds
// when at least one external channel accepted the alert. With no channel
// configured, alerts are only logged.
func buildNotifier(cfg config.Config, publisher mqtt.Publisher) (alert.Notifier, func(), error) {
	var notifiers alert.Multi
	closeFn := func() {}

	if cfg.Alert.RelayURL != "" {
		notifiers = append(notifiers, alert.NewRelayNotifier(cfg.Alert.RelayURL, cfg.Alert.RelayToken, cfg.Alert.Timeout))
	}
	if cfg.Alert.MQTT && publisher != nil {
		notifiers = append(notifiers, mqtt.Notifier{Publisher: publisher})
	}
	if cfg.Alert.AMQP.URL != "" {
		n, err := alert.NewAMQPNotifier(cfg.Alert.AMQP.URL, cfg.Alert.AMQP.Exchange, cfg.Alert.AMQP.RoutingKey)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, n)
		closeFn = func() { n.Close() }
	}
	if len(notifiers) == 0 {
		log.Printf("alert: no channels configured, alerts are logged only")
		return alert.LogNotifier{}, closeFn, nil
	}
	log.Printf("alert: %d channels configured", len(notifiers))
	return notifiers, closeFn, nil
}

// buildChat returns the gateway relay handler (nil without a key) and the
// client used by /api/chat (nil when no relay is reachable).
func buildChat(cfg config.Config) (http.Handler, *chat.Client) {
	var relay http.Handler
	if cfg.Chat.Gateway.APIKey != "" {
		relay = chat.NewRelay(chat.RelayConfig{
			GatewayURL: cfg.Chat.Gateway.URL,
			APIKey:     cfg.Chat.Gateway.APIKey,
			Model:      cfg.Chat.Gateway.Model,
			Timeout:    cfg.Chat.Gateway.Timeout,
		})
	}
	url := cfg.Chat.RelayURL
	if url == "" && relay != nil {
		url = localURL(cfg.HTTP.Addr) + "/functions/chat"
	}
	if url == "" {
		log.Printf("chat: disabled (no relay or gateway key)")
		return relay, nil
	}
	return relay, chat.NewClient(url, cfg.Chat.RelayToken, nil)
}

// localURL turns a listen address into a loopback base URL.
func localURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// sinks fans engine updates out to everything that mirrors live state.
type sinks struct {
	tracker   *status.Tracker
	publisher mqtt.Publisher
	driver    *gpio.Driver
	hub       *websocket.Hub

	forwarding sync.WaitGroup
}

// attach starts forwarding from a freshly started engine. The engine has
// already seeded, so the current state is folded in before the stream.
func (s *sinks) attach(e *monitor.Engine) {
	updates := e.Subscribe()
	snap := e.Snapshot()
	s.tracker.SetRunning(true)
	s.apply(monitor.Update{
		Time:       snap.LastUpdate,
		Reading:    snap.Reading,
		HasReading: snap.HasReading,
		Status:     snap.Status,
		Thresholds: snap.Thresholds,
		Connected:  snap.Connected,
		LastUpdate: snap.LastUpdate,
	})
	s.forwarding.Add(1)
	go func() {
		defer s.forwarding.Done()
		for u := range updates {
			s.apply(u)
		}
	}()
}

// detach runs after the engine has stopped and closed its updates, so the
// forwarder drains before the alarm is cleared.
func (s *sinks) detach() {
	s.forwarding.Wait()
	s.tracker.SetRunning(false)
	if err := s.driver.Apply(logic.Status{Overall: logic.LevelNormal}); err != nil {
		log.Printf("gpio: %v", err)
	}
}

func (s *sinks) apply(u monitor.Update) {
	s.tracker.Update(u)
	if u.Kind == monitor.KindReading && u.HasReading && s.publisher != nil {
		if err := s.publisher.PublishReading(u.Reading, u.Status); err != nil {
			log.Printf("publish error: %v", err)
		}
	}
	if err := s.driver.Apply(u.Status); err != nil {
		log.Printf("gpio: %v", err)
	}
	if s.hub != nil && u.Kind != "" {
		s.hub.BroadcastUpdate(u)
	}
}

// pruner is the part of session.Manager the main loop uses.
type pruner interface {
	Prune(now time.Time) int
	Count() int
}

func runLoop(sessions pruner, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if publisher == nil {
				return nil
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-tick:
			sessions.Prune(now())
			if tracker != nil {
				tracker.SetSessions(sessions.Count())
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				// Refresh network info
				if net := readNetworkInfo(); net != nil {
					tracker.SetNetwork(net)
				}
			}
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
