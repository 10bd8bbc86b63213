package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relay-lab/auth"
	"relay-lab/broker"
	"relay-lab/delivery"
	"relay-lab/internal"
	"relay-lab/registry"
	"relay-lab/repositories"
	"relay-lab/retry"
	"relay-lab/runtime/workers"
	"relay-lab/services"
	"relay-lab/transport"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// This pattern is preferred over calling os.Exit or panic directly because:
// 1. It ensures all 'defer' statements (like database cleanup) are executed before the program exits.
// 2. It improves testability by decoupling the initialization logic from the main entry point.
// 3. It provides a structured way to handle graceful shutdowns for the HTTP server and background workers.
func run() error {
	// 1. Configuration & Logger
	config, err := internal.LoadConfig()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	//  Defer will be executed before run() returned anything to main()
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Session Registry (Redis, shared across nodes)
	redisClient, err := registry.Connect(config.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer func() {
		log.Info("Closing Redis client...")
		_ = redisClient.Close()
	}()
	sessions := registry.NewRedisRegistry(redisClient, config.NodeID, config.SessionTTL)

	// 4. Durable Log (Kafka)
	writer, err := broker.NewKafkaWriter(config.KafkaBrokers)
	if err != nil {
		return fmt.Errorf("kafka writer setup failed: %w", err)
	}
	defer func() { _ = writer.Close() }()

	chatReader, err := broker.NewKafkaReader(config.KafkaBrokers, config.ConsumerGroup, config.ChatTopic)
	if err != nil {
		return fmt.Errorf("kafka reader setup failed: %w", err)
	}
	defer func() { _ = chatReader.Close() }()

	notificationReader, err := broker.NewKafkaReader(config.KafkaBrokers, config.ConsumerGroup, config.NotificationTopic)
	if err != nil {
		return fmt.Errorf("kafka reader setup failed: %w", err)
	}
	defer func() { _ = notificationReader.Close() }()

	policy := retry.DefaultPolicy()
	producer := broker.NewReliableProducer(log, writer, policy, config.PublishQueueSize)

	// 5. Transport (WebSocket hub + JWT gate)
	hub := transport.NewHub(log, sessions, config.InboundBufferSize)
	gate := auth.NewGate(log, auth.NewTokenManager(config.JWTSecret, config.TokenDuration))
	wsServer := transport.NewServer(log, hub, gate, config.ConnectionBufferSize)

	// 6. Services bound to consumed topics
	messageRepository := repositories.NewMessageRepository(db, log, config.LimitMessages)
	chatService := services.NewChatService(log, messageRepository)
	router := delivery.NewRouter(log, sessions, hub, config.FanoutAllDevices)
	notificationService := services.NewNotificationService(router)

	bindings := []struct {
		binding broker.Binding
		reader  *broker.KafkaReader
	}{
		{
			binding: broker.Binding{
				Name:            "chat-store",
				Topic:           config.ChatTopic,
				Group:           config.ConsumerGroup,
				DeadLetterTopic: config.ChatDeadLetterTopic,
				Handler:         chatService,
			},
			reader: chatReader,
		},
		{
			binding: broker.Binding{
				Name:    "notification-delivery",
				Topic:   config.NotificationTopic,
				Group:   config.ConsumerGroup,
				Handler: notificationService,
			},
			reader: notificationReader,
		},
	}

	// 7. Supervision
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(producer)
	for _, b := range bindings {
		sup.Add(broker.NewConsumerWorker(log, b.binding, b.reader, writer, policy))
	}
	for i := 0; i < config.InboundWorkers; i++ {
		sup.Add(workers.NewInboundWorker(log, hub.Inbound(), producer, config.ChatTopic))
	}
	sup.Add(workers.NewChannelCapacityWorker(log,
		[]workers.NamedChannel{{Name: "hub.inbound", Channel: hub.Inbound()}},
		config.HeartbeatInterval, config.InboundBufferSize/10))
	sup.Add(workers.NewHeartbeatWorker(log, config.NodeID, hub, config.HeartbeatInterval))
	// Refresh well under the TTL so a missed tick cannot expire a record
	sup.Add(workers.NewSessionRefreshWorker(log, hub, sessions, config.SessionTTL/3))

	// 8. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supDone)
	}()

	// 9. HTTP Server Setup
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.HandleWS)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{Addr: address, Handler: mux}

	// Use an error channel to capture ListenAndServe() issues
	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting WebSocket server", "address", address, "node_id", config.NodeID, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 10. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 11. Final Cleanup: stop accepting, drain connections, stop workers
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown did not complete cleanly", "error", err)
	}
	hub.Shutdown()
	sup.Stop()
	<-supDone
	log.Info("Program stopped cleanly")

	return nil
}
