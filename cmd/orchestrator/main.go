package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/gridcast/internal/audit"
	"github.com/terminal-bench/gridcast/internal/carbon"
	"github.com/terminal-bench/gridcast/internal/failover"
	"github.com/terminal-bench/gridcast/internal/fallback"
	"github.com/terminal-bench/gridcast/internal/history"
	"github.com/terminal-bench/gridcast/internal/lifecycle"
	"github.com/terminal-bench/gridcast/internal/orchestrator"
	"github.com/terminal-bench/gridcast/internal/proxy"
	"github.com/terminal-bench/gridcast/internal/routing"
	"github.com/terminal-bench/gridcast/internal/scale"
	"github.com/terminal-bench/gridcast/pkg/circuit"
	"github.com/terminal-bench/gridcast/pkg/messaging"
	"github.com/terminal-bench/gridcast/shared/events"
)

func main() {
	port := getEnv("PORT", "8080")
	sensorURL := getEnv("SENSOR_URL", "http://localhost:8090/carbon")
	heavyURL := getEnv("HEAVY_BACKEND_URL", "http://localhost:8001/predict")
	lightURL := getEnv("LIGHT_BACKEND_URL", "http://localhost:8002/predict")
	scaleAgentURL := getEnv("SCALE_AGENT_URL", "http://localhost:8070")
	natsURL := getEnv("NATS_URL", nats.DefaultURL)

	redisURL := os.Getenv("REDIS_URL")
	dbURL := os.Getenv("DATABASE_URL")
	influxURL := os.Getenv("INFLUXDB_URL")
	jwtSecret := os.Getenv("JWT_SECRET")

	tLow := getEnvFloat("T_LOW", 30)
	tHigh := getEnvFloat("T_HIGH", 60)
	breakerThreshold := getEnvInt("BREAKER_THRESHOLD", 3)
	breakerCooldown := getEnvDuration("BREAKER_COOLDOWN", 10*time.Second)
	scaleDownAfter := getEnvInt("SCALE_DOWN_AFTER", 5)
	heavyTimeout := getEnvDuration("HEAVY_TIMEOUT", 5*time.Second)
	lightTimeout := getEnvDuration("LIGHT_TIMEOUT", 500*time.Millisecond)
	sensorTimeout := getEnvDuration("SENSOR_TIMEOUT", 300*time.Millisecond)
	carbonFallback := getEnvFloat("CARBON_FALLBACK", 999)
	emergencyValue := getEnvFloat("EMERGENCY_VALUE", 0)
	heavyBackendID := getEnv("HEAVY_BACKEND_ID", "heavy")

	natsClient, err := messaging.NewClient(messaging.Config{
		URL:           natsURL,
		Name:          "gridcast-orchestrator",
		ReconnectWait: time.Second,
		MaxReconnects: 5,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}

	var redisClient *redis.Client
	if redisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	sensor := carbon.NewSensorClient(carbon.SensorConfig{
		URL:           sensorURL,
		Timeout:       sensorTimeout,
		FallbackValue: carbonFallback,
	}, redisClient)

	proxyClient := proxy.NewClient(map[routing.Backend]proxy.Endpoint{
		routing.BackendHeavy: {URL: heavyURL, Timeout: heavyTimeout},
		routing.BackendLight: {URL: lightURL, Timeout: lightTimeout},
	})

	generator := fallback.NewGenerator(emergencyValue)

	// Declared early so event callbacks can reach the status feed once the
	// service exists; callbacks only fire under traffic
	var svc *orchestrator.Service

	failoverCtrl := failover.NewController(failover.Config{
		FailureThreshold: breakerThreshold,
		Cooldown:         breakerCooldown,
		OnCircuitChange: func(backend string, from, to circuit.State) {
			log.Printf("circuit for %s: %s -> %s", backend, from, to)
			publishEvent(natsClient, events.CircuitTransitioned, events.CircuitTransitionData{
				Backend: backend,
				From:    from.String(),
				To:      to.String(),
			})
			if svc != nil {
				svc.BroadcastEvent("circuit", events.CircuitTransitionData{
					Backend: backend,
					From:    from.String(),
					To:      to.String(),
				})
			}
		},
	}, proxyClient, generator)

	scaler := scale.NewHTTPController(scale.HTTPConfig{BaseURL: scaleAgentURL})

	manager := lifecycle.NewManager(lifecycle.Config{
		BackendID:      heavyBackendID,
		ScaleDownAfter: scaleDownAfter,
		RetryBackoff:   time.Second,
		MaxRetries:     3,
		OnTransition: func(from, to lifecycle.State) {
			log.Printf("heavy backend lifecycle: %s -> %s", from, to)
			publishEvent(natsClient, events.LifecycleTransitioned, events.LifecycleTransitionData{
				BackendID: heavyBackendID,
				From:      string(from),
				To:        string(to),
			})
			if svc != nil {
				svc.BroadcastEvent("lifecycle", events.LifecycleTransitionData{
					BackendID: heavyBackendID,
					From:      string(from),
					To:        string(to),
				})
			}
		},
	}, scaler)

	// The lifecycle manager observes decisions off the bus, never inline
	// with a request
	err = natsClient.Subscribe(events.RoutingDecisionMade, func(msg *nats.Msg) {
		var event events.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("discarding malformed decision event: %v", err)
			return
		}
		data, err := events.ParseEventData[events.RoutingDecisionData](&event)
		if err != nil {
			log.Printf("discarding malformed decision payload: %v", err)
			return
		}
		manager.Observe(routing.Backend(data.Backend))
	})
	if err != nil {
		log.Fatalf("Failed to subscribe to decision events: %v", err)
	}

	var store *history.Store
	if dbURL != "" {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		store = history.NewStore(db)

		migrateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.Migrate(migrateCtx); err != nil {
			cancel()
			log.Fatalf("Failed to migrate history schema: %v", err)
		}
		cancel()
	}

	var auditor *audit.Writer
	if influxURL != "" {
		auditor = audit.NewWriter(audit.Config{
			URL:    influxURL,
			Token:  os.Getenv("INFLUXDB_TOKEN"),
			Org:    os.Getenv("INFLUXDB_ORG"),
			Bucket: os.Getenv("INFLUXDB_BUCKET"),
		})
	}

	var respCache orchestrator.ResponseCache
	if redisClient != nil {
		respCache = orchestrator.NewRedisCache(redisClient)
	}

	svc = orchestrator.NewService(orchestrator.Config{
		JWTSecret: jwtSecret,
	}, orchestrator.Deps{
		Sensor:    sensor,
		Policy:    routing.Policy{TLow: tLow, THigh: tHigh},
		Handler:   failoverCtrl,
		Lifecycle: manager,
		Scaler:    scaler,
		Publisher: natsClient,
		Auditor:   auditor,
		Store:     store,
		Cache:     respCache,
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: svc.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("orchestrator listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		manager.Stop()
		if auditor != nil {
			auditor.Close()
		}
		natsClient.Close()

		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("orchestrator exited: %v", err)
	}
}

func publishEvent(client *messaging.Client, eventType string, data interface{}) {
	event, err := events.NewEvent(eventType, data, events.Metadata{Source: "orchestrator"})
	if err != nil {
		log.Printf("failed to build %s event: %v", eventType, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Publish(ctx, eventType, event); err != nil {
		log.Printf("failed to publish %s event: %v", eventType, err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
