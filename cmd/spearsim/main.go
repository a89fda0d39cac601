// Command spearsim runs the SPEAR beam current simulator: the simulation
// engine, the Redis pv request/response loop, heartbeats, fault
// notifications, and the HTTP/WebSocket API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beamsim/spearsim/internal/api"
	"github.com/beamsim/spearsim/internal/config"
	"github.com/beamsim/spearsim/internal/history"
	"github.com/beamsim/spearsim/internal/notify"
	"github.com/beamsim/spearsim/internal/protocol"
	"github.com/beamsim/spearsim/internal/pv"
	"github.com/beamsim/spearsim/internal/redishealth"
	"github.com/beamsim/spearsim/internal/sim"
)

const serviceVersion = "1.0.0"

func main() {
	configPath := flag.String("config", "", "YAML config file path")
	redisAddr := flag.String("redis", "", "Redis address (overrides config)")
	listenAddr := flag.String("listen", "", "HTTP listen address (overrides config)")
	instance := flag.String("instance", "", "simulator instance name (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}
	if *redisAddr != "" {
		cfg.Redis.Addr = *redisAddr
	}
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if *instance != "" {
		cfg.Instance = *instance
	}

	source := protocol.Source{
		Service:  "spearsim",
		Instance: cfg.Instance,
		Version:  serviceVersion,
	}

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", cfg.Redis.Addr, err)
	}
	log.Printf("Connected to Redis at %s", cfg.Redis.Addr)

	// Initialize SQLite history store
	hist, err := history.New(cfg.History.Path)
	if err != nil {
		log.Fatalf("Failed to open history database at %s: %v", cfg.History.Path, err)
	}
	defer hist.Close()
	log.Printf("Opened history database at %s", cfg.History.Path)

	// Fault notifiers: Redis fault channel always, SMTP when configured
	notifiers := notify.Multi{notify.NewRedisNotifier(rdb, source)}
	if cfg.SMTP.Addr != "" {
		notifiers = append(notifiers, notify.NewSMTPNotifier(cfg.SMTP.Addr, cfg.SMTP.From, cfg.SMTP.To, cfg.SMTP.Subject))
		log.Printf("SMTP fault alerts enabled via %s", cfg.SMTP.Addr)
	}
	faultDispatcher := notify.NewDispatcher(notifiers, 0)

	wsHub := api.NewHub()

	// Control variable store and simulation engine
	store := pv.NewStore()
	simCfg := sim.DefaultConfig()
	if cfg.Simulation.TickPeriod > 0 {
		simCfg.TickPeriod = cfg.Simulation.TickPeriod.Std()
	}
	if cfg.Simulation.DecayTau > 0 {
		simCfg.DecayTau = cfg.Simulation.DecayTau
	}
	if cfg.Simulation.InjectThreshold > 0 {
		simCfg.InjectThreshold = cfg.Simulation.InjectThreshold
	}
	if cfg.Simulation.SlowInjectRate > 0 {
		simCfg.SlowInjectRate = cfg.Simulation.SlowInjectRate
	}
	if cfg.Simulation.FastInjectRate > 0 {
		simCfg.FastInjectRate = cfg.Simulation.FastInjectRate
	}
	if cfg.Simulation.BeamlineWait > 0 {
		simCfg.BeamlineWait = cfg.Simulation.BeamlineWait
	}
	if cfg.Simulation.FaultProbability > 0 {
		simCfg.FaultProbability = cfg.Simulation.FaultProbability
	}
	if cfg.Simulation.NoiseMin != 0 || cfg.Simulation.NoiseMax != 0 {
		simCfg.NoiseMin = cfg.Simulation.NoiseMin
		simCfg.NoiseMax = cfg.Simulation.NoiseMax
	}

	engine := sim.New(store, simCfg, func(ev sim.Event) {
		switch ev.Type {
		case sim.EventModeChange:
			if err := hist.RecordTransition(ev.From.String(), ev.To.String(), ev.Reason); err != nil {
				log.Printf("history: record transition: %v", err)
			}
			wsHub.BroadcastEvent(api.WSEventModeChange, map[string]interface{}{
				"from":      ev.From.String(),
				"to":        ev.To.String(),
				"reason":    ev.Reason,
				"timestamp": ev.Time.UTC().Format(time.RFC3339Nano),
			})

		case sim.EventFault:
			log.Printf("FAULT: %s (%s -> %s)", ev.Reason, ev.From, ev.To)
			if err := hist.RecordFault(ev.To.String(), ev.From.String(), ev.Reason, ev.Message); err != nil {
				log.Printf("history: record fault: %v", err)
			}
			wsHub.BroadcastEvent(api.WSEventFault, map[string]interface{}{
				"mode":       ev.To.String(),
				"prior_mode": ev.From.String(),
				"reason":     ev.Reason,
				"timestamp":  ev.Time.UTC().Format(time.RFC3339Nano),
			})
			faultDispatcher.Publish(notify.Event{
				Mode:      ev.To.String(),
				PriorMode: ev.From.String(),
				Reason:    ev.Reason,
				Message:   ev.Message,
				Time:      ev.Time,
			})

		case sim.EventInjectionComplete:
			log.Printf("injection complete, back to %s", ev.To)
		}
	})

	// Redis health monitor
	redisMon := redishealth.New(rdb,
		redishealth.WithInterval(5*time.Second),
		redishealth.WithOnDown(func() {
			log.Println("Redis connection lost, pv requests suspended")
			wsHub.BroadcastEvent("redis_health", map[string]string{"status": "disconnected"})
		}),
		redishealth.WithOnUp(func() {
			log.Println("Redis connection restored")
			wsHub.BroadcastEvent("redis_health", map[string]string{"status": "connected"})
		}),
	)

	// History recorder samples the live beam state and broadcasts it
	recorder := history.NewRecorder(hist, func() history.Reading {
		st := engine.Status()
		wsHub.BroadcastEvent(api.WSEventSample, st)
		return history.Reading{
			BeamCurrentAvg: st.BeamCurrentAvg,
			MachineMode:    st.Mode,
			InjectionPhase: st.Phase,
		}
	}, cfg.History.SampleInterval.Std(), cfg.History.Retention.Std())

	startTime := time.Now()
	var requestsProcessed, requestsFailed atomic.Int64

	// HTTP handler
	handler := &api.Handler{
		Instance:    cfg.Instance,
		Store:       store,
		Engine:      engine,
		History:     hist,
		Hub:         wsHub,
		RedisHealth: redisMon,
		StartTime:   startTime,
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"service":"spearsim","version":"` + serviceVersion + `"}`))
	})

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	var wg sync.WaitGroup

	// 1. Simulation engine
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()

	// 2. pv request listener
	wg.Add(1)
	go func() {
		defer wg.Done()
		runRequestListener(ctx, rdb, source, store, &requestsProcessed, &requestsFailed)
	}()

	// 3. Heartbeat publisher
	wg.Add(1)
	go func() {
		defer wg.Done()
		runHeartbeatPublisher(ctx, rdb, source, engine, store, startTime, &requestsProcessed, &requestsFailed)
	}()

	// 4. History recorder
	wg.Add(1)
	go func() {
		defer wg.Done()
		recorder.Run(ctx)
	}()

	// 5. WebSocket hub
	wg.Add(1)
	go func() {
		defer wg.Done()
		wsHub.Run(ctx)
	}()

	// 6. Redis health monitor
	wg.Add(1)
	go func() {
		defer wg.Done()
		redisMon.Run(ctx)
	}()

	// 7. Fault notification dispatcher
	wg.Add(1)
	go func() {
		defer wg.Done()
		faultDispatcher.Run(ctx)
	}()

	// 8. HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("HTTP server listening on %s", cfg.Listen)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Printf("Simulator %s running (tick=%s, threshold=%.1f mA)", cfg.Instance, simCfg.TickPeriod, simCfg.InjectThreshold)

	// Wait for shutdown signal
	<-ctx.Done()
	log.Println("Shutting down...")

	// Graceful HTTP shutdown with 5s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	wg.Wait()
	log.Println("Shutdown complete")
}

// runRequestListener subscribes to the instance's pv request channel and
// answers read and write requests. It automatically re-subscribes if the
// connection drops.
func runRequestListener(ctx context.Context, rdb *redis.Client, source protocol.Source, store *pv.Store, processed, failed *atomic.Int64) {
	channel := protocol.RequestChannel(source.Instance)

	for {
		if ctx.Err() != nil {
			return
		}

		sub := rdb.Subscribe(ctx, channel)
		ch := sub.Channel()

		func() {
			defer sub.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						log.Println("pv listener: subscription channel closed, reconnecting...")
						return
					}
					parsed, err := protocol.Parse([]byte(msg.Payload))
					if err != nil {
						log.Printf("pv listener: parse error: %v", err)
						failed.Add(1)
						continue
					}
					if err := protocol.Validate(parsed); err != nil {
						log.Printf("pv listener: invalid message: %v", err)
						failed.Add(1)
						continue
					}
					if err := handleRequest(ctx, rdb, source, store, parsed); err != nil {
						log.Printf("pv listener: %v", err)
						failed.Add(1)
						continue
					}
					processed.Add(1)
				}
			}
		}()

		// Back off before retrying
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// handleRequest answers a single pv read or write request on its reply channel.
func handleRequest(ctx context.Context, rdb *redis.Client, source protocol.Source, store *pv.Store, req *protocol.Message) error {
	switch req.Envelope.Type {
	case protocol.TypePVReadRequest:
		payload, err := protocol.ParseReadRequest(req)
		if err != nil {
			return err
		}
		return respond(ctx, rdb, source, req, protocol.TypePVReadResponse, readVariable(store, payload.Name))

	case protocol.TypePVWriteRequest:
		payload, err := protocol.ParseWriteRequest(req)
		if err != nil {
			return err
		}
		return respond(ctx, rdb, source, req, protocol.TypePVWriteResponse, writeVariable(store, payload.Name, payload.Value))

	default:
		// Validate only admits request types on this channel
		return nil
	}
}

func readVariable(store *pv.Store, name string) protocol.ReadResponsePayload {
	def, err := store.Definition(name)
	if err != nil {
		return protocol.ReadResponsePayload{
			Name:  name,
			Error: &protocol.Error{Code: protocol.ErrCodeUnknownVariable, Message: err.Error()},
		}
	}
	val, err := store.Read(name)
	if err != nil {
		return protocol.ReadResponsePayload{
			Name:  name,
			Error: &protocol.Error{Code: protocol.ErrCodeInternal, Message: err.Error()},
		}
	}
	formatted := def.Format(val)
	return protocol.ReadResponsePayload{Name: name, Value: &formatted, Unit: def.Unit}
}

func writeVariable(store *pv.Store, name, value string) protocol.WriteResponsePayload {
	def, err := store.Definition(name)
	if err != nil {
		return protocol.WriteResponsePayload{
			Name:      name,
			Requested: value,
			Error:     &protocol.Error{Code: protocol.ErrCodeUnknownVariable, Message: err.Error()},
		}
	}

	stored, err := store.RequestWrite(name, value)
	if err == pv.ErrReadOnly {
		return protocol.WriteResponsePayload{
			Name:      name,
			Requested: value,
			Error:     &protocol.Error{Code: protocol.ErrCodeReadOnly, Message: "variable is read-only"},
		}
	}
	if err != nil {
		return protocol.WriteResponsePayload{
			Name:      name,
			Requested: value,
			Error:     &protocol.Error{Code: protocol.ErrCodeInternal, Message: err.Error()},
		}
	}
	return protocol.WriteResponsePayload{
		Name:      name,
		Requested: value,
		Stored:    def.Format(stored),
	}
}

func respond(ctx context.Context, rdb *redis.Client, source protocol.Source, req *protocol.Message, msgType string, payload interface{}) error {
	resp, err := protocol.NewResponse(source, msgType, req, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return rdb.Publish(ctx, req.Envelope.ReplyTo, string(data)).Err()
}

// runHeartbeatPublisher publishes a service.heartbeat every 5 seconds.
func runHeartbeatPublisher(ctx context.Context, rdb *redis.Client, source protocol.Source, engine *sim.Engine, store *pv.Store, startTime time.Time, processed, failed *atomic.Int64) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := engine.Status()
			nProcessed := int(processed.Load())
			nFailed := int(failed.Load())

			payload := protocol.HeartbeatPayload{
				Status:            "online",
				UptimeSeconds:     int64(time.Since(startTime).Seconds()),
				MachineMode:       st.Mode,
				BeamCurrentAvg:    st.BeamCurrentAvg,
				Ticks:             st.Ticks,
				Variables:         store.Names(),
				RequestsProcessed: &nProcessed,
				RequestsFailed:    &nFailed,
			}

			msg, err := protocol.NewMessage(source, protocol.TypeServiceHeartbeat, payload)
			if err != nil {
				log.Printf("heartbeat: build: %v", err)
				continue
			}
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("heartbeat: marshal: %v", err)
				continue
			}
			if err := rdb.Publish(ctx, protocol.HeartbeatChannel, string(data)).Err(); err != nil {
				log.Printf("heartbeat: publish: %v", err)
			}
		}
	}
}
