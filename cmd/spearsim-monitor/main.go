// Command spearsim-monitor watches the simulator's Redis traffic and polls
// the beam current. It prints heartbeats and faults as they happen, keeps
// running statistics over polled samples, and can write a session PDF
// report on exit.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/beamsim/spearsim/internal/history"
	"github.com/beamsim/spearsim/internal/protocol"
	"github.com/beamsim/spearsim/internal/pvclient"
	"github.com/beamsim/spearsim/internal/report"
	"github.com/beamsim/spearsim/internal/sim"
	"github.com/beamsim/spearsim/internal/stats"
)

const monitorVersion = "1.0.0"

func main() {
	target := flag.String("target", "spear-01", "simulator instance to poll")
	pollInterval := flag.Duration("poll", time.Second, "beam current poll interval (0 disables polling)")
	eventsOnly := flag.Bool("events", false, "show only pub/sub events, no polling")
	jsonOut := flag.Bool("json", false, "raw JSON output for events")
	logFile := flag.String("log", "", "path to JSONL log file")
	reportPath := flag.String("report", "", "write a session PDF report to this path on exit")
	flag.Parse()

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisURL})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("cannot connect to Redis at %s: %v", redisURL, err)
	}

	// Open log file if requested
	var logWriter *os.File
	if *logFile != "" {
		var err error
		logWriter, err = os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("cannot open log file: %v", err)
		}
		defer logWriter.Close()
	}

	// Session history backs the optional PDF report
	sessionHist, err := history.New(":memory:")
	if err != nil {
		log.Fatalf("cannot open session history: %v", err)
	}
	defer sessionHist.Close()

	sessionStart := time.Now()
	var acc stats.Accumulator
	histo := stats.NewHistogram(0, 500, 20)
	var accMu sync.Mutex

	// Shared channel for all display messages
	displayCh := make(chan *DisplayMessage, 256)

	// Signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nshutting down...")
		cancel()
	}()

	var wg sync.WaitGroup

	// Goroutine 1: event watcher
	wg.Add(1)
	go func() {
		defer wg.Done()
		watchEvents(ctx, rdb, sessionHist, displayCh)
	}()

	// Goroutine 2: beam current poller
	if !*eventsOnly && *pollInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pollBeam(ctx, rdb, *target, *pollInterval, sessionHist, &acc, histo, &accMu)
		}()
	}

	// Close display channel when all producers are done
	go func() {
		wg.Wait()
		close(displayCh)
	}()

	// Main loop: read from channel, format, print
	for dm := range displayCh {
		if *jsonOut {
			data, err := json.Marshal(dm.Message)
			if err != nil {
				log.Printf("json marshal error: %v", err)
				continue
			}
			fmt.Println(string(data))
		} else {
			fmt.Println(FormatMessage(dm))
		}

		// Log to JSONL file
		if logWriter != nil {
			data, err := json.Marshal(dm.Message)
			if err == nil {
				logWriter.Write(data)
				logWriter.Write([]byte("\n"))
			}
		}
	}

	printSummary(&acc, histo, &accMu)

	if *reportPath != "" {
		if err := writeReport(*reportPath, *target, sessionHist, sessionStart); err != nil {
			log.Fatalf("report: %v", err)
		}
		fmt.Printf("session report written to %s\n", *reportPath)
	}
}

// watchEvents subscribes to events:* and forwards heartbeats and faults to
// the display channel. Faults are also recorded into the session history.
func watchEvents(ctx context.Context, rdb *redis.Client, hist *history.Store, displayCh chan<- *DisplayMessage) {
	sub := rdb.PSubscribe(ctx, "events:*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case redisMsg, ok := <-ch:
			if !ok {
				return
			}

			msg, err := protocol.Parse([]byte(redisMsg.Payload))
			if err != nil {
				log.Printf("event parse error on %s: %v", redisMsg.Channel, err)
				continue
			}

			if msg.Envelope.Type == protocol.TypeSystemFault {
				if fault, err := protocol.ParseFault(msg); err == nil {
					if err := hist.RecordFault(fault.Mode, fault.PriorMode, fault.Reason, fault.Description); err != nil {
						log.Printf("session history: %v", err)
					}
				}
			}

			dm := &DisplayMessage{
				Timestamp: time.Now(),
				Channel:   redisMsg.Channel,
				Direction: "←",
				Message:   msg,
			}

			select {
			case displayCh <- dm:
			case <-ctx.Done():
				return
			}
		}
	}
}

// pollBeam reads the beam state once per interval, accumulating statistics
// and recording session samples.
func pollBeam(ctx context.Context, rdb *redis.Client, target string, interval time.Duration, hist *history.Store, acc *stats.Accumulator, histo *stats.Histogram, accMu *sync.Mutex) {
	source := protocol.Source{
		Service:  "spearsim_monitor",
		Instance: "mon-" + uuid.New().String()[:8],
		Version:  monitorVersion,
	}
	client := pvclient.New(rdb, source, target)
	go client.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMode string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := client.Read(ctx, sim.VarBeamCurrentAvg)
			if err != nil {
				log.Printf("poll: %v", err)
				continue
			}
			mode, err := client.Read(ctx, sim.VarMachineMode)
			if err != nil {
				log.Printf("poll: %v", err)
				continue
			}
			phase, err := client.Read(ctx, sim.VarInjectionPhase)
			if err != nil {
				log.Printf("poll: %v", err)
				continue
			}

			ma, err := strconv.ParseFloat(current, 64)
			if err != nil {
				log.Printf("poll: bad current %q: %v", current, err)
				continue
			}

			accMu.Lock()
			acc.Add(ma)
			histo.Add(ma)
			accMu.Unlock()

			if err := hist.RecordSample(ma, mode, phase); err != nil {
				log.Printf("session history: %v", err)
			}
			if lastMode != "" && mode != lastMode {
				if err := hist.RecordTransition(lastMode, mode, "observed"); err != nil {
					log.Printf("session history: %v", err)
				}
			}
			lastMode = mode

			color := colorGreen
			if mode == "Down" {
				color = colorRed
			} else if mode != "Beam" {
				color = colorYellow
			}
			fmt.Printf("%s  %-20s %s  %s%.3f mA  mode=%s  phase=%s%s\n",
				time.Now().Format("15:04:05.000"), "poll:"+target, "←", color, ma, mode, phase, colorReset)
		}
	}
}

// printSummary prints the session statistics collected by the poller.
func printSummary(acc *stats.Accumulator, histo *stats.Histogram, accMu *sync.Mutex) {
	accMu.Lock()
	defer accMu.Unlock()

	if acc.Count() == 0 {
		return
	}
	fmt.Printf("\nsession: %d samples  mean=%.3f mA  stddev=%.3f mA  min=%.3f mA  max=%.3f mA\n",
		acc.Count(), acc.Mean(), acc.StdDev(), acc.Min(), acc.Max())

	for i, n := range histo.Counts() {
		if n == 0 {
			continue
		}
		lo, hi := histo.BinRange(i)
		fmt.Printf("  [%6.1f, %6.1f) mA  %5d  %s\n", lo, hi, n, strings.Repeat("#", bar(n, acc.Count())))
	}
}

// bar scales a bin count to at most 40 characters.
func bar(n, total int) int {
	w := n * 40 / total
	if w < 1 {
		w = 1
	}
	return w
}

// writeReport renders the session history into a PDF file.
func writeReport(path, target string, hist *history.Store, since time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return report.ExportPDF(f, target, hist, since)
}
