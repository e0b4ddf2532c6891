package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

var (
	clients        = flag.Int("clients", 200, "Number of concurrent WebSocket clients")
	duration       = flag.Duration("duration", 60*time.Second, "Test duration")
	serverURL      = flag.String("url", "http://localhost:8080", "Server base URL")
	rampUp         = flag.Duration("rampup", 5*time.Second, "Time to ramp up all clients")
	printInterval  = flag.Duration("print", 5*time.Second, "Statistics print interval")
	filterInterval = flag.Duration("filters", time.Second, "Interval between filter changes, 0 to disable")
	bbox           = flag.String("bbox", "", "Region to load before the test as minLon,minLat,maxLon,maxLat")
	layers         = flag.String("layers", "buildings", "Comma separated layers for the initial update")
)

// Stats are updated atomically by every client
type Stats struct {
	connected    int64
	disconnected int64
	snapshots    int64
	errors       int64
	filterPosts  int64
	latencyNanos int64 // sum of filter post to snapshot receipt latencies
	latencyCount int64
}

type envelope struct {
	Type string `json:"type"`
	Data struct {
		ID         string `json:"id"`
		Generation uint64 `json:"generation"`
		Filters    struct {
			Time *struct {
				Max float64 `json:"max"`
			} `json:"time"`
		} `json:"filters"`
	} `json:"data"`
}

func main() {
	flag.Parse()

	fmt.Printf("Snapshot fan-out load test\n")
	fmt.Printf("   Clients: %d\n", *clients)
	fmt.Printf("   Duration: %v\n", *duration)
	fmt.Printf("   Server: %s\n", *serverURL)
	fmt.Printf("   Filter interval: %v\n\n", *filterInterval)

	base, err := url.Parse(*serverURL)
	if err != nil {
		log.Fatalf("Invalid URL: %v", err)
	}
	wsURL := *base
	wsURL.Scheme = "ws"
	if base.Scheme == "https" {
		wsURL.Scheme = "wss"
	}
	wsURL.Path = "/ws"

	if *bbox != "" {
		if err := initialUpdate(base.String()); err != nil {
			log.Fatalf("Initial update failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var stats Stats
	var sent sync.Map // filter max bound -> send time
	var wg sync.WaitGroup

	go reportStats(ctx, &stats)

	clientInterval := *rampUp / time.Duration(*clients)
	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go startClient(ctx, &wg, wsURL.String(), &stats, &sent)
		if clientInterval > 0 {
			time.Sleep(clientInterval)
		}
	}
	fmt.Printf("All %d clients started\n", *clients)

	if *filterInterval > 0 {
		go sweepFilters(ctx, base.String(), &stats, &sent)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
		fmt.Printf("\nTest duration completed\n")
	case <-sigChan:
		fmt.Printf("\nInterrupted by user\n")
		cancel()
	}

	wg.Wait()

	fmt.Printf("\nFinal Statistics:\n")
	fmt.Printf("   Peak Connected: %d\n", atomic.LoadInt64(&stats.connected))
	fmt.Printf("   Snapshots Received: %d\n", atomic.LoadInt64(&stats.snapshots))
	fmt.Printf("   Filter Changes: %d\n", atomic.LoadInt64(&stats.filterPosts))
	fmt.Printf("   Errors: %d\n", atomic.LoadInt64(&stats.errors))
	if n := atomic.LoadInt64(&stats.latencyCount); n > 0 {
		fmt.Printf("   Mean Fan-out Latency: %v\n", time.Duration(atomic.LoadInt64(&stats.latencyNanos)/n))
	}
}

func initialUpdate(base string) error {
	var b [4]float64
	if _, err := fmt.Sscanf(*bbox, "%g,%g,%g,%g", &b[0], &b[1], &b[2], &b[3]); err != nil {
		return fmt.Errorf("invalid bbox %q: %w", *bbox, err)
	}
	body, err := json.Marshal(map[string]interface{}{
		"region": map[string]interface{}{"type": "bbox", "bbox": b},
		"layers": strings.Split(*layers, ","),
	})
	if err != nil {
		return err
	}
	resp, err := http.Post(base+"/api/update", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("update returned status %d", resp.StatusCode)
	}
	fmt.Printf("Region loaded\n")
	return nil
}

// sweepFilters moves the upper time bound forward so every post yields a
// distinguishable snapshot
func sweepFilters(ctx context.Context, base string, stats *Stats, sent *sync.Map) {
	ticker := time.NewTicker(*filterInterval)
	defer ticker.Stop()

	upper := float64(time.Now().Unix())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			upper++
			body, _ := json.Marshal(map[string]interface{}{
				"time": map[string]float64{"min": 0, "max": upper},
			})
			sent.Store(upper, time.Now())
			resp, err := http.Post(base+"/api/filters", "application/json", bytes.NewReader(body))
			if err != nil {
				atomic.AddInt64(&stats.errors, 1)
				continue
			}
			resp.Body.Close()
			atomic.AddInt64(&stats.filterPosts, 1)
		}
	}
}

func startClient(ctx context.Context, wg *sync.WaitGroup, wsURL string, stats *Stats, sent *sync.Map) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		atomic.AddInt64(&stats.errors, 1)
		return
	}
	defer conn.Close()

	atomic.AddInt64(&stats.connected, 1)
	defer atomic.AddInt64(&stats.disconnected, 1)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	var lastGeneration uint64
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				atomic.AddInt64(&stats.errors, 1)
			}
			return
		}

		var msg envelope
		if err := json.Unmarshal(message, &msg); err != nil || msg.Type != "snapshot" {
			atomic.AddInt64(&stats.errors, 1)
			continue
		}
		if msg.Data.Generation < lastGeneration {
			// generations never go backwards on one connection
			atomic.AddInt64(&stats.errors, 1)
		}
		lastGeneration = msg.Data.Generation
		atomic.AddInt64(&stats.snapshots, 1)

		if t := msg.Data.Filters.Time; t != nil {
			if at, ok := sent.Load(t.Max); ok {
				atomic.AddInt64(&stats.latencyNanos, int64(time.Since(at.(time.Time))))
				atomic.AddInt64(&stats.latencyCount, 1)
			}
		}
	}
}

func reportStats(ctx context.Context, stats *Stats) {
	ticker := time.NewTicker(*printInterval)
	defer ticker.Stop()

	var lastSnapshots int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := atomic.LoadInt64(&stats.connected) - atomic.LoadInt64(&stats.disconnected)
			snapshots := atomic.LoadInt64(&stats.snapshots)
			rate := float64(snapshots-lastSnapshots) / printInterval.Seconds()

			fmt.Printf("[STATS] Active: %d | Snapshots: %d (%.1f/s) | Filter posts: %d | Errors: %d\n",
				active, snapshots, rate, atomic.LoadInt64(&stats.filterPosts), atomic.LoadInt64(&stats.errors))
			lastSnapshots = snapshots
		}
	}
}
