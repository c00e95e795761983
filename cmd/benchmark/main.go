// Benchmark tool for measuring MuleRift against a synthetic ledger with
// planted mule patterns.
//
// Usage:
//
//	go run ./cmd/benchmark -accounts 5000 -transactions 20000 -cycles 50 -hubs 20 -shells 30
//
// This tool:
//  1. Generates background transfers between random accounts
//  2. Plants cycles, fan-in and fan-out hubs and shell chains on fresh accounts
//  3. Runs the analyzer in-process, optionally several times concurrently
//  4. Reports recall per planted pattern, precision and timing
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/mulerift/internal/domain"
	"github.com/opensource-finance/mulerift/internal/engine"
)

const timeLayout = "2006-01-02 15:04:05"

// Planted records which accounts carry each injected pattern.
type Planted struct {
	Cycle  []string
	FanIn  []string
	FanOut []string
	Shell  []string
}

// Metrics tracks benchmark results
type Metrics struct {
	Runs             int64
	Errors           int64
	ProcessingTimeMs int64
	MaxTimeMs        int64
	Degraded         int64
}

type generator struct {
	rng   *rand.Rand
	start time.Time
	buf   bytes.Buffer
	rows  int
	next  int
}

func main() {
	// Parse flags
	accounts := flag.Int("accounts", 5000, "Number of background accounts")
	transactions := flag.Int("transactions", 20000, "Number of background transfers")
	cycles := flag.Int("cycles", 50, "Number of planted cycles (length 3-5)")
	hubs := flag.Int("hubs", 20, "Number of planted fan-in and of fan-out hubs")
	shells := flag.Int("shells", 30, "Number of planted shell chains")
	seed := flag.Int64("seed", 1, "Random seed")
	repeat := flag.Int("repeat", 1, "Number of analyses to run")
	workers := flag.Int("workers", 1, "Number of concurrent analyses")
	out := flag.String("out", "", "Also write the generated ledger to this path")
	verbose := flag.Bool("verbose", false, "Print missed planted accounts")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	fmt.Println("MULERIFT BENCHMARK - synthetic mule rings")
	fmt.Printf("\nAccounts:     %d\n", *accounts)
	fmt.Printf("Transactions: %d\n", *transactions)
	fmt.Printf("Planted:      %d cycles, %d+%d hubs, %d shell chains\n", *cycles, *hubs, *hubs, *shells)
	fmt.Printf("Runs:         %d (workers %d)\n", *repeat, *workers)
	fmt.Println()

	g := &generator{
		rng:   rand.New(rand.NewSource(*seed)),
		start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	g.buf.WriteString("transaction_id,sender_id,receiver_id,amount,timestamp\n")
	g.background(*accounts, *transactions)
	planted := Planted{
		Cycle: g.plantCycles(*cycles),
		Shell: g.plantShells(*shells),
	}
	planted.FanIn, planted.FanOut = g.plantHubs(*hubs)
	ledger := g.buf.Bytes()

	fmt.Printf("Generated %d rows (%.1f KiB)\n", g.rows, float64(len(ledger))/1024)
	if *out != "" {
		if err := os.WriteFile(*out, ledger, 0o644); err != nil {
			fmt.Printf("ERROR: failed to write ledger: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Ledger written to %s\n", *out)
	}

	analyzer, err := engine.New(domain.DefaultDetectionConfig(), domain.DefaultScoringConfig())
	if err != nil {
		fmt.Printf("ERROR: failed to create analyzer: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nRunning benchmark...\n")
	startTime := time.Now()
	metrics, result := runBenchmark(analyzer, ledger, *repeat, *workers)
	duration := time.Since(startTime)

	if result == nil {
		fmt.Println("ERROR: every analysis failed")
		os.Exit(1)
	}
	printResults(metrics, result, planted, duration, *verbose)
}

// background writes uniformly random transfers spread over 30 days.
func (g *generator) background(accounts, transactions int) {
	if accounts < 2 {
		return
	}
	for i := 0; i < transactions; i++ {
		src := g.rng.Intn(accounts)
		dst := g.rng.Intn(accounts - 1)
		if dst >= src {
			dst++
		}
		at := g.start.Add(time.Duration(g.rng.Int63n(int64(30 * 24 * time.Hour))))
		g.row(fmt.Sprintf("ACC%06d", src), fmt.Sprintf("ACC%06d", dst), 10+g.rng.Float64()*5000, at)
	}
}

func (g *generator) plantCycles(n int) []string {
	var members []string
	for i := 0; i < n; i++ {
		length := 3 + g.rng.Intn(3)
		ids := g.fresh("CYC", length)
		at := g.randomTime()
		amount := 5000 + g.rng.Float64()*20000
		for j := range ids {
			at = at.Add(time.Duration(1+g.rng.Intn(48)) * time.Hour)
			amount *= 0.97
			g.row(ids[j], ids[(j+1)%length], amount, at)
		}
		members = append(members, ids...)
	}
	return members
}

// plantHubs creates fan-in hubs fed by 12 to 20 senders and fan-out hubs
// paying as many receivers, all within 48 hours.
func (g *generator) plantHubs(n int) (fanIn, fanOut []string) {
	for i := 0; i < n; i++ {
		hub := g.fresh("HIN", 1)[0]
		at := g.randomTime()
		for _, sender := range g.fresh("SND", 12+g.rng.Intn(9)) {
			g.row(sender, hub, 500+g.rng.Float64()*4000, at.Add(time.Duration(g.rng.Int63n(int64(48*time.Hour)))))
		}
		fanIn = append(fanIn, hub)

		hub = g.fresh("HOUT", 1)[0]
		at = g.randomTime()
		for _, receiver := range g.fresh("RCV", 12+g.rng.Intn(9)) {
			g.row(hub, receiver, 500+g.rng.Float64()*4000, at.Add(time.Duration(g.rng.Int63n(int64(48*time.Hour)))))
		}
		fanOut = append(fanOut, hub)
	}
	return fanIn, fanOut
}

// plantShells creates source -> 3 pass-through accounts -> sink chains.
func (g *generator) plantShells(n int) []string {
	var shells []string
	for i := 0; i < n; i++ {
		ids := g.fresh("SHL", 5)
		at := g.randomTime()
		amount := 10000 + g.rng.Float64()*40000
		for j := 0; j+1 < len(ids); j++ {
			at = at.Add(time.Duration(1+g.rng.Intn(6)) * time.Hour)
			amount *= 0.99
			g.row(ids[j], ids[j+1], amount, at)
		}
		shells = append(shells, ids[1:4]...)
	}
	return shells
}

func (g *generator) fresh(prefix string, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		g.next++
		ids[i] = fmt.Sprintf("%s%05d", prefix, g.next)
	}
	return ids
}

func (g *generator) randomTime() time.Time {
	return g.start.Add(time.Duration(g.rng.Int63n(int64(25 * 24 * time.Hour))))
}

func (g *generator) row(src, dst string, amount float64, at time.Time) {
	g.rows++
	fmt.Fprintf(&g.buf, "T%08d,%s,%s,%.2f,%s\n", g.rows, src, dst, amount, at.Format(timeLayout))
}

func runBenchmark(analyzer *engine.Analyzer, ledger []byte, repeat, numWorkers int) (*Metrics, *domain.AnalysisResult) {
	metrics := &Metrics{}
	if numWorkers < 1 {
		numWorkers = 1
	}

	var (
		mu     sync.Mutex
		result *domain.AnalysisResult
	)

	// Create work channel
	work := make(chan int, repeat)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for run := range work {
				start := time.Now()
				analysis, err := analyzer.AnalyzeBytes(context.Background(), fmt.Sprintf("synthetic-%d", run), ledger)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.Runs, 1)
				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				for {
					cur := atomic.LoadInt64(&metrics.MaxTimeMs)
					if elapsed <= cur || atomic.CompareAndSwapInt64(&metrics.MaxTimeMs, cur, elapsed) {
						break
					}
				}

				if err != nil {
					atomic.AddInt64(&metrics.Errors, 1)
					fmt.Printf("ERROR: run %d -> %v\n", run, err)
					continue
				}
				if analysis.Degraded {
					atomic.AddInt64(&metrics.Degraded, 1)
				}

				mu.Lock()
				if result == nil {
					result = analysis.Result
				}
				mu.Unlock()
			}
		}()
	}

	// Send work
	for i := 0; i < repeat; i++ {
		work <- i
	}
	close(work)

	// Wait for completion
	wg.Wait()
	return metrics, result
}

// recall returns the planted accounts flagged with the expected pattern
// and those missed.
func recall(flagged map[string][]string, planted []string, pattern string) (hit int, missed []string) {
	for _, id := range planted {
		found := false
		for _, p := range flagged[id] {
			if strings.HasPrefix(p, pattern+":") {
				found = true
				break
			}
		}
		if found {
			hit++
		} else {
			missed = append(missed, id)
		}
	}
	return hit, missed
}

func printResults(m *Metrics, r *domain.AnalysisResult, planted Planted, duration time.Duration, verbose bool) {
	flagged := make(map[string][]string, len(r.SuspiciousAccounts))
	for _, acc := range r.SuspiciousAccounts {
		flagged[acc.AccountID] = acc.DetectedPatterns
	}

	fmt.Println()
	fmt.Println("RESULTS")
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("Accounts analyzed:   %d\n", r.Summary.TotalAccountsAnalyzed)
	fmt.Printf("Accounts flagged:    %d\n", r.Summary.SuspiciousAccountsFlagged)
	fmt.Printf("Rings detected:      %d\n", r.Summary.FraudRingsDetected)

	rings := map[domain.RingType]int{}
	for _, ring := range r.FraudRings {
		rings[ring.PatternType]++
	}
	for _, t := range domain.RingTypes {
		fmt.Printf("  - %-9s        %d\n", t, rings[t])
	}

	fmt.Println()
	fmt.Println("RECALL")
	fmt.Println(strings.Repeat("-", 60))
	rows := []struct {
		name    string
		pattern string
		ids     []string
	}{
		{"cycle members", "cycle", planted.Cycle},
		{"fan-in hubs", "smurfing_fanin", planted.FanIn},
		{"fan-out hubs", "smurfing_fanout", planted.FanOut},
		{"shell accounts", "shell_layering", planted.Shell},
	}
	for _, row := range rows {
		hit, missed := recall(flagged, row.ids, row.pattern)
		pct := 0.0
		if len(row.ids) > 0 {
			pct = 100 * float64(hit) / float64(len(row.ids))
		}
		fmt.Printf("%-16s %5d / %-5d (%.1f%%)\n", row.name, hit, len(row.ids), pct)
		if verbose && len(missed) > 0 {
			sort.Strings(missed)
			fmt.Printf("  missed: %s\n", strings.Join(missed, ", "))
		}
	}

	background := 0
	for id := range flagged {
		if strings.HasPrefix(id, "ACC") {
			background++
		}
	}
	fmt.Printf("\nBackground accounts flagged: %d\n", background)
	if n := len(flagged); n > 0 {
		fmt.Printf("Flagged outside background:  %.1f%%\n", 100*float64(n-background)/float64(n))
	}

	fmt.Println()
	fmt.Println("TIMING")
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("Runs:        %d (%d errors, %d degraded)\n", m.Runs, m.Errors, m.Degraded)
	if m.Runs > 0 {
		fmt.Printf("Mean:        %d ms\n", m.ProcessingTimeMs/m.Runs)
	}
	fmt.Printf("Max:         %d ms\n", m.MaxTimeMs)
	fmt.Printf("Wall clock:  %s\n", duration.Round(time.Millisecond))
}
