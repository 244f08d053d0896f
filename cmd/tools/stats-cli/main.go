package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/annel0/voxel-lod/internal/api"
)

func main() {
	var (
		server   = flag.String("server", "http://localhost:8088", "адрес REST API")
		interval = flag.Duration("interval", time.Second, "период опроса")
		once     = flag.Bool("once", false, "вывести одну строку и выйти")
		verbose  = flag.Bool("v", false, "подробный вывод по ячейкам")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := &http.Client{Timeout: 5 * time.Second}
	url := strings.TrimRight(*server, "/") + "/api/stats/indicator"

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		ind, err := fetch(ctx, client, url)
		if err != nil {
			if *once {
				log.Fatalf("❌ %v", err)
			}
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		} else {
			printIndicator(ind, *verbose)
		}
		if *once {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func fetch(ctx context.Context, client *http.Client, url string) (*api.IndicatorResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("запрос %s: статус %d", url, resp.StatusCode)
	}
	var ind api.IndicatorResponse
	if err := json.NewDecoder(resp.Body).Decode(&ind); err != nil {
		return nil, fmt.Errorf("разбор ответа: %w", err)
	}
	return &ind, nil
}

func printIndicator(ind *api.IndicatorResponse, verbose bool) {
	ts := time.Now().Format("15:04:05")
	if !verbose {
		fmt.Printf("[%s] %s\n", ts, ind.Line)
		return
	}
	fmt.Printf("[%s]\n", ts)
	for _, c := range ind.Cells {
		fmt.Printf("  %-28s %s\n", c.LongName, c.Text)
	}
}
