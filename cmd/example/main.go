// Demo traffic generator: simulates a small fleet of download clients (one
// aMule instance that restarts every couple of minutes and two BitTorrent
// clients) and posts one ingestion tick per second to a running peerdash
// server. Useful for exercising the dashboard API without real clients.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peerdash/peerdash/pkg/clients"
	"github.com/peerdash/peerdash/pkg/config"
	"github.com/peerdash/peerdash/pkg/ingest"
)

const tickInterval = 1 * time.Second

func main() {
	target := config.GetEnvString("PEERDASH_URL", "http://localhost:"+config.DefaultPort)

	fleet := []*simulatedClient{
		newSimulatedClient("ed2k-main", clients.TypeAmule, 45_000, 180_000, 120),
		newSimulatedClient("bt-seedbox", clients.TypeQBittorrent, 400_000, 1_200_000, 0),
		newSimulatedClient("bt-desktop", clients.TypeTransmission, 90_000, 650_000, 0),
	}

	fmt.Printf("posting ticks to %s/v1/tick every %v (Ctrl-C to stop)\n", target, tickInterval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	httpClient := &http.Client{Timeout: 5 * time.Second}
	var sent, failed int

	for {
		select {
		case <-quit:
			fmt.Printf("\nstopped: %d ticks sent, %d failed\n", sent, failed)
			return
		case <-ticker.C:
			tick := ingest.TickRequest{Timestamp: time.Now().UnixMilli()}
			for _, c := range fleet {
				tick.Samples = append(tick.Samples, c.nextSample())
			}

			if err := postTick(httpClient, target, tick); err != nil {
				failed++
				fmt.Printf("tick failed: %v\n", err)
				continue
			}
			sent++
			if sent%30 == 0 {
				fmt.Printf("%d ticks sent\n", sent)
			}
		}
	}
}

func postTick(client *http.Client, target string, tick ingest.TickRequest) error {
	body, err := json.Marshal(tick)
	if err != nil {
		return err
	}

	resp, err := client.Post(target+"/v1/tick", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
