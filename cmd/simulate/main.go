package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"portaria.org/internal/sim"
)

func main() {
	var (
		baseURL  = flag.String("base-url", "http://localhost:8080", "API base URL")
		workers  = flag.Int("workers", 4, "Concurrent gate controllers")
		duration = flag.Duration("duration", time.Minute, "Duration of the simulation")
		seed     = flag.Int64("seed", 0, "Random seed (0 = time-based)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("Launching gate simulation: base=%s workers=%d duration=%s", *baseURL, *workers, *duration)

	client := &http.Client{Timeout: 10 * time.Second}

	managerToken, err := issueToken(ctx, client, *baseURL, []string{"manager"})
	if err != nil {
		log.Fatalf("issue manager token: %v", err)
	}
	deviceToken, err := issueToken(ctx, client, *baseURL, []string{"device"})
	if err != nil {
		log.Fatalf("issue device token: %v", err)
	}

	scenario := sim.CondominiumScenario()
	if err := installTopology(ctx, client, *baseURL, managerToken, scenario); err != nil {
		log.Fatalf("install topology: %v", err)
	}
	log.Printf("Scenario %s installed: %d points, %d groups", scenario.Name, len(scenario.Points), len(scenario.Groups))

	var (
		mu           sync.Mutex
		counter      sim.Counter
		rateLimited  int64
		serverErrors int64
	)

	var wg sync.WaitGroup
	deadline := time.Now().Add(*duration)

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			gen := sim.NewGenerator(scenario, *seed+int64(id*9973))
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return
				default:
				}
				arrival := gen.NextArrival()
				allowed, reason, status, err := authorize(ctx, client, *baseURL, deviceToken, arrival)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("worker %d authorize: %v", id, err)
					continue
				}
				switch {
				case status == http.StatusTooManyRequests:
					atomic.AddInt64(&rateLimited, 1)
				case status >= 500:
					atomic.AddInt64(&serverErrors, 1)
				case status == http.StatusOK:
					mu.Lock()
					counter.Add(allowed, reason)
					mu.Unlock()
				}
				time.Sleep(50 * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()

	fmt.Printf("\nSimulation finished: %d scans, %d allowed, %d denied (%.0f%% denial rate)\n",
		counter.Scans, counter.Allowed, counter.Denied, counter.DenialRate()*100)
	for reason, n := range counter.ByReason {
		fmt.Printf("  %-32s %d\n", reason, n)
	}
	if rateLimited > 0 || serverErrors > 0 {
		fmt.Printf("  rate_limited=%d server_errors=%d\n", rateLimited, serverErrors)
	}
}

func issueToken(ctx context.Context, client *http.Client, baseURL string, roles []string) (string, error) {
	payload, _ := json.Marshal(map[string]any{
		"user":  "simulator",
		"roles": roles,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/auth/token", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Token, nil
}

func installTopology(ctx context.Context, client *http.Client, baseURL, token string, sc sim.Scenario) error {
	for _, p := range sc.Points {
		if err := postJSON(ctx, client, baseURL+"/v1/points", token, p); err != nil {
			return fmt.Errorf("point %s: %w", p.ID, err)
		}
	}
	for _, pair := range sc.Pairs {
		body := map[string]string{"a_id": pair.AID, "b_id": pair.BID}
		if err := postJSON(ctx, client, baseURL+"/v1/pairs", token, body); err != nil {
			return fmt.Errorf("pair %s/%s: %w", pair.AID, pair.BID, err)
		}
	}
	for _, g := range sc.Groups {
		if err := postJSON(ctx, client, baseURL+"/v1/groups", token, g); err != nil {
			return fmt.Errorf("group %s: %w", g.ID, err)
		}
	}
	for _, asg := range sc.Assignments {
		body := map[string]string{"point_id": asg.PointID, "group_id": asg.GroupID}
		if err := postJSON(ctx, client, baseURL+"/v1/assignments", token, body); err != nil {
			return fmt.Errorf("assignment %s->%s: %w", asg.GroupID, asg.PointID, err)
		}
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url, token string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func authorize(ctx context.Context, client *http.Client, baseURL, token string, a sim.Arrival) (bool, string, int, error) {
	payload, _ := json.Marshal(map[string]any{
		"actor":     a.Actor,
		"point_id":  a.PointID,
		"direction": a.Direction,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/authorize", bytes.NewReader(payload))
	if err != nil {
		return false, "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-Id", uuid.NewString())
	resp, err := client.Do(req)
	if err != nil {
		return false, "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, "", resp.StatusCode, nil
	}
	var decision struct {
		Allow  bool   `json:"allow"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return false, "", resp.StatusCode, err
	}
	return decision.Allow, decision.Reason, resp.StatusCode, nil
}
