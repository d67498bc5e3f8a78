// Command loadgen sends paced traffic at a rate-limited endpoint and reports
// how the admission decisions came back, which makes limiter settings easy to
// eyeball: send above the refill rate and the 429 share should converge on
// the overflow.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

func main() {
	var target string
	var rps float64
	var duration time.Duration
	var bearer string
	flag.StringVar(&target, "url", "http://localhost:8080/", "endpoint to hit")
	flag.Float64Var(&rps, "rps", 20, "request rate to send")
	flag.DurationVar(&duration, "duration", 10*time.Second, "how long to run")
	flag.StringVar(&bearer, "bearer", "", "optional bearer token (see cmd/token)")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	pacer := rate.NewLimiter(rate.Limit(rps), 1)
	client := &http.Client{Timeout: 5 * time.Second}

	var sent, allowed, limited, failed int
	for {
		if err := pacer.Wait(ctx); err != nil {
			break // deadline reached
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad url:", err)
			os.Exit(1)
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}

		sent++
		resp, err := client.Do(req)
		if err != nil {
			failed++
			continue
		}
		_ = resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			limited++
		default:
			allowed++
		}
	}

	fmt.Printf("sent=%d allowed=%d limited=%d failed=%d (%.1f rps over %s)\n",
		sent, allowed, limited, failed, rps, duration)
}
