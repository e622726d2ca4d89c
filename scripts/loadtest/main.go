// Command loadtest fires concurrent enrollment requests at a running API
// instance to observe admission behaviour under seat contention. Every
// request races for seats in the same small set of sections, so the outcome
// histogram shows how many attempts were admitted versus rejected with
// COURSE_FULL, ALREADY_ENROLLED or SCHEDULE_CONFLICT.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type enrollRequest struct {
	StudentID        string `json:"student_id"`
	CourseInstanceID string `json:"course_instance_id"`
}

type envelope struct {
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type results struct {
	mu            sync.Mutex
	total         int
	admitted      int
	outcomes      map[string]int
	totalDuration time.Duration
	maxDuration   time.Duration
	minDuration   time.Duration
}

func (r *results) record(outcome string, admitted bool, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if admitted {
		r.admitted++
	}
	r.outcomes[outcome]++
	r.totalDuration += d
	if d > r.maxDuration {
		r.maxDuration = d
	}
	if r.minDuration == 0 || d < r.minDuration {
		r.minDuration = d
	}
}

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:8080", "base URL of the enrollment API")
		token      = flag.String("token", "", "admin bearer token")
		students   = flag.String("students", "", "comma-separated student IDs to enroll")
		instance   = flag.String("instance", "", "course instance ID every request competes for")
		concurrent = flag.Int("concurrent", 50, "number of in-flight requests")
		requests   = flag.Int("requests", 500, "total number of enrollment attempts")
	)
	flag.Parse()

	if *token == "" || *instance == "" {
		fmt.Println("usage: loadtest -token <admin-jwt> -instance <course-instance-id> [-students id1,id2,...]")
		return
	}

	studentIDs := splitIDs(*students)
	if len(studentIDs) == 0 {
		fmt.Println("no student IDs provided, generating synthetic ones (expect NOT_FOUND outcomes)")
		for i := 0; i < *requests; i++ {
			studentIDs = append(studentIDs, fmt.Sprintf("student-%04d", i))
		}
	}

	client := &http.Client{Timeout: 30 * time.Second}
	res := &results{outcomes: make(map[string]int)}
	sem := make(chan struct{}, *concurrent)
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < *requests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			attempt(client, *baseURL, *token, enrollRequest{
				StudentID:        studentIDs[n%len(studentIDs)],
				CourseInstanceID: *instance,
			}, res)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	printResults(res, elapsed, *concurrent)
}

func attempt(client *http.Client, baseURL, token string, req enrollRequest, res *results) {
	payload, err := json.Marshal(req)
	if err != nil {
		res.record("marshal_error", false, 0)
		return
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/admin/enrollments", bytes.NewReader(payload))
	if err != nil {
		res.record("request_error", false, 0)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		res.record("transport_error", false, duration)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		res.record("ENROLLED", true, duration)
		return
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var env envelope
	outcome := fmt.Sprintf("http_%d", resp.StatusCode)
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Code != "" {
		outcome = env.Error.Code
	}
	res.record(outcome, false, duration)
}

func splitIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}

func printResults(res *results, elapsed time.Duration, concurrent int) {
	fmt.Println("\nEnrollment Load Test Results")
	fmt.Println("============================")
	fmt.Printf("Concurrency:      %d\n", concurrent)
	fmt.Printf("Total Requests:   %d\n", res.total)
	fmt.Printf("Admitted:         %d\n", res.admitted)
	fmt.Printf("Elapsed:          %s\n", elapsed.Round(time.Millisecond))
	if res.total > 0 {
		fmt.Printf("Throughput:       %.1f req/s\n", float64(res.total)/elapsed.Seconds())
		fmt.Printf("Avg Latency:      %s\n", (res.totalDuration / time.Duration(res.total)).Round(time.Millisecond))
		fmt.Printf("Min/Max Latency:  %s / %s\n", res.minDuration.Round(time.Millisecond), res.maxDuration.Round(time.Millisecond))
	}

	fmt.Println("\nOutcome Breakdown:")
	outcomes := make([]string, 0, len(res.outcomes))
	for outcome := range res.outcomes {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	for _, outcome := range outcomes {
		fmt.Printf("  %-22s %d\n", outcome, res.outcomes[outcome])
	}
}
