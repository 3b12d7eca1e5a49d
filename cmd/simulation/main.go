package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	serverAddress = "http://localhost:8080"
	accountID     = "SIM-ACCOUNT-1"
	numFills      = 120
)

var contracts = []struct {
	symbol  string
	product string
	price   float64
}{
	{"ESZ5", "ES", 5800},
	{"NQZ5", "NQ", 20500},
	{"CLZ5", "CL", 71},
	{"GCZ5", "GC", 2650},
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks timing for an API endpoint
type routeStats struct {
	name      string
	durations []time.Duration
	failures  int
}

func (rs *routeStats) add(d time.Duration) {
	rs.durations = append(rs.durations, d)
}

// calculate returns min, max, mean and median durations
func (rs *routeStats) calculate() (min, max, mean, median time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]
	return
}

// simulationClient talks to the import API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 30 * time.Second},
		stats: map[string]*routeStats{
			"auth":   {name: "Authentication"},
			"import": {name: "Import Batch"},
			"trades": {name: "List Trades"},
		},
	}

	if err := sc.authenticate(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *simulationClient) authenticate() error {
	body, _ := json.Marshal(map[string]string{
		"api_key":    "test-api-key",
		"api_secret": "test-api-secret",
	})

	start := time.Now()
	resp, err := sc.client.Post(sc.baseURL+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	sc.stats["auth"].add(time.Since(start))
	if err != nil {
		return fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	if !envelope.Success || envelope.Data.Token == "" {
		return fmt.Errorf("authentication failed with status %d", resp.StatusCode)
	}

	sc.authToken = envelope.Data.Token
	return nil
}

func (sc *simulationClient) do(method, path, statKey string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+sc.authToken)

	start := time.Now()
	resp, err := sc.client.Do(req)
	sc.stats[statKey].add(time.Since(start))
	if err != nil {
		sc.stats[statKey].failures++
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		sc.stats[statKey].failures++
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, data)
	}
	return data, nil
}

// generateFills produces a random walk of Tradovate-style fill rows.
// Sells can both reduce and flip positions, so the generated stream
// exercises partial closes and direction flips.
func generateFills(n int) [][]string {
	rows := [][]string{{"orderId", "contract", "product", "b/s", "qty", "price", "fees", "commission", "timestamp", "currency"}}

	base := time.Now().Add(-24 * time.Hour).UTC()
	for i := 0; i < n; i++ {
		c := contracts[rand.Intn(len(contracts))]
		side := "B"
		if rand.Float64() < 0.5 {
			side = "S"
		}
		qty := 1 + rand.Intn(5)
		price := c.price * (1 + (rand.Float64()*0.02 - 0.01))
		ts := base.Add(time.Duration(i) * time.Minute)

		rows = append(rows, []string{
			fmt.Sprintf("SIM-%06d", i+1),
			c.symbol,
			c.product,
			side,
			fmt.Sprintf("%d", qty),
			fmt.Sprintf("%.2f", price),
			"1.24",
			"0.79",
			ts.Format("01/02/2006 15:04:05"),
			"USD",
		})
	}
	return rows
}

type importReport struct {
	ExecutionsImported int      `json:"executions_imported"`
	TradesCreated      int      `json:"trades_created"`
	TradesUpdated      int      `json:"trades_updated"`
	SkippedRows        int      `json:"skipped_rows"`
	Errors             []string `json:"errors"`
}

func (sc *simulationClient) runImport(rows [][]string) (*importReport, error) {
	payload := map[string]interface{}{
		"account_id": accountID,
		"format":     "tradovate_csv",
		"rows":       rows,
	}

	data, err := sc.do(http.MethodPost, "/api/v1/imports", "import", payload)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data importReport `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	return &envelope.Data, nil
}

func (sc *simulationClient) countTrades() (open, closed int, err error) {
	data, err := sc.do(http.MethodGet, "/api/v1/trades?account_id="+accountID, "trades", nil)
	if err != nil {
		return 0, 0, err
	}

	var envelope struct {
		Data []struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return 0, 0, err
	}

	for _, t := range envelope.Data {
		if t.Status == "open" {
			open++
		} else {
			closed++
		}
	}
	return open, closed, nil
}

func (sc *simulationClient) printStats() {
	keys := make([]string, 0, len(sc.stats))
	for k := range sc.stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		rs := sc.stats[k]
		min, max, mean, median := rs.calculate()
		log.Info().
			Str("route", rs.name).
			Int("calls", len(rs.durations)).
			Int("failures", rs.failures).
			Dur("min", min).
			Dur("max", max).
			Dur("mean", mean).
			Dur("median", median).
			Msg("route stats")
	}
}

func main() {
	sc, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create simulation client")
	}

	rows := generateFills(numFills)
	log.Info().Int("rows", len(rows)-1).Msg("generated synthetic fills")

	first, err := sc.runImport(rows)
	if err != nil {
		log.Fatal().Err(err).Msg("first import failed")
	}
	log.Info().
		Int("executions_imported", first.ExecutionsImported).
		Int("trades_created", first.TradesCreated).
		Int("trades_updated", first.TradesUpdated).
		Int("skipped_rows", first.SkippedRows).
		Int("errors", len(first.Errors)).
		Msg("first import completed")

	// Re-importing the same batch must be a no-op.
	second, err := sc.runImport(rows)
	if err != nil {
		log.Fatal().Err(err).Msg("second import failed")
	}
	log.Info().
		Int("executions_imported", second.ExecutionsImported).
		Int("trades_created", second.TradesCreated).
		Int("skipped_rows", second.SkippedRows).
		Msg("second import completed (expect zero imports)")

	if second.ExecutionsImported != 0 || second.TradesCreated != 0 {
		log.Error().Msg("idempotence check failed: re-import produced new records")
	} else {
		log.Info().Msg("idempotence check passed")
	}

	open, closed, err := sc.countTrades()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to list trades")
	}
	log.Info().Int("open", open).Int("closed", closed).Msg("reconstructed trades")

	sc.printStats()
}
