// Command routectl asks the routing engine for a route and optionally sends
// a prompt through it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/af-corp/aegis-router/internal/catalog"
	"github.com/af-corp/aegis-router/internal/config"
	"github.com/af-corp/aegis-router/internal/dispatch"
	"github.com/af-corp/aegis-router/internal/healthmon"
	"github.com/af-corp/aegis-router/internal/keypool"
	"github.com/af-corp/aegis-router/internal/policy"
	"github.com/af-corp/aegis-router/internal/routing"
	"github.com/af-corp/aegis-router/internal/telemetry"
	"github.com/af-corp/aegis-router/internal/transport"
	"github.com/af-corp/aegis-router/internal/types"
	"github.com/redis/go-redis/v9"
)

type output struct {
	Route    any    `json:"route"`
	Reply    string `json:"reply,omitempty"`
	Served   string `json:"served_by,omitempty"`
	Role     string `json:"role,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Usage    any    `json:"usage,omitempty"`
}

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	model := flag.String("model", "", "logical model to route")
	models := flag.String("models", "", "comma-separated candidate models (batch mode)")
	mode := flag.String("mode", "", "fast_first or cheap_first (default from config)")
	in := flag.Float64("in", 0, "input token weight (default from config)")
	out := flag.Float64("out", 0, "output token weight (default from config)")
	prompt := flag.String("prompt", "", "send this prompt through the chosen route")
	useRedis := flag.Bool("redis", false, "share snapshots through redis")
	flag.Parse()

	if (*model == "") == (*models == "") {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: exactly one of -model or -models is required")
		os.Exit(2)
	}

	loader := config.NewLoader(*configDir, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if err := loader.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	logger := telemetry.NewLogger(os.Stderr, cfg.Telemetry)

	cat := catalog.New(loader.Sources())
	catFn := func() *catalog.Catalog { return cat }

	var fetcher healthmon.Fetcher = healthmon.NewClient(cfg.Routing.SnapshotURL, cfg.Routing.SnapshotTimeout)
	if *useRedis || cfg.Routing.SnapshotRedisCache {
		if rdb := redisClient(cfg.Redis, logger); rdb != nil {
			defer rdb.Close()
			fetcher = healthmon.NewCachedFetcher(fetcher, rdb, logger)
		}
	}

	keys := keypool.NewClient(cfg.Credentials.ManagerURL, cfg.Credentials.ClientTimeout, loader.Credentials, logger)

	opts := []routing.Option{routing.WithLogger(logger)}
	if cfg.Policy.Enabled {
		evaluator := policy.NewEvaluator(func() config.PolicyConfig { return cfg.Policy }, logger)
		if err := evaluator.Load(); err != nil {
			logger.Warn("routing policy not loaded, all sources eligible", "error", err)
		}
		opts = append(opts, routing.WithEligibility(evaluator))
	}
	engine := routing.NewEngine(cfg.Routing, catFn, fetcher, keys, opts...)

	ctx := context.Background()
	var (
		route  routing.Route
		report any
		err    error
	)
	if *models != "" {
		var choice routing.BatchChoice
		choice, err = engine.SelectBestFromBatch(ctx, splitModels(*models), types.Mode(*mode), *in, *out)
		route = routing.Route{Model: choice.Model, Mode: types.Mode(*mode), Primary: choice.Assignment, Backup: choice.Assignment, Strategy: choice.Strategy}
		report = choice
	} else {
		route, err = engine.SelectRoute(ctx, *model, types.Mode(*mode), *in, *out)
		report = route
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	res := output{Route: report}
	if *prompt != "" {
		dispatcher := dispatch.NewDispatcher(cfg.Dispatch, keys, nil, logger)
		chat := transport.NewChatClient(&http.Client{Timeout: cfg.Dispatch.RequestTimeout + 5*time.Second})
		call := chat.Call(catFn, types.ChatRequest{
			Model:    route.Model,
			Messages: []types.Message{{Role: "user", Content: *prompt}},
		})
		result, err := dispatcher.Do(ctx, route, call, "routectl")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		res.Reply = result.Response.Text()
		res.Served = result.Assignment.Source
		res.Role = result.Role
		res.Attempts = result.Attempts
		if result.Response != nil && result.Response.Usage != nil {
			res.Usage = result.Response.Usage
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func splitModels(s string) []string {
	var out []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func redisClient(cfg config.RedisConfig, logger *slog.Logger) *redis.Client {
	if len(cfg.Addresses) == 0 || cfg.Addresses[0] == "" {
		logger.Warn("redis snapshot cache requested but no address configured")
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addresses[0],
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable, snapshot cache disabled", "error", err)
		rdb.Close()
		return nil
	}
	return rdb
}
