package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/xtrntr/parimutuel/internal/config"
	"github.com/xtrntr/parimutuel/internal/logging"
	"github.com/xtrntr/parimutuel/internal/models"

	"go.uber.org/zap"
)

const seedPassword = "password123"

type seedBet struct {
	bettor string
	side   models.Side
	amount int64
}

// A matched pair at 150/100 plus one stake left unmatched
var seedBets = []seedBet{
	{"alice", models.SideA, 100},
	{"bob", models.SideB, 150},
	{"carol", models.SideA, 50},
}

type client struct {
	base string
	http *http.Client
	log  *zap.Logger
}

// Seed a running server with bettors, an open event and some bets
func main() {
	configPath := flag.String("config", "", "path to the server's TOML config file")
	addr := flag.String("addr", "", "server base URL (defaults to localhost and the configured port)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Auth.OwnerPassword == "" {
		logger.Fatal("auth.owner_password must be set to seed events")
	}
	base := *addr
	if base == "" {
		base = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	c := &client{base: base, http: &http.Client{Timeout: 10 * time.Second}, log: logger}
	ctx := context.Background()
	if err := c.seed(ctx, cfg.Exchange.Owner, cfg.Auth.OwnerPassword); err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}
}

func (c *client) seed(ctx context.Context, owner, ownerPassword string) error {
	adminToken, err := c.login(ctx, owner, ownerPassword)
	if err != nil {
		return fmt.Errorf("owner login: %w", err)
	}

	tokens := make(map[string]string)
	for _, b := range seedBets {
		if _, ok := tokens[b.bettor]; ok {
			continue
		}
		status, err := c.call(ctx, "POST", "/auth/register", "", map[string]string{"username": b.bettor, "password": seedPassword}, nil)
		if err != nil && status != http.StatusConflict {
			return fmt.Errorf("register %s: %w", b.bettor, err)
		}
		if tokens[b.bettor], err = c.login(ctx, b.bettor, seedPassword); err != nil {
			return fmt.Errorf("login %s: %w", b.bettor, err)
		}
		// top up so a re-run against an existing user still has funds
		if _, err := c.call(ctx, "POST", "/admin/mint", adminToken, map[string]interface{}{"username": b.bettor, "amount": 1000}, nil); err != nil {
			return fmt.Errorf("mint %s: %w", b.bettor, err)
		}
	}

	now := time.Now().UTC()
	var ev models.Event
	if _, err := c.call(ctx, "POST", "/events", adminToken, map[string]interface{}{
		"name":            "Demo Derby",
		"label_a":         "Red",
		"label_b":         "Blue",
		"odds_a":          150,
		"odds_b":          100,
		"open_time":       now.Add(-time.Minute),
		"close_time":      now.Add(24 * time.Hour),
		"settlement_time": now.Add(25 * time.Hour),
	}, &ev); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	if _, err := c.call(ctx, "POST", fmt.Sprintf("/events/%d/open", ev.ID), adminToken, nil, nil); err != nil {
		return fmt.Errorf("open event %d: %w", ev.ID, err)
	}
	c.log.Info("event opened", zap.Uint64("event_id", uint64(ev.ID)))

	for _, b := range seedBets {
		token := tokens[b.bettor]
		if _, err := c.call(ctx, "POST", "/wallet/approve", token, map[string]interface{}{"side": b.side, "amount": b.amount}, nil); err != nil {
			return fmt.Errorf("approve %s: %w", b.bettor, err)
		}
		var bet models.Bet
		if _, err := c.call(ctx, "POST", fmt.Sprintf("/events/%d/bets", ev.ID), token, map[string]interface{}{"side": b.side, "amount": b.amount}, &bet); err != nil {
			return fmt.Errorf("bet %s: %w", b.bettor, err)
		}
		c.log.Info("bet placed",
			zap.String("bettor", b.bettor),
			zap.String("side", string(b.side)),
			zap.Int64("amount", b.amount),
			zap.Bool("matched", bet.Matched))
	}
	return nil
}

func (c *client) login(ctx context.Context, username, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if _, err := c.call(ctx, "POST", "/auth/login", "", map[string]string{"username": username, "password": password}, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// call sends a JSON request and decodes a 2xx response into out
func (c *client) call(ctx context.Context, method, path, token string, body, out interface{}) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = string(raw)
		}
		return resp.StatusCode, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Error)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}
