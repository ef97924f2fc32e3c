// Package remoteconfig fetches the engine's keyed strategy configuration
// from a read-only PostgREST-shaped REST table at startup: a master row
// per config_key (strategy identity, cool-down, enabled flag) and a
// detail row per (config_key, symbol) carrying the sizing and threshold
// parameters. The engine reads this once at startup; it never watches for
// changes.
package remoteconfig

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Master is the `maker_taker_master` row for one config_key.
type Master struct {
	ConfigKey string `json:"config_key"`
	Strategy  string `json:"strategy"`
	CooldownSec int  `json:"cooldown_sec"`
	Enabled   bool   `json:"enabled"`
}

// Detail is the `maker_taker_detail` row for one (config_key, symbol).
type Detail struct {
	ConfigKey          string          `json:"config_key"`
	Symbol             string          `json:"symbol"`
	OrderQuantity      decimal.Decimal `json:"order_quantity"`
	MaxPosition         decimal.Decimal `json:"max_position"`
	LongThresholdFloor decimal.Decimal `json:"long_threshold_floor"`
	ShortThresholdFloor decimal.Decimal `json:"short_threshold_floor"`
	ZScoreMultiplier   float64         `json:"z_score_multiplier"`
}

// ErrNotFound means the query matched no rows.
var ErrNotFound = fmt.Errorf("remote config: not found")

// Client reads the remote keyed configuration table over a single bearer
// token.
type Client struct {
	rc *resty.Client
}

// New builds a client against baseURL (the PostgREST root, e.g.
// https://project.supabase.co/rest/v1), authenticated with token.
func New(baseURL, token string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Authorization", "Bearer "+token).
		SetHeader("Content-Type", "application/json")
	return &Client{rc: rc}
}

// GetMaster fetches the master record for configKey.
func (c *Client) GetMaster(ctx context.Context, configKey string) (Master, error) {
	var rows []Master
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("config_key", "eq."+configKey).
		SetResult(&rows).
		Get("/maker_taker_master")
	if err != nil {
		return Master{}, fmt.Errorf("fetch maker_taker_master: %w", err)
	}
	if resp.IsError() {
		return Master{}, fmt.Errorf("fetch maker_taker_master: status %d", resp.StatusCode())
	}
	if len(rows) == 0 {
		return Master{}, ErrNotFound
	}
	return rows[0], nil
}

// GetDetail fetches the detail record for (configKey, symbol).
func (c *Client) GetDetail(ctx context.Context, configKey, symbol string) (Detail, error) {
	var rows []Detail
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("config_key", "eq."+configKey).
		SetQueryParam("symbol", "eq."+symbol).
		SetResult(&rows).
		Get("/maker_taker_detail")
	if err != nil {
		return Detail{}, fmt.Errorf("fetch maker_taker_detail: %w", err)
	}
	if resp.IsError() {
		return Detail{}, fmt.Errorf("fetch maker_taker_detail: status %d", resp.StatusCode())
	}
	if len(rows) == 0 {
		return Detail{}, ErrNotFound
	}
	return rows[0], nil
}
