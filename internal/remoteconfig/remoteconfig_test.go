package remoteconfig

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetMasterParsesFirstRow(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("config_key") != "eq.grvt_aster" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"config_key":"grvt_aster","strategy":"grvt_aster","cooldown_sec":2,"enabled":true}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	m, err := c.GetMaster(context.Background(), "grvt_aster")
	if err != nil {
		t.Fatalf("GetMaster: %v", err)
	}
	if !m.Enabled || m.CooldownSec != 2 {
		t.Errorf("master = %+v", m)
	}
}

func TestGetMasterNotFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	_, err := c.GetMaster(context.Background(), "missing")
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetDetailParsesSizingFields(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "eq.BTC" {
			t.Errorf("unexpected symbol filter: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`[{"config_key":"grvt_aster","symbol":"BTC","order_quantity":"0.01","max_position":"0.05","long_threshold_floor":"5","short_threshold_floor":"5","z_score_multiplier":1.5}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	d, err := c.GetDetail(context.Background(), "grvt_aster", "BTC")
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	if d.ZScoreMultiplier != 1.5 || d.OrderQuantity.String() != "0.01" {
		t.Errorf("detail = %+v", d)
	}
}
