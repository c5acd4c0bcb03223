package vehicle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suncharge/suncharge/pkg/authcache"
	"github.com/suncharge/suncharge/pkg/types"
)

const testEmail = "owner@example.com"

func freshToken() authcache.Token {
	return authcache.Token{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    float64(time.Now().Add(time.Hour).Unix()),
	}
}

func newTestTesla(t *testing.T, srv *httptest.Server, tok authcache.Token) (*Tesla, *authcache.Store) {
	t.Helper()
	store := authcache.Open(filepath.Join(t.TempDir(), "cache.json"))
	require.NoError(t, store.Update(testEmail, tok))

	tc := newTesla(store)
	tc.apiURL = srv.URL
	tc.authURL = srv.URL
	tc.wakeTimeout = time.Second
	tc.wakePoll = 10 * time.Millisecond
	require.NoError(t, tc.ApplyCredentials(context.Background(), types.TeslaCredentials{Email: testEmail}))
	return tc, store
}

func writeVehicleList(w http.ResponseWriter) {
	fmt.Fprint(w, `{"response":[{"id":12345,"vin":"5YJSA1E26MF000000","display_name":"Sunny","state":"online"}],"count":1}`)
}

func TestChargeState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/1/vehicles", func(w http.ResponseWriter, r *http.Request) {
		writeVehicleList(w)
	})
	mux.HandleFunc("/api/1/vehicles/12345/vehicle_data", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		// the query must arrive as a query, not escaped into the path
		assert.Equal(t, "/api/1/vehicles/12345/vehicle_data", r.URL.Path)
		assert.Equal(t, "charge_state", r.URL.Query().Get("endpoints"))
		fmt.Fprint(w, `{"response":{"charge_state":{
			"timestamp": 1700000000000,
			"battery_level": 62,
			"charge_limit_soc": 80,
			"battery_range": 100,
			"charging_state": "Charging",
			"charger_actual_current": 8,
			"charge_current_request_max": 16,
			"charge_port_latch": "Engaged",
			"charge_port_door_open": true,
			"not_enough_power_to_heat": null,
			"charge_miles_added_rated": 10,
			"charge_energy_added": 3.5,
			"time_to_full_charge": 1.25
		}}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tc, _ := newTestTesla(t, srv, freshToken())
	vs, err := tc.ChargeState(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 62, vs.BatteryLevel)
	assert.Equal(t, 80, vs.ChargeLimitSOC)
	assert.InDelta(t, 160.93, vs.RangeKM, 0.01)
	assert.True(t, vs.PluggedIn)
	assert.Equal(t, types.ChargingStateCharging, vs.Charging)
	assert.Equal(t, 8, vs.ChargerAmps)
	assert.Equal(t, 16, vs.MaxRequestAmps)
	assert.True(t, vs.PortLatchEngaged)
	assert.True(t, vs.PortDoorOpen)
	assert.False(t, vs.NotEnoughPowerToHeat)
	assert.InDelta(t, 16.09, vs.ChargeAddedKM, 0.01)
	assert.Equal(t, 3.5, vs.ChargeAddedKWH)
	assert.Equal(t, 1.25, vs.HoursToFull)

	able, _ := vs.AbleToCharge()
	assert.True(t, able)
}

func TestRefreshOn401(t *testing.T) {
	var mu sync.Mutex
	var tokenCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/v3/token", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		tokenCalls++
		mu.Unlock()
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "rt", r.FormValue("refresh_token"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "at2",
			"refresh_token": "rt2",
			"expires_in":    3600,
			"token_type":    "Bearer",
		})
	})
	mux.HandleFunc("/api/1/vehicles", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeVehicleList(w)
	})
	mux.HandleFunc("/api/1/vehicles/12345/wake_up", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":{"id":12345,"state":"online"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// the cached access token looks valid but the API rejects it
	tc, store := newTestTesla(t, srv, freshToken())
	require.NoError(t, tc.WakeUp(context.Background()))

	mu.Lock()
	assert.Equal(t, 1, tokenCalls)
	mu.Unlock()

	// the rotated tokens must have been written back to the cache
	tok, err := store.Token(testEmail)
	require.NoError(t, err)
	assert.Equal(t, "at2", tok.AccessToken)
	assert.Equal(t, "rt2", tok.RefreshToken)
}

func TestAuthErrorAfterRefresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/v3/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "still-bad",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/api/1/vehicles", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tc, _ := newTestTesla(t, srv, freshToken())
	_, err := tc.ChargeState(context.Background())
	require.Error(t, err)
	assert.Equal(t, "auth", types.ErrorClass(err))
}

func TestNoCachedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made without a token")
	}))
	defer srv.Close()

	tc, _ := newTestTesla(t, srv, authcache.Token{})
	_, err := tc.ChargeState(context.Background())
	require.Error(t, err)
	assert.Equal(t, "auth", types.ErrorClass(err))
}

func TestWakeOn408(t *testing.T) {
	var mu sync.Mutex
	var awake bool
	var wakeCalls, summaryCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("/api/1/vehicles", func(w http.ResponseWriter, r *http.Request) {
		writeVehicleList(w)
	})
	mux.HandleFunc("/api/1/vehicles/12345/vehicle_data", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if !awake {
			w.WriteHeader(http.StatusRequestTimeout)
			return
		}
		fmt.Fprint(w, `{"response":{"charge_state":{"battery_level":50,"charging_state":"Stopped","charge_port_latch":"Engaged","charge_port_door_open":true}}}`)
	})
	mux.HandleFunc("/api/1/vehicles/12345/wake_up", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		wakeCalls++
		mu.Unlock()
		fmt.Fprint(w, `{"response":{"id":12345,"state":"waking"}}`)
	})
	mux.HandleFunc("/api/1/vehicles/12345", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		summaryCalls++
		// report online on the second poll
		if summaryCalls >= 2 {
			awake = true
			fmt.Fprint(w, `{"response":{"id":12345,"state":"online"}}`)
			return
		}
		fmt.Fprint(w, `{"response":{"id":12345,"state":"waking"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tc, _ := newTestTesla(t, srv, freshToken())
	vs, err := tc.ChargeState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, vs.BatteryLevel)
	assert.Equal(t, types.ChargingStateStopped, vs.Charging)

	mu.Lock()
	assert.Equal(t, 1, wakeCalls)
	assert.GreaterOrEqual(t, summaryCalls, 2)
	mu.Unlock()
}

func TestWakeUnresponsive(t *testing.T) {
	var mu sync.Mutex
	var wakeCalls, dataCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("/api/1/vehicles", func(w http.ResponseWriter, r *http.Request) {
		writeVehicleList(w)
	})
	mux.HandleFunc("/api/1/vehicles/12345/vehicle_data", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dataCalls++
		mu.Unlock()
		w.WriteHeader(http.StatusRequestTimeout)
	})
	mux.HandleFunc("/api/1/vehicles/12345/wake_up", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		wakeCalls++
		mu.Unlock()
		// the vehicle is so far gone even wake_up times out
		w.WriteHeader(http.StatusRequestTimeout)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tc, _ := newTestTesla(t, srv, freshToken())
	_, err := tc.ChargeState(context.Background())
	require.Error(t, err)
	assert.Equal(t, "transport", types.ErrorClass(err))

	// one wake attempt, no recursion back into another wake
	mu.Lock()
	assert.Equal(t, 1, wakeCalls)
	assert.Equal(t, 1, dataCalls)
	mu.Unlock()
}

func TestCommands(t *testing.T) {
	var mu sync.Mutex
	var startReason, stopReason string
	var lastAmps float64

	mux := http.NewServeMux()
	mux.HandleFunc("/api/1/vehicles", func(w http.ResponseWriter, r *http.Request) {
		writeVehicleList(w)
	})
	mux.HandleFunc("/api/1/vehicles/12345/command/charge_start", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reason := startReason
		mu.Unlock()
		if reason == "" {
			fmt.Fprint(w, `{"response":{"result":true,"reason":""}}`)
			return
		}
		fmt.Fprintf(w, `{"response":{"result":false,"reason":"%s"}}`, reason)
	})
	mux.HandleFunc("/api/1/vehicles/12345/command/charge_stop", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reason := stopReason
		mu.Unlock()
		if reason == "" {
			fmt.Fprint(w, `{"response":{"result":true,"reason":""}}`)
			return
		}
		fmt.Fprintf(w, `{"response":{"result":false,"reason":"%s"}}`, reason)
	})
	mux.HandleFunc("/api/1/vehicles/12345/command/set_charging_amps", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]float64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		lastAmps = body["charging_amps"]
		mu.Unlock()
		fmt.Fprint(w, `{"response":{"result":true,"reason":""}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tc, _ := newTestTesla(t, srv, freshToken())
	ctx := context.Background()

	t.Run("Start", func(t *testing.T) {
		require.NoError(t, tc.StartCharging(ctx))
	})

	t.Run("Start Already Charging", func(t *testing.T) {
		mu.Lock()
		startReason = "is_charging"
		mu.Unlock()
		require.NoError(t, tc.StartCharging(ctx))
	})

	t.Run("Start Rejected", func(t *testing.T) {
		mu.Lock()
		startReason = "could_not_wake_buses"
		mu.Unlock()
		require.Error(t, tc.StartCharging(ctx))
	})

	t.Run("Stop Not Charging", func(t *testing.T) {
		mu.Lock()
		stopReason = "not_charging"
		mu.Unlock()
		require.NoError(t, tc.StopCharging(ctx))
	})

	t.Run("Set Amps", func(t *testing.T) {
		require.NoError(t, tc.SetChargeAmps(ctx, 12))
		mu.Lock()
		assert.Equal(t, 12.0, lastAmps)
		mu.Unlock()
	})
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tc, _ := newTestTesla(t, srv, freshToken())
	_, err := tc.ChargeState(context.Background())
	require.Error(t, err)
	assert.Equal(t, "transport", types.ErrorClass(err))
}
