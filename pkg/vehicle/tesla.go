package vehicle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/suncharge/suncharge/pkg/authcache"
	"github.com/suncharge/suncharge/pkg/common"
	"github.com/suncharge/suncharge/pkg/log"
	"github.com/suncharge/suncharge/pkg/types"
)

const (
	defaultAPIURL   = "https://owner-api.teslamotors.com"
	defaultAuthURL  = "https://auth.tesla.com"
	defaultClientID = "ownerapi"

	teslaTokenPath = "oauth2/v3/token"

	milesToKM = 1.609344
)

// Tesla implements the API interface against the Tesla owner API.
// Tokens come from the shared cache file and are refreshed (and written back)
// whenever the API rejects them.
type Tesla struct {
	client      *http.Client
	apiURL      string
	authURL     string
	wakeTimeout time.Duration
	wakePoll    time.Duration
	cache       *authcache.Store

	mu           sync.Mutex
	email        string
	clientID     string
	vehicleIndex int
	accessToken  string
	vehicleID    int64
}

func newTesla(cache *authcache.Store) *Tesla {
	return &Tesla{
		// the API holds requests for a long time when the vehicle is slow to
		// respond, so the timeout is generous
		client:      common.HTTPClient(4 * time.Minute),
		apiURL:      defaultAPIURL,
		authURL:     defaultAuthURL,
		wakeTimeout: time.Minute,
		wakePoll:    5 * time.Second,
		cache:       cache,
		clientID:    defaultClientID,
	}
}

// ApplyCredentials sets the account the client operates as. The tokens
// themselves are looked up in the cache on first use.
func (t *Tesla) ApplyCredentials(ctx context.Context, creds types.TeslaCredentials) error {
	if creds.Email == "" {
		return errors.New("missing vehicle account email")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.email = creds.Email
	if creds.ClientID != "" {
		t.clientID = creds.ClientID
	}
	t.vehicleIndex = creds.VehicleIndex
	return nil
}

// ensureToken makes sure we hold a usable access token, refreshing from the
// cached refresh token when necessary. Must be called with t.mu held.
func (t *Tesla) ensureToken(ctx context.Context) error {
	if t.accessToken != "" {
		return nil
	}

	tok, err := t.cache.Token(t.email)
	if err != nil {
		return err
	}
	if tok.Usable(time.Now()) {
		log.Ctx(ctx).DebugContext(ctx, "restored tesla token from cache")
		t.accessToken = tok.AccessToken
		return nil
	}
	if tok.RefreshToken == "" {
		return &types.AuthError{
			System: "tesla",
			Err:    fmt.Errorf("no cached token for %s, run the authorization flow first", t.email),
		}
	}
	return t.refreshToken(ctx, tok.RefreshToken)
}

// refreshToken exchanges the refresh token for a new token set and persists
// it, including any rotated refresh token. Must be called with t.mu held.
func (t *Tesla) refreshToken(ctx context.Context, refresh string) error {
	log.Ctx(ctx).DebugContext(ctx, "refreshing tesla token")

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("client_id", t.clientID)
	data.Set("refresh_token", refresh)
	data.Set("scope", "openid email offline_access")

	u, err := url.JoinPath(t.authURL, teslaTokenPath)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return &types.TransportError{System: "tesla", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &types.TransportError{System: "tesla", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("token refresh status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 {
			return &types.TransportError{System: "tesla", Err: err}
		}
		return &types.AuthError{System: "tesla", Err: err}
	}

	var tok authcache.Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return &types.AuthError{System: "tesla", Err: errors.New("token refresh returned no access token")}
	}
	// the refresh token rotates on some accounts; keep the old one if the
	// response omitted it
	if tok.RefreshToken == "" {
		tok.RefreshToken = refresh
	}

	if err := t.cache.Update(t.email, tok); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to persist refreshed token", slog.Any("error", err))
	}
	t.accessToken = tok.AccessToken
	return nil
}

func (t *Tesla) newAPIRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	// JoinPath escapes a ? so the query has to be carried separately
	path, query, _ := strings.Cut(path, "?")
	u, err := url.JoinPath(t.apiURL, path)
	if err != nil {
		return nil, err
	}
	if query != "" {
		u += "?" + query
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+t.accessToken)
	return req, nil
}

// doAPI performs one owner-API call. A 401 triggers a single token refresh
// and retry; a 408 means the vehicle is asleep, so it is woken once and the
// call retried. Must be called with t.mu held.
func (t *Tesla) doAPI(ctx context.Context, method, path string, body, dest interface{}) error {
	return t.do(ctx, method, path, body, dest, true)
}

// do is the request loop behind doAPI. The wake cycle itself runs with
// allowWake false so a 408 on wake_up or a status poll can never recurse
// back into wake.
func (t *Tesla) do(ctx context.Context, method, path string, body, dest interface{}, allowWake bool) error {
	var refreshed, woke bool
	for {
		req, err := t.newAPIRequest(ctx, method, path, body)
		if err != nil {
			return err
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return &types.TransportError{System: "tesla", Err: err}
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return &types.TransportError{System: "tesla", Err: err}
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			if refreshed {
				return &types.AuthError{System: "tesla", Err: errors.New("token rejected after refresh")}
			}
			refreshed = true
			log.Ctx(ctx).DebugContext(ctx, "tesla token rejected, refreshing")
			t.accessToken = ""
			tok, err := t.cache.Token(t.email)
			if err != nil {
				return err
			}
			if tok.RefreshToken == "" {
				return &types.AuthError{System: "tesla", Err: errors.New("token rejected and no refresh token cached")}
			}
			if err := t.refreshToken(ctx, tok.RefreshToken); err != nil {
				return err
			}
			continue
		case resp.StatusCode == http.StatusRequestTimeout:
			if !allowWake || woke {
				return &types.TransportError{System: "tesla", Err: errors.New("vehicle still asleep after wake")}
			}
			woke = true
			log.Ctx(ctx).InfoContext(ctx, "vehicle is asleep, waking it")
			if err := t.wake(ctx); err != nil {
				return err
			}
			continue
		case resp.StatusCode >= 500:
			return &types.TransportError{System: "tesla", Err: fmt.Errorf("status %d", resp.StatusCode)}
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("tesla api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}

		if dest != nil {
			if err := json.Unmarshal(raw, dest); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to decode tesla response", slog.Any("error", err), slog.String("body", string(raw)))
				return fmt.Errorf("failed to decode tesla response: %w", err)
			}
		}
		return nil
	}
}

type vehicleSummary struct {
	ID          int64  `json:"id"`
	VIN         string `json:"vin"`
	DisplayName string `json:"display_name"`
	State       string `json:"state"`
}

type vehicleListResponse struct {
	Response []vehicleSummary `json:"response"`
	Count    int              `json:"count"`
}

// ensureVehicleID resolves the configured vehicle index to a vehicle ID.
// Must be called with t.mu held.
func (t *Tesla) ensureVehicleID(ctx context.Context) error {
	if t.vehicleID != 0 {
		return nil
	}

	var res vehicleListResponse
	if err := t.doAPI(ctx, "GET", "/api/1/vehicles", nil, &res); err != nil {
		return err
	}
	if t.vehicleIndex >= len(res.Response) {
		return fmt.Errorf("vehicle index %d out of range, account has %d vehicles", t.vehicleIndex, len(res.Response))
	}

	v := res.Response[t.vehicleIndex]
	log.Ctx(ctx).DebugContext(ctx, "selected vehicle",
		slog.String("name", v.DisplayName),
		slog.String("vin", v.VIN),
		slog.String("state", v.State),
	)
	t.vehicleID = v.ID
	return nil
}

type chargeStateResult struct {
	Timestamp               int64   `json:"timestamp"`
	BatteryLevel            int     `json:"battery_level"`
	ChargeLimitSOC          int     `json:"charge_limit_soc"`
	BatteryRange            float64 `json:"battery_range"`
	ChargingState           string  `json:"charging_state"`
	ChargerActualCurrent    int     `json:"charger_actual_current"`
	ChargeCurrentRequestMax int     `json:"charge_current_request_max"`
	ChargePortLatch         string  `json:"charge_port_latch"`
	ChargePortDoorOpen      bool    `json:"charge_port_door_open"`
	NotEnoughPowerToHeat    *bool   `json:"not_enough_power_to_heat"`
	ChargeMilesAddedRated   float64 `json:"charge_miles_added_rated"`
	ChargeEnergyAdded       float64 `json:"charge_energy_added"`
	TimeToFullCharge        float64 `json:"time_to_full_charge"`
}

type vehicleDataResponse struct {
	Response struct {
		ChargeState chargeStateResult `json:"charge_state"`
	} `json:"response"`
}

// ChargeState returns the vehicle's current charge state. A sleeping vehicle
// is woken up first.
func (t *Tesla) ChargeState(ctx context.Context) (types.VehicleState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureToken(ctx); err != nil {
		return types.VehicleState{}, err
	}
	if err := t.ensureVehicleID(ctx); err != nil {
		return types.VehicleState{}, err
	}

	var res vehicleDataResponse
	path := fmt.Sprintf("/api/1/vehicles/%d/vehicle_data?endpoints=charge_state", t.vehicleID)
	if err := t.doAPI(ctx, "GET", path, nil, &res); err != nil {
		return types.VehicleState{}, err
	}
	cs := res.Response.ChargeState

	state, ok := types.ParseChargingState(cs.ChargingState)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "unknown charging state, treating as stopped", slog.String("chargingState", cs.ChargingState))
	}

	ts := time.Now()
	if cs.Timestamp > 0 {
		ts = time.UnixMilli(cs.Timestamp)
	}

	vs := types.VehicleState{
		Timestamp:            ts,
		BatteryLevel:         cs.BatteryLevel,
		ChargeLimitSOC:       cs.ChargeLimitSOC,
		RangeKM:              cs.BatteryRange * milesToKM,
		PluggedIn:            state != types.ChargingStateDisconnected,
		Charging:             state,
		ChargerAmps:          cs.ChargerActualCurrent,
		MaxRequestAmps:       cs.ChargeCurrentRequestMax,
		PortLatchEngaged:     cs.ChargePortLatch == "Engaged",
		PortDoorOpen:         cs.ChargePortDoorOpen,
		NotEnoughPowerToHeat: cs.NotEnoughPowerToHeat != nil && *cs.NotEnoughPowerToHeat,
		ChargeAddedKM:        cs.ChargeMilesAddedRated * milesToKM,
		ChargeAddedKWH:       cs.ChargeEnergyAdded,
		HoursToFull:          cs.TimeToFullCharge,
	}

	log.Ctx(ctx).DebugContext(ctx, "vehicle charge state",
		slog.Int("batteryLevel", vs.BatteryLevel),
		slog.Int("chargeLimitSOC", vs.ChargeLimitSOC),
		slog.String("chargingState", vs.Charging.String()),
		slog.Int("chargerAmps", vs.ChargerAmps),
		slog.Int("maxRequestAmps", vs.MaxRequestAmps),
	)

	return vs, nil
}

type commandResponse struct {
	Response struct {
		Result bool   `json:"result"`
		Reason string `json:"reason"`
	} `json:"response"`
}

// command posts a vehicle command. The API reports "failure" when the vehicle
// is already in the requested state; reasons listed in benign are treated as
// success. Must be called with t.mu held.
func (t *Tesla) command(ctx context.Context, name string, body interface{}, benign ...string) error {
	if err := t.ensureToken(ctx); err != nil {
		return err
	}
	if err := t.ensureVehicleID(ctx); err != nil {
		return err
	}

	var res commandResponse
	path := fmt.Sprintf("/api/1/vehicles/%d/command/%s", t.vehicleID, name)
	if err := t.doAPI(ctx, "POST", path, body, &res); err != nil {
		return err
	}
	if res.Response.Result {
		return nil
	}
	for _, r := range benign {
		if res.Response.Reason == r {
			log.Ctx(ctx).DebugContext(ctx, "vehicle already in requested state",
				slog.String("command", name),
				slog.String("reason", res.Response.Reason),
			)
			return nil
		}
	}
	return fmt.Errorf("%s rejected: %s", name, res.Response.Reason)
}

// StartCharging tells the vehicle to begin charging.
func (t *Tesla) StartCharging(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.command(ctx, "charge_start", nil, "is_charging", "charging", "complete")
}

// StopCharging tells the vehicle to stop charging.
func (t *Tesla) StopCharging(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.command(ctx, "charge_stop", nil, "not_charging")
}

// SetChargeAmps sets the charge current the vehicle should draw.
func (t *Tesla) SetChargeAmps(ctx context.Context, amps int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.command(ctx, "set_charging_amps", map[string]interface{}{"charging_amps": amps})
}

// WakeUp wakes the vehicle and blocks until it reports online.
func (t *Tesla) WakeUp(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureToken(ctx); err != nil {
		return err
	}
	if err := t.ensureVehicleID(ctx); err != nil {
		return err
	}
	return t.wake(ctx)
}

// wake issues wake_up and polls until the vehicle is online or the wake
// timeout elapses. Must be called with t.mu held.
func (t *Tesla) wake(ctx context.Context) error {
	var res struct {
		Response vehicleSummary `json:"response"`
	}
	path := fmt.Sprintf("/api/1/vehicles/%d/wake_up", t.vehicleID)
	if err := t.do(ctx, "POST", path, nil, &res, false); err != nil {
		return err
	}
	if res.Response.State == "online" {
		return nil
	}

	deadline := time.Now().Add(t.wakeTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.wakePoll):
		}

		var sres struct {
			Response vehicleSummary `json:"response"`
		}
		if err := t.do(ctx, "GET", fmt.Sprintf("/api/1/vehicles/%d", t.vehicleID), nil, &sres, false); err != nil {
			return err
		}
		log.Ctx(ctx).DebugContext(ctx, "waiting for vehicle to wake", slog.String("state", sres.Response.State))
		if sres.Response.State == "online" {
			return nil
		}
	}
	return &types.TransportError{System: "tesla", Err: fmt.Errorf("vehicle did not wake within %s", t.wakeTimeout)}
}
