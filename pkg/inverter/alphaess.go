package inverter

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/suncharge/suncharge/pkg/common"
	"github.com/suncharge/suncharge/pkg/log"
	"github.com/suncharge/suncharge/pkg/types"
)

const defaultAlphaESSURL = "https://openapi.alphaess.com/api"

// AlphaESS implements the System interface against the AlphaESS Open API.
// Every request is signed with the app secret; there is no login session.
type AlphaESS struct {
	client       *http.Client
	baseURL      string
	requestDelay time.Duration

	mu        sync.Mutex
	appID     string
	appSecret string
	serial    string

	// unit details fetched once from getEssList
	unitLoaded   bool
	inverterMaxW float64
	capacityKWH  float64
}

func newAlphaESS() *AlphaESS {
	return &AlphaESS{
		client:  common.HTTPClient(time.Minute),
		baseURL: defaultAlphaESSURL,
		// the API rate-limits aggressively, so space out consecutive calls
		requestDelay: time.Second,
	}
}

// ApplyCredentials sets the app credentials and the serial of the unit to
// read.
func (a *AlphaESS) ApplyCredentials(ctx context.Context, creds types.AlphaESSCredentials) error {
	if creds.AppID == "" || creds.AppSecret == "" {
		return errors.New("missing alphaess app credentials")
	}
	if creds.Serial == "" {
		return errors.New("missing alphaess unit serial")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.appID = creds.AppID
	a.appSecret = creds.AppSecret
	a.serial = creds.Serial
	a.unitLoaded = false
	return nil
}

// sign computes the request signature for the given timestamp. Must be
// called with a.mu held.
func (a *AlphaESS) sign(ts string) string {
	sum := sha512.Sum512([]byte(a.appID + a.appSecret + ts))
	return hex.EncodeToString(sum[:])
}

type alphaResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// doRequest performs one signed GET against the Open API. Must be called
// with a.mu held.
func (a *AlphaESS) doRequest(ctx context.Context, endpoint string, params url.Values, dest interface{}) error {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return err
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("appId", a.appID)
	req.Header.Set("timeStamp", ts)
	req.Header.Set("sign", a.sign(ts))

	resp, err := a.client.Do(req)
	if err != nil {
		return &types.TransportError{System: "alphaess", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &types.TransportError{System: "alphaess", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 {
			return &types.TransportError{System: "alphaess", Err: err}
		}
		return err
	}

	var ar alphaResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode alphaess response", slog.Any("error", err), slog.String("body", string(body)))
		return fmt.Errorf("failed to decode alphaess response: %w", err)
	}

	if ar.Code != 200 {
		err := fmt.Errorf("alphaess api error %d: %s", ar.Code, ar.Msg)
		// 6001 timestamp error, 6002 bad signature, 6005 appId not bound to
		// this unit: all mean our credentials are wrong
		switch ar.Code {
		case 6001, 6002, 6005:
			return &types.AuthError{System: "alphaess", Err: err}
		}
		return err
	}

	if dest != nil && len(ar.Data) > 0 {
		if err := json.Unmarshal(ar.Data, dest); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to decode alphaess data", slog.Any("error", err))
			return fmt.Errorf("failed to decode alphaess data: %w", err)
		}
	}
	return nil
}

// delay sleeps between consecutive API calls within one run. Must be called
// with a.mu held.
func (a *AlphaESS) delay(ctx context.Context) error {
	if a.requestDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(a.requestDelay):
		return nil
	}
}

type essUnit struct {
	Serial          string  `json:"sysSn"`
	InverterRatedKW float64 `json:"poinv"`
	BatteryKWH      float64 `json:"cobat"`
	InverterModel   string  `json:"minv"`
	BatteryModel    string  `json:"mbat"`
}

// loadUnit resolves the configured serial against the account's unit list
// and records the inverter rating and battery capacity. Must be called with
// a.mu held.
func (a *AlphaESS) loadUnit(ctx context.Context) error {
	var units []essUnit
	if err := a.doRequest(ctx, "getEssList", nil, &units); err != nil {
		return err
	}

	for _, u := range units {
		if u.Serial != a.serial {
			continue
		}
		a.inverterMaxW = u.InverterRatedKW * 1000
		a.capacityKWH = u.BatteryKWH
		a.unitLoaded = true
		log.Ctx(ctx).DebugContext(ctx, "selected inverter unit",
			slog.String("serial", u.Serial),
			slog.String("inverterModel", u.InverterModel),
			slog.String("batteryModel", u.BatteryModel),
			slog.Float64("inverterMaxW", a.inverterMaxW),
			slog.Float64("batteryCapacityKWH", a.capacityKWH),
		)
		return nil
	}

	serials := make([]string, len(units))
	for i, u := range units {
		serials[i] = u.Serial
	}
	return fmt.Errorf("unit %s not found, account has: %s", a.serial, strings.Join(serials, ","))
}

type lastPowerData struct {
	SOC        float64 `json:"soc"`
	SolarW     float64 `json:"ppv"`
	LoadW      float64 `json:"pload"`
	BatteryW   float64 `json:"pbat"`
	GridDetail struct {
		MeterL1W float64 `json:"pmeterL1"`
		MeterL2W float64 `json:"pmeterL2"`
		MeterL3W float64 `json:"pmeterL3"`
	} `json:"pgridDetail"`
}

// PowerStatus returns the current power flow of the home energy system.
func (a *AlphaESS) PowerStatus(ctx context.Context) (types.PowerStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.appID == "" {
		return types.PowerStatus{}, errors.New("missing alphaess credentials")
	}

	if !a.unitLoaded {
		if err := a.loadUnit(ctx); err != nil {
			return types.PowerStatus{}, err
		}
		if err := a.delay(ctx); err != nil {
			return types.PowerStatus{}, err
		}
	}

	params := url.Values{}
	params.Set("sysSn", a.serial)

	var res lastPowerData
	if err := a.doRequest(ctx, "getLastPowerData", params, &res); err != nil {
		return types.PowerStatus{}, err
	}

	ps := types.PowerStatus{
		Timestamp:  time.Now(),
		BatterySOC: res.SOC,
		SolarW:     res.SolarW,
		LoadW:      res.LoadW,
		// pbat is positive while discharging, matching our convention
		BatteryW: res.BatteryW,
		// the meter reports positive while importing, per phase
		GridW:              res.GridDetail.MeterL1W + res.GridDetail.MeterL2W + res.GridDetail.MeterL3W,
		InverterMaxW:       a.inverterMaxW,
		BatteryCapacityKWH: a.capacityKWH,
	}

	log.Ctx(ctx).DebugContext(ctx, "inverter power status",
		slog.Float64("soc", ps.BatterySOC),
		slog.Float64("solarW", ps.SolarW),
		slog.Float64("loadW", ps.LoadW),
		slog.Float64("gridW", ps.GridW),
		slog.Float64("batteryW", ps.BatteryW),
	)

	return ps, nil
}
