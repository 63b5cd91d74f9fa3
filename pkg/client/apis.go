package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fibercal/fibercal/pkg/config"
	"github.com/fibercal/fibercal/pkg/events"
	"github.com/fibercal/fibercal/pkg/types"
)

func jsonBody(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func getJSON[T any](c *Client, path string, what string) (T, error) {
	var v T
	ret, err := c.Get(path)
	if err != nil {
		return v, pkgerrors.Wrapf(err, "failed to get %s", what)
	}
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return v, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return v, nil
}

func (c *Client) GetStatus() (*types.Status, error) {
	st, err := getJSON[types.Status](c, "/status", "status")
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	conf, err := getJSON[config.RawFileConfig](c, "/config", "config")
	if err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Client) SetMaxHeatingCurrent(v float64) (string, error) {
	return c.Put("/max-heating-current", strconv.FormatFloat(v, 'g', -1, 64))
}

func (c *Client) SetMaxSafeVoltage(v float64) (string, error) {
	return c.Put("/max-safe-voltage", strconv.FormatFloat(v, 'g', -1, 64))
}

func (c *Client) SetMaxSafeTemperature(v float64) (string, error) {
	return c.Put("/max-safe-temperature", strconv.FormatFloat(v, 'g', -1, 64))
}

// Lock locks the system and returns the key that guarded operations need
// until Unlock is called with it.
func (c *Client) Lock() (string, error) {
	ret, err := c.Post("/lock", "")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to lock the system")
	}
	var key string
	if err := json.Unmarshal([]byte(ret), &key); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal lock key")
	}
	return key, nil
}

func (c *Client) Unlock(key string) (string, error) {
	body, err := jsonBody(key)
	if err != nil {
		return "", err
	}
	return c.Post("/unlock", body)
}

func (c *Client) SetHeatingCurrent(current float64, key string) (string, error) {
	body, err := jsonBody(types.HeatingCurrentRequest{Current: current, Key: key})
	if err != nil {
		return "", err
	}
	return c.Put("/heating-current", body)
}

func (c *Client) SetTargetTemperature(temperature float64, key string) (string, error) {
	body, err := jsonBody(types.TargetTemperatureRequest{Temperature: temperature, Key: key})
	if err != nil {
		return "", err
	}
	return c.Put("/target-temperature", body)
}

func (c *Client) SetHeaterPosition(position float64, key string) (string, error) {
	body, err := jsonBody(types.HeaterPositionRequest{Position: position, Key: key})
	if err != nil {
		return "", err
	}
	return c.Put("/heater-position", body)
}

func (c *Client) Idle(key string) (string, error) {
	body, err := jsonBody(types.KeyedRequest{Key: key})
	if err != nil {
		return "", err
	}
	return c.Post("/idle", body)
}

// StartCalibration starts a calibration with the given heating currents. An
// empty slice means the daemon's configured default currents.
func (c *Client) StartCalibration(currents []float64) (string, error) {
	if currents == nil {
		currents = []float64{}
	}
	body, err := jsonBody(currents)
	if err != nil {
		return "", err
	}
	return c.Post("/calibration", body)
}

func (c *Client) AbortCalibration() (string, error) {
	return c.Delete("/calibration")
}

func (c *Client) GetCalibrationProgress() (float64, error) {
	return getJSON[float64](c, "/calibration/progress", "calibration progress")
}

func (c *Client) GetExtendedProgress() (*types.ExtendedProgress, error) {
	ep, err := getJSON[types.ExtendedProgress](c, "/calibration/extended-progress", "extended progress")
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// ReportTemperature answers a pending temperature request of the running
// calibration.
func (c *Client) ReportTemperature(temperature float64) (string, error) {
	return c.Post("/calibration/temperature", strconv.FormatFloat(temperature, 'g', -1, 64))
}

func (c *Client) GetSchedule() (*types.Schedule, error) {
	s, err := getJSON[types.Schedule](c, "/calibration/schedule", "calibration schedule")
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SetSchedule sets the calibration cron expression. An empty expression
// disables scheduled calibrations.
func (c *Client) SetSchedule(cronExpr string) (string, error) {
	body, err := jsonBody(cronExpr)
	if err != nil {
		return "", err
	}
	return c.Put("/calibration/schedule", body)
}

func (c *Client) PostponeCalibration(d time.Duration) (string, error) {
	body, err := jsonBody(d.String())
	if err != nil {
		return "", err
	}
	return c.Post("/calibration/postpone", body)
}

func (c *Client) SkipCalibration() (string, error) {
	return c.Post("/calibration/skip", "{}")
}

func (c *Client) GetCalibrationData() ([]types.Measurement, error) {
	return getJSON[[]types.Measurement](c, "/calibration-data", "calibration data")
}

func (c *Client) SaveCalibrationData(path string) (string, error) {
	body, err := jsonBody(types.DataFileRequest{Path: path})
	if err != nil {
		return "", err
	}
	return c.Post("/calibration-data/save", body)
}

func (c *Client) LoadCalibrationData(path string) (string, error) {
	body, err := jsonBody(types.DataFileRequest{Path: path})
	if err != nil {
		return "", err
	}
	return c.Post("/calibration-data/load", body)
}

func (c *Client) PerformMagicCalibration() (string, error) {
	return c.Post("/magic-calibration", "")
}

func (c *Client) GetSpeedFactor() (float64, error) {
	return getJSON[float64](c, "/speed-factor", "speed factor")
}

func (c *Client) SetSpeedFactor(factor float64) (string, error) {
	return c.Put("/speed-factor", strconv.FormatFloat(factor, 'g', -1, 64))
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	var v string
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal version")
	}
	return v, nil
}

// Events subscribes to the daemon's SSE stream. Messages arrive on the
// returned channel until ctx is cancelled or the connection drops; then the
// channel is closed.
func (c *Client) Events(ctx context.Context) (<-chan events.Message, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", "http://unix/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to subscribe to events")
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, pkgerrors.Errorf("got %d from event stream", resp.StatusCode)
	}

	ch := make(chan events.Message, 16)
	go func() {
		defer close(ch)
		defer func() {
			if err := resp.Body.Close(); err != nil {
				logrus.Errorf("failed to close event stream: %v", err)
			}
		}()

		var name string
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if name == "" {
					continue
				}
				msg := events.Message{Name: name, Data: json.RawMessage(data)}
				select {
				case ch <- msg:
				case <-ctx.Done():
					return
				}
			case line == "":
				name = ""
			}
		}
	}()

	return ch, nil
}
