package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// ExternalPackage is the registry package of tools backed by outside
// services.
const ExternalPackage = "external"

// WeatherArgs selects a city.
type WeatherArgs struct {
	City string `json:"city" jsonschema:"The name of the city, e.g. 'Tokyo' or 'New York'."`
}

type weatherResponse struct {
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
}

// Weather reports current conditions from the OpenWeather API. It is
// built only when an api key and a base URL are configured.
var Weather = Func("weather", func(c Context) (*Tool, error) {
	ws, ok := c.Config.Weather()
	if !ok {
		return nil, nil
	}
	client := c.httpClient()
	endpoint := strings.TrimSuffix(ws.BaseURL, "/") + "/data/2.5/weather"
	return New("get_current_weather", "Get the current weather conditions for a specific city.",
		func(ctx context.Context, a WeatherArgs) (any, error) {
			if a.City == "" {
				return nil, errors.New("weather: empty city")
			}
			ctx, cancel := context.WithTimeout(ctx, ws.Timeout)
			defer cancel()

			q := url.Values{"q": {a.City}, "appid": {ws.APIKey}, "units": {"metric"}}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
			if err != nil {
				return nil, err
			}
			resp, err := client.Do(req)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return nil, fmt.Errorf("weather: service too slow: %w", err)
				}
				return nil, fmt.Errorf("weather: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("weather: %s", resp.Status)
			}
			var wr weatherResponse
			if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
				return nil, fmt.Errorf("weather: decode: %w", err)
			}
			if len(wr.Weather) == 0 {
				return nil, errors.New("weather: no conditions in response")
			}
			temp := strconv.FormatFloat(wr.Main.Temp, 'f', -1, 64)
			return fmt.Sprintf("The weather in %s is %s, %s°C.", a.City, wr.Weather[0].Description, temp), nil
		})
})

// AddExternal registers the tools backed by outside services.
func AddExternal(r *Registry) {
	r.Add(ExternalPackage, Weather)
}
