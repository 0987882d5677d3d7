package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/sashabaranov/go-openai/jsonschema"
)

const (
	minTemperature = 32
	maxTemperature = 90
)

type WeatherResult struct {
	Location    string `json:"location"`
	Temperature int    `json:"temperature"`
}

// Weather is a mock weather lookup. It performs no I/O and reports a random
// Fahrenheit temperature.
type Weather struct {
	intN func(n int) int
}

func NewWeather() *Weather {
	return &Weather{intN: rand.IntN}
}

func (w *Weather) Name() string { return "weather" }
func (w *Weather) Description() string {
	return "Get the weather in a location (fahrenheit)"
}

func (w *Weather) InputSchema() jsonschema.Definition {
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"location": {
				Type:        jsonschema.String,
				Description: "The location to get the weather for",
			},
		},
		Required:             []string{"location"},
		AdditionalProperties: false,
	}
}

func (w *Weather) Execute(ctx context.Context, input json.RawMessage) (any, error) {
	var args struct {
		Location string `json:"location"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("parsing weather input: %w", err)
	}

	intN := w.intN
	if intN == nil {
		intN = rand.IntN
	}
	temp := minTemperature + intN(maxTemperature-minTemperature+1)

	slog.Debug("weather: lookup", "location", args.Location, "temperature", temp)
	return WeatherResult{Location: args.Location, Temperature: temp}, nil
}
