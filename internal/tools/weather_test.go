package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func TestWeatherTemperatureRange(t *testing.T) {
	w := NewWeather()
	seen := make(map[int]bool)
	for i := 0; i < 2000; i++ {
		out, err := w.Execute(context.Background(), json.RawMessage(`{"location":"Boston"}`))
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		res := out.(WeatherResult)
		if res.Temperature < 32 || res.Temperature > 90 {
			t.Fatalf("temperature %d outside [32, 90]", res.Temperature)
		}
		seen[res.Temperature] = true
	}
	if len(seen) < 10 {
		t.Errorf("only %d distinct temperatures in 2000 calls", len(seen))
	}
}

func TestWeatherBounds(t *testing.T) {
	tests := []struct {
		name string
		intN func(int) int
		want int
	}{
		{"lowest", func(int) int { return 0 }, 32},
		{"highest", func(n int) int { return n - 1 }, 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Weather{intN: tt.intN}
			out, err := w.Execute(context.Background(), json.RawMessage(`{"location":"x"}`))
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if got := out.(WeatherResult).Temperature; got != tt.want {
				t.Errorf("temperature = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWeatherEchoesLocation(t *testing.T) {
	locations := []string{"Boston", "", "São Paulo", "  spaced  ", `quote "marks"`, "東京"}
	w := NewWeather()
	for _, loc := range locations {
		input, _ := json.Marshal(map[string]string{"location": loc})
		out, err := w.Execute(context.Background(), input)
		if err != nil {
			t.Fatalf("Execute(%q) error = %v", loc, err)
		}

		b, _ := json.Marshal(out)
		var decoded map[string]any
		if err := json.Unmarshal(b, &decoded); err != nil {
			t.Fatalf("result is not JSON: %v", err)
		}
		if decoded["location"] != loc {
			t.Errorf("location = %q, want %q", decoded["location"], loc)
		}
		if len(decoded) != 2 {
			t.Errorf("result has fields %v, want location and temperature", decoded)
		}
	}
}

func TestWeatherSchema(t *testing.T) {
	b, err := json.Marshal(NewWeather().InputSchema())
	if err != nil {
		t.Fatal(err)
	}
	var schema struct {
		Type                 string                    `json:"type"`
		Properties           map[string]map[string]any `json:"properties"`
		Required             []string                  `json:"required"`
		AdditionalProperties bool                      `json:"additionalProperties"`
	}
	if err := json.Unmarshal(b, &schema); err != nil {
		t.Fatal(err)
	}
	if schema.Type != "object" || schema.Properties["location"]["type"] != "string" {
		t.Errorf("schema = %s", b)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "location" {
		t.Errorf("required = %v", schema.Required)
	}
}
