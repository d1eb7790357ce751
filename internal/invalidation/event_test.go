package invalidation

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate_BBoxHappyPath(t *testing.T) {
	ev := Event{
		Version: 3, Pollutant: "pm25", TS: mustTS(),
		BBox: &BBox{MinLat: 29.5, MaxLat: 30, MinLon: -95.6, MaxLon: -95.4},
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestEvent_Validate_WholeLayer(t *testing.T) {
	ev := Event{Version: 1, Pollutant: "aqi", TS: mustTS()}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestEvent_Validate_AntimeridianAllowed(t *testing.T) {
	ev := Event{
		Version: 1, Pollutant: "aqi", TS: mustTS(),
		BBox: &BBox{MinLat: -10, MaxLat: 10, MinLon: 179, MaxLon: -179},
	}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestEvent_Validate_Rejects(t *testing.T) {
	base := func() Event {
		return Event{Version: 1, Pollutant: "aqi", TS: mustTS(),
			BBox: &BBox{MinLat: 1, MaxLat: 2, MinLon: 1, MaxLon: 2}}
	}
	cases := map[string]func(*Event){
		"no version":     func(e *Event) { e.Version = 0 },
		"no pollutant":   func(e *Event) { e.Pollutant = " " },
		"no ts":          func(e *Event) { e.TS = time.Time{} },
		"inverted lat":   func(e *Event) { e.BBox.MinLat, e.BBox.MaxLat = 2, 1 },
		"lon range":      func(e *Event) { e.BBox.MaxLon = 181 },
		"zero width":     func(e *Event) { e.BBox.MaxLon = 1 },
		"nan":            func(e *Event) { e.BBox.MinLat = math.NaN() },
		"lat over poles": func(e *Event) { e.BBox.MaxLat = 91 },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			ev := base()
			mut(&ev)
			if err := ev.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEvent_DecodesWireFormat(t *testing.T) {
	raw := `{"version":7,"pollutant":"o3","ts":"2025-10-26T12:30:45Z","bbox":{"min_lat":1,"max_lat":2,"min_lon":3,"max_lon":4}}`
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Version != 7 || ev.BBox == nil || ev.BBox.Model().East != 4 || ev.BBox.Model().North != 2 {
		t.Fatalf("decoded %+v", ev)
	}
}
