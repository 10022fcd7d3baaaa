package series

import (
	"errors"
	"math"
	"testing"
	"time"

	"cryptocrawler/internal/model"
)

func TestSMA(t *testing.T) {
	tests := []struct {
		name    string
		prices  []float64
		n       int
		want    float64
		wantErr error
	}{
		{"exact window", []float64{1, 2, 3}, 3, 2, nil},
		{"uses last n", []float64{100, 1, 2, 3, 4}, 4, 2.5, nil},
		{"window of one", []float64{5, 7}, 1, 7, nil},
		{"too few points", []float64{1, 2}, 3, 0, ErrInsufficientData},
		{"empty", nil, 1, 0, ErrInsufficientData},
		{"zero window", []float64{1}, 0, 0, ErrInvalidWindow},
		{"negative window", []float64{1}, -2, 0, ErrInvalidWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SMA(tt.prices, tt.n)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SMA() error = %v, want %v", err, tt.wantErr)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("SMA() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSeries_SMAUndefinedUntilWindowFull(t *testing.T) {
	const window = 10
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 15; i++ {
		s.Append(model.PricePoint{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Symbol:    "BTC",
			Price:     float64(i),
		})

		avg, err := s.SMA(window)
		if i < window {
			if !errors.Is(err, ErrInsufficientData) {
				t.Fatalf("after %d points: SMA() error = %v, want ErrInsufficientData", i, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("after %d points: SMA() unexpected error: %v", i, err)
		}

		// mean of (i-9 .. i)
		want := float64(i) - 4.5
		if math.Abs(avg-want) > 1e-9 {
			t.Errorf("after %d points: SMA() = %v, want %v", i, avg, want)
		}
	}

	if s.Len() != 15 {
		t.Errorf("Len() = %d, want 15", s.Len())
	}
}

func TestSeries_Last(t *testing.T) {
	s := New()
	if _, ok := s.Last(); ok {
		t.Fatal("Last() on empty series returned ok")
	}

	s.Append(model.PricePoint{Symbol: "BTC", Price: 1})
	s.Append(model.PricePoint{Symbol: "BTC", Price: 2})

	last, ok := s.Last()
	if !ok {
		t.Fatal("Last() returned !ok")
	}
	if last.Price != 2 {
		t.Errorf("Last().Price = %v, want 2", last.Price)
	}
}

func TestSeries_SMAWith(t *testing.T) {
	s := New()
	for _, p := range []float64{1, 2, 3} {
		s.Append(model.PricePoint{Symbol: "BTC", Price: p})
	}

	if _, err := s.SMAWith(4, 5); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("SMAWith(4, 5) error = %v, want ErrInsufficientData", err)
	}
	if _, err := s.SMAWith(4, 0); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("SMAWith(4, 0) error = %v, want ErrInvalidWindow", err)
	}

	got, err := s.SMAWith(4, 4)
	if err != nil || got != 2.5 {
		t.Errorf("SMAWith(4, 4) = %v, %v; want 2.5", got, err)
	}
	got, err = s.SMAWith(9, 1)
	if err != nil || got != 9 {
		t.Errorf("SMAWith(9, 1) = %v, %v; want 9", got, err)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d after SMAWith, want 3", s.Len())
	}
}
