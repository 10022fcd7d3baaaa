package series

import (
	"errors"

	"cryptocrawler/internal/model"
)

var (
	// ErrInvalidWindow is returned for a non-positive window size.
	ErrInvalidWindow = errors.New("window must be positive")
	// ErrInsufficientData is returned when fewer points than the window exist.
	ErrInsufficientData = errors.New("not enough data for SMA calculation")
)

// SMA computes the simple moving average of the last n prices.
func SMA(prices []float64, n int) (float64, error) {
	if n <= 0 {
		return 0, ErrInvalidWindow
	}
	if len(prices) < n {
		return 0, ErrInsufficientData
	}
	sum := 0.0
	for i := len(prices) - n; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(n), nil
}

// Series is an append-only, ordered sequence of price points. It is not
// safe for concurrent use.
type Series struct {
	points []model.PricePoint
	prices []float64
}

// New returns an empty series.
func New() *Series {
	return &Series{}
}

// Append adds a point at the end of the series.
func (s *Series) Append(p model.PricePoint) {
	s.points = append(s.points, p)
	s.prices = append(s.prices, p.Price)
}

// Len returns the number of points recorded.
func (s *Series) Len() int {
	return len(s.points)
}

// Last returns the most recent point, if any.
func (s *Series) Last() (model.PricePoint, bool) {
	if len(s.points) == 0 {
		return model.PricePoint{}, false
	}
	return s.points[len(s.points)-1], true
}

// SMA returns the mean of the last n prices.
func (s *Series) SMA(n int) (float64, error) {
	return SMA(s.prices, n)
}

// SMAWith returns the mean of the last n prices as if price had been
// appended. The series is not modified.
func (s *Series) SMAWith(price float64, n int) (float64, error) {
	if n <= 0 {
		return 0, ErrInvalidWindow
	}
	if len(s.prices)+1 < n {
		return 0, ErrInsufficientData
	}
	sum := price
	for i := len(s.prices) - n + 1; i < len(s.prices); i++ {
		sum += s.prices[i]
	}
	return sum / float64(n), nil
}
