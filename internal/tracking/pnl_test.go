package tracking

import "testing"

func TestReturnPct(t *testing.T) {
	tests := []struct {
		name string
		t0   float64
		p    float64
		want float64
	}{
		{"flat", 1850, 1850, 0},
		{"scenario gain", 1850, 1925, 4.05},
		{"loss", 100, 97.5, -2.5},
		{"rounding", 3, 4, 33.33},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReturnPct(tt.t0, tt.p); got != tt.want {
				t.Errorf("ReturnPct(%v, %v) = %v, want %v", tt.t0, tt.p, got, tt.want)
			}
		})
	}
}

func TestBasketReturnPct(t *testing.T) {
	t0 := map[string]float64{"600519.SH": 1850, "000858.SZ": 150}

	tests := []struct {
		name   string
		prices map[string]float64
		want   float64
	}{
		{
			name:   "single direction",
			prices: map[string]float64{"600519.SH": 1925, "000858.SZ": 156},
			want:   4.03, // (4.054 + 4.0) / 2 rounded
		},
		{
			name:   "mixed moves",
			prices: map[string]float64{"600519.SH": 1850, "000858.SZ": 147},
			want:   -1.0,
		},
		{
			name:   "missing ticker skipped",
			prices: map[string]float64{"600519.SH": 1925},
			want:   4.05,
		},
		{
			name:   "no overlap",
			prices: map[string]float64{"601318.SH": 55},
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BasketReturnPct(t0, tt.prices); got != tt.want {
				t.Errorf("BasketReturnPct() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUpdateDrawdown(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		ret     float64
		want    float64
	}{
		{"first negative", 0, -2.5, -2.5},
		{"deeper", -2.5, -4.1, -4.1},
		{"recovery keeps floor", -4.1, 1.2, -4.1},
		{"positive never recorded", 0, 3.0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UpdateDrawdown(tt.current, tt.ret); got != tt.want {
				t.Errorf("UpdateDrawdown(%v, %v) = %v, want %v", tt.current, tt.ret, got, tt.want)
			}
		})
	}
}
