package download

import "testing"

func minutes(m float64) int64 {
	return int64(m * 60000)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		minutes float64
		want    int
	}{
		{0, 1},
		{0.5, 1},
		{1, 1},
		{1.1, 1},
		{1.5, 1},
		{1.9, 1},
		{2, 2},
		{2.5, 2},
		{2.9, 2},
		{3, 3},
		{3.1, 3},
		{3.9, 3},
		{4, 5},
		{4.5, 5},
		{5, 5},
		{5.2, 5},
		{6, 5},
		{7, 5},
		{9.9, 5},
		{10, 10},
		{10.2, 10},
		{14.83, 10},
		{15, 15},
		{16, 15},
		{19, 15},
		{20, 20},
		{25, 25},
		{28, 25},
		{31, 30},
	}

	for _, tt := range tests {
		if got := Normalize(minutes(tt.minutes)); got != tt.want {
			t.Errorf("Normalize(%v min) = %d, want %d", tt.minutes, got, tt.want)
		}
	}
}

func TestNormalizeUnitFiveUntouched(t *testing.T) {
	for _, m := range []int64{5, 15, 25, 35, 45} {
		if got := Normalize(m * 60000); got != int(m) {
			t.Errorf("Normalize(%d min) = %d, want %d", m, got, m)
		}
		// Seconds past the minute do not change the bucket.
		if got := Normalize(m*60000 + 59999); got != int(m) {
			t.Errorf("Normalize(%d min 59.999 s) = %d, want %d", m, got, m)
		}
	}
}

func TestNormalizeOneToTwoMinutes(t *testing.T) {
	for ms := int64(60000); ms < 120000; ms += 1000 {
		if got := Normalize(ms); got != 1 {
			t.Fatalf("Normalize(%d) = %d, want 1", ms, got)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for ms := int64(0); ms <= 60*60000; ms += 7919 {
		bucket := Normalize(ms)
		if again := Normalize(int64(bucket) * 60000); again != bucket {
			t.Fatalf("Normalize(%d) = %d but Normalize(%d min) = %d", ms, bucket, bucket, again)
		}
	}
}
