package tax

import "testing"

func TestRoundHalfAwayFromZero(t *testing.T) {
	cases := map[string]string{
		"1.005":   "1.01",
		"1.004":   "1.00",
		"2.675":   "2.68",
		"-1.005":  "-1.01",
		"-2.675":  "-2.68",
		"8.875":   "8.88",
		"0.125":   "0.13",
		"100":     "100.00",
		"45.8287": "45.83",
	}
	for in, want := range cases {
		if got := Round(d(in)); got.StringFixed(2) != want {
			t.Fatalf("round(%s): expected %s, got %s", in, want, got.StringFixed(2))
		}
	}
}

func TestPercentOfRoundsOnce(t *testing.T) {
	cases := []struct {
		base, rate, want string
	}{
		{"0.00499999999999999999", "100", "0.00"},
		{"0.005", "100", "0.01"},
		{"1000", "140", "1400.00"},
		{"0.3333333333333333333333", "18", "0.06"},
	}
	for _, tc := range cases {
		if got := percentOf(d(tc.base), d(tc.rate)); got.StringFixed(2) != tc.want {
			t.Fatalf("percentOf(%s, %s): expected %s, got %s", tc.base, tc.rate, tc.want, got.StringFixed(2))
		}
	}
}

func TestComputeItemIPIOnTinyNetValue(t *testing.T) {
	res, err := ComputeItem(LineItem{NetValue: d("0.00499999999999999999"), IPIRatePercent: d("100")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IPI.StringFixed(2) != "0.00" {
		t.Fatalf("expected ipi 0.00, got %s", res.IPI.StringFixed(2))
	}
}
