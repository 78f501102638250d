package symbols

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		exchange string
		in       string
		want     string
	}{
		{"bybit", "SHIB1000USDT", "SHIBUSDT"},
		{"bybit", "1000PEPEUSDT", "PEPEUSDT"},
		{"binance", "1000SHIBUSDT", "SHIBUSDT"},
		{"binance", "BTCUSDT", "BTCUSDT"},
		{"bybit", "ethusdt", "ETHUSDT"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.exchange, tc.in); got != tc.want {
			t.Errorf("Normalize(%s, %s) = %s, want %s", tc.exchange, tc.in, got, tc.want)
		}
	}
}

func TestToExchangeRoundTrip(t *testing.T) {
	for _, exchange := range []string{"bybit", "binance"} {
		for _, canonical := range []string{"SHIBUSDT", "PEPEUSDT", "BONKUSDT", "BTCUSDT"} {
			native := ToExchange(exchange, canonical)
			if got := Normalize(exchange, native); got != canonical {
				t.Errorf("%s: %s -> %s -> %s, want round trip", exchange, canonical, native, got)
			}
		}
	}
}
