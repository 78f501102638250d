package symbols

import "strings"

// Normalize converts exchange-specific perpetual symbols to the
// canonical form used for state keys and feature partitions. Bybit and
// Binance mostly agree, but both rename thin-priced contracts with a
// 1000x multiplier.
func Normalize(exchange, sym string) string {
	switch strings.ToLower(exchange) {
	case "binance":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "1000SHIBUSDT":
			sym = "SHIBUSDT"
		}
	case "bybit":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "SHIB1000USDT":
			sym = "SHIBUSDT"
		}
	}
	return strings.ToUpper(sym)
}

// ToExchange is the inverse of Normalize: it maps a canonical symbol to
// the contract name an exchange expects in subscriptions and orders.
func ToExchange(exchange, sym string) string {
	switch strings.ToLower(exchange) {
	case "binance":
		switch sym {
		case "BONKUSDT":
			sym = "1000BONKUSDT"
		case "PEPEUSDT":
			sym = "1000PEPEUSDT"
		case "SHIBUSDT":
			sym = "1000SHIBUSDT"
		}
	case "bybit":
		switch sym {
		case "BONKUSDT":
			sym = "1000BONKUSDT"
		case "PEPEUSDT":
			sym = "1000PEPEUSDT"
		case "SHIBUSDT":
			sym = "SHIB1000USDT"
		}
	}
	return sym
}
