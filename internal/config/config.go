package config

import (
	"os"
	"strconv"
)

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

type PayPalConfig struct {
	ClientID  string
	Secret    string
	BaseURL   string
	ReturnURL string
	CancelURL string
}

type Config struct {
	Env         string
	Port        int
	LogJSON     bool
	JWTSecret   string
	DatabaseDSN string
	CatalogURL  string
	SMSBaseURL  string
	SMSAPIKey   string
	VNPay       VNPayConfig
	PayPal      PayPalConfig
}

func Default() Config {
	return Config{
		Env:        "dev",
		Port:       5000,
		LogJSON:    true,
		CatalogURL: "http://127.0.0.1:8081",
		VNPay: VNPayConfig{
			PayURL:    "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
			ReturnURL: "http://localhost:3000/payments/vnpay/return",
		},
		PayPal: PayPalConfig{
			BaseURL:   "https://api.sandbox.paypal.com",
			ReturnURL: "http://localhost:3000/payments/paypal/return",
			CancelURL: "http://localhost:3000/payments/paypal/cancel",
		},
	}
}

func EnvDefaults() Config {
	return fromEnv(Default())
}

func fromEnv(c Config) Config {
	if v := os.Getenv("SHOPVN_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("SHOPVN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("SHOPVN_LOG_JSON"); v != "" {
		switch v {
		case "1", "true", "TRUE":
			c.LogJSON = true
		case "0", "false", "FALSE":
			c.LogJSON = false
		}
	}
	if v := os.Getenv("SHOPVN_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("SHOPVN_DATABASE_DSN"); v != "" {
		c.DatabaseDSN = v
	}
	if v := os.Getenv("SHOPVN_CATALOG_URL"); v != "" {
		c.CatalogURL = v
	}
	if v := os.Getenv("SHOPVN_SMS_BASE_URL"); v != "" {
		c.SMSBaseURL = v
	}
	if v := os.Getenv("SHOPVN_SMS_API_KEY"); v != "" {
		c.SMSAPIKey = v
	}
	if v := os.Getenv("SHOPVN_VNPAY_TMN_CODE"); v != "" {
		c.VNPay.TmnCode = v
	}
	if v := os.Getenv("SHOPVN_VNPAY_HASH_SECRET"); v != "" {
		c.VNPay.HashSecret = v
	}
	if v := os.Getenv("SHOPVN_VNPAY_PAY_URL"); v != "" {
		c.VNPay.PayURL = v
	}
	if v := os.Getenv("SHOPVN_VNPAY_RETURN_URL"); v != "" {
		c.VNPay.ReturnURL = v
	}
	if v := os.Getenv("SHOPVN_PAYPAL_CLIENT_ID"); v != "" {
		c.PayPal.ClientID = v
	}
	if v := os.Getenv("SHOPVN_PAYPAL_SECRET"); v != "" {
		c.PayPal.Secret = v
	}
	if v := os.Getenv("SHOPVN_PAYPAL_BASE_URL"); v != "" {
		c.PayPal.BaseURL = v
	}
	if v := os.Getenv("SHOPVN_PAYPAL_RETURN_URL"); v != "" {
		c.PayPal.ReturnURL = v
	}
	if v := os.Getenv("SHOPVN_PAYPAL_CANCEL_URL"); v != "" {
		c.PayPal.CancelURL = v
	}
	return c
}
