package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/phangiadaiwork/shopvn-backend/internal/config"
	"github.com/phangiadaiwork/shopvn-backend/internal/env"
	"github.com/phangiadaiwork/shopvn-backend/internal/infrastructure/catalog"
	"github.com/phangiadaiwork/shopvn-backend/internal/infrastructure/paypal"
	"github.com/phangiadaiwork/shopvn-backend/internal/infrastructure/repo"
	"github.com/phangiadaiwork/shopvn-backend/internal/infrastructure/sms"
	"github.com/phangiadaiwork/shopvn-backend/internal/infrastructure/vnpay"
	"github.com/phangiadaiwork/shopvn-backend/internal/otp"
	"github.com/phangiadaiwork/shopvn-backend/internal/server"
	"github.com/phangiadaiwork/shopvn-backend/internal/usecase"
)

type repos interface {
	usecase.OrderRepo
	usecase.PaymentRepo
	usecase.UserRepo
	usecase.CartRepo
}

func main() {
	env.Load(".env", ".env.local")
	defaults := config.EnvDefaults()

	envName := flag.String("env", defaults.Env, "")
	port := flag.Int("port", defaults.Port, "")
	jwtSecret := flag.String("jwt-secret", defaults.JWTSecret, "")
	dsn := flag.String("database-dsn", defaults.DatabaseDSN, "")
	logJSON := flag.Bool("log-json", defaults.LogJSON, "")
	flag.Parse()

	cfg := defaults
	cfg.Env = *envName
	cfg.Port = *port
	cfg.JWTSecret = *jwtSecret
	cfg.DatabaseDSN = *dsn
	cfg.LogJSON = *logJSON

	log := newLogger(cfg.LogJSON)

	if cfg.JWTSecret == "" {
		log.Error("SHOPVN_JWT_SECRET is required")
		os.Exit(1)
	}

	var store repos
	if cfg.DatabaseDSN != "" {
		pg, err := repo.NewPostgresRepo(cfg.DatabaseDSN)
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		store = pg
	} else {
		log.Warn("no database configured, using in-memory store")
		store = repo.NewMemoryRepo()
	}

	vnpayClient, err := vnpay.NewClient(cfg.VNPay.TmnCode, cfg.VNPay.HashSecret, cfg.VNPay.PayURL, cfg.VNPay.ReturnURL)
	if err != nil {
		log.Error("vnpay config", "err", err)
		os.Exit(1)
	}
	paypalClient, err := paypal.NewClient(cfg.PayPal.ClientID, cfg.PayPal.Secret, cfg.PayPal.BaseURL, cfg.PayPal.ReturnURL, cfg.PayPal.CancelURL)
	if err != nil {
		log.Error("paypal config", "err", err)
		os.Exit(1)
	}

	var sender usecase.SMSSender
	if cfg.SMSBaseURL != "" {
		sender = &sms.HTTPSender{BaseURL: cfg.SMSBaseURL, APIKey: cfg.SMSAPIKey}
	} else {
		sender = &sms.LogSender{Log: log}
	}

	products := &catalog.Client{BaseURL: cfg.CatalogURL}
	cartSvc := &usecase.CartService{Repo: store, Catalog: products}
	orderSvc := &usecase.OrderService{Repo: store, Catalog: products, Log: log}
	paymentSvc := &usecase.PaymentService{
		Orders: store,
		Ledger: store,
		Cart:   cartSvc,
		VNPay:  vnpayClient,
		PayPal: paypalClient,
		Log:    log,
	}
	authSvc := &usecase.AuthService{
		Repo:      store,
		OTP:       otp.NewMemoryStore(),
		SMS:       sender,
		JWTSecret: cfg.JWTSecret,
		Log:       log,
	}

	srv := server.New(cfg, authSvc, orderSvc, paymentSvc, cartSvc, log)
	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info("listening", "addr", addr, "env", cfg.Env)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func newLogger(jsonOut bool) *slog.Logger {
	if jsonOut {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}
