// Package config loads application configuration from environment
// variables into typed structs.
//
// It combines github.com/joho/godotenv (optional .env files) with
// github.com/caarlos0/env (struct tag parsing) and caches each parsed
// struct by type, so every component sees one consistent configuration
// for the lifetime of the process.
//
// Define a struct with env tags:
//
//	type BillingConfig struct {
//		StripeSecretKey string `env:"STRIPE_SECRET_KEY,required"`
//		WebhookSecret   string `env:"BILLING_WEBHOOK_SECRET,required"`
//		CatalogPath     string `env:"PLAN_CATALOG_PATH" envDefault:"plans.yml"`
//	}
//
// Then load it at startup:
//
//	var cfg BillingConfig
//	config.MustLoad(&cfg)
//
// Load returns the cached copy on every call after the first. Sentinel
// errors (ErrParsingConfig, ErrNilPointer) compose with errors.Is for
// callers that want to distinguish failure modes.
package config
