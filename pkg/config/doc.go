// Package config loads clinicore configuration.
//
// # Sources
//
// Values are layered, later sources winning:
//
//  1. Built-in defaults (Default)
//  2. A .env file in the working directory, if present (github.com/joho/godotenv)
//  3. The YAML file named by CLINICORE_CONFIG_FILE, if set (gopkg.in/yaml.v3)
//  4. CLINICORE_* environment variables (github.com/caarlos0/env)
//
// The environment variable for a field is the prefix, the section and the
// field name, e.g. CLINICORE_AUTH_ACCESS_TTL or CLINICORE_STORAGE_POSTGRES_URL.
//
// # Example
//
//	server:
//	  port: "8080"
//	  health_port: "9090"
//	storage:
//	  type: postgres
//	  postgres_url: postgres://clinicore@db/clinicore?sslmode=disable
//	  redis_url: redis://cache:6379/0
//	tenancy:
//	  default_slug: demo
//	auth:
//	  access_ttl: 15m
//	  refresh_ttl: 168h
//	billing:
//	  sweep_schedule: "0 2 * * *"
//	  timezone: UTC
//
// The JWT secret has no default and should come from the environment
// (CLINICORE_AUTH_JWT_SECRET). Validate rejects secrets shorter than 32 bytes.
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
package config
