// Command plctoken prints a signed access token for the soft-PLC API.
//
//	OSP_JWT_SECRET=... plctoken -subject hmi-1 -role operator -ttl 720h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/KevinKickass/OpenSoftPLC/internal/auth"
	"github.com/KevinKickass/OpenSoftPLC/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("OSP_CONFIG"), "path to config.yaml")
	subject := flag.String("subject", "", "token subject, e.g. the client name")
	role := flag.String("role", string(auth.RoleOperator), "operator, technician or admin")
	ttl := flag.Duration("ttl", 0, "token lifetime (default: auth.access_token_ttl)")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "plctoken: -subject is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plctoken: %v\n", err)
		os.Exit(1)
	}

	if !cfg.Auth.IsProductionReady() {
		fmt.Fprintf(os.Stderr, "plctoken: warning: %s is unset or shorter than 32 bytes, using the development secret\n",
			cfg.Auth.JWTSecretEnv)
	}

	lifetime := cfg.Auth.AccessTokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}
	if lifetime <= 0 {
		lifetime = time.Hour
	}

	handler := auth.NewJWTHandler(cfg.Auth.GetJWTSecret(), lifetime)
	token, err := handler.GenerateAccessToken(*subject, auth.Role(*role))
	if err != nil {
		fmt.Fprintf(os.Stderr, "plctoken: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
