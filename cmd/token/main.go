// Command token signs a bearer token for local testing of the booking API.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"studiobook/internal/auth"
	"studiobook/internal/config"
	"studiobook/internal/models"
)

func main() {
	var (
		userID = flag.String("sub", "", "user id (required)")
		name   = flag.String("name", "", "display name")
		email  = flag.String("email", "", "email")
		role   = flag.String("role", "", "role, e.g. admin")
		ttl    = flag.Duration("ttl", 24*time.Hour, "token lifetime")
	)
	flag.Parse()

	if *userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	token, err := auth.NewVerifier(cfg.Auth).Issue(models.Identity{
		UserID:      *userID,
		DisplayName: *name,
		Email:       *email,
		Role:        *role,
	}, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(token)
}
