// Command token mints a bearer token for local testing of signed-in and
// admin routes.
//
//	go run ./cmd/token -role admin
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dukerupert/kaupa/internal"
	"github.com/dukerupert/kaupa/internal/domain"
	"github.com/dukerupert/kaupa/internal/middleware"
	"github.com/google/uuid"
)

func main() {
	var (
		userID = flag.String("user", "", "user id (default: random)")
		role   = flag.String("role", domain.RoleCustomer, "customer or admin")
		ttl    = flag.Duration("ttl", 24*time.Hour, "token lifetime")
	)
	flag.Parse()

	cfg, err := internal.NewConfig()
	if err != nil {
		log.Fatal(err)
	}

	if *role != domain.RoleCustomer && *role != domain.RoleAdmin {
		log.Fatalf("unknown role %q", *role)
	}

	id := uuid.New()
	if *userID != "" {
		if id, err = uuid.Parse(*userID); err != nil {
			log.Fatalf("invalid user id: %v", err)
		}
	}

	token, err := middleware.NewToken([]byte(cfg.Auth.JWTSecret), id, *role, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Fprintf(os.Stderr, "user_id=%s role=%s expires_in=%s\n", id, *role, *ttl)
	fmt.Println(token)
}
