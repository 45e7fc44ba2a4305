// Command storefront-token mints a session token for local development.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fjod/storefront/internal/auth"
)

func main() {
	var (
		user   = flag.String("user", "", "user id to put in the token subject")
		secret = flag.String("secret", os.Getenv("STOREFRONT_SESSION_SECRET"), "HS256 secret")
		ttl    = flag.Duration("ttl", 24*time.Hour, "token lifetime")
	)
	flag.Parse()

	if *user == "" || *secret == "" {
		flag.Usage()
		os.Exit(2)
	}

	token, err := auth.Issue([]byte(*secret), *user, *ttl, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
