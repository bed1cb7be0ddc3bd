// Command token issues an access token for the chat client's login prompt.
// It signs with the same secret the client verifies with (-s or the JSON
// config), so it is meant for local setups and trusted operators.
//
//	token -user alice -ttl 12h
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/dmitrijs2005/groupchat/internal/backend/identity"
	"github.com/dmitrijs2005/groupchat/internal/client/config"
	"github.com/dmitrijs2005/groupchat/internal/flagx"
)

func main() {

	cfg := config.LoadConfig()

	if err := issue(os.Args[1:], []byte(cfg.SecretKey), os.Stdout); err != nil {
		log.Fatalf("%v", err)
	}

}

// issue parses -user and -ttl from args and writes a signed token to w.
func issue(args []string, secret []byte, w io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	user := fs.String("user", "", "user id the token is issued for")
	ttl := fs.Duration("ttl", 24*time.Hour, "token validity")

	if err := fs.Parse(flagx.FilterArgs(args, []string{"-user", "-ttl"})); err != nil {
		return err
	}
	if *ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", *ttl)
	}

	tok, err := identity.GenerateToken(*user, secret, *ttl)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(w, tok)
	return err
}
