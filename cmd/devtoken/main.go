// cmd/devtoken/main.go mints bearer tokens for local testing against a server
// started with JWT_PRIVATE_KEY_PATH / JWT_PUBLIC_KEY_PATH.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jason-s-yu/voicebattle/internal/auth"
	"github.com/jason-s-yu/voicebattle/internal/config"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := config.Load()

	keygen := flag.Bool("keygen", false, "write a fresh key pair to the configured key paths and exit")
	user := flag.String("user", "", "user id to put in sub (random when empty)")
	flag.Parse()

	if cfg.JWTPrivateKeyPath == "" || cfg.JWTPublicKeyPath == "" {
		logrus.Fatal("set JWT_PRIVATE_KEY_PATH and JWT_PUBLIC_KEY_PATH")
	}

	if *keygen {
		keys, err := auth.GenerateKeys(cfg.TokenExpiry)
		if err != nil {
			logrus.Fatal(err)
		}
		if err := keys.Save(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath); err != nil {
			logrus.Fatal(err)
		}
		logrus.Infof("wrote %s and %s", cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath)
		return
	}

	keys, err := auth.LoadKeys(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.TokenExpiry)
	if err != nil {
		logrus.Fatal(err)
	}

	sub := *user
	if sub == "" {
		sub = uuid.NewString()
	} else if _, err := uuid.Parse(sub); err != nil {
		logrus.Fatalf("-user must be a uuid: %v", err)
	}

	token, err := keys.CreateJWT(sub)
	if err != nil {
		logrus.Fatal(err)
	}
	fmt.Fprintf(os.Stderr, "user %s\n", sub)
	fmt.Println(token)
}
