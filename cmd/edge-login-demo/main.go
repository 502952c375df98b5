package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/kindlyrobotics/edge-login-core/internal/config"
	"github.com/kindlyrobotics/edge-login-core/internal/events"
	"github.com/kindlyrobotics/edge-login-core/internal/kit"
	"github.com/kindlyrobotics/edge-login-core/internal/otp"
	"github.com/kindlyrobotics/edge-login-core/internal/scrypt"
	"github.com/kindlyrobotics/edge-login-core/internal/stash"
	"github.com/kindlyrobotics/edge-login-core/internal/transport"
	"github.com/kindlyrobotics/edge-login-core/internal/voucher"
)

func main() {
	username := flag.String("username", "", "account username")
	password := flag.String("password", "", "account password")
	pin := flag.String("pin", "", "account PIN")
	otpCode := flag.String("otp", "", "one-time code or base32 secret")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	cfg := config.Load()

	bus := events.NewBus(16)
	store, err := stash.NewStore(cfg, bus)
	if err != nil {
		log.Fatalf("Failed to open stash store: %v", err)
	}
	mirror, err := stash.NewMirror(cfg)
	if err != nil {
		log.Fatalf("Failed to configure stash mirror: %v", err)
	}
	store.SetMirror(mirror)

	notifier, err := voucher.NewNotifier(cfg)
	if err != nil {
		log.Fatalf("Failed to configure voucher notifier: %v", err)
	}

	requestID := uuid.New()
	log.Printf("[Demo] request %s: %s", requestID, command)

	sess := &kit.Session{
		Fetch:             transport.NewClient(cfg.AuthServerURL, cfg.APIKey, cfg.RequestTimeout),
		Store:             store,
		Scrypt:            scrypt.NewQueue(nil),
		Vouchers:          notifier,
		DeviceDescription: cfg.DeviceDescription,
		ScryptTargetMs:    cfg.ScryptTargetMs,
	}

	ctx := context.Background()
	opts := kit.LoginOptions{Otp: *otpCode}

	switch command {
	case "create":
		need(*username != "", "create requires -username")
		tree, _, err := sess.CreateLogin(ctx, *username, kit.CreateOptions{
			Password: *password,
			Pin:      *pin,
		})
		fail(err)
		fmt.Printf("created account %q (loginId %s)\n", tree.Username, tree.LoginID)

	case "login":
		need(*username != "" && *password != "", "login requires -username and -password")
		tree, _, err := sess.PasswordLogin(ctx, *username, *password, opts)
		fail(err)
		fmt.Printf("logged in as %q, %d wallet key(s)\n", tree.Username, len(tree.KeyInfos))

	case "pin-login":
		need(*username != "" && *pin != "", "pin-login requires -username and -pin")
		tree, _, err := sess.Pin2Login(ctx, *username, *pin, opts)
		fail(err)
		fmt.Printf("logged in as %q via PIN\n", tree.Username)

	case "sync":
		need(*username != "" && *password != "", "sync requires -username and -password")
		tree, stashTree, err := sess.PasswordLogin(ctx, *username, *password, opts)
		fail(err)
		tree, _, err = sess.SyncLogin(ctx, tree, stashTree)
		fail(err)
		fmt.Printf("synced %q, %d child login(s)\n", tree.Username, len(tree.ChildTrees))

	case "enable-otp":
		need(*username != "" && *password != "", "enable-otp requires -username and -password")
		tree, stashTree, err := sess.PasswordLogin(ctx, *username, *password, opts)
		fail(err)
		secretBytes := make([]byte, 10)
		if _, err := rand.Read(secretBytes); err != nil {
			log.Fatalf("Failed to generate otp secret: %v", err)
		}
		secret := otp.GenerateSecret(secretBytes)
		_, _, err = sess.ApplyKit(ctx, tree, stashTree, kit.OtpKit(tree, secret, 86400))
		fail(err)
		fmt.Printf("two-factor enabled, secret: %s\n", secret)

	case "list":
		stashes, err := store.LoadStashes()
		fail(err)
		for _, s := range stashes {
			fmt.Printf("%s\t%s\tlast login %s\n", s.Username, s.LoginID, s.LastLogin.Format("2006-01-02 15:04"))
		}

	case "messages":
		stashes, err := store.LoadStashes()
		fail(err)
		ids := make([]string, 0, len(stashes))
		for _, s := range stashes {
			ids = append(ids, s.LoginID)
		}
		payload, err := sess.FetchMessages(ctx, ids)
		fail(err)
		out, _ := json.MarshalIndent(payload, "", "  ")
		fmt.Println(string(out))

	case "available":
		need(*username != "", "available requires -username")
		free, err := sess.UsernameAvailable(ctx, *username)
		fail(err)
		fmt.Printf("username %q available: %v\n", *username, free)

	default:
		usage()
		os.Exit(2)
	}

	drain(bus)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: edge-login-demo [flags] <create|login|pin-login|sync|enable-otp|list|messages|available>")
	flag.PrintDefaults()
}

func need(ok bool, msg string) {
	if !ok {
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(2)
	}
}

func fail(err error) {
	if err != nil {
		log.Fatalf("Command failed: %v", err)
	}
}

// drain prints any stash lifecycle events the run produced.
func drain(bus *events.Bus) {
	bus.Close()
	for e := range bus.Events() {
		log.Printf("[Demo] event %s for %q", e.Kind, e.Username)
	}
}
