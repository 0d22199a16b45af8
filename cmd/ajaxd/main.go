// Package main runs the AJAX layer server and its admin commands.
//
//	ajaxd [serve]            run the HTTP server
//	ajaxd token <username>   print a bearer token for username
//	ajaxd apikey <username>  create or reset the API key of username
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/ajax_layer/internal/app/runtime"
)

func main() {
	staff := flag.Bool("staff", false, "create missing users as staff (token, apikey)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [serve | token <username> | apikey <username>]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := runtime.NewApplication(ctx)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	args := flag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "serve":
		err = serve(ctx, application)
	case "token", "apikey":
		if len(args) != 2 {
			application.Close()
			flag.Usage()
			os.Exit(2)
		}
		err = issue(ctx, application, cmd, args[1], *staff)
		application.Close()
	default:
		application.Close()
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func serve(ctx context.Context, application *runtime.Application) error {
	runErr := application.Run(ctx)

	// Use a fresh context; ctx is already cancelled on signal.
	if err := application.Shutdown(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	return runErr
}

func issue(ctx context.Context, application *runtime.Application, cmd, username string, staff bool) error {
	// A user created in memory is gone when this command exits, so the
	// credential could never authenticate against a server.
	if err := application.CheckPersistent(); err != nil {
		return fmt.Errorf("%w; set DATABASE_DRIVER to postgres or sqlite", err)
	}
	user, err := application.App().EnsureUser(ctx, username, staff)
	if err != nil {
		return err
	}

	if cmd == "token" {
		tokens, err := application.Tokens()
		if err != nil {
			return err
		}
		token, err := tokens.Issue(user)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	}

	key, err := application.App().Keys.Create(ctx, user)
	if err != nil {
		return err
	}
	fmt.Printf("%s:%s\n", user.Username, key.Key)
	return nil
}
