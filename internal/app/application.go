// Package app wires stores, encoders, signals and the endpoint site into a
// single Application.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/ajax_layer/internal/app/auth"
	"github.com/R3E-Network/ajax_layer/internal/app/encoding"
	"github.com/R3E-Network/ajax_layer/internal/app/endpoint"
	"github.com/R3E-Network/ajax_layer/internal/app/model"
	"github.com/R3E-Network/ajax_layer/internal/app/signals"
	"github.com/R3E-Network/ajax_layer/internal/app/storage"
	"github.com/R3E-Network/ajax_layer/internal/app/storage/memory"
	"github.com/R3E-Network/ajax_layer/internal/config"
	"github.com/R3E-Network/ajax_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Records storage.RecordStore
	Tags    storage.TagStore
	Users   auth.UserStore
	Keys    auth.KeyStore
}

// Options are the site-wide endpoint settings.
type Options struct {
	// Authentication names the authenticator: "session" or "apikey".
	Authentication string
	MaxPerPage     int
	PKAttr         string
	Overrides      *config.EndpointOverrides
}

// Application is the assembled AJAX site.
type Application struct {
	log *logger.Logger

	Stores   Stores
	Models   *model.Registry
	Encoders *encoding.Registry
	Signals  *signals.Hub
	Site     *endpoint.Site
	Keys     *auth.Keys
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Records == nil {
		stores.Records = mem
	}
	if stores.Tags == nil {
		stores.Tags = mem
	}
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Keys == nil {
		stores.Keys = mem
	}

	authenticator, err := auth.Lookup(opts.Authentication, stores.Users, stores.Keys)
	if err != nil {
		return nil, fmt.Errorf("configure authentication: %w", err)
	}

	models := model.NewRegistry()
	encoders := encoding.NewRegistry(&encoding.Source{
		Models:  models,
		Records: stores.Records,
		Tags:    stores.Tags,
	}, opts.PKAttr)
	hub := signals.NewHub()

	env := &endpoint.Env{
		Models:     models,
		Records:    stores.Records,
		Tags:       stores.Tags,
		Encoders:   encoders,
		Signals:    hub,
		Auth:       authenticator,
		MaxPerPage: opts.MaxPerPage,
		PKAttr:     opts.PKAttr,
	}

	a := &Application{
		log:      log,
		Stores:   stores,
		Models:   models,
		Encoders: encoders,
		Signals:  hub,
		Site:     endpoint.NewSite(env, opts.Overrides),
		Keys:     auth.NewKeys(stores.Keys),
	}
	a.logSignals()
	return a, nil
}

// logSignals writes a debug line for every record change.
func (a *Application) logSignals() {
	for _, sig := range []*signals.Signal{a.Signals.Created, a.Signals.Updated, a.Signals.Deleted} {
		name := sig.Name()
		sig.Connect(func(ctx context.Context, ev signals.Event) {
			fields := logrus.Fields{"signal": name}
			if ev.Sender != nil {
				fields["model"] = ev.Sender.Name
			}
			if ev.Instance != nil {
				fields["pk"] = ev.Instance.PK
			}
			a.log.WithContext(ctx).WithFields(fields).Debug("record changed")
		})
	}
}

// Register runs fn against the site, typically an application's Register.
func (a *Application) Register(fn func(*endpoint.Site) error) error {
	return fn(a.Site)
}

// EnsureUser returns the user called username, creating an active one when
// it does not exist yet.
func (a *Application) EnsureUser(ctx context.Context, username string, staff bool) (auth.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return auth.Anonymous, fmt.Errorf("username is required")
	}
	u, err := a.Stores.Users.GetUserByUsername(ctx, username)
	if err == nil {
		return u, nil
	}
	if !storage.IsNotFound(err) {
		return auth.Anonymous, err
	}
	u, err = a.Stores.Users.CreateUser(ctx, auth.User{Username: username, Active: true, Staff: staff})
	if err != nil {
		return auth.Anonymous, err
	}
	a.log.WithField("username", username).Info("created user")
	return u, nil
}
