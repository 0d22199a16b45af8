// Package example is a small application exposed through the AJAX layer: a
// category and a taggable widget, plus an ad-hoc echo endpoint.
package example

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/R3E-Network/ajax_layer/internal/app/auth"
	"github.com/R3E-Network/ajax_layer/internal/app/endpoint"
	"github.com/R3E-Network/ajax_layer/internal/app/model"
	"github.com/R3E-Network/ajax_layer/internal/app/storage"
	"github.com/R3E-Network/ajax_layer/internal/platform/migrations"
)

// Name is the application name used in URLs.
const Name = "example"

// MigrationsTable records the schema version of the example tables.
const MigrationsTable = "example_schema_migrations"

var (
	Category = model.MustNew("Category", "example_category",
		model.Field{Name: "title", Kind: model.Char, MaxLength: 100},
	)

	Widget = func() *model.Model {
		m := model.MustNew("Widget", "example_widget",
			model.Field{Name: "category", Kind: model.ForeignKey, To: "Category", Null: true, Blank: true},
			model.Field{Name: "title", Kind: model.Char, MaxLength: 100},
			model.Field{Name: "description", Kind: model.Char, MaxLength: 200, Null: true, Blank: true},
			model.Field{Name: "active", Kind: model.Boolean, Default: true},
		)
		m.Taggable = true
		return m
	}()
)

// CategoryEndpoint exposes categories with the default permissions.
func CategoryEndpoint() *endpoint.ModelDefinition {
	return &endpoint.ModelDefinition{Model: Category}
}

// WidgetEndpoint exposes widgets; anyone may list them.
func WidgetEndpoint() *endpoint.ModelDefinition {
	return &endpoint.ModelDefinition{
		Model:      Widget,
		MaxPerPage: 100,
		CanList:    func(auth.User) bool { return true },
		Queryset:   func(*endpoint.Request) storage.Query { return storage.All(Widget) },
	}
}

// Echo returns the posted values to a logged in caller.
func Echo(r *endpoint.Request) (any, error) {
	return r.Values(), nil
}

// Register declares the models, endpoints and the example application on site.
func Register(site *endpoint.Site) error {
	for _, m := range []*model.Model{Category, Widget} {
		if err := site.Env.Models.Register(m); err != nil {
			return fmt.Errorf("register model %s: %w", m.Name, err)
		}
	}
	for _, def := range []endpoint.Definition{CategoryEndpoint(), WidgetEndpoint()} {
		if err := site.Endpoints.Register(def); err != nil {
			return err
		}
	}
	site.Application(Name).Handle("echo", endpoint.LoginRequired(Echo))
	return nil
}

//go:embed sql
var migrationsFS embed.FS

// Migrations returns the example schema for driver.
func Migrations(driver string) (fs.FS, string) {
	return migrationsFS, path.Join("sql", driver)
}

// Migrate creates the example tables.
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	fsys, dir := Migrations(driver)
	return migrations.Apply(ctx, db, driver, fsys, dir, MigrationsTable)
}
