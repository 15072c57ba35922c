package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/adapt-security/adapt-authoring-api"
	"github.com/adapt-security/adapt-authoring-api/auth"
	"github.com/adapt-security/adapt-authoring-api/db"
	"github.com/adapt-security/adapt-authoring-api/resource"
	"github.com/adapt-security/adapt-authoring-api/rest/route"
	"github.com/adapt-security/adapt-authoring-api/schema"
	"github.com/gorilla/mux"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/send"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

const (
	confFlagName  = "conf"
	levelFlagName = "level"
)

func main() {
	grip.EmergencyFatal(buildApp().Run(os.Args))
}

func buildApp() *cli.App {
	app := cli.NewApp()
	app.Name = "apiserver"
	app.Usage = "serve document collections as a REST API"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  levelFlagName,
			Value: "info",
			Usage: "lowest visible log level: 'emergency|alert|critical|error|warning|notice|info|debug|trace'",
		},
		cli.StringFlag{
			Name:  confFlagName + ", config, c",
			Usage: "path to the yaml settings file",
			Value: "apiserver.yml",
		},
	}
	app.Before = func(c *cli.Context) error {
		return loggingSetup(app.Name, c.String(levelFlagName))
	}
	app.Action = serve

	return app
}

func loggingSetup(name, l string) error {
	if err := grip.SetSender(send.MakeErrorLogger()); err != nil {
		return err
	}
	grip.SetName(name)

	sender := grip.GetSender()
	info := sender.Level()
	info.Threshold = level.FromString(l)

	return sender.SetLevel(info)
}

// buildEngine collects the inline field definitions into a schema engine.
// Resources without fields skip validation entirely.
func buildEngine(settings *api.Settings) *schema.MemoryEngine {
	schemas := []*schema.MemorySchema{}
	for _, rs := range settings.Resources {
		if len(rs.Fields) == 0 {
			continue
		}
		schemas = append(schemas, &schema.MemorySchema{
			SchemaName: rs.Schema,
			Fields:     rs.Fields,
		})
	}
	return schema.NewMemoryEngine(schemas...)
}

func serve(c *cli.Context) error {
	settings, err := api.LoadSettings(c.String(confFlagName))
	if err != nil {
		return errors.Wrap(err, "loading settings")
	}
	if len(settings.Resources) == 0 {
		return api.NewConfigurationError("no resources configured, nothing to serve")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := db.NewMongoStore(ctx, settings.MongoURI, settings.Database)
	if err != nil {
		return errors.Wrap(err, "connecting to the document store")
	}
	defer func() {
		grip.Error(errors.Wrap(store.Close(ctx), "closing the document store"))
	}()

	router := mux.NewRouter()
	registry := auth.NewMemoryRegistry()
	engine := buildEngine(settings)
	for _, rs := range settings.Resources {
		module := resource.NewModule(store, engine, resource.Config{
			Collection:    rs.Collection,
			SchemaName:    rs.Schema,
			CacheEnabled:  settings.CacheEnabled,
			CacheLifespan: settings.CacheLifespan(),
		})
		table, err := route.NewTable(module, settings, route.TableOptions{Root: rs.Root})
		if err != nil {
			return errors.Wrapf(err, "building routes for resource '%s'", rs.Root)
		}
		table.Attach(router, registry)
		grip.Info(message.Fields{
			"message":    "mounted resource",
			"root":       rs.Root,
			"collection": rs.Collection,
		})
	}

	srv := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 30 * time.Second,
	}

	exit := make(chan error, 1)
	go func() {
		exit <- srv.ListenAndServe()
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	grip.Info(message.Fields{
		"message": "api server listening",
		"addr":    settings.ListenAddr,
		"prefix":  settings.APIPrefix,
	})

	select {
	case err := <-exit:
		return errors.Wrap(err, "running api server")
	case sig := <-interrupt:
		grip.Infof("received %s, shutting down", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return errors.Wrap(srv.Shutdown(shutdownCtx), "shutting down api server")
	}
}
