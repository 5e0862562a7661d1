package cmd

import (
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/solatis/docsync/internal/connector"
	"github.com/solatis/docsync/internal/connector/sqltable"
	"github.com/solatis/docsync/internal/core/config"
	"github.com/solatis/docsync/internal/core/db"
	"github.com/solatis/docsync/internal/core/logging"
	"github.com/solatis/docsync/internal/engine"
	"github.com/solatis/docsync/internal/formula"
	"github.com/solatis/docsync/internal/ruleset"
)

// openers maps a connection driver to its Solution.
var openers = map[string]connector.Opener{
	"memory": func(conn ruleset.Connection) (connector.Solution, error) {
		return connector.LoadMemory(conn.URL)
	},
	"sqltable": func(conn ruleset.Connection) (connector.Solution, error) {
		return sqltable.Open(conn.URL)
	},
}

// app holds what every document command needs.
type app struct {
	cfg      *config.EngineConfig
	log      zerolog.Logger
	database *sqlx.DB
	store    *db.Store
	rules    *ruleset.RuleSet
	conns    *connector.Registry
	proc     *engine.Processor
}

// openDatabase resolves the database URL and opens it.
func openDatabase() (*sqlx.DB, error) {
	u, err := config.DatabaseURL(dbURL)
	if err != nil {
		return nil, err
	}
	database, err := db.Open(u)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// newApp loads config, logger, database, rule set and connectors. The
// caller must Close the returned app.
func newApp() (*app, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if rulesFile != "" {
		cfg.RulesFile = rulesFile
	}

	logger, err := logging.New(logLevel, logFormat, os.Stderr)
	if err != nil {
		return nil, err
	}

	rs, err := ruleset.Load(cfg.RulesFile)
	if err != nil {
		return nil, err
	}

	database, err := openDatabase()
	if err != nil {
		return nil, err
	}

	st, err := db.NewStore(database)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to load queries: %w", err)
	}

	reg, err := connector.BuildRegistry(rs, openers)
	if err != nil {
		database.Close()
		return nil, err
	}

	proc := engine.New(st, rs, reg, formula.NewEvaluator(), logger, engine.Options{
		MaxChildDepth: cfg.MaxChildDepth,
	})

	logger.Debug().
		Str("rules_file", cfg.RulesFile).
		Str("ruleset_etag", rs.ETag()).
		Int("rules", len(rs.Rules())).
		Msg("rule set loaded")

	return &app{
		cfg:      cfg,
		log:      logger,
		database: database,
		store:    st,
		rules:    rs,
		conns:    reg,
		proc:     proc,
	}, nil
}

func (a *app) Close() error {
	err := a.conns.Close()
	if dbErr := a.database.Close(); err == nil {
		err = dbErr
	}
	return err
}
