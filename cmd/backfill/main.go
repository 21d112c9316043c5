package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/fortuna/rapm/internal/backfill"
	"github.com/fortuna/rapm/internal/cache"
	"github.com/fortuna/rapm/internal/config"
	"github.com/fortuna/rapm/internal/export"
	"github.com/fortuna/rapm/internal/ingest"
	"github.com/fortuna/rapm/internal/ingest/pbp"
	"github.com/fortuna/rapm/internal/logger"
	"github.com/fortuna/rapm/internal/publisher"
	"github.com/fortuna/rapm/internal/rapm"
	"github.com/fortuna/rapm/internal/store"
	"github.com/fortuna/rapm/internal/store/repository"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const (
	appName    = "rapm-backfill"
	appVersion = "1.0.0"
)

type options struct {
	configPath    string
	seasons       []string
	games         []string
	out           string
	cacheDir      string
	redisURL      string
	dsn           string
	persist       bool
	failOnAnomaly bool
	allowBadGames bool
	logLevel      string
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	pflag.StringVar(&opts.configPath, "config", "", "YAML config file (defaults to $RAPM_CONFIG)")
	pflag.StringArrayVar(&opts.seasons, "season", nil, "Season to build, e.g. 2023-24 (repeatable)")
	pflag.StringArrayVar(&opts.games, "game", nil, "Single game id to build (repeatable)")
	pflag.StringVarP(&opts.out, "out", "o", "", "Output file (.csv or .parquet)")
	pflag.StringVar(&opts.cacheDir, "cache-dir", "", "Directory cache for raw game documents")
	pflag.StringVar(&opts.redisURL, "redis-url", "", "Redis cache for raw game documents")
	pflag.StringVar(&opts.dsn, "dsn", "", "Postgres DSN used with --persist")
	pflag.BoolVar(&opts.persist, "persist", false, "Replace each season's rows and outcomes in Postgres")
	pflag.BoolVar(&opts.failOnAnomaly, "fail-on-anomaly", false, "Treat games with anomalies as failed")
	pflag.BoolVar(&opts.allowBadGames, "allow-bad-games", false, "Exit zero even when bad games were skipped")
	pflag.StringVar(&opts.logLevel, "log-level", "", "Log level override")
	pflag.Parse()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return 2
	}
	applyFlags(cfg, opts)

	log := logger.Init(cfg.LogLevel, cfg.LogFormat)
	log.WithField("version", appVersion).Infof("=== %s ===", appName)

	if len(opts.seasons) == 0 && len(opts.games) == 0 {
		log.Fatal("specify --season or --game")
	}
	if opts.persist && len(opts.games) > 0 {
		log.Fatal("--persist only applies to season runs")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clientOpts := []pbp.Option{
		pbp.WithTimeout(cfg.Provider.RequestTimeout),
		pbp.WithUserAgent(cfg.Provider.UserAgent),
		pbp.WithLogger(log),
	}
	raw, closeCache, err := openRawCache(cfg.Cache)
	if err != nil {
		log.WithError(err).Fatal("open raw game cache")
	}
	defer closeCache()
	if raw != nil {
		clientOpts = append(clientOpts, pbp.WithCache(raw))
	}

	fetcher := ingest.NewFetcher(pbp.New(cfg.Provider.BaseURL, clientOpts...), cfg.Fetch.Ingest(), ingest.WithLogger(log))
	runner := backfill.NewRunner(fetcher, log)

	reporters := backfill.MultiReporter{&consoleReporter{log: logger.WithComponent("backfill")}}
	if cfg.Stream.RedisURL != "" {
		rc, err := cache.NewRedisCache(cfg.Stream.RedisURL, 0)
		if err != nil {
			log.WithError(err).Fatal("connect outcome stream")
		}
		defer rc.Close()
		reporters = append(reporters, publisher.NewRedisStreamPublisher(rc.Client(), cfg.Stream.Name, log))
	}

	var db *store.Database
	if opts.persist {
		if db, err = openDatabase(ctx, cfg.Database, log); err != nil {
			log.WithError(err).Fatal("open database")
		}
		defer db.Close()
	}

	var (
		results []*backfill.SeasonResult
		table   *rapm.Table
	)
	if len(opts.games) > 0 {
		res, err := runner.Run(ctx, backfill.JobSpec{
			Type:          backfill.JobTypeGame,
			GameIDs:       opts.games,
			FailOnAnomaly: cfg.Run.FailOnAnomaly,
		}, reporters)
		if err != nil {
			exitOnRunError(log, err)
		}
		results = append(results, res)
		table = res.Table
	} else {
		seasons := make([]rapm.SeasonTable, 0, len(opts.seasons))
		for _, season := range opts.seasons {
			res, err := runner.Run(ctx, backfill.JobSpec{
				Type:          backfill.JobTypeSeason,
				Season:        season,
				FailOnAnomaly: cfg.Run.FailOnAnomaly,
			}, reporters)
			if err != nil {
				exitOnRunError(log, err)
			}
			if db != nil {
				if err := persistSeason(ctx, db, res); err != nil {
					log.WithError(err).WithField("season", season).Fatal("persist season")
				}
			}
			results = append(results, res)
			seasons = append(seasons, rapm.SeasonTable{Season: season, Table: res.Table})
		}

		if len(seasons) == 1 {
			table = seasons[0].Table
		} else {
			table = rapm.Combine(seasons...)
		}
	}

	if opts.out != "" {
		if err := export.WriteFile(opts.out, table); err != nil {
			log.WithError(err).Fatal("write output")
		}
		log.WithFields(logrus.Fields{"path": opts.out, "rows": table.Len()}).Info("table written")
	}

	return summarize(log, results, cfg.Run.AllowBadGames)
}

func applyFlags(cfg *config.Config, opts options) {
	flags := pflag.CommandLine
	if flags.Changed("cache-dir") {
		cfg.Cache.Dir = opts.cacheDir
	}
	if flags.Changed("redis-url") {
		cfg.Cache.RedisURL = opts.redisURL
	}
	if flags.Changed("dsn") {
		cfg.Database.DSN = opts.dsn
	}
	if flags.Changed("fail-on-anomaly") {
		cfg.Run.FailOnAnomaly = opts.failOnAnomaly
	}
	if flags.Changed("allow-bad-games") {
		cfg.Run.AllowBadGames = opts.allowBadGames
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
}

// openRawCache prefers Redis over a directory. Both empty means no cache.
func openRawCache(cfg config.CacheConfig) (pbp.RawCache, func(), error) {
	switch {
	case cfg.RedisURL != "":
		rc, err := cache.NewRedisCache(cfg.RedisURL, cfg.TTL)
		if err != nil {
			return nil, func() {}, err
		}
		return rc, func() { rc.Close() }, nil
	case cfg.Dir != "":
		dc, err := cache.NewDirCache(cfg.Dir)
		if err != nil {
			return nil, func() {}, err
		}
		return dc, func() {}, nil
	}
	return nil, func() {}, nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logrus.Logger) (*store.Database, error) {
	if cfg.DSN == "" {
		return nil, errors.New("--persist needs --dsn or database.dsn")
	}
	db, err := store.NewDatabase(ctx, cfg.DSN, cfg.Pool(), log)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func persistSeason(ctx context.Context, db *store.Database, res *backfill.SeasonResult) error {
	_, err := repository.NewSeasonRepository(db).Replace(ctx, res.Season, res.Table, backfill.OutcomeRecords(res))
	return err
}

func exitOnRunError(log *logrus.Logger, err error) {
	if errors.Is(err, context.Canceled) {
		log.Warn("interrupted")
		os.Exit(130)
	}
	log.WithError(err).Fatal("run failed")
}

// summarize prints skipped games and returns the process exit code.
// Failed games always exit non-zero; bad games only without allowBad.
func summarize(log *logrus.Logger, results []*backfill.SeasonResult, allowBad bool) int {
	var bad, failed int
	for _, res := range results {
		for _, id := range sortedKeys(res.BadGames) {
			log.WithFields(logrus.Fields{"season": res.Season, "game_id": id}).Warnf("bad game: %s", res.BadGames[id])
		}
		for id, err := range res.Failed {
			log.WithFields(logrus.Fields{"season": res.Season, "game_id": id}).WithError(err).Error("game failed")
		}
		bad += len(res.BadGames)
		failed += len(res.Failed)

		counts := res.Counts()
		log.WithFields(logrus.Fields{
			"season":    res.Season,
			"rows":      res.Table.Len(),
			"processed": counts[backfill.GameProcessed],
			"bad_game":  counts[backfill.GameBad],
			"no_data":   counts[backfill.GameNoData],
			"failed":    counts[backfill.GameFailed],
		}).Info("run summary")
	}

	switch {
	case failed > 0:
		return 1
	case bad > 0 && !allowBad:
		log.Errorf("%d bad games (use --allow-bad-games to accept)", bad)
		return 1
	}
	return 0
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type consoleReporter struct {
	log *logrus.Entry
}

func (c *consoleReporter) OnJobStart(spec backfill.JobSpec) {
	c.log.WithField("season", spec.Season).Infof("starting %s run", spec.Type)
}

func (c *consoleReporter) OnGameStart(gameID string, index int, total int) {
	c.log.Debugf("[%d/%d] %s", index+1, total, gameID)
}

func (c *consoleReporter) OnGameProcessed(result backfill.GameResult) {
	entry := c.log.WithFields(logrus.Fields{
		"game_id":  result.GameID,
		"status":   result.Status,
		"rows":     result.Rows(),
		"attempts": result.Attempts,
	})
	if result.Status == backfill.GameProcessed {
		entry.Info("game processed")
		return
	}
	entry.Warn("game skipped")
}

func (c *consoleReporter) OnProgress(message string, current int, total int) {
	c.log.Infof("%s (%d/%d)", message, current, total)
}

func (c *consoleReporter) OnJobComplete(result *backfill.SeasonResult) {
	c.log.WithField("rows", result.Table.Len()).Info("run complete")
}

func (c *consoleReporter) OnJobError(err error) {
	c.log.WithError(err).Error("run error")
}
