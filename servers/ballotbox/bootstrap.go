package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"path"
	"runtime"
	"strconv"
	"time"

	"github.com/cryptoballot/entropychecker"
	"github.com/cryptoballot/sealbox/memstore"
	"github.com/cryptoballot/sealbox/pgstore"
	"github.com/cryptoballot/sealbox/sealbox"
	"github.com/cryptoballot/sealbox/spool"
	"github.com/dlintw/goconf"
	"github.com/phayes/decryptpem"
	"github.com/phayes/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type config struct {
	configFilePath string
	port           int
	logLevel       zerolog.Level
	readmePath     string
	readme         []byte

	database struct {
		driver             string // postgres or memory
		host               string
		port               int
		user               string
		password           string
		dbname             string
		sslmode            string
		maxIdleConnections int
		fixturesPath       string
	}

	secrets struct {
		pseudonymKeyPath string
		masterKeyPath    string
		acceptPlainKeys  bool
		pseudonymKey     sealbox.Secret
		masterKey        sealbox.Secret
	}

	notifications struct {
		spoolPath   string
		webhookURL  string
		maxAttempts int
		interval    time.Duration
	}
}

// Bootstrap parses flags and config files, and sets up the store and services.
func bootstrap() {

	// If we are on linux, ensure we have sufficient entropy.
	if runtime.GOOS == "linux" {
		err := entropychecker.WaitForEntropy()
		if err != nil {
			log.Fatal().Err(err).Msg("Insufficient entropy")
		}
	}

	configPathOpt := flag.String("config", "./ballotbox.conf", "Path to config file. The config file must be owned by and only readable by this user.")
	configEnvOpt := flag.Bool("envconfig", false, "Use environment variables (instead of an ini file) for configuration.")
	setUpOpt := flag.Bool("set-up-db", false, "Set up fresh database tables and schema. This should be run once before normal operations can occur.")
	flag.Parse()

	if *configEnvOpt {
		c, err := NewConfigFromEnv()
		if err != nil {
			log.Fatal().Err(err).Msg("Error loading environment variables")
		}
		conf = *c
	} else {
		c, err := NewConfigFromFile(*configPathOpt)
		if err != nil {
			log.Fatal().Err(err).Msg("Error parsing config file")
		}
		conf = *c
	}
	zerolog.SetGlobalLevel(conf.logLevel)

	// If we are in 'set-up' mode, set-up the database and exit
	if *setUpOpt {
		if conf.database.driver != "postgres" {
			log.Fatal().Str("driver", conf.database.driver).Msg("--set-up-db only applies to the postgres driver")
		}
		db, err := openDB(&conf)
		if err != nil {
			log.Fatal().Err(err).Msg("Database connection error")
		}
		if err := pgstore.SetUp(context.Background(), db); err != nil {
			log.Fatal().Err(err).Msg("Error loading database schema")
		}
		fmt.Println("Database set-up complete. Please run again without --set-up-db")
		os.Exit(0)
	}

	if err := setUp(&conf); err != nil {
		log.Fatal().Err(err).Msg("Error setting up ballotbox")
	}
}

// setUp wires the store, the sealing services and the notification spool from the config
func setUp(c *config) error {
	var err error
	switch c.database.driver {
	case "postgres":
		db, err := openDB(c)
		if err != nil {
			return err
		}
		store = pgstore.New(db)
	case "memory":
		mem := memstore.New()
		if c.database.fixturesPath != "" {
			f, err := os.Open(c.database.fixturesPath)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := mem.LoadFixtures(f); err != nil {
				return err
			}
		}
		store = mem
	default:
		return errors.New("Unknown database driver " + c.database.driver)
	}

	pseudonymizer, err := sealbox.NewPseudonymizer(c.secrets.pseudonymKey)
	if err != nil {
		return err
	}

	var keys sealbox.KeyWrapper = sealbox.PlainKeys{}
	if len(c.secrets.masterKey) != 0 {
		wrapper, err := sealbox.NewMasterKeyWrapper(c.secrets.masterKey)
		if err != nil {
			return err
		}
		wrapper.AllowPlain = c.secrets.acceptPlainKeys
		keys = wrapper
	} else {
		log.Warn().Msg("No master-key configured: data keys are stored in the clear next to each sealed record")
	}
	envelope := sealbox.NewEnvelope(keys)

	submitter = sealbox.NewSubmitter(store, pseudonymizer, envelope)
	submitter.Logger = log.Logger.With().Str("component", "submitter").Logger()
	receipts = sealbox.NewReceiptService(store, pseudonymizer, envelope)
	receipts.Logger = log.Logger.With().Str("component", "receipts").Logger()

	dispatcher = nil
	if c.notifications.spoolPath != "" {
		sp, err := spool.Open(c.notifications.spoolPath)
		if err != nil {
			return err
		}
		submitter.Notifier = sp
		dispatcher = spool.NewDispatcher(sp, &webhookSender{URL: c.notifications.webhookURL, HTTPClient: &http.Client{Timeout: 10 * time.Second}})
		dispatcher.MaxAttempts = c.notifications.maxAttempts
		dispatcher.Interval = c.notifications.interval
		dispatcher.Logger = log.Logger.With().Str("component", "notifications").Logger()
	}
	return nil
}

func openDB(c *config) (*sql.DB, error) {
	//@@TODO: Check to make sure the sslmode is set to "verify-full" (unless the user passed --insecure)
	db, err := sql.Open("postgres", c.databaseConnectionString())
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	// Set the maximum number of idle connections in the connection pool. `-1` means default (2 idle connections in the pool)
	if c.database.maxIdleConnections != -1 {
		db.SetMaxIdleConns(c.database.maxIdleConnections)
	}
	return db, nil
}

//@@TODO Check to make sure the config file is readable only by this user (unless the user passed --insecure)
func NewConfigFromFile(filepath string) (*config, error) {
	conf := config{
		configFilePath: filepath,
	}

	c, err := goconf.ReadConfigFile(filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("Could not find config file. Try using the --config=\"<path-to-config-file>\" option to specify a config file.")
		} else {
			return nil, err
		}
	}

	// Change our working directory to that of the config file so that paths referenced in the config file are relative to that location
	err = os.Chdir(path.Dir(filepath))
	if err != nil {
		return nil, err
	}

	conf.port, err = c.GetInt("", "port")
	if err != nil {
		return nil, err
	}
	conf.readmePath, err = c.GetString("", "readme")
	if err != nil {
		return nil, err
	}
	conf.logLevel = zerolog.InfoLevel
	if c.HasOption("", "log-level") {
		level, err := c.GetString("", "log-level")
		if err != nil {
			return nil, err
		}
		if conf.logLevel, err = zerolog.ParseLevel(level); err != nil {
			return nil, err
		}
	}

	// Parse database
	conf.database.driver = "postgres"
	if c.HasOption("database", "driver") {
		if conf.database.driver, err = c.GetString("database", "driver"); err != nil {
			return nil, err
		}
	}
	if conf.database.driver == "postgres" {
		conf.database.host, err = c.GetString("database", "host")
		if err != nil {
			return nil, err
		}
		conf.database.port, err = c.GetInt("database", "port")
		if err != nil {
			return nil, err
		}
		conf.database.user, err = c.GetString("database", "user")
		if err != nil {
			return nil, err
		}
		conf.database.password, err = c.GetString("database", "password")
		if err != nil {
			return nil, err
		}
		conf.database.dbname, err = c.GetString("database", "dbname")
		if err != nil {
			return nil, err
		}
		conf.database.sslmode, err = c.GetString("database", "sslmode")
		if err != nil {
			return nil, err
		}
	}
	// For max_idle_connections missing should translates to -1
	if c.HasOption("database", "max_idle_connections") {
		conf.database.maxIdleConnections, err = c.GetInt("database", "max_idle_connections")
		if err != nil {
			return nil, err
		}
	} else {
		conf.database.maxIdleConnections = -1
	}
	if c.HasOption("database", "fixtures") {
		if conf.database.fixturesPath, err = c.GetString("database", "fixtures"); err != nil {
			return nil, err
		}
	}

	// Parse secrets
	conf.secrets.pseudonymKeyPath, err = c.GetString("secrets", "pseudonym-key")
	if err != nil {
		return nil, err
	}
	if c.HasOption("secrets", "master-key") {
		if conf.secrets.masterKeyPath, err = c.GetString("secrets", "master-key"); err != nil {
			return nil, err
		}
	}
	if c.HasOption("secrets", "accept-plain-keys") {
		if conf.secrets.acceptPlainKeys, err = c.GetBool("secrets", "accept-plain-keys"); err != nil {
			return nil, err
		}
	}

	// Parse notifications
	if c.HasOption("notifications", "spool") {
		if conf.notifications.spoolPath, err = c.GetString("notifications", "spool"); err != nil {
			return nil, err
		}
		if conf.notifications.webhookURL, err = c.GetString("notifications", "webhook-url"); err != nil {
			return nil, err
		}
	}
	conf.notifications.maxAttempts = spool.DefaultMaxAttempts
	if c.HasOption("notifications", "max-attempts") {
		if conf.notifications.maxAttempts, err = c.GetInt("notifications", "max-attempts"); err != nil {
			return nil, err
		}
	}
	conf.notifications.interval = spool.DefaultInterval
	if c.HasOption("notifications", "interval") {
		interval, err := c.GetString("notifications", "interval")
		if err != nil {
			return nil, err
		}
		if conf.notifications.interval, err = time.ParseDuration(interval); err != nil {
			return nil, err
		}
	}

	err = configProcessFiles(&conf)
	if err != nil {
		return nil, err
	}

	return &conf, nil
}

func NewConfigFromEnv() (*config, error) {
	var err error

	conf := config{
		configFilePath: "",
	}

	// Change our working directory to that of BALLOTBOX_CONFIG_DIR so everything is relative to it
	if configDir := os.Getenv("BALLOTBOX_CONFIG_DIR"); configDir != "" {
		err = os.Chdir(configDir)
		if err != nil {
			return nil, err
		}
	}

	if port := os.Getenv("BALLOTBOX_PORT"); port != "" {
		conf.port, err = strconv.Atoi(port)
		if err != nil {
			return nil, err
		}
	} else {
		return nil, errors.New("Missing BALLOTBOX_PORT")
	}
	conf.readmePath = os.Getenv("BALLOTBOX_README")
	if conf.readmePath == "" {
		return nil, errors.New("Missing BALLOTBOX_README")
	}
	conf.logLevel = zerolog.InfoLevel
	if level := os.Getenv("BALLOTBOX_LOG_LEVEL"); level != "" {
		if conf.logLevel, err = zerolog.ParseLevel(level); err != nil {
			return nil, err
		}
	}

	conf.database.driver = os.Getenv("BALLOTBOX_DATABASE_DRIVER")
	if conf.database.driver == "" {
		conf.database.driver = "postgres"
	}
	if conf.database.driver == "postgres" {
		if dbPort := os.Getenv("BALLOTBOX_DATABASE_PORT"); dbPort != "" {
			conf.database.port, err = strconv.Atoi(dbPort)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, errors.New("Missing BALLOTBOX_DATABASE_PORT")
		}
		conf.database.host = os.Getenv("BALLOTBOX_DATABASE_HOST")
		if conf.database.host == "" {
			return nil, errors.New("Missing BALLOTBOX_DATABASE_HOST")
		}
		conf.database.user = os.Getenv("BALLOTBOX_DATABASE_USER")
		if conf.database.user == "" {
			return nil, errors.New("Missing BALLOTBOX_DATABASE_USER")
		}
		conf.database.password = os.Getenv("BALLOTBOX_DATABASE_PASSWORD")
		if conf.database.password == "" {
			return nil, errors.New("Missing BALLOTBOX_DATABASE_PASSWORD")
		}
		conf.database.dbname = os.Getenv("BALLOTBOX_DATABASE_DBNAME")
		if conf.database.dbname == "" {
			return nil, errors.New("Missing BALLOTBOX_DATABASE_DBNAME")
		}
		conf.database.sslmode = os.Getenv("BALLOTBOX_DATABASE_SSLMODE")
		if conf.database.sslmode == "" {
			return nil, errors.New("Missing BALLOTBOX_DATABASE_SSLMODE")
		}
	}
	if maxIdle := os.Getenv("BALLOTBOX_DATABASE_IDLE_CONNECTIONS"); maxIdle != "" {
		conf.database.maxIdleConnections, err = strconv.Atoi(maxIdle)
		if err != nil {
			return nil, err
		}
	} else {
		conf.database.maxIdleConnections = -1
	}
	conf.database.fixturesPath = os.Getenv("BALLOTBOX_DATABASE_FIXTURES")

	conf.secrets.pseudonymKeyPath = os.Getenv("BALLOTBOX_PSEUDONYM_KEY")
	if conf.secrets.pseudonymKeyPath == "" {
		return nil, errors.New("Missing BALLOTBOX_PSEUDONYM_KEY")
	}
	conf.secrets.masterKeyPath = os.Getenv("BALLOTBOX_MASTER_KEY")
	conf.secrets.acceptPlainKeys = os.Getenv("BALLOTBOX_ACCEPT_PLAIN_KEYS") == "true"

	conf.notifications.spoolPath = os.Getenv("BALLOTBOX_SPOOL")
	if conf.notifications.spoolPath != "" {
		conf.notifications.webhookURL = os.Getenv("BALLOTBOX_WEBHOOK_URL")
		if conf.notifications.webhookURL == "" {
			return nil, errors.New("Missing BALLOTBOX_WEBHOOK_URL")
		}
	}
	conf.notifications.maxAttempts = spool.DefaultMaxAttempts
	if attempts := os.Getenv("BALLOTBOX_NOTIFY_MAX_ATTEMPTS"); attempts != "" {
		if conf.notifications.maxAttempts, err = strconv.Atoi(attempts); err != nil {
			return nil, err
		}
	}
	conf.notifications.interval = spool.DefaultInterval
	if interval := os.Getenv("BALLOTBOX_NOTIFY_INTERVAL"); interval != "" {
		if conf.notifications.interval, err = time.ParseDuration(interval); err != nil {
			return nil, err
		}
	}

	err = configProcessFiles(&conf)
	if err != nil {
		return nil, err
	}

	return &conf, nil
}

// Process the readme, the secrets and the webhook URL
func configProcessFiles(conf *config) error {
	var err error
	conf.readme, err = ioutil.ReadFile(conf.readmePath)
	if err != nil {
		return err
	}

	// Secrets may be stored encrypted, in which case we prompt for the passphrase
	pseudonymPEM, err := decryptpem.DecryptFileWithPrompt(conf.secrets.pseudonymKeyPath)
	if err != nil {
		return err
	}
	conf.secrets.pseudonymKey, err = sealbox.NewSecretFromBlock(pseudonymPEM)
	if err != nil {
		return errors.Wraps(err, "pseudonym-key")
	}
	if conf.secrets.masterKeyPath != "" {
		masterPEM, err := decryptpem.DecryptFileWithPrompt(conf.secrets.masterKeyPath)
		if err != nil {
			return err
		}
		conf.secrets.masterKey, err = sealbox.NewSecretFromBlock(masterPEM)
		if err != nil {
			return errors.Wraps(err, "master-key")
		}
	}

	if conf.notifications.webhookURL != "" {
		if _, err := url.ParseRequestURI(conf.notifications.webhookURL); err != nil {
			return err
		}
	}
	return nil
}

func (conf *config) databaseConnectionString() (connection string) {
	if conf.database.host != "" {
		connection += "host=" + conf.database.host + " "
	}
	if conf.database.port != 0 {
		connection += "port=" + strconv.Itoa(conf.database.port) + " "
	}
	if conf.database.user != "" {
		connection += "user=" + conf.database.user + " "
	}
	if conf.database.password != "" {
		connection += "password=" + conf.database.password + " "
	}
	if conf.database.dbname != "" {
		connection += "dbname=" + conf.database.dbname + " "
	}
	if conf.database.sslmode != "" {
		connection += "sslmode=" + conf.database.sslmode
	}
	return
}
