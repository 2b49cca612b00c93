package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"mapleads/internal/archive"
	"mapleads/internal/model"
	"mapleads/internal/scrape"
	"mapleads/internal/session"
	"mapleads/internal/store"
)

var cfgFile string

type scrapeFlags struct {
	niche         string
	location      string
	locationsFile string
	preposition   string
	speed         string

	emails     bool
	deepEmails bool
	emailLimit int
	details    bool
	verifyMX   bool

	headless bool
	parallel int

	dataDir     string
	archivePath string
}

var flags scrapeFlags

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags = scrapeFlags{}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mapleads.yaml)")
	rootCmd.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "data", "directory for history and session files")
	rootCmd.PersistentFlags().StringVar(&flags.archivePath, "archive", "", "sqlite file to append every scraped record to")
	rootCmd.PersistentFlags().BoolVar(&flags.headless, "headless", true, "run the browser headless")

	rootCmd.Flags().StringVarP(&flags.niche, "niche", "n", "", "business type to search for, e.g. \"plumber\"")
	rootCmd.Flags().StringVarP(&flags.location, "location", "l", "", "single location to search in")
	rootCmd.Flags().StringVar(&flags.locationsFile, "locations", "", "file with one location per line; runs a bulk session")
	rootCmd.Flags().StringVar(&flags.preposition, "preposition", "in", "word joining niche and location in the query")
	rootCmd.Flags().StringVar(&flags.speed, "speed", "normal", "speed profile: normal, fast or ultra-fast")

	rootCmd.Flags().BoolVar(&flags.emails, "emails", false, "scan business websites for contact emails")
	rootCmd.Flags().BoolVar(&flags.deepEmails, "deep-emails", false, "follow one contact-like link when the landing page has no email")
	rootCmd.Flags().IntVar(&flags.emailLimit, "email-limit", 0, "override the number of concurrent email workers")
	rootCmd.Flags().BoolVar(&flags.details, "details", false, "open each result's detail pane to fill missing phone/website")
	rootCmd.Flags().BoolVar(&flags.verifyMX, "verify-mx", false, "discard emails whose domain has no MX record")

	rootCmd.Flags().IntVar(&flags.parallel, "parallel", 1, "locations processed concurrently in a bulk session")

	resumeCmd.Flags().IntVar(&flags.parallel, "parallel", 1, "locations processed concurrently")
	rootCmd.AddCommand(resumeCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mapleads")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

var rootCmd = &cobra.Command{
	Use:   "mapleads",
	Short: "Scrape business leads from Google Maps search results",
	Long: `mapleads runs a Google Maps search for a niche and location, scrolls
the result feed to exhaustion and extracts every business it finds.
With --locations it runs a bulk session over many locations that can be
interrupted with ctrl-c and resumed later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScrape()
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [timestamp]",
	Short: "Resume a paused or cancelled bulk session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return listResumable()
		}
		return runResume(args[0])
	},
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = nil
	return cfg.Build()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runScrape() error {
	if flags.niche == "" {
		return fmt.Errorf("--niche is required")
	}
	if flags.location == "" && flags.locationsFile == "" {
		return fmt.Errorf("one of --location or --locations is required")
	}
	speed, err := model.ParseSpeed(flags.speed)
	if err != nil {
		return err
	}

	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := store.New(flags.dataDir, log)
	if err != nil {
		return err
	}

	var arc *archive.Writer
	if flags.archivePath != "" {
		arc, err = archive.Open(flags.archivePath, log)
		if err != nil {
			return err
		}
		defer arc.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()

	scraper := scrape.New(log)

	if flags.locationsFile != "" {
		locations, err := readLocations(flags.locationsFile)
		if err != nil {
			return err
		}
		if flags.parallel > 6 {
			log.Warn("high parallelism opens many browsers at once; expect heavy resource use",
				zap.Int("parallel", flags.parallel))
		}
		runner := &session.Runner{
			Store:    st,
			Run:      scraper.Run,
			Log:      log,
			Archive:  arc,
			Parallel: flags.parallel,
		}
		_, err = runner.Start(ctx, bulkConfig(speed, locations))
		return err
	}

	return runSingle(ctx, scraper, st, arc, log, speed)
}

func runSingle(ctx context.Context, scraper *scrape.Scraper, st *store.FileStore, arc *archive.Writer, log *zap.Logger, speed model.Speed) error {
	job := model.ScrapeJob{
		Niche:               flags.niche,
		Location:            flags.location,
		Preposition:         flags.preposition,
		Speed:               speed,
		ExtractEmails:       flags.emails,
		ExtractDetailedInfo: flags.details,
		DeepEmailExtraction: flags.deepEmails,
		EmailScrapingLimit:  flags.emailLimit,
		VerifyMX:            flags.verifyMX,
		Headless:            flags.headless,
	}

	records, runErr := scraper.Run(ctx, job, func(p model.Progress) {
		log.Info(p.Message, zap.String("status", string(p.Status)))
	})
	if runErr != nil && !errors.Is(runErr, model.ErrStopped) {
		return runErr
	}

	history, err := st.LoadHistory()
	if err != nil {
		return err
	}
	status := model.SessionCompleted
	if errors.Is(runErr, model.ErrStopped) {
		status = model.SessionPaused
	}
	history.Searches = append(history.Searches, &model.HistoryRecord{
		Query:     job.Query(),
		Count:     len(records),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      records,
		Status:    status,
	})
	if err := st.SaveHistory(history); err != nil {
		return err
	}
	if arc != nil && len(records) > 0 {
		arc.Write(records)
	}

	log.Info("done", zap.Int("records", len(records)), zap.String("history", filepath.Join(st.Dir(), "scraped_history.json")))
	return nil
}

func runResume(timestamp string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := store.New(flags.dataDir, log)
	if err != nil {
		return err
	}

	var arc *archive.Writer
	if flags.archivePath != "" {
		arc, err = archive.Open(flags.archivePath, log)
		if err != nil {
			return err
		}
		defer arc.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()

	scraper := scrape.New(log)
	runner := &session.Runner{
		Store:    st,
		Run:      scraper.Run,
		Log:      log,
		Archive:  arc,
		Parallel: flags.parallel,
	}

	// Every job switch is restored from the persisted session; only the
	// environment-specific headless choice follows the current flags.
	return runner.Resume(ctx, timestamp, session.Config{Headless: flags.headless})
}

func listResumable() error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	st, err := store.New(flags.dataDir, log)
	if err != nil {
		return err
	}
	history, err := st.LoadHistory()
	if err != nil {
		return err
	}

	found := false
	for _, rec := range history.Searches {
		if !rec.IsBulk || rec.Bulk == nil {
			continue
		}
		if rec.Status != model.SessionPaused && rec.Status != model.SessionCancelled {
			continue
		}
		found = true
		fmt.Printf("%s  %s  [%s]  %d/%d locations done\n",
			rec.Timestamp, rec.Query, rec.Status,
			rec.Bulk.CompletedQueries, rec.Bulk.TotalQueries)
	}
	if !found {
		fmt.Println("no resumable sessions")
	}
	return nil
}

func bulkConfig(speed model.Speed, locations []string) session.Config {
	return session.Config{
		Niche:               flags.niche,
		Preposition:         flags.preposition,
		Locations:           locations,
		Speed:               speed,
		ExtractEmails:       flags.emails,
		ExtractDetailedInfo: flags.details,
		DeepEmailExtraction: flags.deepEmails,
		EmailScrapingLimit:  flags.emailLimit,
		VerifyMX:            flags.verifyMX,
		Headless:            flags.headless,
	}
}

func readLocations(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		loc := strings.TrimSpace(sc.Text())
		if loc != "" {
			out = append(out, loc)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no locations in %s", path)
	}
	return out, nil
}
