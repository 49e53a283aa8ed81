/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// mailtriage reads the unread mail in a shared mailbox and, for each
// message, replies, forwards to whoever is on duty or files it away.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	gologme "github.com/gologme/log"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/almazyadn/email/internal/classify"
	"github.com/almazyadn/email/internal/config"
	"github.com/almazyadn/email/internal/imapclient"
	"github.com/almazyadn/email/internal/journal"
	"github.com/almazyadn/email/internal/logging"
	"github.com/almazyadn/email/internal/mailbox"
	"github.com/almazyadn/email/internal/schedule"
	"github.com/almazyadn/email/internal/smtpsender"
	"github.com/almazyadn/email/internal/triage"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var watch, dryRun, verbose, showVersion bool
	var history int
	var messageKey string

	flagSet := pflag.NewFlagSet("mailtriage", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "mailtriage.yaml", "path to the configuration file")
	flagSet.BoolVarP(&watch, "watch", "w", false, "keep running and triage new mail as it arrives")
	flagSet.BoolVar(&dryRun, "dry-run", false, "log the actions that would be taken without touching the mailbox")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&showVersion, "version", false, "print the version and exit")
	flagSet.IntVar(&history, "history", 0, "print the last N runs from the journal and exit")
	flagSet.StringVar(&messageKey, "message", "", "print the journal entries for a Message-ID and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Println("mailtriage", version)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(os.Stdout, "mailtriage", verbose)

	if history > 0 {
		return printHistory(cfg, log, history)
	}
	if messageKey != "" {
		return printEntries(cfg, log, messageKey)
	}

	if err := promptPasswords(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	dispatcher := &triage.Dispatcher{
		Classifier: classify.New(cfg.Classifier),
		Labels:     triage.NewLabels(cfg.ForwardCategories),
		Composer:   triage.Composer{SentFolder: cfg.SentFolder, FallbackFolder: cfg.FallbackFolder},
		Location:   loc,
		Log:        log,
	}
	if cfg.Schedule != "" {
		roster, err := schedule.Load(cfg.Schedule)
		if err != nil {
			return fmt.Errorf("schedule.Load: %w", err)
		}
		log.Infof("Loaded %d roster entries from %s", roster.Len(), cfg.Schedule)
		dispatcher.Resolver = roster
	} else {
		log.Warnf("No schedule configured, forwarded categories will stay unread")
	}

	tracker := logging.NewRunTracker(log)
	trackers := triage.Trackers{tracker}
	if cfg.Journal.Enabled && !dryRun {
		j, err := journal.Open(cfg.Journal.Path, log)
		if err != nil {
			return fmt.Errorf("journal.Open: %w", err)
		}
		defer j.Close() // nolint:errcheck
		dispatcher.Journal = j
		trackers = append(trackers, j)
	}

	store, err := imapclient.Dial(cfg.IMAP, log)
	if err != nil {
		return fmt.Errorf("imapclient.Dial: %w", err)
	}
	sender := smtpsender.New(cfg.SMTP, cfg.Retry, log)
	account := mailbox.NewAccount(store, sender)
	defer account.Close() // nolint:errcheck

	var mb triage.Mailbox = account
	var dry *mailbox.DryRun
	if dryRun {
		dry = mailbox.NewDryRun(account, log)
		mb = dry
		log.Infof("Dry run: nothing will be sent, moved or flagged")
	}
	dispatcher.Mailbox = mb

	loop := &triage.Loop{
		Mailbox:    mb,
		Dispatcher: dispatcher,
		Tracker:    trackers,
		Log:        log,
	}

	for {
		report, err := loop.RunOnce(ctx)
		if err != nil {
			if !watch {
				return err
			}
			log.Errorf("Triage pass failed: %v", err)
		} else {
			log.Infof("Triage pass %s finished: %s", report.RunID, report)
		}
		if dry != nil {
			sends, moves, flags := dry.Suppressed()
			log.Infof("Dry run so far: suppressed %d sends, %d moves, %d flag changes", sends, moves, flags)
		} else {
			sent, failed := sender.Stats()
			log.Debugf("Outbound mail so far: %d sent, %d failed", sent, failed)
		}
		if !watch || ctx.Err() != nil {
			break
		}

		fresh, err := store.WaitForMail(ctx, cfg.Watch.IdleTimeout, cfg.Watch.PollInterval)
		switch {
		case ctx.Err() != nil:
		case err != nil:
			log.Warnf("Waiting for new mail failed: %v", err)
		case fresh:
			log.Debugf("New mail arrived")
		}
		if ctx.Err() != nil {
			break
		}
	}
	log.Infof("Stopped")
	return nil
}

// promptPasswords asks on the terminal for any password that neither the
// file nor the environment supplied.
func promptPasswords(cfg *config.Config) error {
	fd := int(os.Stdin.Fd())
	if cfg.IMAP.Password == "" && term.IsTerminal(fd) {
		password, err := readPassword(fd, "IMAP password for "+cfg.IMAP.Username)
		if err != nil {
			return err
		}
		cfg.IMAP.Password = password
	}
	if cfg.SMTP.Username == "" || cfg.SMTP.Password != "" {
		return nil
	}
	if cfg.SMTP.Username == cfg.IMAP.Username {
		cfg.SMTP.Password = cfg.IMAP.Password
		return nil
	}
	if term.IsTerminal(fd) {
		password, err := readPassword(fd, "SMTP password for "+cfg.SMTP.Username)
		if err != nil {
			return err
		}
		cfg.SMTP.Password = password
	}
	return nil
}

func readPassword(fd int, prompt string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("term.ReadPassword: %w", err)
	}
	return string(password), nil
}

func printHistory(cfg *config.Config, log *gologme.Logger, limit int) error {
	j, err := journal.Open(cfg.Journal.Path, log)
	if err != nil {
		return fmt.Errorf("journal.Open: %w", err)
	}
	defer j.Close() // nolint:errcheck

	runs, err := j.RecentRuns(context.Background(), limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		status := "running"
		if !r.Finished.IsZero() {
			status = "ok"
			if !r.Success {
				status = "failed: " + r.Error
			}
		}
		fmt.Printf("%s  %s  %s  total=%d handled=%d  %s\n",
			r.Started.Format("2006-01-02 15:04:05"), r.ID, r.Stage, r.Total, r.Handled, status)
	}
	return nil
}

func printEntries(cfg *config.Config, log *gologme.Logger, key string) error {
	j, err := journal.Open(cfg.Journal.Path, log)
	if err != nil {
		return fmt.Errorf("journal.Open: %w", err)
	}
	defer j.Close() // nolint:errcheck

	entries, err := j.Entries(context.Background(), strings.Trim(key, "<>"))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("no journal entries for %s\n", key)
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %s  %-10s %-12s %s  %s\n",
			e.At.Format("2006-01-02 15:04:05"), shortRunID(e.RunID), e.Stage, e.Classification, e.Action, e.Detail)
	}
	return nil
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
